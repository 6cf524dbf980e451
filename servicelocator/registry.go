package servicelocator

import (
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"

	"go.uber.org/dig"

	berr "github.com/next-trace/scg-cqrs-adapters/contract/errors"
	"github.com/next-trace/scg-cqrs-adapters/contract/locator"
)

// Registry is a service locator backed by a lazily realized dig container.
//
// Every registration is a singleton within the realized container: Resolve, a keyed Resolve
// and ResolveMany hand out the same instance for the same registration.
// Registry is safe for concurrent use; resolution runs under the registry lock, so factories
// and constructors must not call back into the same Registry.
type Registry struct {
	mu sync.Mutex

	regs []*registration
	seq  int

	container *dig.Container
	applied   int // regs[:applied] are provided to container
	defaults  map[reflect.Type]int
	keyed     map[keyedService]int
	broken    map[keyedService]error // default ("") and keyed slots served by a rejected registration

	external bool
	closed   bool
	logger   *slog.Logger
}

// Ensure Registry implements the locator contract.
var _ locator.ServiceLocator = (*Registry)(nil)

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for container lifecycle messages.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// New returns an empty Registry that owns its container. Reset is supported.
func New(opts ...Option) *Registry {
	r := &Registry{
		defaults: make(map[reflect.Type]int),
		keyed:    make(map[keyedService]int),
		broken:   make(map[keyedService]error),
		logger:   slog.New(slog.DiscardHandler),
	}

	for _, o := range opts {
		o(r)
	}

	return r
}

// NewWithContainer returns a Registry layered over an existing dig container. Registrations are
// appended to c; Reset and overriding an already applied default or key are unsupported.
func NewWithContainer(c *dig.Container, opts ...Option) (*Registry, error) {
	if c == nil {
		return nil, invalid("container", "the specified container cannot be nil")
	}

	r := New(opts...)
	r.container = c
	r.external = true

	return r, nil
}

// RegisterType maps serviceType to implType as the unkeyed default.
func (r *Registry) RegisterType(serviceType, implType reflect.Type) error {
	if err := checkTypes(serviceType, implType); err != nil {
		return err
	}

	return r.record(&registration{service: serviceType, asDefault: true, kind: kindType, impl: implType})
}

// RegisterKeyedWithDefault maps serviceType to implType under key and, in the same registration,
// as the unkeyed default for serviceType. A later unkeyed registration overrides the default
// but not the key. The registration counts once toward ResolveMany.
func (r *Registry) RegisterKeyedWithDefault(serviceType, implType reflect.Type, key string) error {
	if err := checkTypes(serviceType, implType); err != nil {
		return err
	}

	if err := checkKey(key); err != nil {
		return err
	}

	return r.record(&registration{service: serviceType, key: key, asDefault: true, kind: kindType, impl: implType})
}

// RegisterKeyed maps serviceType to implType under key only; unkeyed lookups are unaffected.
func (r *Registry) RegisterKeyed(serviceType, implType reflect.Type, key string) error {
	if err := checkTypes(serviceType, implType); err != nil {
		return err
	}

	if err := checkKey(key); err != nil {
		return err
	}

	return r.record(&registration{service: serviceType, key: key, kind: kindType, impl: implType})
}

// RegisterInstance binds serviceType to a pre-built instance.
func (r *Registry) RegisterInstance(serviceType reflect.Type, instance any) error {
	if serviceType == nil {
		return invalid("serviceType", TypeNilMessage)
	}

	if err := checkService(serviceType); err != nil {
		return err
	}

	if isNil(instance) {
		return invalid("instance", InstanceNilMessage)
	}

	if !reflect.TypeOf(instance).AssignableTo(serviceType) {
		return invalid("instance", NotAssignableMessage)
	}

	return r.record(&registration{service: serviceType, asDefault: true, kind: kindInstance, instance: instance})
}

// RegisterFactory binds serviceType to a factory invoked on first resolution.
// An error returned by the factory surfaces as a ResolutionError.
func (r *Registry) RegisterFactory(serviceType reflect.Type, factory func() (any, error)) error {
	if serviceType == nil {
		return invalid("serviceType", TypeNilMessage)
	}

	if err := checkService(serviceType); err != nil {
		return err
	}

	if factory == nil {
		return invalid("factory", FactoryNilMessage)
	}

	return r.record(&registration{service: serviceType, asDefault: true, kind: kindFactory, factory: factory})
}

// RegisterConstructor binds serviceType to a constructor func whose parameters are resolved from
// the registry, e.g. func(Repository, *slog.Logger) (*Service, error).
func (r *Registry) RegisterConstructor(serviceType reflect.Type, ctor any) error {
	if serviceType == nil {
		return invalid("serviceType", TypeNilMessage)
	}

	if err := checkService(serviceType); err != nil {
		return err
	}

	if ctor == nil {
		return invalid("ctor", FactoryNilMessage)
	}

	cv := reflect.ValueOf(ctor)
	if !validConstructor(cv, serviceType) {
		return invalid("ctor", NotConstructorMessage)
	}

	return r.record(&registration{service: serviceType, asDefault: true, kind: kindConstructor, ctor: cv})
}

func (r *Registry) record(reg *registration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("register %s: %w", reg.service, berr.ErrClosed)
	}

	r.seq++
	reg.seq = r.seq
	r.regs = append(r.regs, reg)

	return nil
}

// Resolve returns the instance registered for serviceType. An empty key selects the default.
func (r *Registry) Resolve(serviceType reflect.Type, key string) (any, error) {
	if serviceType == nil {
		return nil, invalid("serviceType", TypeNilMessage)
	}

	if key != "" {
		if err := checkKey(key); err != nil {
			return nil, err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c, err := r.handle()
	if err != nil {
		return nil, &ResolutionError{ServiceType: serviceType, Key: key, Err: err}
	}

	if err := r.broken[keyedService{serviceType, key}]; err != nil {
		return nil, &ResolutionError{ServiceType: serviceType, Key: key, Err: err}
	}

	vals, err := invoke(c, []param{{typ: serviceType, name: key}})
	if err != nil {
		return nil, &ResolutionError{ServiceType: serviceType, Key: key, Err: err}
	}

	return vals[0].Interface(), nil
}

// ResolveMany returns one instance per registration against serviceType, keyed or not,
// in registration order. It returns an empty slice when nothing is registered.
func (r *Registry) ResolveMany(serviceType reflect.Type) ([]any, error) {
	if serviceType == nil {
		return nil, invalid("serviceType", TypeNilMessage)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c, err := r.handle()
	if err != nil {
		return nil, &ResolutionError{ServiceType: serviceType, Err: err}
	}

	var params []param

	for _, reg := range r.regs {
		if reg.service != serviceType {
			continue
		}

		if reg.err != nil {
			return nil, &ResolutionError{ServiceType: serviceType, Err: reg.err}
		}

		params = append(params, param{typ: serviceType, name: reg.member()})
	}

	out := make([]any, 0, len(params))
	if len(params) == 0 {
		return out, nil
	}

	vals, err := invoke(c, params)
	if err != nil {
		return nil, &ResolutionError{ServiceType: serviceType, Err: err}
	}

	for _, v := range vals {
		out = append(out, v.Interface())
	}

	return out, nil
}

// Inject fills the zero-valued fields of instance tagged with `inject` and returns instance.
// instance must be a non-nil pointer to a struct.
func (r *Registry) Inject(instance any) (any, error) {
	if isNil(instance) {
		return nil, invalid("instance", InstanceNilMessage)
	}

	rv := reflect.ValueOf(instance)
	if rv.Kind() != reflect.Pointer || rv.Elem().Kind() != reflect.Struct {
		return nil, invalid("instance", NotStructPtrMessage)
	}

	target := rv.Elem()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, fmt.Errorf("inject %s: %w", rv.Type(), berr.ErrClosed)
	}

	var (
		fields []injectField
		params []param
	)

	for _, f := range injectFields(target.Type()) {
		if !target.Field(f.index).IsZero() {
			continue
		}

		fields = append(fields, f)
		params = append(params, f.param)
	}

	if len(fields) == 0 {
		return instance, nil
	}

	c, err := r.handle()
	if err != nil {
		return nil, &ResolutionError{ServiceType: rv.Type(), Err: err}
	}

	for _, p := range params {
		if err := r.broken[keyedService{p.typ, p.name}]; err != nil {
			return nil, &ResolutionError{ServiceType: p.typ, Key: p.name, Err: err}
		}
	}

	vals, err := invoke(c, params)
	if err != nil {
		return nil, &ResolutionError{ServiceType: rv.Type(), Err: err}
	}

	for i, f := range fields {
		target.Field(f.index).Set(vals[i])
	}

	return instance, nil
}

// Release is a no-op: instance lifetime is owned by the container. It never fails.
func (r *Registry) Release(any) {}

// TearDown is a no-op: instance lifetime is owned by the container. It never fails.
func (r *Registry) TearDown(any) {}

// Reset drops every registration and the realized container. Registries created with
// NewWithContainer cannot be reset and return berr.ErrUnsupportedOperation.
func (r *Registry) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("reset: %w", berr.ErrClosed)
	}

	if r.external {
		return fmt.Errorf("reset: externally supplied container cannot be reset in place: %w",
			berr.ErrUnsupportedOperation)
	}

	r.regs = nil
	r.container = nil
	r.applied = 0
	clear(r.defaults)
	clear(r.keyed)
	clear(r.broken)

	r.logger.Debug("servicelocator: reset")

	return nil
}

// Close releases the container. It is idempotent and always returns nil.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	r.container = nil
	r.regs = nil
	r.closed = true

	r.logger.Debug("servicelocator: closed")

	return nil
}

// IsClosed reports whether Close has been called.
func (r *Registry) IsClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.closed
}

// handle returns a container reflecting every recorded registration. Registrations the engine
// rejects are quarantined instead of failing the whole container. Must hold mu.
func (r *Registry) handle() (*dig.Container, error) {
	if r.closed {
		return nil, berr.ErrClosed
	}

	if r.container == nil {
		return r.rebuild(), nil
	}

	pending := r.regs[r.applied:]
	if len(pending) == 0 {
		return r.container, nil
	}

	if r.collides(pending) {
		if !r.external {
			return r.rebuild(), nil
		}

		for _, reg := range pending {
			if r.collides([]*registration{reg}) {
				r.reject(reg, fmt.Errorf("override of an applied default or key on an external container: %w",
					berr.ErrUnsupportedOperation))
			}
		}
	}

	r.apply(r.container, pending)
	r.logger.Debug("servicelocator: container updated", "added", len(pending), "total", len(r.regs))

	return r.container, nil
}

func (r *Registry) rebuild() *dig.Container {
	c := dig.New(dig.RecoverFromPanics())
	clear(r.defaults)
	clear(r.keyed)
	clear(r.broken)
	r.applied = 0

	r.apply(c, r.regs)

	r.container = c
	r.logger.Debug("servicelocator: container built", "registrations", len(r.regs))

	return c
}

// collides reports whether pending would replace a default or key already provided.
func (r *Registry) collides(pending []*registration) bool {
	for _, reg := range pending {
		if reg.err != nil {
			continue
		}

		if _, ok := r.defaults[reg.service]; ok && reg.asDefault {
			return true
		}

		if _, ok := r.keyed[keyedService{reg.service, reg.key}]; ok && reg.key != "" {
			return true
		}
	}

	return false
}

// apply provides regs to c: one member per registration, then aliases for the last default
// per service and the last registration per key. A slot whose registration was rejected is
// recorded in broken and left without an alias.
func (r *Registry) apply(c *dig.Container, regs []*registration) {
	lastDefault := make(map[reflect.Type]*registration)
	lastKeyed := make(map[keyedService]*registration)

	for _, reg := range regs {
		if reg.err == nil {
			if err := provide(c, reg.service, reg.member(), reg.params(), reg.build); err != nil {
				r.reject(reg, fmt.Errorf("provide %s #%d (%s): %w", reg.service, reg.seq, reg.kind, err))
			}
		}

		if reg.asDefault {
			lastDefault[reg.service] = reg
		}

		if reg.key != "" {
			lastKeyed[keyedService{reg.service, reg.key}] = reg
		}
	}

	for _, reg := range regs {
		if lastDefault[reg.service] == reg {
			r.alias(c, reg, "")
		}

		if reg.key != "" && lastKeyed[keyedService{reg.service, reg.key}] == reg {
			r.alias(c, reg, reg.key)
		}
	}

	r.applied += len(regs)
}

// alias points the default (name "") or keyed slot of reg.service at reg's member.
func (r *Registry) alias(c *dig.Container, reg *registration, name string) {
	slot := keyedService{reg.service, name}

	if reg.err == nil {
		if err := provideAlias(c, reg, name); err != nil {
			r.reject(reg, err)
		}
	}

	if reg.err != nil {
		r.broken[slot] = reg.err
		return
	}

	delete(r.broken, slot)

	if name == "" {
		r.defaults[reg.service] = reg.seq
	} else {
		r.keyed[slot] = reg.seq
	}
}

// reject quarantines reg. It stays rejected until Reset.
func (r *Registry) reject(reg *registration, err error) {
	reg.err = err
	r.logger.Warn("servicelocator: registration rejected", "service", reg.service.String(),
		"key", reg.key, "seq", reg.seq, "error", err)
}

func provideAlias(c *dig.Container, reg *registration, name string) error {
	member := []param{{typ: reg.service, name: reg.member()}}

	err := provide(c, reg.service, name, member, func(args []reflect.Value) (reflect.Value, error) {
		return args[0], nil
	})
	if err != nil {
		return fmt.Errorf("alias %s %q to #%d: %w", reg.service, name, reg.seq, err)
	}

	return nil
}

func checkTypes(serviceType, implType reflect.Type) error {
	if implType == nil {
		return invalid("implType", TypeNilMessage)
	}

	if serviceType == nil {
		return invalid("serviceType", TypeNilMessage)
	}

	if err := checkService(serviceType); err != nil {
		return err
	}

	if implType.Kind() == reflect.Interface {
		return invalid("implType", NotConcreteMessage)
	}

	if !implType.AssignableTo(serviceType) {
		return invalid("implType", NotAssignableMessage)
	}

	return nil
}

// checkService rejects service types the engine cannot provide: errors and its parameter or
// result objects.
func checkService(serviceType reflect.Type) error {
	t := serviceType
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	if serviceType.Implements(errorType) || dig.IsIn(t) || dig.IsOut(t) {
		return invalid("serviceType", NotProvidableMessage)
	}

	return nil
}

func checkKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return invalid("key", KeyBlankMessage)
	}

	return nil
}
