package servicebus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	cbus "github.com/next-trace/scg-cqrs-adapters/contract/bus"
	berr "github.com/next-trace/scg-cqrs-adapters/contract/errors"
	"github.com/next-trace/scg-cqrs-adapters/internal/wire"
)

// Endpoint is the receiving side of the bus: a binder from command type names to handlers.
// Transports hand it raw messages; it decodes them, runs the handler through the middleware
// chain and produces the reply.
//
// Endpoint is concurrency-safe and contains no global state.
type Endpoint struct {
	mu sync.RWMutex

	cmd map[string]func(ctx context.Context, raw json.RawMessage) error

	// global command middleware executed in registration order
	cmdMW []CommandMiddleware

	logger *slog.Logger
}

// CommandMiddleware wraps command handler execution. Middlewares are executed in registration order.
type CommandMiddleware func(next func(ctx context.Context, cmd any) error) func(ctx context.Context, cmd any) error

// EndpointOption configures an Endpoint instance.
type EndpointOption func(*Endpoint)

// WithCommandMiddleware registers global command middleware via an option.
func WithCommandMiddleware(mw ...CommandMiddleware) EndpointOption {
	return func(e *Endpoint) { e.cmdMW = append(e.cmdMW, mw...) }
}

// WithEndpointLogger sets the endpoint logger.
func WithEndpointLogger(l *slog.Logger) EndpointOption {
	return func(e *Endpoint) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEndpoint constructs an Endpoint with no bindings.
func NewEndpoint(opts ...EndpointOption) *Endpoint {
	e := &Endpoint{
		cmd:    make(map[string]func(context.Context, json.RawMessage) error),
		logger: slog.New(slog.DiscardHandler),
	}

	for _, o := range opts {
		o(e)
	}

	return e
}

// Delivery is the outcome of handling one message.
type Delivery struct {
	ID        string
	Type      string
	WantReply bool
	ReplyTo   string
	Reply     cbus.Reply
}

// BindCommandOf registers a handler for the type of sample, which is decoded as that type.
func (e *Endpoint) BindCommandOf(sample any, handler func(ctx context.Context, cmd any) error) error {
	if sample == nil {
		return fmt.Errorf("bind command <nil>: %w", berr.ErrHandlerTypeMismatch)
	}

	t := reflect.TypeOf(sample)

	return e.bind(typeName(t), func(ctx context.Context, raw json.RawMessage) error {
		v := reflect.New(t)
		if err := json.Unmarshal(raw, v.Interface()); err != nil {
			return fmt.Errorf("decode %s: %w", t, errors.Join(berr.ErrSerializationFailed, err))
		}

		return e.run(ctx, v.Elem().Interface(), handler)
	})
}

// BindCommand registers a handler for command type C. Duplicate bindings are rejected.
func BindCommand[C cbus.Command](e *Endpoint, h cbus.CommandHandler[C]) error {
	t := reflect.TypeFor[C]()

	return e.bind(typeName(t), func(ctx context.Context, raw json.RawMessage) error {
		var c C
		if err := json.Unmarshal(raw, &c); err != nil {
			return fmt.Errorf("decode %s: %w", t, errors.Join(berr.ErrSerializationFailed, err))
		}

		return e.run(ctx, c, func(ctx context.Context, v any) error {
			c, ok := v.(C)
			if !ok {
				return fmt.Errorf("handle %s: %w", reflect.TypeOf(v), berr.ErrHandlerTypeMismatch)
			}

			return h.Handle(ctx, c)
		})
	})
}

func (e *Endpoint) bind(name string, fn func(context.Context, json.RawMessage) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.cmd[name]; exists {
		return fmt.Errorf("bind command %s: %w", name, berr.ErrHandlerExists)
	}

	e.cmd[name] = fn

	return nil
}

// Handle decodes one message and runs its handler. Handler failures are reported in the
// reply; the returned error is reserved for undecodable messages and unbound command types.
func (e *Endpoint) Handle(ctx context.Context, data []byte) (Delivery, error) {
	m, err := wire.Decode(data)
	if err != nil {
		return Delivery{}, err
	}

	d := Delivery{
		ID:        m.ID,
		Type:      m.Type,
		WantReply: m.WantReply,
		ReplyTo:   m.ReplyTo,
		Reply:     cbus.Reply{CorrelationID: m.ID, Code: ReplyCodeOK},
	}

	e.mu.RLock()
	f, ok := e.cmd[m.Type]
	e.mu.RUnlock()

	if !ok {
		err := fmt.Errorf("handle %s: %w", m.Type, berr.ErrHandlerNotFound)
		d.Reply.Code = ReplyCodeFailed
		d.Reply.Error = err.Error()

		return d, err
	}

	if err := f(ctx, m.Command); err != nil {
		d.Reply.Code = resultCode(err)
		d.Reply.Error = err.Error()

		e.logger.ErrorContext(ctx, "servicebus: handler failed",
			"type", m.Type, "id", m.ID, "code", d.Reply.Code, "error", err)

		return d, nil
	}

	e.logger.DebugContext(ctx, "servicebus: handled", "type", m.Type, "id", m.ID)

	return d, nil
}

func (e *Endpoint) run(ctx context.Context, cmd any, final func(ctx context.Context, cmd any) error) error {
	e.mu.RLock()
	chain := append([]CommandMiddleware(nil), e.cmdMW...)
	e.mu.RUnlock()

	// Build chain so the first registered middleware runs first
	for i := len(chain) - 1; i >= 0; i-- {
		final = chain[i](final)
	}

	return final(ctx, cmd)
}

func resultCode(err error) int {
	var rc cbus.ResultCoder
	if errors.As(err, &rc) {
		return rc.ResultCode()
	}

	return ReplyCodeFailed
}

// ResultError is a handler error carrying an explicit reply code.
type ResultError struct {
	Code int
	Err  error
}

func (e *ResultError) Error() string { return fmt.Sprintf("result %d: %v", e.Code, e.Err) }

func (e *ResultError) Unwrap() error { return e.Err }

func (e *ResultError) ResultCode() int { return e.Code }
