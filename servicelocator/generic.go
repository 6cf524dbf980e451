package servicelocator

import (
	"fmt"
	"reflect"
)

// Register maps service S to implementation T as the unkeyed default.
func Register[S, T any](r *Registry) error {
	return r.RegisterType(reflect.TypeFor[S](), reflect.TypeFor[T]())
}

// RegisterNamed maps S to T under key and as the default for S.
func RegisterNamed[S, T any](r *Registry, key string) error {
	return r.RegisterKeyedWithDefault(reflect.TypeFor[S](), reflect.TypeFor[T](), key)
}

// RegisterKeyed maps S to T under key only.
func RegisterKeyed[S, T any](r *Registry, key string) error {
	return r.RegisterKeyed(reflect.TypeFor[S](), reflect.TypeFor[T](), key)
}

// RegisterInstance binds S to instance.
func RegisterInstance[S any](r *Registry, instance S) error {
	return r.RegisterInstance(reflect.TypeFor[S](), instance)
}

// RegisterFactory binds S to a typed factory.
func RegisterFactory[S any](r *Registry, factory func() (S, error)) error {
	if factory == nil {
		return r.RegisterFactory(reflect.TypeFor[S](), nil)
	}

	return r.RegisterFactory(reflect.TypeFor[S](), func() (any, error) { return factory() })
}

// RegisterConstructor binds S to a constructor whose parameters are resolved from r.
func RegisterConstructor[S any](r *Registry, ctor any) error {
	return r.RegisterConstructor(reflect.TypeFor[S](), ctor)
}

// Resolve returns the default instance of S.
func Resolve[S any](r *Registry) (S, error) {
	return resolveAs[S](r, "")
}

// ResolveNamed returns the instance of S registered under key.
func ResolveNamed[S any](r *Registry, key string) (S, error) {
	if key == "" {
		var zero S
		return zero, invalid("key", KeyBlankMessage)
	}

	return resolveAs[S](r, key)
}

// MustResolve is Resolve that panics on error. Intended for wiring code in main packages.
func MustResolve[S any](r *Registry) S {
	v, err := Resolve[S](r)
	if err != nil {
		panic(fmt.Errorf("servicelocator: %w", err))
	}

	return v
}

// ResolveAll returns every registered S in registration order.
func ResolveAll[S any](r *Registry) ([]S, error) {
	vals, err := r.ResolveMany(reflect.TypeFor[S]())
	if err != nil {
		return nil, err
	}

	out := make([]S, 0, len(vals))
	for _, v := range vals {
		out = append(out, v.(S))
	}

	return out, nil
}

// InjectInto fills the injectable fields of instance and returns it.
func InjectInto[T any](r *Registry, instance *T) (*T, error) {
	if instance == nil {
		return nil, invalid("instance", InstanceNilMessage)
	}

	if _, err := r.Inject(instance); err != nil {
		return nil, err
	}

	return instance, nil
}

func resolveAs[S any](r *Registry, key string) (S, error) {
	var zero S

	v, err := r.Resolve(reflect.TypeFor[S](), key)
	if err != nil {
		return zero, err
	}

	s, ok := v.(S)
	if !ok {
		return zero, &ResolutionError{
			ServiceType: reflect.TypeFor[S](),
			Key:         key,
			Err:         fmt.Errorf("resolved %T", v),
		}
	}

	return s, nil
}
