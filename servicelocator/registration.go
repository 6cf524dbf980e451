package servicelocator

import (
	"fmt"
	"reflect"
)

type kind int

const (
	kindType kind = iota
	kindInstance
	kindFactory
	kindConstructor
)

func (k kind) String() string {
	switch k {
	case kindType:
		return "type"
	case kindInstance:
		return "instance"
	case kindFactory:
		return "factory"
	case kindConstructor:
		return "constructor"
	default:
		return "unknown"
	}
}

// registration is one entry of the registry log.
// Every registration is provided to dig under its own member name; defaults and keys are
// aliases onto that member so all lookups of one registration share a single instance.
type registration struct {
	seq       int
	service   reflect.Type
	key       string // empty when the registration has no key
	asDefault bool   // serves unkeyed lookups of service

	kind     kind
	err      error // set when the engine rejected the registration
	impl     reflect.Type
	instance any
	factory  func() (any, error)
	ctor     reflect.Value
}

func (r *registration) member() string { return fmt.Sprintf("servicelocator.member.%d", r.seq) }

type keyedService struct {
	service reflect.Type
	key     string
}

// params returns what dig must supply to construct the registration.
func (r *registration) params() []param {
	switch r.kind {
	case kindType:
		fields := injectFields(structOf(r.impl))
		ps := make([]param, len(fields))
		for i, f := range fields {
			ps[i] = f.param
		}

		return ps
	case kindConstructor:
		t := r.ctor.Type()
		ps := make([]param, t.NumIn())
		for i := range ps {
			ps[i] = param{typ: t.In(i)}
		}

		return ps
	default:
		return nil
	}
}

// build produces the registration's value from the resolved params. A panic in a factory or
// constructor is returned as an error.
func (r *registration) build(args []reflect.Value) (v reflect.Value, err error) {
	defer func() {
		if p := recover(); p != nil {
			v, err = reflect.Value{}, panicked(r, p)
		}
	}()

	switch r.kind {
	case kindType:
		return r.newImpl(args), nil
	case kindInstance:
		return reflect.ValueOf(r.instance), nil
	case kindFactory:
		v, err := r.factory()
		if err != nil {
			return reflect.Value{}, err
		}

		return r.checkProduced(v, "factory")
	case kindConstructor:
		out := r.ctor.Call(args)
		if len(out) == 2 && !out[1].IsNil() {
			return reflect.Value{}, out[1].Interface().(error)
		}

		return r.checkProduced(out[0].Interface(), "constructor")
	default:
		return reflect.Value{}, fmt.Errorf("servicelocator: unknown registration kind %d", r.kind)
	}
}

func panicked(r *registration, p any) error {
	if err, ok := p.(error); ok {
		return fmt.Errorf("%s for %s panicked: %w", r.kind, r.service, err)
	}

	return fmt.Errorf("%s for %s panicked: %v", r.kind, r.service, p)
}

func (r *registration) checkProduced(v any, what string) (reflect.Value, error) {
	if isNil(v) {
		return reflect.Value{}, fmt.Errorf("%s for %s returned nil", what, r.service)
	}

	rv := reflect.ValueOf(v)
	if !rv.Type().AssignableTo(r.service) {
		return reflect.Value{}, fmt.Errorf("%s for %s returned %s", what, r.service, rv.Type())
	}

	return rv, nil
}

// newImpl allocates the implementation and copies injected dependencies into its tagged fields.
func (r *registration) newImpl(args []reflect.Value) reflect.Value {
	var v, target reflect.Value

	if r.impl.Kind() == reflect.Pointer {
		v = reflect.New(r.impl.Elem())
		target = v.Elem()
	} else {
		v = reflect.New(r.impl).Elem()
		target = v
	}

	if target.Kind() == reflect.Struct {
		for i, f := range injectFields(target.Type()) {
			target.Field(f.index).Set(args[i])
		}
	}

	return v
}

// structOf returns the struct type behind t (or t itself), or nil when t is not struct-shaped.
func structOf(t reflect.Type) reflect.Type {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	if t.Kind() != reflect.Struct {
		return nil
	}

	return t
}

func isNil(v any) bool {
	if v == nil {
		return true
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}

// validConstructor reports whether ctor looks like func(deps...) (S) or func(deps...) (S, error).
func validConstructor(ctor reflect.Value, service reflect.Type) bool {
	if !ctor.IsValid() || ctor.Kind() != reflect.Func || ctor.IsNil() {
		return false
	}

	t := ctor.Type()
	if t.IsVariadic() {
		return false
	}

	switch t.NumOut() {
	case 1:
	case 2:
		if t.Out(1) != errorType {
			return false
		}
	default:
		return false
	}

	return t.Out(0).AssignableTo(service)
}
