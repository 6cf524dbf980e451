package servicelocator

import (
	"fmt"
	"reflect"
	"strings"

	"go.uber.org/dig"
)

var inType = reflect.TypeOf(dig.In{})

// param describes one value requested from dig.
type param struct {
	typ      reflect.Type
	name     string
	optional bool
}

func (p param) tag() reflect.StructTag {
	var parts []string
	if p.name != "" {
		parts = append(parts, fmt.Sprintf("name:%q", p.name))
	}

	if p.optional {
		parts = append(parts, `optional:"true"`)
	}

	return reflect.StructTag(strings.Join(parts, " "))
}

// inStruct builds a dig parameter object type at runtime: an anonymous struct embedding dig.In
// with one exported field per param. Field i+1 holds params[i].
func inStruct(params []param) reflect.Type {
	fields := make([]reflect.StructField, 0, len(params)+1)
	fields = append(fields, reflect.StructField{Name: "In", Type: inType, Anonymous: true})

	for i, p := range params {
		fields = append(fields, reflect.StructField{
			Name: fmt.Sprintf("P%d", i),
			Type: p.typ,
			Tag:  p.tag(),
		})
	}

	return reflect.StructOf(fields)
}

// invoke asks c for every param and returns the values in order.
func invoke(c *dig.Container, params []param) ([]reflect.Value, error) {
	st := inStruct(params)

	var got reflect.Value

	fn := reflect.MakeFunc(
		reflect.FuncOf([]reflect.Type{st}, nil, false),
		func(args []reflect.Value) []reflect.Value {
			got = args[0]
			return nil
		},
	)

	if err := c.Invoke(fn.Interface()); err != nil {
		return nil, err
	}

	out := make([]reflect.Value, len(params))
	for i := range params {
		out[i] = got.Field(i + 1)
	}

	return out, nil
}

// provide registers a constructor for service whose single parameter object asks for params.
// build receives the resolved values in params order.
func provide(
	c *dig.Container,
	service reflect.Type,
	name string,
	params []param,
	build func(args []reflect.Value) (reflect.Value, error),
) error {
	var in []reflect.Type
	if len(params) > 0 {
		in = []reflect.Type{inStruct(params)}
	}

	fnType := reflect.FuncOf(in, []reflect.Type{service, errorType}, false)
	fn := reflect.MakeFunc(fnType, func(args []reflect.Value) []reflect.Value {
		var vals []reflect.Value
		if len(args) == 1 {
			vals = make([]reflect.Value, len(params))
			for i := range params {
				vals[i] = args[0].Field(i + 1)
			}
		}

		out := reflect.New(service).Elem()

		v, err := build(vals)
		if err != nil {
			return []reflect.Value{out, reflect.ValueOf(&err).Elem()}
		}

		out.Set(v)

		return []reflect.Value{out, reflect.Zero(errorType)}
	})

	var opts []dig.ProvideOption
	if name != "" {
		opts = append(opts, dig.Name(name))
	}

	return c.Provide(fn.Interface(), opts...)
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()
