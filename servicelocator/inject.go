package servicelocator

import (
	"reflect"
	"strings"
)

// InjectTag is the struct tag that marks fields the registry fills in.
//
//	type Handler struct {
//		Repo   Repository `inject:""`            // default registration
//		Audit  Sink       `inject:"audit"`       // keyed registration
//		Tracer Tracer     `inject:",optional"`   // left zero when not registered
//	}
const InjectTag = "inject"

type injectField struct {
	index int
	param param
}

// injectFields lists the exported, tagged fields of a struct type. A nil type yields none.
func injectFields(t reflect.Type) []injectField {
	if t == nil {
		return nil
	}

	var out []injectField

	for i := range t.NumField() {
		f := t.Field(i)

		tag, ok := f.Tag.Lookup(InjectTag)
		if !ok || !f.IsExported() {
			continue
		}

		name, opts, _ := strings.Cut(tag, ",")
		out = append(out, injectField{
			index: i,
			param: param{
				typ:      f.Type,
				name:     strings.TrimSpace(name),
				optional: strings.TrimSpace(opts) == "optional",
			},
		})
	}

	return out
}
