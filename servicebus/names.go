package servicebus

import "reflect"

// CommandName is the routing key of a command: its type name with pointers stripped.
// Unnamed types fall back to their type literal.
func CommandName(cmd any) string {
	if cmd == nil {
		return "<nil>"
	}

	return typeName(reflect.TypeOf(cmd))
}

func typeName(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	name := t.Name()
	if name == "" { // unnamed (e.g., map/struct literal)
		name = t.String()
	}

	return name
}
