package serializer

import (
	"reflect"
	"strings"
	"sync"
)

// field describes one serialized struct field. The wire name and the
// required flag come from the ipc struct tag:
//
//	Name string `ipc:"name,required"`
//	Skip int    `ipc:"-"`
//
// Untagged exported fields use the Go field name and are optional.
type field struct {
	name     string
	index    int
	required bool
}

var fieldCache sync.Map // reflect.Type -> []field

func fieldsOf(t reflect.Type) []field {
	if cached, ok := fieldCache.Load(t); ok {
		return cached.([]field)
	}
	fields := make([]field, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		f := field{name: sf.Name, index: i}
		if tag, ok := sf.Tag.Lookup("ipc"); ok {
			if tag == "-" {
				continue
			}
			name, opts, _ := strings.Cut(tag, ",")
			if name != "" {
				f.name = name
			}
			for _, opt := range strings.Split(opts, ",") {
				if opt == "required" {
					f.required = true
				}
			}
		}
		fields = append(fields, f)
	}
	cached, _ := fieldCache.LoadOrStore(t, fields)
	return cached.([]field)
}
