package serializer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
)

var nullJSON = json.RawMessage("null")

type builder struct {
	reg  *Registry
	caps CapabilityHandler
}

func (b *builder) build(v reflect.Value, depth int) (json.RawMessage, error) {
	if depth > maxDepth {
		return nil, &Error{Err: ErrTooDeep}
	}
	if !v.IsValid() {
		return nullJSON, nil
	}
	t := v.Type()

	if c, ok := b.reg.converter(t); ok && c.Build != nil {
		return c.Build(v)
	}
	if t.Implements(marshalerType) {
		if (t.Kind() == reflect.Pointer || t.Kind() == reflect.Interface) && v.IsNil() {
			return nullJSON, nil
		}
		return marshalSelf(v.Interface().(Marshaler))
	}
	if t.Kind() != reflect.Pointer && reflect.PointerTo(t).Implements(marshalerType) {
		ptr := reflect.New(t)
		ptr.Elem().Set(v)
		return marshalSelf(ptr.Interface().(Marshaler))
	}
	if b.caps != nil && b.caps.IsCapability(t) {
		if v.IsNil() {
			return nullJSON, nil
		}
		return b.caps.BuildCapability(v)
	}

	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64,
		reflect.String:
		data, err := json.Marshal(v.Interface())
		if err != nil {
			return nil, &Error{Err: err}
		}
		return data, nil

	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return nullJSON, nil
		}
		return b.build(v.Elem(), depth+1)

	case reflect.Slice:
		if v.IsNil() {
			return nullJSON, nil
		}
		if t.Elem().Kind() == reflect.Uint8 {
			return json.Marshal(v.Bytes())
		}
		return b.buildList(v, depth)

	case reflect.Array:
		return b.buildList(v, depth)

	case reflect.Map:
		if v.IsNil() {
			return nullJSON, nil
		}
		return b.buildMap(v, depth)

	case reflect.Struct:
		return b.buildStruct(v, depth)
	}

	return nil, &Error{Err: fmt.Errorf("%w: %s", ErrUnsupportedType, t)}
}

func marshalSelf(m Marshaler) (json.RawMessage, error) {
	data, err := m.MarshalIPC()
	if err != nil {
		return nil, &Error{Err: err}
	}
	if !json.Valid(data) {
		return nil, &Error{Err: fmt.Errorf("MarshalIPC of %T returned invalid JSON", m)}
	}
	return data, nil
}

func (b *builder) buildList(v reflect.Value, depth int) (json.RawMessage, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i := 0; i < v.Len(); i++ {
		if i > 0 {
			buf.WriteByte(',')
		}
		elem, err := b.build(v.Index(i), depth+1)
		if err != nil {
			return nil, at("["+strconv.Itoa(i)+"]", err)
		}
		buf.Write(elem)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func (b *builder) buildMap(v reflect.Value, depth int) (json.RawMessage, error) {
	type entry struct {
		key string
		val reflect.Value
	}
	entries := make([]entry, 0, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		key, err := mapKeyString(iter.Key())
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry{key: key, val: iter.Value()})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(e.key)
		buf.Write(key)
		buf.WriteByte(':')
		elem, err := b.build(e.val, depth+1)
		if err != nil {
			return nil, at("["+strconv.Quote(e.key)+"]", err)
		}
		buf.Write(elem)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func mapKeyString(k reflect.Value) (string, error) {
	switch k.Kind() {
	case reflect.String:
		return k.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(k.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(k.Uint(), 10), nil
	}
	return "", &Error{Err: fmt.Errorf("%w: map key %s", ErrUnsupportedType, k.Type())}
}

func (b *builder) buildStruct(v reflect.Value, depth int) (json.RawMessage, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range fieldsOf(v.Type()) {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(f.name)
		buf.Write(key)
		buf.WriteByte(':')
		elem, err := b.build(v.Field(f.index), depth+1)
		if err != nil {
			return nil, at(f.name, err)
		}
		buf.Write(elem)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
