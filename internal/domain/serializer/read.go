package serializer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
)

type reader struct {
	reg  *Registry
	caps CapabilityHandler
}

func isNull(data json.RawMessage) bool {
	return len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), nullJSON)
}

func (r *reader) read(data json.RawMessage, dst reflect.Value, depth int) error {
	if depth > maxDepth {
		return &Error{Err: ErrTooDeep}
	}
	t := dst.Type()

	if c, ok := r.reg.converter(t); ok && c.Read != nil {
		if isNull(data) {
			dst.SetZero()
			return nil
		}
		if err := c.Read(data, dst); err != nil {
			return &Error{Err: err}
		}
		return nil
	}
	if t.Kind() != reflect.Pointer && t.Kind() != reflect.Interface && reflect.PointerTo(t).Implements(unmarshalerType) {
		dst.SetZero()
		if isNull(data) {
			return nil
		}
		ptr := reflect.New(t)
		if err := ptr.Interface().(Unmarshaler).UnmarshalIPC(data); err != nil {
			return &Error{Err: err}
		}
		dst.Set(ptr.Elem())
		return nil
	}
	if r.caps != nil && r.caps.IsCapability(t) {
		if isNull(data) {
			dst.SetZero()
			return nil
		}
		v, err := r.caps.ReadCapability(data, t)
		if err != nil {
			return &Error{Err: err}
		}
		dst.Set(v)
		return nil
	}

	switch t.Kind() {
	case reflect.Bool, reflect.String, reflect.Float32, reflect.Float64:
		if isNull(data) {
			dst.SetZero()
			return nil
		}
		ptr := reflect.New(t)
		if err := json.Unmarshal(data, ptr.Interface()); err != nil {
			return &Error{Err: err}
		}
		if t.Kind() == reflect.Float32 && dst.OverflowFloat(ptr.Elem().Float()) {
			return &Error{Err: ErrOverflow}
		}
		dst.Set(ptr.Elem())
		return nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if isNull(data) {
			dst.SetZero()
			return nil
		}
		num, err := readNumber(data)
		if err != nil {
			return err
		}
		n, err := strconv.ParseInt(num, 10, 64)
		if err != nil || dst.OverflowInt(n) {
			return &Error{Err: fmt.Errorf("%w: %s for %s", ErrOverflow, num, t)}
		}
		dst.SetInt(n)
		return nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		if isNull(data) {
			dst.SetZero()
			return nil
		}
		num, err := readNumber(data)
		if err != nil {
			return err
		}
		n, err := strconv.ParseUint(num, 10, 64)
		if err != nil || dst.OverflowUint(n) {
			return &Error{Err: fmt.Errorf("%w: %s for %s", ErrOverflow, num, t)}
		}
		dst.SetUint(n)
		return nil

	case reflect.Pointer:
		if isNull(data) {
			dst.SetZero()
			return nil
		}
		elem := reflect.New(t.Elem())
		if err := r.read(data, elem.Elem(), depth+1); err != nil {
			return err
		}
		dst.Set(elem)
		return nil

	case reflect.Interface:
		if t.NumMethod() != 0 {
			return &Error{Err: fmt.Errorf("%w: %s", ErrUnsupportedType, t)}
		}
		if isNull(data) {
			dst.SetZero()
			return nil
		}
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return &Error{Err: err}
		}
		dst.Set(reflect.ValueOf(&v).Elem())
		return nil

	case reflect.Slice:
		if isNull(data) {
			dst.SetZero()
			return nil
		}
		if t.Elem().Kind() == reflect.Uint8 {
			var raw []byte
			if err := json.Unmarshal(data, &raw); err != nil {
				return &Error{Err: err}
			}
			dst.SetBytes(raw)
			return nil
		}
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return &Error{Err: err}
		}
		out := reflect.MakeSlice(t, len(items), len(items))
		for i, item := range items {
			if err := r.read(item, out.Index(i), depth+1); err != nil {
				return at("["+strconv.Itoa(i)+"]", err)
			}
		}
		dst.Set(out)
		return nil

	case reflect.Array:
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return &Error{Err: err}
		}
		if len(items) != t.Len() {
			return &Error{Err: fmt.Errorf("array length %d, want %d", len(items), t.Len())}
		}
		out := reflect.New(t).Elem()
		for i, item := range items {
			if err := r.read(item, out.Index(i), depth+1); err != nil {
				return at("["+strconv.Itoa(i)+"]", err)
			}
		}
		dst.Set(out)
		return nil

	case reflect.Map:
		if isNull(data) {
			dst.SetZero()
			return nil
		}
		var items map[string]json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return &Error{Err: err}
		}
		out := reflect.MakeMapWithSize(t, len(items))
		for key, item := range items {
			k, err := mapKeyValue(key, t.Key())
			if err != nil {
				return at("["+strconv.Quote(key)+"]", err)
			}
			v := reflect.New(t.Elem()).Elem()
			if err := r.read(item, v, depth+1); err != nil {
				return at("["+strconv.Quote(key)+"]", err)
			}
			out.SetMapIndex(k, v)
		}
		dst.Set(out)
		return nil

	case reflect.Struct:
		return r.readStruct(data, dst, depth)
	}

	return &Error{Err: fmt.Errorf("%w: %s", ErrUnsupportedType, t)}
}

// readStruct resets dst and fills it field by field. Absent or null optional
// fields keep their zero value; absent required fields fail.
func (r *reader) readStruct(data json.RawMessage, dst reflect.Value, depth int) error {
	t := dst.Type()
	var items map[string]json.RawMessage
	if !isNull(data) {
		if err := json.Unmarshal(data, &items); err != nil {
			return &Error{Err: err}
		}
	}

	out := reflect.New(t).Elem()
	for _, f := range fieldsOf(t) {
		raw, ok := items[f.name]
		if !ok || isNull(raw) {
			if f.required {
				return &Error{Path: f.name, Err: ErrMissingField}
			}
			continue
		}
		if err := r.read(raw, out.Field(f.index), depth+1); err != nil {
			return at(f.name, err)
		}
	}
	dst.Set(out)
	return nil
}

func readNumber(data json.RawMessage) (string, error) {
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return "", &Error{Err: err}
	}
	return num.String(), nil
}

func mapKeyValue(key string, t reflect.Type) (reflect.Value, error) {
	k := reflect.New(t).Elem()
	switch t.Kind() {
	case reflect.String:
		k.SetString(key)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(key, 10, 64)
		if err != nil || k.OverflowInt(n) {
			return k, &Error{Err: fmt.Errorf("%w: map key %q", ErrOverflow, key)}
		}
		k.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(key, 10, 64)
		if err != nil || k.OverflowUint(n) {
			return k, &Error{Err: fmt.Errorf("%w: map key %q", ErrOverflow, key)}
		}
		k.SetUint(n)
	default:
		return k, &Error{Err: fmt.Errorf("%w: map key %s", ErrUnsupportedType, t)}
	}
	return k, nil
}
