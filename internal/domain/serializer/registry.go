// Package serializer converts Go values to and from their wire representation.
//
// A value is encoded by the first of these that applies to its type:
//
//  1. a converter registered for the exact type
//  2. the type's own MarshalIPC / UnmarshalIPC methods
//  3. the capability handler, for interface types exported across a connection
//  4. the generic converter: structs field by field (see the ipc struct tag),
//     slices, arrays, maps and pointers element by element, scalars as JSON
//
// Resolution is applied again for every nested value, so a registered
// converter also applies to struct fields and slice elements of its type.
package serializer

import (
	"encoding/json"
	"reflect"
	"sync"
	"time"
)

// Marshaler is implemented by types that produce their own wire encoding.
// MarshalIPC must return valid JSON.
type Marshaler interface {
	MarshalIPC() ([]byte, error)
}

// Unmarshaler is implemented by types that decode their own wire encoding.
type Unmarshaler interface {
	UnmarshalIPC(data []byte) error
}

// Converter is a type-specific custom conversion.
type Converter struct {
	Build func(v reflect.Value) (json.RawMessage, error)
	Read  func(data json.RawMessage, dst reflect.Value) error
}

// CapabilityHandler converts values of interface types that travel as
// capability references. Connections provide one per call.
type CapabilityHandler interface {
	IsCapability(t reflect.Type) bool
	BuildCapability(v reflect.Value) (json.RawMessage, error)
	ReadCapability(data json.RawMessage, t reflect.Type) (reflect.Value, error)
}

// Registry holds custom converters. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	converters map[reflect.Type]Converter
}

// NewRegistry returns a registry with the built-in converters for Secret,
// time.Time and time.Duration.
func NewRegistry() *Registry {
	r := &Registry{converters: make(map[reflect.Type]Converter)}
	r.Register(reflect.TypeOf(Secret(nil)), secretConverter)
	RegisterFunc(r,
		func(t time.Time) (json.RawMessage, error) {
			return json.Marshal(t.Format(time.RFC3339Nano))
		},
		func(data json.RawMessage) (time.Time, error) {
			var s string
			if err := json.Unmarshal(data, &s); err != nil {
				return time.Time{}, err
			}
			return time.Parse(time.RFC3339Nano, s)
		},
	)
	RegisterFunc(r,
		func(d time.Duration) (json.RawMessage, error) {
			return json.Marshal(int64(d))
		},
		func(data json.RawMessage) (time.Duration, error) {
			var n int64
			err := json.Unmarshal(data, &n)
			return time.Duration(n), err
		},
	)
	return r
}

// Register installs a converter for t, replacing any previous one.
func (r *Registry) Register(t reflect.Type, c Converter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.converters[t] = c
}

// RegisterFunc installs a typed converter for T.
func RegisterFunc[T any](r *Registry, build func(T) (json.RawMessage, error), read func(json.RawMessage) (T, error)) {
	r.Register(reflect.TypeFor[T](), Converter{
		Build: func(v reflect.Value) (json.RawMessage, error) {
			return build(v.Interface().(T))
		},
		Read: func(data json.RawMessage, dst reflect.Value) error {
			v, err := read(data)
			if err != nil {
				return err
			}
			dst.Set(reflect.ValueOf(&v).Elem())
			return nil
		},
	})
}

func (r *Registry) converter(t reflect.Type) (Converter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.converters[t]
	return c, ok
}

// Build encodes v.
func (r *Registry) Build(v any) (json.RawMessage, error) {
	return r.BuildValue(nil, reflect.ValueOf(v))
}

// BuildInto encodes v into *out. On failure *out is left untouched.
func (r *Registry) BuildInto(v any, out *json.RawMessage) error {
	data, err := r.Build(v)
	if err != nil {
		return err
	}
	*out = data
	return nil
}

// BuildValue encodes v, converting capability-typed values through h.
// h may be nil.
func (r *Registry) BuildValue(h CapabilityHandler, v reflect.Value) (json.RawMessage, error) {
	b := builder{reg: r, caps: h}
	return b.build(v, 0)
}

// Read decodes data into dst, which must be a non-nil pointer.
func (r *Registry) Read(data json.RawMessage, dst any) error {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return &Error{Err: ErrInvalidTarget}
	}
	return r.ReadValue(nil, data, rv.Elem())
}

// ReadValue decodes data into the settable value dst, converting capability
// references through h. h may be nil.
func (r *Registry) ReadValue(h CapabilityHandler, data json.RawMessage, dst reflect.Value) error {
	if !dst.CanSet() {
		return &Error{Err: ErrInvalidTarget}
	}
	rd := reader{reg: r, caps: h}
	return rd.read(data, dst, 0)
}

// ReadAs decodes data as a T.
func ReadAs[T any](r *Registry, data json.RawMessage) (T, error) {
	var v T
	err := r.Read(data, &v)
	return v, err
}

var (
	marshalerType   = reflect.TypeFor[Marshaler]()
	unmarshalerType = reflect.TypeFor[Unmarshaler]()
)
