package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/Sentinel-Gate/ipcgate/internal/domain/schema"
	"github.com/Sentinel-Gate/ipcgate/internal/domain/serializer"
)

// MethodKey identifies one method of one interface.
type MethodKey struct {
	Interface string
	Method    string
}

// String returns "Interface.Method".
func (k MethodKey) String() string {
	return k.Interface + "." + k.Method
}

// Override replaces the generic argument marshaling of one method, for
// arguments that have no generic wire form (live callbacks, handles, fields
// that need reshaping). Either side may be nil.
type Override struct {
	// BuildArgs encodes the call arguments on the calling side.
	BuildArgs func(ctx context.Context, c *Client, args []any) ([]json.RawMessage, error)
	// ReadArgs decodes the call arguments on the serving side. It returns
	// the arguments to pass after the context, if the method takes one.
	ReadArgs func(ctx context.Context, s *Server, args []json.RawMessage) ([]reflect.Value, error)
}

type entry struct {
	iface     *schema.Interface
	newClient func(c *Client) any
}

// Registry is the table of interfaces a process can call or serve, with their
// client stub constructors and per-method overrides. Both peers register the
// same interfaces under the same names.
type Registry struct {
	mu        sync.RWMutex
	serial    *serializer.Registry
	byName    map[string]*entry
	byType    map[reflect.Type]*entry
	overrides map[MethodKey]Override
}

// NewRegistry creates an empty registry using a fresh serializer registry.
func NewRegistry() *Registry {
	return &Registry{
		serial:    serializer.NewRegistry(),
		byName:    make(map[string]*entry),
		byType:    make(map[reflect.Type]*entry),
		overrides: make(map[MethodKey]Override),
	}
}

// Register adds interface I under name. newClient wraps a generic Client in
// the typed stub returned to callers; the stub must implement I.
func Register[I any](r *Registry, name string, newClient func(c *Client) I) error {
	iface, err := schema.For[I](name)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("interface %q already registered", name)
	}
	e := &entry{
		iface:     iface,
		newClient: func(c *Client) any { return newClient(c) },
	}
	r.byName[name] = e
	r.byType[iface.Type] = e
	return nil
}

// Override installs a marshaling override for key. The interface and method
// must already be registered.
func (r *Registry) Override(key MethodKey, ov Override) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byName[key.Interface]
	if !ok {
		return fmt.Errorf("override %s: interface not registered", key)
	}
	if _, ok := e.iface.Method(key.Method); !ok {
		return fmt.Errorf("override %s: no such method", key)
	}
	r.overrides[key] = ov
	return nil
}

func (r *Registry) override(key MethodKey) (Override, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ov, ok := r.overrides[key]
	return ov, ok
}

// Lookup returns the interface registered under name.
func (r *Registry) Lookup(name string) (*schema.Interface, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return e.iface, true
}

// LookupType returns the interface registered for the Go type t.
func (r *Registry) LookupType(t reflect.Type) (*schema.Interface, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byType[t]
	if !ok {
		return nil, false
	}
	return e.iface, true
}

// Interfaces returns every registered interface sorted by name.
func (r *Registry) Interfaces() []*schema.Interface {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*schema.Interface, 0, len(r.byName))
	for _, e := range r.byName {
		out = append(out, e.iface)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// HasOverride reports whether key has a marshaling override.
func (r *Registry) HasOverride(key MethodKey) bool {
	_, ok := r.override(key)
	return ok
}

// Serializer returns the value serializer used for every call.
func (r *Registry) Serializer() *serializer.Registry {
	return r.serial
}

// NewStub wraps c in the typed stub registered for its interface.
func (r *Registry) NewStub(c *Client) (any, error) {
	r.mu.RLock()
	e, ok := r.byName[c.iface.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("interface %q not registered", c.iface.Name)
	}
	return e.newClient(c), nil
}
