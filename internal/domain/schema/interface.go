// Package schema describes remotely callable Go interfaces: their methods,
// parameter and result types, and a fingerprint both peers can compare.
package schema

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

var (
	contextType = reflect.TypeFor[context.Context]()
	errorType   = reflect.TypeFor[error]()
)

// ErrNotInterface is returned when describing a non-interface type.
var ErrNotInterface = errors.New("type is not an interface")

// Method describes one remotely callable method.
//
// A callable method optionally takes a context.Context first and optionally
// returns an error last; the remaining parameters and results travel on the
// wire.
type Method struct {
	Name    string
	Index   int // index in the interface's method set
	Params  []reflect.Type
	Results []reflect.Type
	HasCtx  bool
	HasErr  bool
}

// Signature renders the method the way Go declares it.
func (m *Method) Signature() string {
	var b strings.Builder
	b.WriteString(m.Name)
	b.WriteByte('(')
	parts := make([]string, 0, len(m.Params)+1)
	if m.HasCtx {
		parts = append(parts, "context.Context")
	}
	for _, p := range m.Params {
		parts = append(parts, p.String())
	}
	b.WriteString(strings.Join(parts, ", "))
	b.WriteByte(')')

	results := make([]string, 0, len(m.Results)+1)
	for _, r := range m.Results {
		results = append(results, r.String())
	}
	if m.HasErr {
		results = append(results, "error")
	}
	switch len(results) {
	case 0:
	case 1:
		b.WriteString(" " + results[0])
	default:
		b.WriteString(" (" + strings.Join(results, ", ") + ")")
	}
	return b.String()
}

// Interface describes a remotely callable interface.
type Interface struct {
	Name    string
	Type    reflect.Type
	Methods []*Method

	byName      map[string]*Method
	fingerprint uint64
}

// Describe builds the descriptor of the interface type t under name.
func Describe(name string, t reflect.Type) (*Interface, error) {
	if t == nil || t.Kind() != reflect.Interface {
		return nil, fmt.Errorf("describe %s: %w", name, ErrNotInterface)
	}
	if name == "" || strings.ContainsAny(name, " \t\n") {
		return nil, fmt.Errorf("describe %s: invalid interface name", t)
	}

	iface := &Interface{
		Name:   name,
		Type:   t,
		byName: make(map[string]*Method, t.NumMethod()),
	}
	for i := 0; i < t.NumMethod(); i++ {
		m := t.Method(i)
		desc := &Method{Name: m.Name, Index: i}

		ft := m.Type
		for p := 0; p < ft.NumIn(); p++ {
			in := ft.In(p)
			if p == 0 && in == contextType {
				desc.HasCtx = true
				continue
			}
			if in == contextType {
				return nil, fmt.Errorf("describe %s.%s: context.Context must be the first parameter", name, m.Name)
			}
			desc.Params = append(desc.Params, in)
		}
		if ft.IsVariadic() {
			return nil, fmt.Errorf("describe %s.%s: variadic methods are not supported", name, m.Name)
		}
		for r := 0; r < ft.NumOut(); r++ {
			out := ft.Out(r)
			if out == errorType {
				if r != ft.NumOut()-1 {
					return nil, fmt.Errorf("describe %s.%s: error must be the last result", name, m.Name)
				}
				desc.HasErr = true
				continue
			}
			desc.Results = append(desc.Results, out)
		}
		iface.Methods = append(iface.Methods, desc)
		iface.byName[m.Name] = desc
	}
	iface.fingerprint = computeFingerprint(iface)
	return iface, nil
}

// For describes the interface type I.
func For[I any](name string) (*Interface, error) {
	return Describe(name, reflect.TypeFor[I]())
}

// Method returns the named method.
func (i *Interface) Method(name string) (*Method, bool) {
	m, ok := i.byName[name]
	return m, ok
}

// Fingerprint hashes the name and every method signature. Two processes built
// from the same interface definitions compute the same value.
func (i *Interface) Fingerprint() uint64 {
	return i.fingerprint
}

// FingerprintHex returns the fingerprint as it is exchanged at bootstrap.
func (i *Interface) FingerprintHex() string {
	return strconv.FormatUint(i.fingerprint, 16)
}

func computeFingerprint(i *Interface) uint64 {
	sigs := make([]string, 0, len(i.Methods))
	for _, m := range i.Methods {
		sigs = append(sigs, m.Signature())
	}
	sort.Strings(sigs)

	d := xxhash.New()
	_, _ = d.WriteString(i.Name)
	for _, s := range sigs {
		_, _ = d.WriteString("\n")
		_, _ = d.WriteString(s)
	}
	return d.Sum64()
}
