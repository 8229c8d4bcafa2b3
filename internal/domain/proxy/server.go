package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"runtime/debug"

	"github.com/Sentinel-Gate/ipcgate/internal/domain/lifecycle"
	"github.com/Sentinel-Gate/ipcgate/internal/domain/schema"
	"github.com/Sentinel-Gate/ipcgate/pkg/wire"
)

// Server dispatches calls on one exported capability to a local
// implementation. Dispatch runs on the connection's loop goroutine.
type Server struct {
	lifecycle.Base

	sess  Session
	iface *schema.Interface
	impl  reflect.Value // of the interface type, so Method(i) follows the interface's method order
	raw   any
}

// NewServer wraps impl, which must implement iface. When owned is set and
// impl implements io.Closer, closing the server closes impl.
func NewServer(sess Session, iface *schema.Interface, impl any, owned bool) (*Server, error) {
	if impl == nil {
		return nil, fmt.Errorf("serve %s: nil implementation", iface.Name)
	}
	rv := reflect.ValueOf(impl)
	if !rv.Type().Implements(iface.Type) {
		return nil, fmt.Errorf("serve %s: %T does not implement %s", iface.Name, impl, iface.Type)
	}
	iv := reflect.New(iface.Type).Elem()
	iv.Set(rv)

	s := &Server{sess: sess, iface: iface, impl: iv, raw: impl}
	if closer, ok := impl.(io.Closer); ok && owned {
		s.AddCloseHook(lifecycle.NewCloseHook(iface.Name+" impl", func(bool) {
			if err := closer.Close(); err != nil {
				sess.Logger().Warn("closing implementation failed", "interface", iface.Name, "error", err)
			}
		}))
	}
	return s, nil
}

// Interface returns the served interface.
func (s *Server) Interface() *schema.Interface {
	return s.iface
}

// Impl returns the wrapped implementation.
func (s *Server) Impl() any {
	return s.raw
}

// Session returns the session the server is exported on.
func (s *Server) Session() Session {
	return s.sess
}

// Dispatch decodes args, invokes method on the implementation and encodes
// its results. Errors returned by the implementation, and panics, come back
// as *RemoteCallError; decoding problems as *ProtocolError.
func (s *Server) Dispatch(ctx context.Context, method string, args []json.RawMessage) ([]json.RawMessage, error) {
	if s.Closed() {
		return nil, fmt.Errorf("%s: %w", s.iface.Name, lifecycle.ErrClosed)
	}
	m, ok := s.iface.Method(method)
	if !ok {
		return nil, NewProtocolError(wire.CodeMethodNotFound, "%s has no method %s", s.iface.Name, method)
	}

	scope := &lifecycle.Base{}
	defer scope.Close(false)
	params, err := s.readArgs(ctx, scope, m, args)
	if err != nil {
		return nil, err
	}
	in := make([]reflect.Value, 0, len(params)+1)
	if m.HasCtx {
		in = append(in, reflect.ValueOf(&ctx).Elem())
	}
	in = append(in, params...)

	out, err := s.invoke(m, in)
	if err != nil {
		return nil, err
	}

	caps := &capHandler{sess: s.sess, parent: &s.Base, owned: true}
	values := make([]json.RawMessage, len(m.Results))
	for i := range m.Results {
		data, err := s.sess.Registry().Serializer().BuildValue(caps, out[i])
		if err != nil {
			return nil, NewProtocolError(wire.CodeInternalError, "%s.%s result %d: %v", s.iface.Name, m.Name, i, err)
		}
		values[i] = data
	}
	return values, nil
}

func (s *Server) readArgs(ctx context.Context, scope *lifecycle.Base, m *schema.Method, args []json.RawMessage) ([]reflect.Value, error) {
	key := MethodKey{Interface: s.iface.Name, Method: m.Name}
	if ov, ok := s.sess.Registry().override(key); ok && ov.ReadArgs != nil {
		params, err := ov.ReadArgs(context.WithValue(ctx, callScopeKey{}, scope), s, args)
		if err != nil {
			return nil, NewProtocolError(wire.CodeInvalidParams, "%s: %v", key, err)
		}
		if len(params) != len(m.Params) {
			return nil, NewProtocolError(wire.CodeInvalidParams, "%s: override produced %d arguments, want %d", key, len(params), len(m.Params))
		}
		return params, nil
	}
	if len(args) != len(m.Params) {
		return nil, NewProtocolError(wire.CodeInvalidParams, "%s takes %d arguments, got %d", key, len(m.Params), len(args))
	}

	// Capabilities handed to the implementation may be kept by it, so they
	// live as long as this server. If decoding fails they are released.
	held := &lifecycle.Base{}
	caps := &capHandler{sess: s.sess, parent: held}
	params := make([]reflect.Value, len(args))
	for i, raw := range args {
		v := reflect.New(m.Params[i]).Elem()
		if err := s.sess.Registry().Serializer().ReadValue(caps, raw, v); err != nil {
			held.Close(false)
			return nil, NewProtocolError(wire.CodeInvalidParams, "%s argument %d: %v", key, i, err)
		}
		params[i] = v
	}
	if caps.imported > 0 {
		s.AddCloseHook(lifecycle.NewCloseHook(key.String()+" arguments", held.Close))
	}
	return params, nil
}

type callScopeKey struct{}

// ReadArg decodes one argument of type t for an override's ReadArgs.
// Capabilities received this way are released when the call returns.
func (s *Server) ReadArg(ctx context.Context, data json.RawMessage, t reflect.Type) (reflect.Value, error) {
	parent := &s.Base
	if scope, ok := ctx.Value(callScopeKey{}).(*lifecycle.Base); ok {
		parent = scope
	}
	caps := &capHandler{sess: s.sess, parent: parent}
	v := reflect.New(t).Elem()
	if err := s.sess.Registry().Serializer().ReadValue(caps, data, v); err != nil {
		return reflect.Value{}, err
	}
	return v, nil
}

// invoke calls the implementation, converting a returned error or a panic
// into a *RemoteCallError. The returned slice holds the wire results only.
func (s *Server) invoke(m *schema.Method, in []reflect.Value) (out []reflect.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.sess.Logger().Error("implementation panicked",
				"interface", s.iface.Name,
				"method", m.Name,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			out = nil
			err = &RemoteCallError{Interface: s.iface.Name, Method: m.Name, Message: fmt.Sprintf("panic: %v", r)}
		}
	}()

	out = s.impl.Method(m.Index).Call(in)
	if m.HasErr {
		last := out[len(out)-1]
		out = out[:len(out)-1]
		if !last.IsNil() {
			callErr := last.Interface().(error)
			return nil, &RemoteCallError{Interface: s.iface.Name, Method: m.Name, Message: callErr.Error()}
		}
	}
	return out, nil
}
