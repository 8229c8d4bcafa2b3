package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/Sentinel-Gate/ipcgate/internal/domain/lifecycle"
	"github.com/Sentinel-Gate/ipcgate/internal/domain/schema"
	"github.com/Sentinel-Gate/ipcgate/pkg/wire"
)

// Client forwards calls on one remote capability. Typed stubs embed it and
// implement their interface's methods with Call0, Call1 and Call2.
type Client struct {
	lifecycle.Base

	sess  Session
	capID uint64
	iface *schema.Interface
}

// NewClient creates the client for capability capID of sess. Closing it
// locally releases the capability on the peer; a remote close only forgets
// it.
func NewClient(sess Session, capID uint64, iface *schema.Interface) *Client {
	c := &Client{sess: sess, capID: capID, iface: iface}
	c.AddCloseHook(lifecycle.NewCloseHook(iface.Name+" release", func(remote bool) {
		sess.Release(c, !remote)
	}))
	return c
}

// ProxyClient returns c. Stubs embedding *Client inherit it, which lets
// generic code recover the client behind any stub.
func (c *Client) ProxyClient() *Client {
	return c
}

// CapID returns the remote capability id.
func (c *Client) CapID() uint64 {
	return c.capID
}

// Interface returns the descriptor of the remote interface.
func (c *Client) Interface() *schema.Interface {
	return c.iface
}

// Session returns the session the client is bound to.
func (c *Client) Session() Session {
	return c.sess
}

// Invoke calls method on the remote object. args are the method's wire
// arguments (no context); results are pointers receiving the decoded wire
// results. Invoke blocks the calling goroutine until the peer answers or the
// connection drops; in the latter case the error matches ErrDisconnected.
func (c *Client) Invoke(ctx context.Context, method string, args []any, results ...any) error {
	if c.Closed() {
		return fmt.Errorf("%s.%s: %w", c.iface.Name, method, lifecycle.ErrClosed)
	}
	m, ok := c.iface.Method(method)
	if !ok {
		return NewProtocolError(wire.CodeMethodNotFound, "%s has no method %s", c.iface.Name, method)
	}
	if len(results) != len(m.Results) {
		return NewProtocolError(wire.CodeInvalidParams, "%s.%s returns %d values, got %d targets",
			c.iface.Name, method, len(m.Results), len(results))
	}

	// Callbacks exported for this call are withdrawn if it fails. On success
	// the peer owns them and releases them.
	scope := &lifecycle.Base{}
	raw, err := c.buildArgs(context.WithValue(ctx, callScopeKey{}, scope), scope, m, args)
	if err != nil {
		scope.Close(false)
		return err
	}

	values, err := c.sess.Call(ctx, c.capID, c.iface.Name, method, raw)
	if err != nil {
		scope.Close(false)
		return err
	}
	if len(values) != len(results) {
		return NewProtocolError(wire.CodeInvalidParams, "%s.%s: peer returned %d values, want %d",
			c.iface.Name, method, len(values), len(results))
	}
	return c.readResults(m, values, results)
}

func (c *Client) buildArgs(ctx context.Context, scope *lifecycle.Base, m *schema.Method, args []any) ([]json.RawMessage, error) {
	key := MethodKey{Interface: c.iface.Name, Method: m.Name}
	if ov, ok := c.sess.Registry().override(key); ok && ov.BuildArgs != nil {
		return ov.BuildArgs(ctx, c, args)
	}
	if len(args) != len(m.Params) {
		return nil, NewProtocolError(wire.CodeInvalidParams, "%s takes %d arguments, got %d", key, len(m.Params), len(args))
	}

	caps := &capHandler{sess: c.sess, parent: scope}
	raw := make([]json.RawMessage, len(args))
	for i, arg := range args {
		v, err := assign(m.Params[i], arg)
		if err != nil {
			return nil, NewProtocolError(wire.CodeInvalidParams, "%s argument %d: %v", key, i, err)
		}
		data, err := c.sess.Registry().Serializer().BuildValue(caps, v)
		if err != nil {
			return nil, NewProtocolError(wire.CodeInvalidParams, "%s argument %d: %v", key, i, err)
		}
		raw[i] = data
	}
	return raw, nil
}

// BuildArg encodes one argument of type T for an override's BuildArgs. When
// T is a registered interface, v is exported until the peer releases it or
// the call fails.
func BuildArg[T any](ctx context.Context, c *Client, v T) (json.RawMessage, error) {
	caps := &capHandler{sess: c.sess}
	if scope, ok := ctx.Value(callScopeKey{}).(*lifecycle.Base); ok {
		caps.parent = scope
	}
	return c.sess.Registry().Serializer().BuildValue(caps, reflect.ValueOf(&v).Elem())
}

// readResults decodes values into the result pointers. Sub-interfaces
// returned by the call are tied to c: closing c closes them.
func (c *Client) readResults(m *schema.Method, values []json.RawMessage, results []any) error {
	caps := &capHandler{sess: c.sess, parent: &c.Base}
	for i, dst := range results {
		ptr := reflect.ValueOf(dst)
		if ptr.Kind() != reflect.Pointer || ptr.IsNil() {
			return NewProtocolError(wire.CodeInvalidParams, "result %d: target must be a non-nil pointer", i)
		}
		tmp := reflect.New(m.Results[i]).Elem()
		if err := c.sess.Registry().Serializer().ReadValue(caps, values[i], tmp); err != nil {
			return NewProtocolError(wire.CodeInvalidParams, "%s.%s result %d: %v", c.iface.Name, m.Name, i, err)
		}
		if !tmp.Type().AssignableTo(ptr.Elem().Type()) {
			return NewProtocolError(wire.CodeInvalidParams, "result %d: cannot assign %s to %s", i, tmp.Type(), ptr.Elem().Type())
		}
		ptr.Elem().Set(tmp)
	}
	return nil
}

// assign converts arg to a value of type t, the declared parameter type.
func assign(t reflect.Type, arg any) (reflect.Value, error) {
	v := reflect.New(t).Elem()
	if arg == nil {
		return v, nil
	}
	av := reflect.ValueOf(arg)
	if !av.Type().AssignableTo(t) {
		return v, fmt.Errorf("cannot use %s as %s", av.Type(), t)
	}
	v.Set(av)
	return v, nil
}

// Call0 invokes a method with no wire results.
func Call0(ctx context.Context, c *Client, method string, args ...any) error {
	return c.Invoke(ctx, method, args)
}

// Call1 invokes a method with one wire result.
func Call1[R any](ctx context.Context, c *Client, method string, args ...any) (R, error) {
	var r R
	err := c.Invoke(ctx, method, args, &r)
	return r, err
}

// Call2 invokes a method with two wire results.
func Call2[R1, R2 any](ctx context.Context, c *Client, method string, args ...any) (R1, R2, error) {
	var r1 R1
	var r2 R2
	err := c.Invoke(ctx, method, args, &r1, &r2)
	return r1, r2, err
}

// ClientOf returns the Client behind a stub.
func ClientOf(v any) (*Client, bool) {
	s, ok := v.(interface{ ProxyClient() *Client })
	if !ok {
		return nil, false
	}
	return s.ProxyClient(), true
}

// Release closes the client behind stub v locally. It reports false when v
// is not a stub.
func Release(v any) bool {
	c, ok := ClientOf(v)
	if !ok {
		return false
	}
	c.Close(false)
	return true
}
