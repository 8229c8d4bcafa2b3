// Package service wires the runtime together: connections binding a stream to
// an event loop, the Connect and Serve entry points and the process launcher.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/Sentinel-Gate/ipcgate/internal/ctxkey"
	"github.com/Sentinel-Gate/ipcgate/internal/domain/eventloop"
	"github.com/Sentinel-Gate/ipcgate/internal/domain/lifecycle"
	"github.com/Sentinel-Gate/ipcgate/internal/domain/proxy"
	"github.com/Sentinel-Gate/ipcgate/internal/domain/schema"
	"github.com/Sentinel-Gate/ipcgate/internal/port/outbound"
	"github.com/Sentinel-Gate/ipcgate/pkg/wire"
)

const tracerName = "github.com/Sentinel-Gate/ipcgate/internal/service"

// Role is the side of a connection.
type Role int

const (
	// RoleClient is the side that spawned or dialed the peer.
	RoleClient Role = iota
	// RoleServer is the side serving its bootstrap object.
	RoleServer
)

// String returns the role name used in logs and metric labels.
func (r Role) String() string {
	switch r {
	case RoleClient:
		return "client"
	case RoleServer:
		return "server"
	default:
		return "unknown"
	}
}

// Option configures a Connection.
type Option func(*options)

type options struct {
	logger      *slog.Logger
	registry    *proxy.Registry
	interceptor proxy.MessageInterceptor
	observer    outbound.CallObserver
	tracer      trace.TracerProvider
	bootstrap   any
}

// WithLogger sets the base logger. Connections add conn_id and role.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRegistry sets the interface registry. Both peers need the same
// interfaces registered under the same names.
func WithRegistry(reg *proxy.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithInterceptor sets the chain inbound frames pass through before dispatch.
func WithInterceptor(i proxy.MessageInterceptor) Option {
	return func(o *options) { o.interceptor = i }
}

// WithObserver reports call and connection measurements to obs.
func WithObserver(obs outbound.CallObserver) Option {
	return func(o *options) { o.observer = obs }
}

// WithTracerProvider records a span per call. The trace context travels to
// the peer in the call's _meta.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracer = tp }
}

// WithBootstrap sets the object served as capability 0.
func WithBootstrap(impl any) Option {
	return func(o *options) { o.bootstrap = impl }
}

type pendingCall struct {
	iface  string
	method string
	done   chan struct{}
	result json.RawMessage
	err    error
}

// Connection is one RPC session over one stream. Inbound requests run as
// tasks on the connection's loop; writes happen on the loop goroutine.
type Connection struct {
	base lifecycle.Base

	id          string
	role        Role
	loop        *eventloop.Loop
	rwc         io.ReadWriteCloser
	enc         *wire.Encoder
	reg         *proxy.Registry
	logger      *slog.Logger
	interceptor proxy.MessageInterceptor
	observer    outbound.CallObserver
	tracer      trace.Tracer
	propagator  propagation.TextMapPropagator
	bootstrap   any

	mu             sync.Mutex
	seq            int64
	pending        map[int64]*pendingCall
	exports        map[uint64]*proxy.Server
	nextExport     uint64
	imports        map[*proxy.Client]struct{}
	bootstrapStale bool
	disconnected   bool
	closing        bool
	cause          error

	readerDone    chan struct{}
	done          chan struct{}
	closeOnce     sync.Once
	teardownOnce  sync.Once
	removeCleanup func()
}

// NewConnection binds rwc to loop and starts reading. The loop may be started
// before or after; frames read earlier are queued on it.
func NewConnection(loop *eventloop.Loop, rwc io.ReadWriteCloser, role Role, opts ...Option) *Connection {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.registry == nil {
		o.registry = proxy.NewRegistry()
	}
	if o.interceptor == nil {
		o.interceptor = proxy.NewPassthroughInterceptor()
	}
	if o.observer == nil {
		o.observer = outbound.NopObserver{}
	}
	if o.tracer == nil {
		o.tracer = noop.NewTracerProvider()
	}

	id := uuid.NewString()
	c := &Connection{
		id:          id,
		role:        role,
		loop:        loop,
		rwc:         rwc,
		enc:         wire.NewEncoder(rwc),
		reg:         o.registry,
		logger:      o.logger.With("conn_id", id, "role", role.String()),
		interceptor: o.interceptor,
		observer:    o.observer,
		tracer:      o.tracer.Tracer(tracerName),
		propagator:  propagation.TraceContext{},
		bootstrap:   o.bootstrap,
		pending:     make(map[int64]*pendingCall),
		exports:     make(map[uint64]*proxy.Server),
		nextExport:  wire.BootstrapCap + 1,
		imports:     make(map[*proxy.Client]struct{}),
		readerDone:  make(chan struct{}),
		done:        make(chan struct{}),
	}
	// Teardown also runs when the loop exits first.
	c.removeCleanup = loop.AddCleanup(c.teardown)

	c.observer.ConnectionOpened(role.String())
	c.logger.Debug("connection opened")
	go c.readLoop()
	return c
}

// ID returns the connection id used in logs.
func (c *Connection) ID() string { return c.id }

// Role returns the side of the connection.
func (c *Connection) Role() Role { return c.role }

// Loop returns the loop the connection runs on.
func (c *Connection) Loop() *eventloop.Loop { return c.loop }

// Registry returns the interface registry.
func (c *Connection) Registry() *proxy.Registry { return c.reg }

// Logger returns the connection logger.
func (c *Connection) Logger() *slog.Logger { return c.logger }

// Done is closed once the connection has been torn down.
func (c *Connection) Done() <-chan struct{} { return c.done }

// AddCloseHook registers a hook run when the connection is torn down. The
// hook sees remote=true unless Close was called locally.
func (c *Connection) AddCloseHook(h *lifecycle.CloseHook) {
	c.base.AddCloseHook(h)
}

// Disconnected reports whether the peer is gone.
func (c *Connection) Disconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

// Err returns the cause of the disconnect, or nil while connected.
func (c *Connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cause
}

// SetBootstrap replaces the object served as capability 0. It takes effect
// for the next bootstrap request.
func (c *Connection) SetBootstrap(impl any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bootstrap = impl
	c.bootstrapStale = true
}

// Close closes the stream and waits for the reader to exit. Teardown then
// runs on the loop with remote=false.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closing = true
		c.mu.Unlock()
		err = c.rwc.Close()
	})
	<-c.readerDone
	return err
}

// Call sends a capability call and waits for its encoded results.
func (c *Connection) Call(ctx context.Context, capID uint64, iface, method string, args []json.RawMessage) ([]json.RawMessage, error) {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, wire.JoinMethod(iface, method),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("rpc.system", "ipcgate"),
			attribute.String("rpc.service", iface),
			attribute.String("rpc.method", method),
			attribute.Int64("ipcgate.cap", int64(capID)),
		),
	)
	defer span.End()

	meta := make(map[string]string)
	c.propagator.Inject(ctx, propagation.MapCarrier(meta))
	if len(meta) == 0 {
		meta = nil
	}

	values, err := c.call(ctx, capID, iface, method, args, meta)
	status := statusOf(err)
	c.observer.CallCompleted(iface, method, status, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, status)
	}
	return values, err
}

func (c *Connection) call(ctx context.Context, capID uint64, iface, method string, args []json.RawMessage, meta map[string]string) ([]json.RawMessage, error) {
	if args == nil {
		args = []json.RawMessage{}
	}
	params := wire.CallParams{Cap: capID, Args: args, Meta: meta}
	raw, err := c.roundTrip(ctx, iface, method, wire.JoinMethod(iface, method), params)
	if err != nil {
		return nil, err
	}
	var result wire.CallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, proxy.NewProtocolError(wire.CodeParseError, "%s.%s: decode result: %v", iface, method, err)
	}
	return result.Values, nil
}

// roundTrip sends one request and waits for its response. On the loop
// goroutine the wait keeps serving the loop.
func (c *Connection) roundTrip(ctx context.Context, iface, method, wireMethod string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	if c.disconnected {
		cause := c.cause
		c.mu.Unlock()
		return nil, &proxy.TransportError{Op: "call", Err: cause}
	}
	c.seq++
	id := c.seq
	pc := &pendingCall{iface: iface, method: method, done: make(chan struct{})}
	c.pending[id] = pc
	c.mu.Unlock()

	req, err := wire.NewRequest(id, wireMethod, params)
	if err != nil {
		c.forget(id)
		return nil, proxy.NewProtocolError(wire.CodeInvalidParams, "%v", err)
	}
	if err := c.send(ctx, req); err != nil {
		c.forget(id)
		return nil, err
	}

	if err := c.loop.Wait(ctx, pc.done); err != nil {
		c.forget(id)
		if errors.Is(err, eventloop.ErrLoopClosed) {
			return nil, &proxy.TransportError{Op: "wait", Err: err}
		}
		return nil, err
	}
	return pc.result, pc.err
}

func (c *Connection) forget(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// send writes msg on the loop goroutine.
func (c *Connection) send(ctx context.Context, msg jsonrpc.Message) error {
	var writeErr error
	err := c.loop.Post(ctx, func(context.Context) {
		writeErr = c.write(msg)
	})
	if errors.Is(err, eventloop.ErrLoopClosed) {
		return &proxy.TransportError{Op: "write", Err: err}
	}
	if err != nil {
		return err
	}
	return writeErr
}

// write encodes msg. Runs on the loop goroutine only. A frame too large for
// the peer fails with a *proxy.ProtocolError and leaves the stream intact.
func (c *Connection) write(msg jsonrpc.Message) error {
	if c.Disconnected() {
		return &proxy.TransportError{Op: "write", Err: c.Err()}
	}
	if err := c.enc.Encode(msg); err != nil {
		if errors.Is(err, wire.ErrFrameTooLarge) {
			return proxy.NewProtocolError(wire.CodeInvalidRequest, "%v", err)
		}
		c.disconnect(err)
		return &proxy.TransportError{Op: "write", Err: err}
	}
	return nil
}

// Export publishes srv and returns its capability id. Closing srv
// withdraws it.
func (c *Connection) Export(srv *proxy.Server) uint64 {
	c.mu.Lock()
	id := c.nextExport
	c.nextExport++
	c.mu.Unlock()
	c.publish(id, srv)
	return id
}

func (c *Connection) publish(id uint64, srv *proxy.Server) {
	c.mu.Lock()
	c.exports[id] = srv
	c.mu.Unlock()
	c.observer.ExportsChanged(1)

	srv.AddCloseHook(lifecycle.NewCloseHook(fmt.Sprintf("unexport %d", id), func(bool) {
		c.mu.Lock()
		current, ok := c.exports[id]
		if ok && current == srv {
			delete(c.exports, id)
		}
		c.mu.Unlock()
		if ok && current == srv {
			c.observer.ExportsChanged(-1)
		}
	}))
}

// Import returns a new client for capability capID of the peer.
func (c *Connection) Import(capID uint64, iface *schema.Interface) *proxy.Client {
	client := proxy.NewClient(c, capID, iface)
	c.mu.Lock()
	c.imports[client] = struct{}{}
	c.mu.Unlock()
	return client
}

// Release forgets client. With notify set the peer is told to drop the
// export behind it; the notification is queued on the loop.
func (c *Connection) Release(client *proxy.Client, notify bool) {
	c.mu.Lock()
	delete(c.imports, client)
	gone := c.disconnected
	c.mu.Unlock()
	if !notify || gone {
		return
	}

	note, err := wire.NewNotification(wire.MethodRelease, wire.ReleaseParams{Cap: client.CapID()})
	if err != nil {
		c.logger.Error("encode release", "cap", client.CapID(), "error", err)
		return
	}
	if err := c.loop.Spawn(func(context.Context) { _ = c.write(note) }); err != nil {
		c.logger.Debug("release dropped, loop closed", "cap", client.CapID())
	}
}

// Bootstrap asks the peer for its capability 0 as interface iface.
func (c *Connection) Bootstrap(ctx context.Context, iface *schema.Interface) (*proxy.Client, error) {
	params := wire.BootstrapParams{Interface: iface.Name, Fingerprint: iface.FingerprintHex()}
	raw, err := c.roundTrip(ctx, iface.Name, "bootstrap", wire.MethodBootstrap, params)
	if err != nil {
		return nil, fmt.Errorf("bootstrap %s: %w", iface.Name, err)
	}
	var result wire.BootstrapResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, proxy.NewProtocolError(wire.CodeParseError, "bootstrap %s: decode result: %v", iface.Name, err)
	}
	if result.Interface != iface.Name {
		return nil, proxy.NewProtocolError(wire.CodeInterfaceMismatch, "bootstrap: peer serves %s, want %s", result.Interface, iface.Name)
	}
	if result.Fingerprint != "" && result.Fingerprint != iface.FingerprintHex() {
		c.logger.Warn("interface fingerprint mismatch",
			"interface", iface.Name,
			"local", iface.FingerprintHex(),
			"peer", result.Fingerprint,
		)
	}
	return c.Import(result.Cap, iface), nil
}

func (c *Connection) readLoop() {
	defer close(c.readerDone)

	dec := wire.NewDecoder(c.rwc)
	for {
		msg, err := dec.Next()
		if err != nil {
			var frameErr *wire.FrameError
			if errors.As(err, &frameErr) {
				c.logger.Warn("dropping malformed frame", "error", frameErr.Err)
				if !frameErr.Answerable() {
					continue
				}
				resp := wire.NewErrorResponse(jsonrpc.ID{}, frameErr.Code(), "malformed frame: "+frameErr.Err.Error())
				if err := c.loop.Spawn(func(context.Context) { _ = c.write(resp) }); err != nil {
					c.disconnect(&proxy.TransportError{Op: "read", Err: err})
					return
				}
				continue
			}
			c.disconnect(err)
			return
		}
		msg.ConnID = c.id
		msg.Role = c.role.String()

		if resp := msg.Response(); resp != nil {
			c.complete(resp)
			continue
		}
		if err := c.loop.Spawn(func(ctx context.Context) { c.handleRequest(ctx, msg) }); err != nil {
			c.disconnect(&proxy.TransportError{Op: "read", Err: err})
			return
		}
	}
}

// complete hands a response to its waiting caller.
func (c *Connection) complete(resp *jsonrpc.Response) {
	id, ok := wire.IDValue(resp.ID)
	if !ok {
		c.logger.Warn("response without numeric id")
		return
	}
	c.mu.Lock()
	pc, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if !ok {
		// The caller gave up waiting.
		c.logger.Debug("late or unknown response", "id", id)
		return
	}
	if resp.Error != nil {
		pc.err = proxy.ErrorFromWire(pc.iface, pc.method, resp.Error)
	} else {
		pc.result = resp.Result
	}
	close(pc.done)
}

// disconnect marks the connection gone, fails pending calls and queues the
// teardown. Safe to call more than once from any goroutine.
func (c *Connection) disconnect(cause error) {
	c.mu.Lock()
	if c.disconnected {
		c.mu.Unlock()
		return
	}
	c.disconnected = true
	c.cause = cause
	pending := c.pending
	c.pending = make(map[int64]*pendingCall)
	closing := c.closing
	c.mu.Unlock()

	if closing || errors.Is(cause, io.EOF) {
		c.logger.Debug("connection closed", "cause", cause)
	} else {
		c.logger.Warn("connection lost", "error", cause)
	}
	for _, pc := range pending {
		pc.err = &proxy.TransportError{Op: "read", Err: cause}
		close(pc.done)
	}
	if err := c.loop.Spawn(func(context.Context) { c.teardown() }); err != nil {
		// The loop cleanup registered at construction runs it instead.
		c.logger.Debug("teardown deferred to loop exit")
	}
}

// teardown closes every proxy bound to the connection, then stops the loop.
// Runs on the loop goroutine, once.
func (c *Connection) teardown() {
	c.teardownOnce.Do(func() {
		c.disconnect(&proxy.TransportError{Op: "teardown"})
		_ = c.rwc.Close()

		c.mu.Lock()
		imports := make([]*proxy.Client, 0, len(c.imports))
		for client := range c.imports {
			imports = append(imports, client)
		}
		exports := make([]*proxy.Server, 0, len(c.exports))
		for _, srv := range c.exports {
			exports = append(exports, srv)
		}
		remote := !c.closing
		c.mu.Unlock()

		for _, client := range imports {
			client.Close(true)
		}
		for _, srv := range exports {
			srv.Close(true)
		}
		c.base.Close(remote)

		c.observer.ConnectionClosed(c.role.String())
		c.logger.Debug("connection torn down", "remote", remote, "imports", len(imports), "exports", len(exports))
		close(c.done)
		c.removeCleanup()
		c.loop.Shutdown()
	})
}

// handleRequest runs an inbound request or notification on the loop.
func (c *Connection) handleRequest(ctx context.Context, msg *wire.Message) {
	ctx = context.WithValue(ctx, ctxkey.LoggerKey{}, c.logger)
	req := msg.Request()

	msg, err := c.interceptor.Intercept(ctx, msg)
	if err != nil {
		if req != nil && req.IsCall() {
			c.replyError(req.ID, err)
		}
		return
	}
	if msg == nil || msg.Request() == nil {
		return
	}
	req = msg.Request()

	switch req.Method {
	case wire.MethodBootstrap:
		c.handleBootstrap(req)
	case wire.MethodRelease:
		c.handleRelease(req)
	default:
		c.dispatch(ctx, msg)
	}
}

func (c *Connection) handleBootstrap(req *jsonrpc.Request) {
	var params wire.BootstrapParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		c.replyError(req.ID, proxy.NewProtocolError(wire.CodeInvalidParams, "bootstrap: %v", err))
		return
	}
	iface, ok := c.reg.Lookup(params.Interface)
	if !ok {
		c.replyError(req.ID, proxy.NewProtocolError(wire.CodeInterfaceMismatch, "interface %s is not registered", params.Interface))
		return
	}
	if params.Fingerprint != "" && params.Fingerprint != iface.FingerprintHex() {
		c.logger.Warn("interface fingerprint mismatch",
			"interface", iface.Name,
			"local", iface.FingerprintHex(),
			"peer", params.Fingerprint,
		)
	}

	c.mu.Lock()
	impl := c.bootstrap
	stale := c.bootstrapStale
	c.bootstrapStale = false
	srv, exists := c.exports[wire.BootstrapCap]
	c.mu.Unlock()

	if !exists || stale || srv.Interface().Name != iface.Name {
		if impl == nil {
			c.replyError(req.ID, proxy.NewProtocolError(wire.CodeUnknownCapability, "no bootstrap object"))
			return
		}
		next, err := proxy.NewServer(c, iface, impl, false)
		if err != nil {
			c.replyError(req.ID, proxy.NewProtocolError(wire.CodeInterfaceMismatch, "%v", err))
			return
		}
		if exists {
			srv.Close(false)
		}
		c.publish(wire.BootstrapCap, next)
	}

	c.reply(req.ID, wire.BootstrapResult{
		Cap:         wire.BootstrapCap,
		Interface:   iface.Name,
		Fingerprint: iface.FingerprintHex(),
	})
}

func (c *Connection) handleRelease(req *jsonrpc.Request) {
	var params wire.ReleaseParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		c.logger.Warn("bad release notification", "error", err)
		return
	}
	// The bootstrap object lives as long as the connection.
	if params.Cap == wire.BootstrapCap {
		return
	}
	c.mu.Lock()
	srv, ok := c.exports[params.Cap]
	c.mu.Unlock()
	if !ok {
		c.logger.Debug("release of unknown capability", "cap", params.Cap)
		return
	}
	// The unexport hook removes it from the table.
	srv.Close(true)
}

func (c *Connection) dispatch(ctx context.Context, msg *wire.Message) {
	req := msg.Request()
	iface, method := msg.Interface(), msg.MethodName()
	start := time.Now()

	params, err := msg.Call()
	if err != nil {
		if req.IsCall() {
			c.replyError(req.ID, proxy.NewProtocolError(wire.CodeInvalidParams, "%s: %v", req.Method, err))
		}
		return
	}

	ctx = c.propagator.Extract(ctx, propagation.MapCarrier(params.Meta))
	ctx, span := c.tracer.Start(ctx, req.Method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("rpc.system", "ipcgate"),
			attribute.String("rpc.service", iface),
			attribute.String("rpc.method", method),
			attribute.Int64("ipcgate.cap", int64(params.Cap)),
		),
	)
	defer span.End()
	ctx = context.WithValue(ctx, ctxkey.LoggerKey{}, c.logger.With("interface", iface, "method", method, "cap", params.Cap))

	c.mu.Lock()
	srv, ok := c.exports[params.Cap]
	c.mu.Unlock()

	var values []json.RawMessage
	switch {
	case !ok:
		err = proxy.NewProtocolError(wire.CodeUnknownCapability, "unknown capability %d", params.Cap)
	case srv.Interface().Name != iface:
		err = proxy.NewProtocolError(wire.CodeInterfaceMismatch, "capability %d is a %s, not %s", params.Cap, srv.Interface().Name, iface)
	default:
		values, err = srv.Dispatch(ctx, method, params.Args)
	}

	status := statusOf(err)
	c.observer.DispatchCompleted(iface, method, status, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, status)
		c.logger.Debug("call failed", "method", req.Method, "cap", params.Cap, "error", err)
	}

	if !req.IsCall() {
		return
	}
	if err != nil {
		c.replyError(req.ID, err)
		return
	}
	if values == nil {
		values = []json.RawMessage{}
	}
	c.reply(req.ID, wire.CallResult{Values: values})
}

func (c *Connection) reply(id jsonrpc.ID, result any) {
	resp, err := wire.NewResult(id, result)
	if err != nil {
		c.replyError(id, err)
		return
	}
	var protoErr *proxy.ProtocolError
	if err := c.write(resp); errors.As(err, &protoErr) {
		c.logger.Warn("result too large, replying with an error", "error", err)
		c.replyError(id, err)
	}
}

func (c *Connection) replyError(id jsonrpc.ID, err error) {
	code, message := proxy.WireError(err)
	_ = c.write(wire.NewErrorResponse(id, code, message))
}

func statusOf(err error) string {
	var remoteErr *proxy.RemoteCallError
	switch {
	case err == nil:
		return outbound.StatusOK
	case errors.As(err, &remoteErr):
		return outbound.StatusRemoteError
	case errors.Is(err, proxy.ErrDisconnected):
		return outbound.StatusDisconnected
	case errors.Is(err, proxy.ErrPolicyDenied):
		return outbound.StatusDenied
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return outbound.StatusCancelled
	default:
		return outbound.StatusProtocol
	}
}

// Compile-time check that Connection implements proxy.Session.
var _ proxy.Session = (*Connection)(nil)
