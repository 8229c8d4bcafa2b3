package worker

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"sync"

	"github.com/Sentinel-Gate/ipcgate/internal/domain/proxy"
	"github.com/Sentinel-Gate/ipcgate/internal/domain/serializer"
)

// DefaultPassphrase is the passphrase Unlock accepts unless one is configured.
const DefaultPassphrase = "open sesame"

// ImplVersion is the version the reference implementation reports.
var ImplVersion = Version{Major: 1, Minor: 4, Patch: 0}

// Impl is the reference Init implementation served by ipc-worker.
type Impl struct {
	mu         sync.Mutex
	history    []string
	listeners  []Listener
	counters   []*counter
	passphrase []byte
	logger     *slog.Logger
}

// ImplOption configures an Impl.
type ImplOption func(*Impl)

// WithPassphrase sets the passphrase Unlock compares against.
func WithPassphrase(p string) ImplOption {
	return func(w *Impl) { w.passphrase = []byte(p) }
}

// WithImplLogger sets the logger used outside of calls.
func WithImplLogger(logger *slog.Logger) ImplOption {
	return func(w *Impl) { w.logger = logger }
}

// NewImpl creates the reference implementation.
func NewImpl(opts ...ImplOption) *Impl {
	w := &Impl{passphrase: []byte(DefaultPassphrase), logger: slog.Default()}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Impl) Ping(ctx context.Context) (int, error) {
	return PingReply, nil
}

func (w *Impl) Add(ctx context.Context, a, b int) (int, error) {
	return a + b, nil
}

func (w *Impl) MapSize(ctx context.Context, m map[string]string) (int, error) {
	return len(m), nil
}

func (w *Impl) Pass(ctx context.Context, r Record) (Record, error) {
	out := Record{Name: "passed " + r.Name, NumSet: make([]int, len(r.NumSet))}
	for i, n := range r.NumSet {
		out.NumSet[i] = n * 2
	}
	return out, nil
}

func (w *Impl) Append(ctx context.Context, item string) error {
	w.mu.Lock()
	w.history = append(w.history, item)
	listeners := append([]Listener(nil), w.listeners...)
	w.mu.Unlock()

	// Notified without the lock: a listener may call back into the worker.
	var errs []error
	for _, l := range listeners {
		if err := l.Notify(ctx, item); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		proxy.LoggerFromContext(ctx, w.logger).Warn("listener notification failed", "item", item, "error", errors.Join(errs...))
	}
	return nil
}

func (w *Impl) History(ctx context.Context) ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string{}, w.history...), nil
}

func (w *Impl) Fail(ctx context.Context, msg string) error {
	return errors.New(msg)
}

func (w *Impl) Unlock(ctx context.Context, s serializer.Secret) (bool, error) {
	defer s.Wipe()
	ok := subtle.ConstantTimeCompare(s, w.passphrase) == 1
	proxy.LoggerFromContext(ctx, w.logger).Debug("unlock attempt", "secret", s, "ok", ok)
	return ok, nil
}

func (w *Impl) MakeCounter(ctx context.Context, start int) (Counter, error) {
	c := &counter{n: start}
	w.mu.Lock()
	w.counters = append(w.counters, c)
	w.mu.Unlock()
	return c, nil
}

func (w *Impl) Subscribe(ctx context.Context, l Listener) error {
	if l == nil {
		return errors.New("nil listener")
	}
	w.mu.Lock()
	w.listeners = append(w.listeners, l)
	w.mu.Unlock()
	return l.Notify(ctx, "subscribed")
}

func (w *Impl) Stream(ctx context.Context, n int, fn func(ctx context.Context, i int) error) (int, error) {
	for i := 0; i < n; i++ {
		if err := fn(ctx, i); err != nil {
			return i, err
		}
	}
	return n, nil
}

func (w *Impl) Version(ctx context.Context) (Version, error) {
	return ImplVersion, nil
}

func (w *Impl) Block(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

// OpenCounters returns how many counters handed out by MakeCounter are still
// held by the caller.
func (w *Impl) OpenCounters() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	open := 0
	for _, c := range w.counters {
		if !c.isClosed() {
			open++
		}
	}
	return open
}

// counter is the Counter handed out by MakeCounter. It is closed when the
// caller releases its reference.
type counter struct {
	mu     sync.Mutex
	n      int
	closed bool
}

func (c *counter) Inc(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return c.n, nil
}

func (c *counter) Value(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n, nil
}

func (c *counter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *counter) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

var _ Init = (*Impl)(nil)
