// Package lifecycle provides the close-hook chain shared by every closable
// object of the IPC runtime: proxies, connections and process handles.
package lifecycle

import (
	"errors"
	"fmt"
	"sync"
)

// ErrClosed is returned when an operation is attempted on a closed object.
var ErrClosed = errors.New("object is closed")

// LifecycleError reports a violation of the close protocol. These are
// programming defects: AddCloseHook panics with one.
type LifecycleError struct {
	Op     string
	Reason string
}

// Error implements the error interface.
func (e *LifecycleError) Error() string {
	return fmt.Sprintf("lifecycle: %s: %s", e.Op, e.Reason)
}

// CloseHook is one cleanup callback in a Base's chain. A hook owns the hook
// registered before it and may be chained on exactly one Base, once.
type CloseHook struct {
	name string
	fn   func(remote bool)
	next *CloseHook

	chained bool
}

// NewCloseHook creates an unregistered hook. The name only shows up in
// diagnostics.
func NewCloseHook(name string, fn func(remote bool)) *CloseHook {
	return &CloseHook{name: name, fn: fn}
}

// Name returns the diagnostic name of the hook.
func (h *CloseHook) Name() string {
	return h.name
}

// Base is embedded by objects taking part in the close protocol.
// The zero value is ready to use.
type Base struct {
	mu     sync.Mutex
	head   *CloseHook
	closed bool
	remote bool
}

// AddCloseHook pushes h as the new head of the chain. Registering a hook that
// is already chained (on this or another Base) panics with a *LifecycleError.
// If the Base is already closed, h runs immediately with the trigger that
// closed it.
func (b *Base) AddCloseHook(h *CloseHook) {
	b.mu.Lock()
	if h.chained {
		b.mu.Unlock()
		panic(&LifecycleError{Op: "AddCloseHook", Reason: fmt.Sprintf("hook %q already registered", h.name)})
	}
	h.chained = true
	if b.closed {
		remote := b.remote
		b.mu.Unlock()
		h.fn(remote)
		return
	}
	h.next = b.head
	b.head = h
	b.mu.Unlock()
}

// Close runs every registered hook exactly once, most recently added first.
// remote reports whether the close was triggered by the peer going away
// rather than by local code. Calls after the first are no-ops.
func (b *Base) Close(remote bool) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.remote = remote
	b.mu.Unlock()

	// Hooks may add further hooks (which then run immediately) or close other
	// objects, so the lock is not held while they run.
	for {
		b.mu.Lock()
		h := b.head
		if h == nil {
			b.mu.Unlock()
			return
		}
		b.head = h.next
		h.next = nil
		b.mu.Unlock()

		h.fn(remote)
	}
}

// Closed reports whether Close has been called.
func (b *Base) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// ClosedRemotely reports whether the object was closed by a remote trigger.
func (b *Base) ClosedRemotely() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed && b.remote
}

// Closer is implemented by every type embedding Base.
type Closer interface {
	Close(remote bool)
}

var _ Closer = (*Base)(nil)
