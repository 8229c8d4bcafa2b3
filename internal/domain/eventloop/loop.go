// Package eventloop implements the single-goroutine reactor that serializes
// all work for the connections bound to it, plus the bridge used by other
// goroutines to run code on it.
package eventloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

var (
	// ErrLoopClosed is returned when posting to a loop that has shut down.
	ErrLoopClosed = errors.New("event loop is closed")

	// ErrAlreadyRunning is returned when Run is called on a loop that is
	// already running or has already exited.
	ErrAlreadyRunning = errors.New("event loop already started")
)

// Job is a closure executed on the loop goroutine. ctx is a loop context:
// posts made with it run inline.
type Job func(ctx context.Context)

type loopKey struct{}

// Loop is a single-goroutine reactor. Work reaches it through Post (blocking,
// single pending slot) and Spawn (background task queue); both are executed
// only on the goroutine running Run.
type Loop struct {
	name   string
	logger *slog.Logger

	wake   chan struct{} // capacity one, coalesces signals
	stop   chan struct{} // closed by Shutdown
	exited chan struct{} // closed when Run returns
	slot   chan struct{} // capacity one, held by the single in-flight poster

	mu       sync.Mutex
	job      *pendingJob
	tasks    []Job
	cleanups []*cleanup
	cleanSeq uint64

	started  atomic.Bool
	owned    atomic.Bool
	stopOnce sync.Once
}

type pendingJob struct {
	fn   Job
	done chan struct{}
	err  error
}

type cleanup struct {
	id uint64
	fn func()
}

// New creates a loop. It does nothing until Run or Start is called.
func New(name string, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		name:   name,
		logger: logger.With("loop", name),
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		exited: make(chan struct{}),
		slot:   make(chan struct{}, 1),
	}
}

// Name returns the loop name used in logs.
func (l *Loop) Name() string {
	return l.name
}

// Run drives the loop on the calling goroutine until Shutdown is called or
// ctx is cancelled. Registered cleanups run on this goroutine before Run
// returns.
func (l *Loop) Run(ctx context.Context) error {
	if !l.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	lctx := context.WithValue(ctx, loopKey{}, l)

	defer close(l.exited)
	defer l.runCleanups()

	l.logger.Debug("event loop started")
	for {
		select {
		case <-l.stop:
			l.logger.Debug("event loop stopped")
			return nil
		case <-ctx.Done():
			l.Shutdown()
			l.logger.Debug("event loop cancelled", "error", ctx.Err())
			return ctx.Err()
		case <-l.wake:
			l.runPending(lctx)
		}
	}
}

// Start runs the loop on a goroutine owned by the loop. Close joins it.
func (l *Loop) Start(ctx context.Context) {
	l.owned.Store(true)
	ready := make(chan struct{})
	go func() {
		close(ready)
		if err := l.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			l.logger.Error("event loop exited with error", "error", err)
		}
	}()
	<-ready
}

// Shutdown asks the loop to exit. Safe to call from any goroutine, any number
// of times, including from the loop itself.
func (l *Loop) Shutdown() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// Close shuts the loop down and, when the loop was started with Start, waits
// for its goroutine to exit. It must not be called from the loop goroutine.
func (l *Loop) Close() error {
	l.Shutdown()
	if l.owned.Load() {
		<-l.exited
	}
	return nil
}

// Done is closed once the loop has exited.
func (l *Loop) Done() <-chan struct{} {
	return l.exited
}

// OnLoop reports whether ctx is a context handed out by this loop, meaning
// the caller is executing on the loop goroutine.
func (l *Loop) OnLoop(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	owner, _ := ctx.Value(loopKey{}).(*Loop)
	return owner == l
}

// Detach returns a context carrying ctx's values and cancellation but no loop
// marker. Goroutines started from loop code must use it before calling back
// into the loop.
func Detach(ctx context.Context) context.Context {
	return context.WithValue(ctx, loopKey{}, (*Loop)(nil))
}

// Post runs fn on the loop goroutine and waits for it to finish. When ctx is
// a loop context of l, fn runs inline. Otherwise the caller takes the single
// job slot (waiting for any other poster to finish first), hands fn to the
// loop and blocks until the loop has run it. A panic inside fn is recovered
// and returned as an error.
func (l *Loop) Post(ctx context.Context, fn Job) error {
	if l.OnLoop(ctx) {
		return l.invoke(ctx, fn)
	}

	select {
	case l.slot <- struct{}{}:
	case <-l.stop:
		return ErrLoopClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-l.slot }()

	job := &pendingJob{fn: fn, done: make(chan struct{})}
	l.mu.Lock()
	l.job = job
	l.mu.Unlock()
	l.signal()

	select {
	case <-job.done:
		return job.err
	case <-l.exited:
		// The loop may have taken the job just before exiting.
		select {
		case <-job.done:
			return job.err
		default:
		}
		l.mu.Lock()
		if l.job == job {
			l.job = nil
		}
		l.mu.Unlock()
		return ErrLoopClosed
	}
}

// Spawn queues fn as a background task and returns immediately. Tasks run in
// the order they were spawned.
func (l *Loop) Spawn(fn Job) error {
	select {
	case <-l.stop:
		return ErrLoopClosed
	default:
	}
	l.mu.Lock()
	l.tasks = append(l.tasks, fn)
	l.mu.Unlock()
	l.signal()
	return nil
}

// Wait blocks until done is closed. Called on the loop goroutine (ctx is a
// loop context) it keeps running posted jobs and tasks while waiting, so work
// the awaited result depends on can still make progress.
func (l *Loop) Wait(ctx context.Context, done <-chan struct{}) error {
	if !l.OnLoop(ctx) {
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	// The wake signal for work queued behind the current task may already
	// have been consumed by the outer runPending.
	l.mu.Lock()
	if l.job != nil || len(l.tasks) > 0 {
		l.signal()
	}
	l.mu.Unlock()
	for {
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-l.stop:
			select {
			case <-done:
				return nil
			default:
			}
			return ErrLoopClosed
		case <-l.wake:
			l.runPending(ctx)
		}
	}
}

// AddCleanup registers fn to run on the loop goroutine when the loop exits.
// Cleanups run most recently added first. The returned func unregisters fn.
func (l *Loop) AddCleanup(fn func()) (remove func()) {
	l.mu.Lock()
	l.cleanSeq++
	c := &cleanup{id: l.cleanSeq, fn: fn}
	l.cleanups = append(l.cleanups, c)
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for i, existing := range l.cleanups {
			if existing.id == c.id {
				l.cleanups = append(l.cleanups[:i], l.cleanups[i+1:]...)
				return
			}
		}
	}
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// runPending runs the posted job, if any, then drains the task queue one task
// at a time so a task that waits (and re-enters runPending) does not reorder
// the tasks queued behind it.
func (l *Loop) runPending(ctx context.Context) {
	l.mu.Lock()
	job := l.job
	l.job = nil
	l.mu.Unlock()

	if job != nil {
		job.err = l.invoke(ctx, job.fn)
		close(job.done)
	}

	for {
		select {
		case <-l.stop:
			return
		default:
		}
		l.mu.Lock()
		if len(l.tasks) == 0 {
			l.mu.Unlock()
			return
		}
		task := l.tasks[0]
		l.tasks[0] = nil
		l.tasks = l.tasks[1:]
		l.mu.Unlock()

		if err := l.invoke(ctx, task); err != nil {
			l.logger.Error("event loop task failed", "error", err)
		}
	}
}

func (l *Loop) invoke(ctx context.Context, fn Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("panic on event loop", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("event loop %s: panic: %v", l.name, r)
		}
	}()
	fn(ctx)
	return nil
}

func (l *Loop) runCleanups() {
	l.mu.Lock()
	cleanups := l.cleanups
	l.cleanups = nil
	l.job = nil
	l.tasks = nil
	l.mu.Unlock()

	ctx := context.WithValue(context.Background(), loopKey{}, l)
	for i := len(cleanups) - 1; i >= 0; i-- {
		fn := cleanups[i].fn
		if err := l.invoke(ctx, func(context.Context) { fn() }); err != nil {
			l.logger.Error("event loop cleanup failed", "error", err)
		}
	}
}
