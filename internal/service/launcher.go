package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Sentinel-Gate/ipcgate/internal/domain/lifecycle"
	"github.com/Sentinel-Gate/ipcgate/internal/port/outbound"
)

// DefaultGracePeriod is how long a released peer gets to exit on its own
// before it is killed.
const DefaultGracePeriod = 5 * time.Second

// Launcher starts peer processes by role and connects to them.
type Launcher struct {
	spawner   outbound.PeerSpawner
	processes map[string]string
	grace     time.Duration
	logger    *slog.Logger
	opts      []Option
}

// NewLauncher creates a launcher. processes maps a role to the executable
// name spawned for it. opts apply to every connection it makes.
func NewLauncher(spawner outbound.PeerSpawner, processes map[string]string, grace time.Duration, logger *slog.Logger, opts ...Option) *Launcher {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Launcher{
		spawner:   spawner,
		processes: processes,
		grace:     grace,
		logger:    logger,
		opts:      append([]Option{WithLogger(logger)}, opts...),
	}
}

// Executable returns the executable name configured for role.
func (l *Launcher) Executable(role string) (string, bool) {
	exe, ok := l.processes[role]
	return exe, ok
}

// Launch spawns the executable configured for role, connects to it and
// bootstraps its root object as I. Releasing the returned stub closes the
// connection, then waits for the process (killing it after the grace
// period).
func Launch[I any](ctx context.Context, l *Launcher, role string) (I, error) {
	var zero I
	exe, ok := l.processes[role]
	if !ok {
		return zero, fmt.Errorf("launch %s: no executable configured", role)
	}

	rwc, proc, err := l.spawner.Spawn(ctx, exe)
	if err != nil {
		return zero, fmt.Errorf("launch %s: %w", role, err)
	}
	logger := l.logger.With("peer_role", role, "pid", proc.Pid())
	logger.Debug("peer spawned", "executable", exe)

	root, conn, err := connect[I](ctx, rwc, l.opts)
	if err != nil {
		_ = proc.Kill()
		_ = proc.Wait()
		return zero, fmt.Errorf("launch %s: %w", role, err)
	}
	conn.AddCloseHook(lifecycle.NewCloseHook("peer process", func(remote bool) {
		l.reap(proc, logger)
	}))
	return root, nil
}

// reap waits for proc to exit, killing it once the grace period is over.
func (l *Launcher) reap(proc outbound.PeerProcess, logger *slog.Logger) {
	done := make(chan error, 1)
	go func() { done <- proc.Wait() }()

	timer := time.NewTimer(l.grace)
	defer timer.Stop()
	select {
	case err := <-done:
		if err != nil {
			logger.Warn("peer exited with error", "error", err)
			return
		}
		logger.Debug("peer exited")
	case <-timer.C:
		logger.Warn("peer did not exit in time, killing it", "grace", l.grace)
		if err := proc.Kill(); err != nil {
			logger.Error("kill peer", "error", err)
		}
		<-done
	}
}
