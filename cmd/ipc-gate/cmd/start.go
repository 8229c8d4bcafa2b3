package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	httpadapter "github.com/Sentinel-Gate/ipcgate/internal/adapter/inbound/http"
	"github.com/Sentinel-Gate/ipcgate/internal/config"
	"github.com/Sentinel-Gate/ipcgate/internal/domain/proxy"
	"github.com/Sentinel-Gate/ipcgate/internal/domain/worker"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Launch the worker and keep a session open",
	Long: `Launch the worker role and keep the session open until interrupted.

The worker is pinged every call.heartbeat_interval. Worker events are
logged. With metrics.enabled, /metrics, /health and /calls are served on
metrics.addr. Audited calls go to audit.output when set.

Examples:
  # Start with config file settings
  ipc-gate start

  # Start with a specific config file and debug logging
  ipc-gate --config /path/to/ipc-gate.yaml --dev start`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// stop() restores default signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(cmd.Context(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop()
	}()

	logger := config.NewLogger(cfg.Log, cfg.DevMode, os.Stderr)
	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	if err := run(ctx, cfg, logger); err != nil {
		return err
	}
	logger.Info("ipc-gate stopped")
	return nil
}

// run launches the worker, then runs the heartbeat and the optional metrics
// server until ctx is done or the worker goes away.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	sess, err := openSession(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
		defer cancel()
		sess.Close(shutdownCtx)
	}()

	callCtx, cancel := context.WithTimeout(ctx, cfg.CallTimeout())
	v, err := sess.root.Version(callCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("worker version: %w", err)
	}
	logger.Info("worker ready", "version", v.String())

	if err := sess.root.Subscribe(ctx, &eventLogger{logger: logger}); err != nil {
		return fmt.Errorf("subscribe to worker events: %w", err)
	}

	peer := &peerHealth{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return heartbeat(gctx, sess.root, cfg.HeartbeatInterval(), cfg.CallTimeout(), peer, logger)
	})
	if cfg.Metrics.Enabled {
		hc := httpadapter.NewHealthChecker(Version)
		hc.Register("worker", peer.Check)
		srv := httpadapter.NewServer(sess.registry, sess.metrics,
			httpadapter.WithAddr(cfg.Metrics.Addr),
			httpadapter.WithLogger(logger),
			httpadapter.WithHealthChecker(hc),
			httpadapter.WithCallSource(sess.calls),
		)
		g.Go(func() error {
			return srv.Start(gctx)
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// heartbeat pings root every interval. It returns nil when ctx is done and
// an error once the worker is gone.
func heartbeat(ctx context.Context, root worker.Init, interval, timeout time.Duration, peer *peerHealth, logger *slog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		pingCtx, cancel := context.WithTimeout(ctx, timeout)
		reply, err := root.Ping(pingCtx)
		cancel()
		if err == nil && reply != worker.PingReply {
			err = fmt.Errorf("unexpected ping reply %d", reply)
		}
		peer.set(err)

		switch {
		case err == nil:
			logger.Debug("worker heartbeat ok")
		case errors.Is(err, proxy.ErrDisconnected):
			return fmt.Errorf("worker heartbeat: %w", err)
		case ctx.Err() != nil:
			return nil
		default:
			logger.Warn("worker heartbeat failed", "error", err)
		}
	}
}

// peerHealth holds the outcome of the last heartbeat for /health.
type peerHealth struct {
	mu  sync.Mutex
	err error
}

func (p *peerHealth) set(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Check implements the health check of the worker.
func (p *peerHealth) Check(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// eventLogger logs the worker's events. It is exported to the worker as a
// worker.Listener.
type eventLogger struct {
	logger *slog.Logger
}

func (l *eventLogger) Notify(ctx context.Context, event string) error {
	proxy.LoggerFromContext(ctx, l.logger).Info("worker event", "event", event)
	return nil
}
