package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	httpadapter "github.com/Sentinel-Gate/ipcgate/internal/adapter/inbound/http"
	"github.com/Sentinel-Gate/ipcgate/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/ipcgate/internal/adapter/outbound/process"
	"github.com/Sentinel-Gate/ipcgate/internal/adapter/outbound/tracing"
	"github.com/Sentinel-Gate/ipcgate/internal/config"
	"github.com/Sentinel-Gate/ipcgate/internal/domain/proxy"
	"github.com/Sentinel-Gate/ipcgate/internal/domain/worker"
	"github.com/Sentinel-Gate/ipcgate/internal/service"
)

// configEnv names the config file a spawned worker should load.
const configEnv = "IPC_GATE_CONFIG"

// session is a launched worker together with the observability it reports
// into.
type session struct {
	root     worker.Init
	registry *prometheus.Registry
	metrics  *httpadapter.Metrics
	calls    *memory.CallLog
	tracer   *tracing.Provider
	logger   *slog.Logger
}

// openSession wires metrics, the call log, tracing and the call policy into
// a launcher and launches the worker role.
func openSession(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*session, error) {
	reg := httpadapter.NewRegistry()
	metrics := httpadapter.NewMetrics(reg)

	calls, err := openCallLog(cfg.Audit)
	if err != nil {
		return nil, err
	}

	output := ""
	if cfg.Tracing.Enabled {
		output = cfg.Tracing.Output
	}
	tp, err := tracing.NewProvider("ipc-gate", output, cfg.Tracing.SampleRatio)
	if err != nil {
		_ = calls.Close()
		return nil, err
	}
	abort := func(err error) (*session, error) {
		_ = tp.Shutdown(ctx)
		_ = calls.Close()
		return nil, err
	}

	policy, err := cfg.CallPolicy()
	if err != nil {
		return abort(err)
	}
	workers, err := worker.NewRegistry()
	if err != nil {
		return abort(err)
	}
	spawner, err := process.NewSpawner(process.Options{Stderr: os.Stderr, Env: workerEnv()})
	if err != nil {
		return abort(err)
	}
	launcher := service.NewLauncher(spawner, cfg.Processes, cfg.ShutdownTimeout(), logger,
		service.WithRegistry(workers),
		service.WithInterceptor(proxy.NewChain(policy, proxy.Recorders{metrics, calls}, logger)),
		service.WithObserver(metrics),
		service.WithTracerProvider(tp),
	)

	exe, _ := launcher.Executable("worker")
	logger.Debug("launching worker", "executable", exe)
	root, err := service.Launch[worker.Init](ctx, launcher, "worker")
	if err != nil {
		return abort(fmt.Errorf("failed to launch worker: %w", err))
	}
	return &session{root: root, registry: reg, metrics: metrics, calls: calls, tracer: tp, logger: logger}, nil
}

// Close releases the worker, which stops it, flushes pending spans and
// closes the call log. It must not be called from a connection's loop
// goroutine.
func (s *session) Close(ctx context.Context) {
	proxy.Release(s.root)
	if err := s.tracer.Shutdown(ctx); err != nil {
		s.logger.Warn("failed to flush traces", "error", err)
	}
	if n := s.calls.WriteErrors(); n > 0 {
		s.logger.Warn("call log write errors", "count", n)
	}
	if err := s.calls.Close(); err != nil {
		s.logger.Warn("failed to close call log", "error", err)
	}
}

// openCallLog opens the audit output named by cfg. An empty output keeps
// records in memory only.
func openCallLog(cfg config.AuditConfig) (*memory.CallLog, error) {
	switch {
	case cfg.Output == "stdout":
		return memory.NewCallLog(os.Stdout, cfg.BufferSize), nil
	case cfg.FilePath() != "":
		f, err := os.OpenFile(cfg.FilePath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit output: %w", err)
		}
		return memory.NewCallLog(f, cfg.BufferSize), nil
	default:
		return memory.NewCallLog(nil, cfg.BufferSize), nil
	}
}

// workerEnv passes the loaded config file on to spawned workers.
func workerEnv() []string {
	env := os.Environ()
	if path := config.ConfigFileUsed(); path != "" {
		env = append(env, configEnv+"="+path)
	}
	return env
}
