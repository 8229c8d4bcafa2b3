// Command ipc-worker serves the worker root object to the ipc-gate process
// that spawned it.
//
// Started as "ipc-worker -ipcfd <N>" it serves on descriptor N until the
// parent disconnects. Started any other way it runs an in-process self check,
// prints usage and exits with status 2.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sentinel-Gate/ipcgate/internal/adapter/inbound/ipcfd"
	"github.com/Sentinel-Gate/ipcgate/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/ipcgate/internal/adapter/outbound/tracing"
	"github.com/Sentinel-Gate/ipcgate/internal/config"
	"github.com/Sentinel-Gate/ipcgate/internal/domain/proxy"
	"github.com/Sentinel-Gate/ipcgate/internal/domain/worker"
	"github.com/Sentinel-Gate/ipcgate/internal/service"
)

const usage = `usage: ipc-worker -ipcfd <fd>

ipc-worker is spawned by ipc-gate and is not meant to be run by hand.
`

func main() {
	os.Exit(run(os.Args, os.Stderr))
}

func run(argv []string, stderr io.Writer) int {
	if _, ok := ipcfd.ParseArgs(argv); !ok {
		logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
		if err := selfCheck(logger); err != nil {
			fmt.Fprintf(stderr, "self check failed: %v\n", err)
		} else {
			fmt.Fprintln(stderr, "self check ok")
		}
		fmt.Fprint(stderr, usage)
		return 2
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(stderr, "ipc-worker: %v\n", err)
		return 1
	}
	logger := config.NewLogger(cfg.Log, cfg.DevMode, stderr).With("process", "ipc-worker", "pid", os.Getpid())

	opts, shutdown, err := serveOptions(cfg, logger)
	if err != nil {
		logger.Error("failed to set up worker", "error", err)
		return 1
	}
	defer shutdown()

	// The parent owns our lifetime: SIGINT from a terminal Ctrl+C is ignored
	// and we exit when it disconnects. SIGTERM still stops us.
	signal.Ignore(syscall.SIGINT)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	impl := worker.NewImpl(worker.WithImplLogger(logger))
	if _, err := ipcfd.Serve(ctx, argv, impl, opts...); err != nil {
		logger.Error("worker stopped", "error", err)
		return 1
	}
	logger.Debug("parent disconnected")
	return 0
}

// loadConfig loads the config file named by the parent, if any.
func loadConfig() (*config.Config, error) {
	config.InitViper(os.Getenv("IPC_GATE_CONFIG"))
	return config.LoadConfig()
}

// serveOptions builds the connection options: the worker registry, the
// inbound call chain and, when enabled, tracing. Inbound calls are audited
// only to a file output; stdout belongs to the parent.
func serveOptions(cfg *config.Config, logger *slog.Logger) ([]service.Option, func(), error) {
	reg, err := worker.NewRegistry()
	if err != nil {
		return nil, nil, err
	}
	policy, err := cfg.CallPolicy()
	if err != nil {
		return nil, nil, err
	}

	var (
		recorder proxy.CallRecorder
		calls    *memory.CallLog
	)
	if path := cfg.Audit.FilePath(); path != "" {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open audit output: %w", err)
		}
		calls = memory.NewCallLog(f, cfg.Audit.BufferSize)
		recorder = calls
	}

	output := ""
	if cfg.Tracing.Enabled {
		output = cfg.Tracing.Output
	}
	tp, err := tracing.NewProvider("ipc-worker", output, cfg.Tracing.SampleRatio)
	if err != nil {
		if calls != nil {
			_ = calls.Close()
		}
		return nil, nil, err
	}
	shutdown := func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("failed to flush traces", "error", err)
		}
		if calls != nil {
			_ = calls.Close()
		}
	}

	return []service.Option{
		service.WithRegistry(reg),
		service.WithLogger(logger),
		service.WithInterceptor(proxy.NewChain(policy, recorder, logger)),
		service.WithTracerProvider(tp),
	}, shutdown, nil
}

// selfCheck serves a worker over an in-memory pipe and makes a few calls
// through it.
func selfCheck(logger *slog.Logger) error {
	reg, err := worker.NewRegistry()
	if err != nil {
		return err
	}
	clientSide, serverSide := net.Pipe()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	served := make(chan error, 1)
	go func() {
		served <- service.Serve(ctx, serverSide, worker.NewImpl(),
			service.WithRegistry(reg), service.WithLogger(logger))
	}()

	root, err := service.Connect[worker.Init](ctx, clientSide,
		service.WithRegistry(reg), service.WithLogger(logger))
	if err != nil {
		_ = serverSide.Close()
		<-served
		return fmt.Errorf("connect: %w", err)
	}

	checkErr := func() error {
		if v, err := root.Ping(ctx); err != nil || v != worker.PingReply {
			return fmt.Errorf("ping = %d, %v", v, err)
		}
		if v, err := root.Add(ctx, 40, 2); err != nil || v != 42 {
			return fmt.Errorf("add = %d, %v", v, err)
		}
		sum := 0
		n, err := root.Stream(ctx, 4, func(_ context.Context, i int) error {
			sum += i
			return nil
		})
		if err != nil || n != 4 || sum != 6 {
			return fmt.Errorf("stream = %d (sum %d), %v", n, sum, err)
		}
		return nil
	}()

	proxy.Release(root)
	if err := <-served; err != nil && checkErr == nil {
		checkErr = fmt.Errorf("serve: %w", err)
	}
	return checkErr
}
