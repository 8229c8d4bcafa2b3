package http

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// shutdownTimeout bounds the graceful shutdown of the server.
const shutdownTimeout = 10 * time.Second

// Server serves /metrics, /health and, when configured, /calls.
type Server struct {
	server        *http.Server
	addr          string
	gatherer      prometheus.Gatherer
	metrics       *Metrics
	healthChecker *HealthChecker
	calls         CallSource
	logger        *slog.Logger
}

// Option is a functional option for configuring Server.
type Option func(*Server)

// WithAddr sets the listen address.
// Default is "127.0.0.1:9464" (localhost only).
func WithAddr(addr string) Option {
	return func(s *Server) {
		s.addr = addr
	}
}

// WithLogger sets the logger for the server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithHealthChecker sets the health checker for the /health endpoint.
func WithHealthChecker(hc *HealthChecker) Option {
	return func(s *Server) {
		s.healthChecker = hc
	}
}

// WithCallSource serves recently audited calls on /calls.
func WithCallSource(src CallSource) Option {
	return func(s *Server) {
		s.calls = src
	}
}

// NewServer creates a server exposing the metrics gathered by gatherer.
func NewServer(gatherer prometheus.Gatherer, metrics *Metrics, opts ...Option) *Server {
	s := &Server{
		addr:     "127.0.0.1:9464",
		gatherer: gatherer,
		metrics:  metrics,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.healthChecker == nil {
		s.healthChecker = NewHealthChecker("")
	}
	return s
}

// Handler returns the routed handler with the middleware chain applied.
// Middleware order (outermost first): Metrics -> RequestID -> mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/health", s.healthChecker.Handler())
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	if s.calls != nil {
		mux.Handle("/calls", callsHandler(s.calls))
	}

	var handler http.Handler = mux
	handler = RequestIDMiddleware(s.logger)(handler)
	if s.metrics != nil {
		handler = MetricsMiddleware(s.metrics)(handler)
	}
	return handler
}

// Start listens on the configured address and serves until ctx is cancelled
// or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled or ln fails.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting metrics server", "addr", ln.Addr().String())
		err := s.server.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down metrics server")
		return s.shutdown()
	case err := <-errCh:
		return err
	}
}

func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("error during server shutdown", "error", err)
		return err
	}
	s.logger.Info("metrics server shutdown complete")
	return nil
}
