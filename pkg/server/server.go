// Package server exposes subscription feeds over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/polisai/polis-broker/pkg/metrics"
	"github.com/polisai/polis-broker/pkg/stream"
	"github.com/polisai/polis-broker/pkg/subscription"
	"github.com/polisai/polis-broker/pkg/telemetry"
)

// Config holds the server settings.
type Config struct {
	ListenAddr      string
	MetricsPath     string
	ShutdownTimeout time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics enables the Prometheus endpoint and HTTP request metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithTracing wraps every route in otelhttp instrumentation.
func WithTracing(tm *telemetry.TracingManager) Option {
	return func(s *Server) { s.tracing = tm }
}

// WithStreamOptions passes options to every feed handler.
func WithStreamOptions(opts ...stream.HandlerOption) Option {
	return func(s *Server) { s.streamOpts = append(s.streamOpts, opts...) }
}

// Server serves feeds, health and metrics.
type Server struct {
	config     Config
	svc        *subscription.Service
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracing    *telemetry.TracingManager
	streamOpts []stream.HandlerOption

	handler    http.Handler
	httpServer *http.Server

	// baseCtx parents every request context; cancelling it ends open feeds
	// so Shutdown does not wait on long-lived streams.
	baseCtx    context.Context
	cancelBase context.CancelFunc

	stopOnce sync.Once
}

// HealthStatus is the body of the health endpoint.
type HealthStatus struct {
	Status   string `json:"status"`
	Channels int    `json:"channels"`
	Reason   string `json:"reason,omitempty"`
}

// New creates a server for svc.
func New(cfg Config, svc *subscription.Service, opts ...Option) *Server {
	s := &Server{
		config: cfg,
		svc:    svc,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.baseCtx, s.cancelBase = context.WithCancel(context.Background())

	mux := http.NewServeMux()
	s.setupRoutes(mux)
	s.handler = mux
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves until ctx ends or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.ListenAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx ends or the listener fails.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:     s.handler,
		BaseContext: func(net.Listener) context.Context { return s.baseCtx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server starting", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server error: %w", err)
	case <-ctx.Done():
		stopCtx := context.Background()
		if s.config.ShutdownTimeout > 0 {
			var cancel context.CancelFunc
			stopCtx, cancel = context.WithTimeout(stopCtx, s.config.ShutdownTimeout)
			defer cancel()
		}
		return s.Stop(stopCtx)
	}
}

// Stop ends every open feed and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping broker server", "channels", s.svc.Broker().Channels())
		s.cancelBase()

		if s.httpServer != nil {
			if stopErr := s.httpServer.Shutdown(ctx); stopErr != nil {
				s.logger.Error("Failed to shut down HTTP server", "error", stopErr)
				err = stopErr
			}
		}
	})
	return err
}

// Health reports the server status.
func (s *Server) Health() *HealthStatus {
	status := &HealthStatus{
		Status:   "healthy",
		Channels: s.svc.Broker().Channels(),
	}
	if s.baseCtx.Err() != nil {
		status.Status = "unhealthy"
		status.Reason = "server stopping"
	}
	return status
}

func (s *Server) setupRoutes(mux *http.ServeMux) {
	wrap := func(h http.Handler) http.Handler {
		if s.metrics != nil {
			h = s.metrics.Middleware(h)
		}
		if s.tracing != nil {
			h = s.tracing.HTTPMiddleware(h)
		}
		return h
	}

	mux.Handle("/health", wrap(http.HandlerFunc(s.handleHealth)))

	if s.metrics != nil {
		path := s.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		mux.Handle(path, s.metrics.Handler())
	}

	feeds := http.NewServeMux()
	opts := append([]stream.HandlerOption{stream.WithHandlerLogger(s.logger)}, s.streamOpts...)
	if s.metrics != nil {
		opts = append(opts, stream.WithEventObserver(s.metrics))
	}
	stream.Mount(feeds, s.svc, opts...)
	mux.Handle("/feeds/", wrap(feeds))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := s.Health()

	w.Header().Set("Content-Type", "application/json")
	if status.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Debug("Failed to write health response", "error", err)
	}
}
