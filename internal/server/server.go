// Package server provides the HTTP server that wires the evaluation service
// together.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ricesearch/receval/internal/config"
	"github.com/ricesearch/receval/internal/evaluation"
	"github.com/ricesearch/receval/internal/history"
	"github.com/ricesearch/receval/internal/pkg/logger"
	"github.com/ricesearch/receval/internal/pkg/middleware"
	"github.com/ricesearch/receval/internal/telemetry"
	"github.com/ricesearch/receval/internal/topk"
)

// Server is the HTTP server of the evaluation service.
type Server struct {
	cfg        Config
	log        *logger.Logger
	httpServer *http.Server
	handler    http.Handler

	metrics *telemetry.Metrics
	limiter *middleware.RateLimiter
	history *history.Store

	startTime time.Time
	closeOnce sync.Once
	stopping  atomic.Bool

	mu      sync.Mutex
	started bool
}

// Config configures the server.
type Config struct {
	// Host is the address to bind to.
	Host string

	// Port is the HTTP port.
	Port int

	// Version is the application version.
	Version string

	// RateLimit is the number of requests per second allowed per client.
	// 0 disables rate limiting.
	RateLimit int

	// MaxBodyBytes caps request bodies.
	MaxBodyBytes int64

	// ReadTimeout is the HTTP read timeout.
	ReadTimeout time.Duration

	// WriteTimeout is the HTTP write timeout.
	WriteTimeout time.Duration

	// ShutdownTimeout is the graceful shutdown timeout.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns sensible server defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		Version:         "dev",
		MaxBodyBytes:    64 << 20,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    5 * time.Minute,
		ShutdownTimeout: 30 * time.Second,
	}
}

// ConfigFrom derives the server configuration from the application config.
func ConfigFrom(appCfg *config.Config, version string) Config {
	cfg := DefaultConfig()
	cfg.Host = appCfg.Server.Host
	cfg.Port = appCfg.Server.Port
	cfg.RateLimit = appCfg.Server.RateLimit
	cfg.MaxBodyBytes = appCfg.Server.MaxBodyBytes
	if version != "" {
		cfg.Version = version
	}
	return cfg
}

// New creates a new server with all dependencies.
//
// When a history Redis URL is configured but unreachable, the server still
// starts and results are not recorded.
func New(ctx context.Context, cfg Config, appCfg *config.Config, log *logger.Logger) (*Server, error) {
	if appCfg == nil {
		return nil, fmt.Errorf("application config is required")
	}
	if cfg.Port == 0 {
		cfg = ConfigFrom(appCfg, cfg.Version)
	}
	if log == nil {
		log = logger.Discard()
	}

	s := &Server{
		cfg:       cfg,
		log:       log.WithComponent("server"),
		metrics:   telemetry.New(),
		startTime: time.Now(),
	}

	handlerOpts := []evaluation.HandlerOption{evaluation.WithObserver(s.metrics)}

	if url := appCfg.History.RedisURL; url != "" {
		ttl := time.Duration(appCfg.History.TTLHours) * time.Hour
		store, err := history.New(ctx, url, appCfg.History.Prefix, ttl)
		if err != nil {
			s.log.Warn("History store unavailable, results will not be recorded", "error", err)
		} else {
			s.history = store
			handlerOpts = append(handlerOpts, evaluation.WithRecorder(store))
		}
	}

	if cfg.RateLimit > 0 {
		rlCfg := middleware.DefaultRateLimiterConfig()
		rlCfg.RequestsPerSecond = float64(cfg.RateLimit)
		rlCfg.Burst = 2 * cfg.RateLimit
		rlCfg.OnLimited = s.metrics.ObserveRateLimited
		s.limiter = middleware.NewRateLimiter(rlCfg)
	}

	selector := topk.New(appCfg.TopKSelectorConfig(), log)
	evalHandler := evaluation.NewHandler(appCfg.EvaluationDefaults(), selector, log, handlerOpts...)

	s.handler = s.setupRoutes(evalHandler)
	return s, nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves HTTP until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("server already started")
	}
	s.started = true

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	s.httpServer = srv
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Starting HTTP server", "addr", addr, "version", s.cfg.Version)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		s.mu.Lock()
		s.started = false
		s.mu.Unlock()
		s.closeResources()
		return err
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown gracefully stops the server and releases its resources. Open
// requests are drained before the rate limiter and history store close.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopping.Store(true)

	s.mu.Lock()
	httpServer := s.httpServer
	started := s.started
	s.started = false
	s.mu.Unlock()

	var err error
	if started && httpServer != nil {
		s.log.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()

		if err = httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.Error("HTTP shutdown error", "error", err)
		}
		s.log.Info("Server stopped")
	}

	s.closeResources()
	return err
}

// closeResources stops the limiter cleanup and closes the history store.
// Safe to call more than once.
func (s *Server) closeResources() {
	s.closeOnce.Do(func() {
		if s.limiter != nil {
			s.limiter.Close()
		}
		if s.history != nil {
			if err := s.history.Close(); err != nil {
				s.log.Warn("Closing history store failed", "error", err)
			}
		}
	})
}

// setupRoutes configures all HTTP routes and wraps them with middleware.
func (s *Server) setupRoutes(evalHandler *evaluation.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.Handle("GET /metrics", s.metrics.Handler())

	evalHandler.RegisterRoutes(mux)

	var handler http.Handler = middleware.MaxBody(s.cfg.MaxBodyBytes)(mux)
	if s.limiter != nil {
		handler = s.limiter.Middleware(handler)
	}
	handler = middleware.Logging(s.log)(handler)
	return middleware.RequestID(handler)
}
