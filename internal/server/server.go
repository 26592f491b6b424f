// Package server provides the HTTP server of the prompt service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/devrev/promptsource/internal/config"
	"github.com/devrev/promptsource/internal/handler"
	"github.com/devrev/promptsource/internal/health"
	"github.com/devrev/promptsource/internal/metrics"
	"github.com/devrev/promptsource/internal/middleware"
)

// Server represents the HTTP API server and its metrics listener.
type Server struct {
	router        *mux.Router
	httpServer    *http.Server
	metricsServer *http.Server
	handlers      *handler.Handlers
	healthCheck   *health.HealthChecker
	errorWriter   *handler.ErrorWriter
	rateLimiter   *middleware.RateLimiter
	metrics       *metrics.Metrics
	logger        *zap.Logger
	cfg           *config.Config
}

// NewServer creates a new HTTP server. gatherer serves the metrics port;
// nil means the default registry.
func NewServer(
	cfg *config.Config,
	handlers *handler.Handlers,
	errorWriter *handler.ErrorWriter,
	healthCheck *health.HealthChecker,
	m *metrics.Metrics,
	gatherer prometheus.Gatherer,
	logger *zap.Logger,
) *Server {
	s := &Server{
		router:      mux.NewRouter(),
		handlers:    handlers,
		healthCheck: healthCheck,
		errorWriter: errorWriter,
		metrics:     m,
		logger:      logger,
		cfg:         cfg,
	}
	if cfg.RateLimiter.Enabled {
		s.rateLimiter = middleware.NewRateLimiter(cfg.RateLimiter.RequestsPerSecond, cfg.RateLimiter.BurstSize, logger)
	}
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      s.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	if cfg.Metrics.Enabled {
		if gatherer == nil {
			gatherer = prometheus.DefaultGatherer
		}
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
		s.metricsServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler: mux,
		}
	}
	return s
}

func (s *Server) setupRoutes() {
	chain := []func(http.Handler) http.Handler{
		middleware.Recovery(s.logger),
		middleware.RequestID,
		middleware.Logging(s.logger, s.metrics),
	}
	if s.rateLimiter != nil {
		chain = append(chain, s.rateLimiter.Limit)
	}
	if s.cfg.Server.RequestTimeout > 0 {
		chain = append(chain, middleware.Timeout(s.cfg.Server.RequestTimeout))
	}
	s.router.Use(middleware.Chain(chain...))

	s.router.HandleFunc("/health/live", s.healthCheck.LivenessHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/health/ready", s.healthCheck.ReadinessHandler).Methods(http.MethodGet)

	v1 := s.router.PathPrefix("/v1").Subrouter()

	tenants := v1.PathPrefix("/tenants/{tenant_id}").Subrouter()
	tenants.HandleFunc("/prompt", s.handlers.ResolvePrompt).Methods(http.MethodGet)
	tenants.HandleFunc("/repository", s.handlers.GetRepositoryConfig).Methods(http.MethodGet)
	tenants.HandleFunc("/repository", s.handlers.PutRepositoryConfig).Methods(http.MethodPut)
	tenants.HandleFunc("/repository", s.handlers.DeleteRepositoryConfig).Methods(http.MethodDelete)
	tenants.HandleFunc("/invalidate", s.handlers.InvalidateTenant).Methods(http.MethodPost)

	admin := v1.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/cache/evict", s.handlers.EvictCache).Methods(http.MethodPost)
	admin.HandleFunc("/cache/stats", s.handlers.CacheStats).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.errorWriter.WriteErrorResponse(w, http.StatusNotFound, handler.ErrorCodeNotFound, "endpoint not found", r.Header.Get("X-Request-ID"))
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.errorWriter.WriteErrorResponse(w, http.StatusMethodNotAllowed, handler.ErrorCodeMethodNotAllowed, "method not allowed", r.Header.Get("X-Request-ID"))
	})
}

// Handler returns the router wrapped in CORS handling.
func (s *Server) Handler() http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: s.cfg.Server.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         86400,
	}).Handler(s.router)
}

// RateLimiter returns the inbound limiter, or nil when disabled.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

// Start serves the API and metrics ports until Shutdown.
func (s *Server) Start() error {
	if s.metricsServer != nil {
		go func() {
			s.logger.Info("Starting metrics server", zap.String("address", s.metricsServer.Addr))
			if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("Metrics server failed", zap.Error(err))
			}
		}()
	}

	s.logger.Info("Starting HTTP server", zap.String("address", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down both listeners.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if s.metricsServer != nil {
		if err := s.metricsServer.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
