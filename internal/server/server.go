// Package server exposes the orchestrator over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/osakka/agentorch/internal/orchestrator"
	"github.com/osakka/agentorch/internal/store"
	"github.com/osakka/agentorch/pkg/auth"
	"github.com/osakka/agentorch/pkg/config"
	reqctx "github.com/osakka/agentorch/pkg/context"
	"github.com/osakka/agentorch/pkg/health"
	"github.com/osakka/agentorch/pkg/logging"
	"github.com/osakka/agentorch/pkg/metrics"
)

// Option configures optional collaborators
type Option func(*Server)

// WithStore persists every execution to s.
func WithStore(s *store.Store) Option {
	return func(srv *Server) { srv.store = s }
}

// WithAuth enables the admin routes, guarded by v.
func WithAuth(v *auth.JWTValidator) Option {
	return func(srv *Server) { srv.auth = v }
}

// WithHealthManager replaces the default health manager.
func WithHealthManager(hm *health.HealthManager) Option {
	return func(srv *Server) { srv.healthMgr = hm }
}

// WithTracerProvider replaces the global tracer provider for request spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(srv *Server) { srv.tracerProvider = tp }
}

// WithVersion sets the version reported by /health.
func WithVersion(v string) Option {
	return func(srv *Server) { srv.version = v }
}

// Server is the HTTP front end of one orchestrator
type Server struct {
	config     config.ServerConfig
	httpServer *http.Server
	router     *mux.Router
	handler    http.Handler
	orch       *orchestrator.Orchestrator
	store      *store.Store
	auth       *auth.JWTValidator
	healthMgr  *health.HealthManager
	limiter    *clientLimiter
	version    string

	tracerProvider trace.TracerProvider
	tracer         trace.Tracer

	logger  logging.Logger
	metrics *metrics.ProductionMetrics
}

// New builds the router and http.Server. Nothing listens until Start.
func New(cfg config.ServerConfig, orch *orchestrator.Orchestrator, logger logging.Logger, m *metrics.ProductionMetrics, opts ...Option) (*Server, error) {
	if orch == nil {
		return nil, errors.New("server: orchestrator is required")
	}
	if m == nil {
		m = metrics.NewNop()
	}

	s := &Server{
		config:  cfg,
		orch:    orch,
		version: "dev",
		logger:  logger.WithComponent("http_server"),
		metrics: m,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.tracerProvider == nil {
		s.tracerProvider = otel.GetTracerProvider()
	}
	s.tracer = s.tracerProvider.Tracer("github.com/osakka/agentorch/internal/server")

	if s.healthMgr == nil {
		s.healthMgr = DefaultHealthManager(orch, logger, m, s.version)
	}
	if cfg.RateLimit.Enabled {
		limiter, err := newClientLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
		if err != nil {
			return nil, err
		}
		s.limiter = limiter
	}

	s.router = mux.NewRouter()
	s.addMiddleware(s.router)
	s.setupRoutes(s.router)

	// CORS wraps the router so preflight requests reach it before method
	// matching rejects them.
	s.handler = s.router
	if cfg.CORS.Enabled {
		s.handler = s.corsMiddleware(s.router)
	}

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Address, fmt.Sprint(cfg.Port)),
		Handler:      s.handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s, nil
}

// DefaultHealthManager registers the checks every deployment needs.
func DefaultHealthManager(orch *orchestrator.Orchestrator, logger logging.Logger, m metrics.Metrics, version string) *health.HealthManager {
	hm := health.NewHealthManager(logger, m, version)
	hm.RegisterChecker(health.NewCapabilityHealthChecker(orch.Registry()))
	hm.RegisterChecker(health.NewCacheHealthChecker(orch.Cache()))
	hm.RegisterChecker(health.NewSessionHealthChecker(func() (int, float64) {
		stats, err := orch.Tracker().Stats()
		if err != nil {
			return 0, 0
		}
		return stats.TotalInteractions, stats.SuccessRate
	}))
	hm.RegisterChecker(health.NewBreakerHealthChecker(orch.Dispatcher().OpenBreakers))
	hm.RegisterChecker(health.NewGoroutineHealthChecker())
	hm.RegisterChecker(health.NewMemoryHealthChecker())
	return hm
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.handler }

// HealthManager returns the manager backing the health routes.
func (s *Server) HealthManager() *health.HealthManager { return s.healthMgr }

// Addr returns the listen address.
func (s *Server) Addr() string { return s.httpServer.Addr }

func (s *Server) addMiddleware(router *mux.Router) {
	router.Use(s.recoveryMiddleware)
	router.Use(s.tracingMiddleware)
	router.Use(reqctx.NewHTTPContextPropagator(s.logger).Middleware)
	router.Use(s.metricsMiddleware)
	if s.limiter != nil {
		router.Use(s.rateLimitMiddleware)
	}
}

func (s *Server) setupRoutes(router *mux.Router) {
	v1 := router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/execute", s.handleExecute).Methods(http.MethodPost)
	v1.HandleFunc("/capabilities", s.handleListCapabilities).Methods(http.MethodGet)
	v1.HandleFunc("/capabilities/{name}", s.handleGetCapability).Methods(http.MethodGet)
	v1.HandleFunc("/capabilities/{name}/invoke", s.handleInvoke).Methods(http.MethodPost)
	v1.HandleFunc("/session/stats", s.handleSessionStats).Methods(http.MethodGet)
	v1.HandleFunc("/session/records", s.handleSessionRecords).Methods(http.MethodGet)
	v1.HandleFunc("/cache/stats", s.handleCacheStats).Methods(http.MethodGet)
	v1.HandleFunc("/breakers", s.handleBreakers).Methods(http.MethodGet)

	health.NewHTTPHandler(s.healthMgr, s.logger).RegisterRoutes(router)

	if s.config.EnableMetrics {
		registry := metrics.NewRegistry("agentorch", s.metrics)
		router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	// Admin routes exist only when a signing secret is configured.
	if s.auth != nil {
		admin := router.PathPrefix("/admin").Subrouter()
		admin.Use(s.adminAuthMiddleware)
		admin.HandleFunc("/session/reset", s.handleSessionReset).Methods(http.MethodPost)
		admin.HandleFunc("/cache/clear", s.handleCacheClear).Methods(http.MethodPost)
		admin.HandleFunc("/breakers/reset", s.handleBreakersReset).Methods(http.MethodPost)
	}
}

// Start listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("http_server_starting",
		"address", s.httpServer.Addr,
		"admin_enabled", s.auth != nil,
		"persistence_enabled", s.store != nil)

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	s.logger.Info("http_server_started",
		"address", s.httpServer.Addr,
		"pid", os.Getpid())

	select {
	case <-ctx.Done():
		s.logger.Info("http_server_stopping", "reason", "context_cancelled")
		return s.Stop()
	case err := <-errChan:
		s.logger.Error("http_server_error", "error", err)
		return err
	}
}

// Stop gracefully stops the server
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("http_server_shutdown_error", "error", err)
		return err
	}
	s.logger.Info("http_server_shutdown_complete")
	return nil
}
