// Package server assembles the registry HTTP server: middleware chain,
// API and audit routes, health and metrics endpoints, and the background
// loops that run on the elected leader.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/llmeval/qa-registry/pkg/audit"
	"github.com/llmeval/qa-registry/pkg/authz"
	"github.com/llmeval/qa-registry/pkg/cache"
	"github.com/llmeval/qa-registry/pkg/config"
	"github.com/llmeval/qa-registry/pkg/ha"
	"github.com/llmeval/qa-registry/pkg/metrics"
	"github.com/llmeval/qa-registry/pkg/versioning"
)

// Base paths of the mounted APIs.
const (
	APIBasePath   = "/api/v1"
	AuditBasePath = "/api/audit/v1"
)

// Server owns the registry's HTTP surface and background loops.
type Server struct {
	cfg        *config.Config
	db         *gorm.DB
	logger     *zap.Logger
	registry   *prometheus.Registry
	metrics    *metrics.Metrics
	auditStore *versioning.AuditStore
	authorizer authz.Authorizer
	jwt        *authz.JWTExtractor
	handlers   *versioning.Handlers
	elector    *ha.LeaderElector
	retention  *audit.RetentionWorker
}

// New wires the managers, stores and middleware described by cfg over db.
// The schema must already be migrated.
func New(cfg *config.Config, db *gorm.DB, logger *zap.Logger) (*Server, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	authorizer, err := authz.NewAuthorizer(cfg.Auth)
	if err != nil {
		return nil, err
	}
	var jwtx *authz.JWTExtractor
	if cfg.Auth.JWT.Enabled {
		jwtx, err = authz.NewJWTExtractor(cfg.Auth.JWT, logger)
		if err != nil {
			return nil, fmt.Errorf("jwt: %w", err)
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	auditStore := versioning.NewAuditStore(db)
	opts := []versioning.Option{
		versioning.WithLogger(logger),
		versioning.WithRetryPolicy(cfg.Retry.Policy()),
		versioning.WithObserver(m),
		versioning.WithAuditStore(auditStore),
	}
	versions := versioning.NewVersionManager(db, opts...)
	handlers := versioning.NewHandlers(versioning.HandlerDeps{
		Versions: versions,
		Datasets: versioning.NewDatasetManager(db, opts...),
		Diff:     versioning.NewDiffEngine(versioning.NewVersionStore(db)),
		Actors:   versioning.NewUserStore(db),
		Cache:    cache.NewCacheManager(cacheConfig(cfg)),
		Logger:   logger,
	})

	s := &Server{
		cfg:        cfg,
		db:         db,
		logger:     logger,
		registry:   registry,
		metrics:    m,
		auditStore: auditStore,
		authorizer: authorizer,
		jwt:        jwtx,
		handlers:   handlers,
		elector:    ha.NewLeaderElector(&cfg.HA, db, cfg.HA.Identity, logger),
		retention:  audit.NewRetentionWorker(auditStore, &cfg.Audit, logger),
	}
	s.elector.OnStartLeading(func(ctx context.Context) {
		go s.retention.Run(ctx)
	})
	return s, nil
}

// Handler builds the root router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.Server.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Correlation-ID", "X-Remote-User", "X-Remote-Group"},
		ExposedHeaders:   []string{"X-Cache", "X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	if s.cfg.Server.MetricsEnabled {
		r.Use(s.metrics.Middleware)
		r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))
	}

	r.Get("/healthz", s.healthHandler)
	r.Get("/livez", s.healthHandler)
	r.Get("/readyz", s.readyHandler)

	// Identity, audit and authorization apply to both APIs. Audit sits
	// outside authz so denied requests are recorded.
	r.Group(func(r chi.Router) {
		r.Use(authz.IdentityMiddleware(s.jwt))
		if s.cfg.Audit.Enabled {
			r.Use(audit.AuditMiddleware(s.auditStore, &s.cfg.Audit, s.logger))
		}

		r.With(authz.AuthzMiddleware(s.authorizer)).Mount(APIBasePath, versioning.Router(s.handlers))
		r.Mount(AuditBasePath, audit.Router(s.auditStore, s.authorizer))
	})

	s.logger.Info("routes mounted",
		zap.String("api", APIBasePath),
		zap.String("audit", AuditBasePath),
		zap.Bool("auditMiddleware", s.cfg.Audit.Enabled),
		zap.Bool("metrics", s.cfg.Server.MetricsEnabled),
		zap.Bool("jwt", s.jwt != nil))
	return r
}

// Run listens on the configured address and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Server.ListenAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln and runs leader election alongside. It shuts the HTTP
// server down gracefully when ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.Server.ReadHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("registry server listening", zap.String("addr", ln.Addr().String()))
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return s.elector.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) shutdownTimeout() time.Duration {
	if s.cfg.Server.ShutdownTimeout > 0 {
		return s.cfg.Server.ShutdownTimeout
	}
	return 30 * time.Second
}

// IsLeader reports whether this replica runs the singleton loops.
func (s *Server) IsLeader() bool {
	return s.elector.IsLeader()
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	sqlDB, err := s.db.DB()
	if err == nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		s.logger.Warn("readiness check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "leader": s.elector.IsLeader()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// cacheConfig shortens version caching when replicas share the database,
// since cache invalidation does not cross processes.
func cacheConfig(cfg *config.Config) *cache.CacheConfig {
	if cfg.HA.LeaderElectionEnabled {
		return cfg.Cache.ForReplicas()
	}
	return &cfg.Cache
}
