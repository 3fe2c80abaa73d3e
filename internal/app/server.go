package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/mhingston/switchboard/internal/budget"
	"github.com/mhingston/switchboard/internal/engine"
	"github.com/mhingston/switchboard/internal/health"
	"github.com/mhingston/switchboard/internal/httpapi"
	"github.com/mhingston/switchboard/internal/logging"
	"github.com/mhingston/switchboard/internal/metrics"
	"github.com/mhingston/switchboard/internal/ratelimit"
	"github.com/mhingston/switchboard/internal/registry"
	"github.com/mhingston/switchboard/internal/router"
	"github.com/mhingston/switchboard/internal/session"
	"github.com/mhingston/switchboard/internal/store"
	"github.com/mhingston/switchboard/internal/tracing"
)

// Server bundles the wired HTTP router and every background resource that
// needs an orderly shutdown. Grounded on the teacher's Server shape
// (internal/app/server.go), trimmed to the stores and stack SPEC_FULL.md
// actually names: the Temporal/vault/apikey/TSDB/stats subsystems the
// teacher wired here have no spec component (see DESIGN.md) and are gone.
type Server struct {
	cfg Config

	r *chi.Mux

	engine      *router.Engine
	rateLimiter *ratelimit.Limiter
	sqliteDB    *sql.DB // nil when StoreBackend == "redis"

	otelShutdown func(context.Context) error // nil when OTel disabled
	httpServer   *http.Server                // set via SetHTTPServer
	logger       *slog.Logger
}

// NewServer wires stores, provider adapters, the router engine, and the
// HTTP surface from cfg.
func NewServer(cfg Config) (*Server, error) {
	logger := logging.Setup(cfg.LogLevel)

	otelShutdown, err := tracing.Setup(tracing.Config{
		Enabled:     cfg.OTelEnabled,
		Endpoint:    cfg.OTelEndpoint,
		ServiceName: cfg.OTelServiceName,
	})
	if err != nil {
		return nil, fmt.Errorf("otel setup: %w", err)
	}
	if cfg.OTelEnabled {
		logger.Info("opentelemetry tracing enabled", slog.String("endpoint", cfg.OTelEndpoint), slog.String("service", cfg.OTelServiceName))
	}

	m := metrics.New()

	healthStore, budgetStore, sessionStore, sqliteDB, err := buildStores(cfg, logger)
	if err != nil {
		if otelShutdown != nil {
			_ = otelShutdown(context.Background())
		}
		return nil, err
	}

	doc, err := registry.Load(cfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load registry config: %w", err)
	}
	snap, err := doc.BuildSnapshot()
	if err != nil {
		return nil, fmt.Errorf("build registry snapshot: %w", err)
	}
	senders, err := doc.BuildSenders()
	if err != nil {
		return nil, fmt.Errorf("build provider senders: %w", err)
	}
	if len(snap.Models) == 0 {
		logger.Warn("NO MODELS REGISTERED in registry config — requests will fail until models are configured", slog.String("config_path", cfg.ConfigPath))
	}
	if len(senders) == 0 {
		logger.Warn("NO PROVIDERS REGISTERED in registry config", slog.String("config_path", cfg.ConfigPath))
	}

	eng := engine.New(snap, engine.Deps{
		Health:  healthStore,
		Budget:  budgetStore,
		Session: sessionStore,
		Senders: senders,
		Metrics: m,
		Logger:  logger,
	})

	rl := ratelimit.New(cfg.RateLimitRPS, cfg.RateLimitBurst, time.Second, ratelimit.WithCounter(m.RateLimitedTotal))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	if cfg.OTelEnabled {
		r.Use(tracing.Middleware())
	}
	corsOrigins := cfg.CORSOrigins
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
		logger.Warn("CORS_ORIGINS not set — CORS allows all origins")
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "x-router-admin-token"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(rl.Middleware)

	if cfg.AdminToken == "" {
		logger.Warn("ADMIN_TOKEN not set — admin endpoints and resume are unauthenticated")
	} else if cfg.StoreBackend == "sqlite" {
		persistAdminTokenHash(cfg.AdminToken, cfg.StateDBPath, logger)
	}

	deps := httpapi.Dependencies{
		Engine:              eng,
		Health:              healthStore,
		Budget:              budgetStore,
		Metrics:             m,
		Logger:              logger,
		AdminToken:          cfg.AdminToken,
		AllowInsecureResume: cfg.AllowInsecureResume,
		Reload: func() (*router.Snapshot, error) {
			doc, err := registry.Load(cfg.ConfigPath)
			if err != nil {
				return nil, err
			}
			return doc.BuildSnapshot()
		},
	}
	httpapi.MountRoutes(r, deps)

	return &Server{
		cfg:          cfg,
		r:            r,
		engine:       eng,
		rateLimiter:  rl,
		sqliteDB:     sqliteDB,
		otelShutdown: otelShutdown,
		logger:       logger,
	}, nil
}

// buildStores constructs the C1/C2/C3 stores for cfg.StoreBackend.
func buildStores(cfg Config, logger *slog.Logger) (health.Store, budget.Store, session.Store, *sql.DB, error) {
	switch cfg.StoreBackend {
	case "redis":
		client := store.OpenRedis(cfg.RedisAddr)
		if err := client.Ping(context.Background()).Err(); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("connect redis at %q: %w", cfg.RedisAddr, err)
		}
		logger.Info("state store backend: redis", slog.String("addr", cfg.RedisAddr))
		return health.NewRedis(client, logger), budget.NewRedis(client, logger), session.NewRedis(client, logger), nil, nil
	default:
		db, err := store.OpenSQLite(cfg.StateDBPath)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("open state db: %w", err)
		}
		if err := store.Migrate(context.Background(), db); err != nil {
			_ = db.Close()
			return nil, nil, nil, nil, fmt.Errorf("migrate state db: %w", err)
		}
		logger.Info("state store backend: sqlite", slog.String("path", cfg.StateDBPath))
		return health.NewSQLite(db, logger), budget.NewSQLite(db, logger), session.NewSQLite(db, logger), db, nil
	}
}

// Router returns the wired HTTP handler.
func (s *Server) Router() http.Handler { return s.r }

// SetHTTPServer registers the HTTP server so Close can drain in-flight
// requests via http.Server.Shutdown before releasing other resources.
func (s *Server) SetHTTPServer(srv *http.Server) {
	s.httpServer = srv
}

// Reload re-reads CONFIG_PATH and swaps the engine's snapshot, matching
// the SIGHUP-triggered reload path described in §5/§9.
func (s *Server) Reload() error {
	doc, err := registry.Load(s.cfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load registry config: %w", err)
	}
	snap, err := doc.BuildSnapshot()
	if err != nil {
		return fmt.Errorf("build registry snapshot: %w", err)
	}
	s.engine.ReloadSnapshot(snap)
	s.logger.Info("configuration reloaded", slog.Int("models", len(snap.Models)))
	return nil
}

// Close drains in-flight HTTP requests, then releases background
// resources in dependency order.
func (s *Server) Close() error {
	if s.httpServer != nil {
		drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(drainCtx); err != nil {
			s.logger.Warn("HTTP drain error", slog.String("error", err.Error()))
		}
	}
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	if s.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.otelShutdown(ctx); err != nil {
			s.logger.Warn("otel shutdown error", slog.String("error", err.Error()))
		}
	}
	if s.sqliteDB != nil {
		return s.sqliteDB.Close()
	}
	return nil
}
