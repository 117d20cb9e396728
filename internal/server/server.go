package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keygate/keygate/internal/gate"
	"github.com/keygate/keygate/internal/handler"
	"github.com/keygate/keygate/internal/server/middleware"
	"github.com/keygate/keygate/internal/service"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	MaxBodySize     int64 // bytes, admin API only
	PublicURL       string
	Version         string
	// IPRateLimit caps gateway requests per client IP per minute before
	// any key lookup happens. Zero disables it.
	IPRateLimit int
	// LoginRateLimit caps login attempts per client IP per minute.
	LoginRateLimit int
	EnableMetrics  bool
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     []string{"*"},
		MaxBodySize:     1 * 1024 * 1024, // 1MB
		IPRateLimit:     0,
		LoginRateLimit:  10,
		EnableMetrics:   true,
	}
}

// Deps are the collaborators the routes are built from.
type Deps struct {
	Gate    *gate.Gate
	Keys    *service.KeyService
	Stats   *service.StatsService
	Auth    *service.AuthService
	Gateway *handler.GatewayHandler
	// Checks gate /readyz.
	Checks map[string]handler.Pinger
}

// Server is the top-level HTTP server. It owns the Chi router and runs the
// registered shutdown hooks after the listener drains.
type Server struct {
	cfg        Config
	deps       Deps
	router     chi.Router
	httpServer *http.Server
	logger     *slog.Logger
	hooks      []shutdownHook
}

type shutdownHook struct {
	name string
	fn   func(context.Context) error
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
	}
	s.setupRouter()
	return s
}

// OnShutdown registers fn to run, in registration order, once in-flight
// requests have drained.
func (s *Server) OnShutdown(name string, fn func(context.Context) error) {
	s.hooks = append(s.hooks, shutdownHook{name: name, fn: fn})
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.HeaderAPIKey, "X-Requested-With"},
		ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	logger := s.logger
	health := handler.NewHealthHandler(s.cfg.Version, s.deps.Checks, logger)

	// --- Health checks and metrics (no auth required) ---
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)
	if s.cfg.EnableMetrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	var upstreams []string
	if s.deps.Gateway != nil {
		upstreams = s.deps.Gateway.Upstreams()
	}
	r.Get("/openapi.json", handler.NewOpenAPIHandler(s.cfg.PublicURL, s.cfg.Version, upstreams).ServeSpec)

	r.Route("/api/v1", func(r chi.Router) {

		// Admin API
		r.Route("/admin", func(r chi.Router) {
			if s.cfg.MaxBodySize > 0 {
				r.Use(chimw.RequestSize(s.cfg.MaxBodySize))
			}

			sessions := handler.NewSessionHandler(s.deps.Auth, logger)
			keys := handler.NewKeyHandler(s.deps.Keys, logger)
			stats := handler.NewStatsHandler(s.deps.Stats, s.deps.Keys, logger)

			r.With(middleware.RateLimit(s.cfg.LoginRateLimit)).Post("/session", sessions.Login)

			r.Group(func(r chi.Router) {
				r.Use(middleware.AdminAuth(s.deps.Auth))

				r.Get("/session", sessions.Me)
				r.Delete("/session", sessions.Logout)

				r.Get("/keys", keys.List)
				r.Post("/keys", keys.Create)
				r.Get("/keys/{keyId}", keys.Get)
				r.Patch("/keys/{keyId}", keys.Update)
				r.Delete("/keys/{keyId}", keys.Delete)
				r.Post("/keys/{keyId}/rotate", keys.Rotate)
				r.Get("/keys/{keyId}/stats", stats.KeyStats)

				r.Get("/stats/overview", stats.Overview)
				r.Get("/logs", stats.Logs)
				r.Delete("/logs", stats.PurgeLogs)
				r.Post("/sweep", stats.Sweep)
			})
		})

		// Key-authenticated routes
		if s.deps.Gate != nil {
			r.Group(func(r chi.Router) {
				r.Use(middleware.RateLimit(s.cfg.IPRateLimit))
				r.Use(middleware.APIKey(s.deps.Gate, gate.Options{}))

				if s.deps.Gateway != nil {
					r.HandleFunc("/gw/{upstream}/*", s.deps.Gateway.Proxy)
					r.Get("/whoami", s.deps.Gateway.Whoami)
				}
			})
		}
	})

	s.router = r
}

// ListenAndServe starts the HTTP server and blocks until ctx is cancelled
// or a SIGINT or SIGTERM is received. It then performs a graceful shutdown,
// draining in-flight requests before running the shutdown hooks.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Listen for shutdown signals
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.runHooks(context.Background())
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	err := s.httpServer.Shutdown(shutdownCtx)
	s.runHooks(shutdownCtx)
	if err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) runHooks(ctx context.Context) {
	for _, h := range s.hooks {
		if err := h.fn(ctx); err != nil {
			s.logger.Warn("shutdown hook failed", "hook", h.name, "error", err)
		}
	}
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
