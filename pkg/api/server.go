package api

import (
	"context"
	"database/sql"
	"net"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/shelfhq/shelf/pkg/config"
	"github.com/shelfhq/shelf/pkg/httputil"
	"github.com/shelfhq/shelf/pkg/libraries"
	"github.com/shelfhq/shelf/pkg/observability"
	"github.com/shelfhq/shelf/pkg/session"
	"github.com/shelfhq/shelf/pkg/sso"
	"github.com/shelfhq/shelf/pkg/users"
)

// Options carries the collaborators the server wires together
type Options struct {
	Config  *config.Config
	Logger  *observability.Logger
	Metrics *observability.Metrics
	// Registry serves /metrics on the health listener; may be nil in tests
	Registry *prometheus.Registry

	DB *sql.DB
	// Redis may be nil when sessions are kept in memory
	Redis *redis.Client

	Sessions session.Store
	Users    *users.Store

	// SSO is nil when no identity provider is configured; the auth
	// endpoints then answer 404
	SSO       *sso.Handlers
	Libraries *libraries.Handlers
}

// Server is the assembled HTTP service
type Server struct {
	opts    Options
	router  *mux.Router
	handler http.Handler
	health  http.Handler
	logger  *observability.Logger
}

// NewServer builds the router, middleware chain and health endpoints
func NewServer(opts Options) *Server {
	s := &Server{
		opts:   opts,
		router: mux.NewRouter(),
		logger: opts.Logger.WithField("component", "api"),
	}
	s.setupRoutes()
	s.setupMiddleware()
	s.setupHealth()
	return s
}

func (s *Server) setupRoutes() {
	if s.opts.SSO != nil {
		s.opts.SSO.RegisterRoutes(s.router)
	}
	if s.opts.Libraries != nil {
		s.opts.Libraries.RegisterRoutes(s.router)
	}
	s.router.HandleFunc("/api/me", handleMe).Methods(http.MethodGet)
}

func (s *Server) setupMiddleware() {
	chain := httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(s.logger),
		httputil.RecoveryMiddleware(s.logger),
		SessionMiddleware(s.opts.Sessions, s.opts.Users, s.logger),
	)

	var handler http.Handler = s.router
	if s.opts.Metrics != nil {
		handler = s.opts.Metrics.HTTPMiddleware(handler)
	}
	handler = chain(handler)
	s.handler = otelhttp.NewHandler(handler, "shelf.http")
}

func (s *Server) setupHealth() {
	checker := observability.NewHealthChecker(s.opts.DB, s.opts.Redis)

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", checker.Liveness)
	healthMux.HandleFunc("/readyz", checker.Readiness)
	if s.opts.Registry != nil {
		healthMux.Handle("/metrics", observability.Handler(s.opts.Registry))
	}
	s.health = healthMux
}

// Handler returns the public handler, exposed for tests
func (s *Server) Handler() http.Handler {
	return s.handler
}

// HealthHandler returns the probe/metrics handler, exposed for tests
func (s *Server) HealthHandler() http.Handler {
	return s.health
}

// Run serves the public and health listeners until ctx is cancelled, then
// shuts both down gracefully
func (s *Server) Run(ctx context.Context) error {
	cfg := s.opts.Config.Server

	public := &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:      s.handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	health := &http.Server{
		Addr:        net.JoinHostPort(cfg.Host, cfg.HealthPort),
		Handler:     s.health,
		ReadTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.WithField("addr", public.Addr).Info("http server listening")
		if err := public.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		s.logger.WithField("addr", health.Addr).Info("health server listening")
		if err := health.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		s.logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := public.Shutdown(shutdownCtx); err != nil {
			s.logger.WithError(err).Warn("public server shutdown failed")
		}
		if err := health.Shutdown(shutdownCtx); err != nil {
			s.logger.WithError(err).Warn("health server shutdown failed")
		}
		return nil
	})

	return g.Wait()
}
