package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/shelfhq/shelf/pkg/api"
	"github.com/shelfhq/shelf/pkg/config"
	"github.com/shelfhq/shelf/pkg/libraries"
	"github.com/shelfhq/shelf/pkg/observability"
	"github.com/shelfhq/shelf/pkg/session"
	"github.com/shelfhq/shelf/pkg/sso"
	"github.com/shelfhq/shelf/pkg/storage"
	"github.com/shelfhq/shelf/pkg/users"
)

func main() {
	// logrus covers the window before the structured logger exists
	startup := logrus.New()

	cfg, err := config.LoadConfig()
	if err != nil {
		startup.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(observability.ParseLogLevel(cfg.Log.Level), os.Stdout)
	logger.WithField("port", cfg.Server.Port).Info("starting shelf")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.OTel.Enabled,
		Endpoint:       cfg.OTel.Endpoint,
		ServiceName:    cfg.OTel.ServiceName,
		ServiceVersion: cfg.OTel.ServiceVersion,
		Insecure:       cfg.OTel.Insecure,
	}, logger)
	if err != nil {
		startup.Fatalf("Failed to initialize OpenTelemetry: %v", err)
	}
	if otelProviders != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := observability.ShutdownOTel(shutdownCtx, otelProviders, logger); err != nil {
				logger.WithError(err).Warn("OpenTelemetry shutdown failed")
			}
		}()
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		startup.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	userStore := users.NewStore(db)
	if err := userStore.InitSchema(ctx); err != nil {
		startup.Fatalf("Failed to initialize users schema: %v", err)
	}
	libStore := libraries.NewStore(db)
	if err := libStore.InitSchema(ctx); err != nil {
		startup.Fatalf("Failed to initialize libraries schema: %v", err)
	}
	if err := ensureDefaultRepo(ctx, libStore, logger); err != nil {
		startup.Fatalf("Failed to bootstrap default repo: %v", err)
	}

	var redisClient *redis.Client
	var sessions session.Store
	var memSessions *session.MemoryStore
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			startup.Fatalf("Invalid redis URL: %v", err)
		}
		if cfg.Redis.Password != "" {
			opts.Password = cfg.Redis.Password
		}
		if cfg.Redis.DB != 0 {
			opts.DB = cfg.Redis.DB
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
		sessions = session.NewRedisStore(redisClient, cfg.Auth.SessionTTL)
		logger.Info("sessions backed by redis")
	} else {
		memSessions = session.NewMemoryStore(cfg.Auth.SessionTTL)
		sessions = memSessions
		logger.Info("sessions kept in memory")
	}

	manager := libraries.NewManager(libraries.ManagerConfig{
		Store: libStore,
		Factory: libraries.NewBackendFactory(cfg.Storage.LocalRoot, storage.S3Options{
			Endpoint:     cfg.Storage.S3Endpoint,
			Region:       cfg.Storage.S3Region,
			Bucket:       cfg.Storage.S3Bucket,
			AccessKey:    cfg.Storage.S3AccessKey,
			SecretKey:    cfg.Storage.S3SecretKey,
			UsePathStyle: cfg.Storage.S3UsePathStyle,
		}),
		Logger:  logger,
		Metrics: metrics,
	})

	if cfg.Storage.WatchLocal {
		local, err := storage.NewLocalBackend(cfg.Storage.LocalRoot)
		if err != nil {
			startup.Fatalf("Failed to open local storage root: %v", err)
		}
		watcher, err := storage.NewWatcher(local, logger, func(string) {
			manager.InvalidateAllListings()
		})
		if err != nil {
			startup.Fatalf("Failed to start storage watcher: %v", err)
		}
		defer watcher.Close()
		logger.WithField("root", cfg.Storage.LocalRoot).Info("watching local storage for changes")
	}

	resolver := users.NewResolver(userStore, !cfg.Auth.DisableRegistration, logger)

	var ssoManager *sso.Manager
	if cfg.Auth.OIDC.Enabled {
		factory := sso.NewClientFactory(sso.Options{
			IssuerURL:        cfg.Auth.OIDC.IssuerURL,
			ClientID:         cfg.Auth.OIDC.ClientID,
			ClientSecret:     cfg.Auth.OIDC.ClientSecret,
			Scopes:           cfg.Auth.OIDC.Scopes,
			RedirectURL:      cfg.Server.RedirectURL(),
			PublicOrigin:     cfg.Server.PublicURL,
			DevProxyURL:      cfg.Auth.OIDC.DevProxyURL,
			DevProxyInsecure: cfg.Auth.OIDC.DevProxyInsecure,
		}, logger)
		pending := sso.NewPendingCache(cfg.Auth.OIDC.PendingCapacity, cfg.Auth.OIDC.PendingTTL)
		ssoManager = sso.NewManager(factory, pending, logger, metrics)
		logger.WithField("issuer", cfg.Auth.OIDC.IssuerURL).Info("single sign-on enabled")
	}

	ssoHandlers := sso.NewHandlers(sso.HandlerConfig{
		Manager:       ssoManager,
		Resolver:      resolver,
		Sessions:      sessions,
		Logger:        logger,
		Metrics:       metrics,
		FlowTTL:       cfg.Auth.OIDC.PendingTTL,
		SessionTTL:    cfg.Auth.SessionTTL,
		SecureCookies: strings.HasPrefix(cfg.Server.PublicURL, "https://"),
	})

	jobs := cron.New()
	if memSessions != nil {
		jobs.AddFunc("@every 1m", func() {
			metrics.SessionsActive.Set(float64(memSessions.Sweep()))
		})
	}
	jobs.Start()
	defer jobs.Stop()

	server := api.NewServer(api.Options{
		Config:    cfg,
		Logger:    logger,
		Metrics:   metrics,
		Registry:  registry,
		DB:        db,
		Redis:     redisClient,
		Sessions:  sessions,
		Users:     userStore,
		SSO:       ssoHandlers,
		Libraries: libraries.NewHandlers(manager, logger),
	})

	if err := server.Run(ctx); err != nil {
		startup.Fatalf("Server exited with error: %v", err)
	}
	logger.Info("shutdown complete")
}

// ensureDefaultRepo creates a local "main" repo on first boot so libraries
// can be created before any repos are configured
func ensureDefaultRepo(ctx context.Context, store *libraries.Store, logger *observability.Logger) error {
	repos, err := store.ListRepos(ctx)
	if err != nil {
		return err
	}
	if len(repos) > 0 {
		return nil
	}

	repo := &libraries.Repo{Name: "main", Kind: libraries.RepoKindLocal, Path: "main"}
	if err := store.CreateRepo(ctx, repo); err != nil {
		return err
	}
	logger.WithField("repo_id", repo.ID).Info("created default local repo")
	return nil
}

// openDatabase connects with the configured driver and pool limits
func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	if cfg.Database.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.Database.MaxConns)
	}
	if cfg.Database.MinConns > 0 {
		db.SetMaxIdleConns(cfg.Database.MinConns)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Database.Timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
