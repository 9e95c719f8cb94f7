package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/supplyline/supplyline/internal/app"
	"github.com/supplyline/supplyline/internal/authclient"
	"github.com/supplyline/supplyline/internal/console"
	"github.com/supplyline/supplyline/internal/observability"
	"github.com/supplyline/supplyline/internal/platform/cache"
	"github.com/supplyline/supplyline/internal/rbac"
	"github.com/supplyline/supplyline/internal/session"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping console startup")
		return
	}
	os.Exit(run())
}

// run returns the exit code so deferred cleanup runs before the process exits.
func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		return 1
	}

	logger := app.NewLogger(cfg)

	storage, closeStorage, err := openStorage(ctx, cfg, logger)
	if err != nil {
		logger.Error("open session storage", slog.String("backend", cfg.SessionBackend), slog.Any("error", err))
		return 1
	}
	defer closeStorage()

	metrics := observability.NewMetrics()
	store := session.NewStore(storage, session.Options{
		KeyPrefix: cfg.SessionKeyPrefix,
		Logger:    logger,
		Observer:  metrics,
	})
	if err := store.Restore(ctx); err != nil {
		logger.Error("restore session", slog.Any("error", err))
		return 1
	}

	backend := authclient.New(authclient.DefaultConfig(cfg.AuthBaseURL), nil)
	refresher := console.NewRefresher(store, backend, logger)
	consoleHandler := console.NewHandler(logger, store, backend, refresher, metrics)

	proxy, err := console.NewProxy(cfg.APIBaseURL, store, console.DefaultRouteRules(), metrics, logger)
	if err != nil {
		logger.Error("init api proxy", slog.Any("error", err))
		return 1
	}

	rbacMiddleware := rbac.Middleware{Roles: store, Logger: logger}
	permissionsHandler := rbac.NewPermissionsHandler(logger, rbacMiddleware)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		Store:              store,
		ConsoleHandler:     consoleHandler,
		Proxy:              proxy,
		PermissionsHandler: permissionsHandler,
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("session_backend", cfg.SessionBackend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if store.IsAuthenticated() {
			if _, err := refresher.Refresh(gctx); err != nil {
				logger.Warn("initial profile refresh", slog.Any("error", err))
			}
		}
		return refresher.Run(gctx, cfg.ProfileRefreshInterval)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("console stopped", slog.Any("error", err))
		return 1
	}
	return 0
}

func openStorage(ctx context.Context, cfg *app.Config, logger *slog.Logger) (session.Storage, func(), error) {
	switch cfg.SessionBackend {
	case app.SessionBackendRedis:
		client, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr})
		if err != nil {
			return nil, nil, err
		}
		return session.NewRedisStorage(client, "console", cfg.SessionTTL), func() {
			if err := client.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}, nil
	case app.SessionBackendSQLite:
		storage, err := session.NewSQLiteStorage(cfg.SessionSQLitePath)
		if err != nil {
			return nil, nil, err
		}
		if err := storage.Migrate(ctx); err != nil {
			_ = storage.Close()
			return nil, nil, err
		}
		return storage, func() {
			if err := storage.Close(); err != nil {
				logger.Warn("sqlite close", slog.Any("error", err))
			}
		}, nil
	default:
		return session.NewMemoryStorage(), func() {}, nil
	}
}
