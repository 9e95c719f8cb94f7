// Command authserver runs the development auth backend that the console and
// scmctl authenticate against.
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

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hibiken/asynq"

	"github.com/supplyline/supplyline/internal/app"
	"github.com/supplyline/supplyline/internal/authserver"
	"github.com/supplyline/supplyline/internal/platform/db"
	"github.com/supplyline/supplyline/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping auth backend startup")
		return
	}
	os.Exit(run())
}

// run returns the exit code so deferred cleanup runs before the process exits.
func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := authserver.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		return 1
	}

	logger := app.NewLogger(&app.Config{LogFormat: cfg.LogFormat, LogLevel: cfg.LogLevel})

	var repo authserver.Repository
	if cfg.PGDSN != "" {
		pool, err := db.New(ctx, db.Config{DSN: cfg.PGDSN})
		if err != nil {
			logger.Error("connect database", slog.Any("error", err))
			return 1
		}
		defer pool.Close()
		pgRepo := authserver.NewRepository(pool)
		if err := pgRepo.Migrate(ctx); err != nil {
			logger.Error("migrate accounts", slog.Any("error", err))
			return 1
		}
		repo = pgRepo
	} else {
		logger.Warn("PG_DSN not set, accounts are kept in memory")
		repo = authserver.NewMemoryRepository()
	}

	tokens, err := authserver.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		logger.Error("init token issuer", slog.Any("error", err))
		return 1
	}

	router := chi.NewRouter()
	router.Use(chimw.RealIP, chimw.RequestID, chimw.Recoverer, chimw.Logger)

	var mailer authserver.Mailer
	if cfg.RedisAddr != "" {
		redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
		client := jobs.NewClient(redisOpts)
		defer func() {
			if err := client.Close(); err != nil {
				logger.Warn("jobs client close", slog.Any("error", err))
			}
		}()
		inspector := asynq.NewInspector(redisOpts)
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
		router.Route("/jobs", jobs.NewHandler(inspector, logger).MountRoutes)
		mailer = client
	}

	service := authserver.NewService(repo, tokens, mailer, authserver.ServiceConfig{
		VerificationTTL: cfg.VerificationTTL,
		Logger:          logger,
	})
	if cfg.BootstrapAdminEmail != "" {
		if err := service.EnsureAdmin(ctx, cfg.BootstrapAdminEmail, cfg.BootstrapAdminPassword); err != nil {
			logger.Error("bootstrap admin", slog.Any("error", err))
			return 1
		}
	}

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	authserver.NewHandler(logger, service, cfg.LoginPerMinute).MountRoutes(router)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting auth backend", slog.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
		return 1
	}
	return 0
}
