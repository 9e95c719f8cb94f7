package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/smtp"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/supplyline/supplyline/internal/app"
	jobmetrics "github.com/supplyline/supplyline/internal/jobs"
	"github.com/supplyline/supplyline/jobs"
)

type config struct {
	RedisAddr   string `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`
	Concurrency int    `envconfig:"WORKER_CONCURRENCY" default:"5"`
	MetricsAddr string `envconfig:"WORKER_METRICS_ADDR" default:":9091"`

	SMTPAddr     string `envconfig:"SMTP_ADDR"`
	SMTPFrom     string `envconfig:"SMTP_FROM" default:"no-reply@supplyline.local"`
	SMTPUsername string `envconfig:"SMTP_USERNAME"`
	SMTPPassword string `envconfig:"SMTP_PASSWORD"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
}

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}
	os.Exit(run())
}

// run returns the exit code so deferred cleanup runs before the process exits.
func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cfg config
	if err := envconfig.Process("", &cfg); err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		return 1
	}

	logger := app.NewLogger(&app.Config{LogFormat: cfg.LogFormat, LogLevel: cfg.LogLevel})

	var sender jobs.Sender = jobs.LogSender{Logger: logger}
	if cfg.SMTPAddr != "" {
		smtpSender := jobs.SMTPSender{Addr: cfg.SMTPAddr, From: cfg.SMTPFrom}
		if cfg.SMTPUsername != "" {
			host, _, err := net.SplitHostPort(cfg.SMTPAddr)
			if err != nil {
				host = cfg.SMTPAddr
			}
			smtpSender.Auth = smtp.PlainAuth("", cfg.SMTPUsername, cfg.SMTPPassword, host)
		}
		sender = smtpSender
		logger.Info("delivering mail over smtp", slog.String("addr", cfg.SMTPAddr))
	} else {
		logger.Warn("SMTP_ADDR not set, verification mails are logged only")
	}

	registry := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(registry)
	if cfg.MetricsAddr != "" {
		metricsServer := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("worker metrics server", slog.Any("error", err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.Concurrency,
		Metrics:     metrics,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeSendVerification, Handler: jobs.HandleVerificationTask(sender, metrics, logger, time.Now)},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		return 1
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		return 1
	}
	return 0
}
