// Command scmctl manages a console session from the terminal. The session is
// persisted in a local SQLite database and restored on every invocation.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/kelseyhightower/envconfig"

	"github.com/supplyline/supplyline/cmd/scmctl/cli"
	"github.com/supplyline/supplyline/internal/authclient"
	"github.com/supplyline/supplyline/internal/session"
)

type config struct {
	SessionDB   string `envconfig:"SCMCTL_SESSION_DB"`
	AuthBaseURL string `envconfig:"AUTH_BASE_URL" default:"http://127.0.0.1:8081"`
	Format      string `envconfig:"SCMCTL_OUTPUT" default:"human"`
	Verbose     bool   `envconfig:"SCMCTL_VERBOSE"`
}

func main() {
	os.Exit(run())
}

func run() int {
	var cfg config
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return cli.ExitUsage
	}
	if cfg.SessionDB == "" {
		cfg.SessionDB = defaultSessionDB()
	}

	fs := flag.NewFlagSet("scmctl", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), cli.Usage, "\nflags:\n")
		fs.PrintDefaults()
	}
	fs.StringVar(&cfg.SessionDB, "db", cfg.SessionDB, "session database path")
	fs.StringVar(&cfg.AuthBaseURL, "auth", cfg.AuthBaseURL, "auth backend base URL")
	fs.StringVar(&cfg.Format, "o", cfg.Format, "output format: human, json or yaml")
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "log session events to stderr")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return cli.ExitUsage
	}

	level := slog.LevelWarn
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(filepath.Dir(cfg.SessionDB), 0o700); err != nil {
		logger.Error("create session directory", slog.Any("error", err))
		return cli.ExitFailure
	}
	storage, err := session.NewSQLiteStorage(cfg.SessionDB)
	if err != nil {
		logger.Error("open session database", slog.Any("error", err))
		return cli.ExitFailure
	}
	defer func() {
		if err := storage.Close(); err != nil {
			logger.Warn("close session database", slog.Any("error", err))
		}
	}()
	if err := storage.Migrate(ctx); err != nil {
		logger.Error("migrate session database", slog.Any("error", err))
		return cli.ExitFailure
	}

	store := session.NewStore(storage, session.Options{Logger: logger})
	if err := store.Restore(ctx); err != nil {
		logger.Error("restore session", slog.Any("error", err))
		return cli.ExitFailure
	}

	backend := authclient.New(authclient.DefaultConfig(cfg.AuthBaseURL), nil)
	return cli.New(store, backend).Run(ctx, fs.Args(), cli.Options{Format: cfg.Format})
}

func defaultSessionDB() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "scmctl-session.db"
	}
	return filepath.Join(dir, "supplyline", "session.db")
}
