package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/urfave/cli/v3"
	"golang.org/x/time/rate"

	"github.com/telebridge/telebridge/internal/config"
	"github.com/telebridge/telebridge/internal/database"
	"github.com/telebridge/telebridge/internal/email"
	"github.com/telebridge/telebridge/internal/forward"
	"github.com/telebridge/telebridge/internal/metrics"
	"github.com/telebridge/telebridge/internal/notify"
	"github.com/telebridge/telebridge/internal/session"
	"github.com/telebridge/telebridge/internal/telegram"
	"github.com/telebridge/telebridge/internal/validate"
)

func main() {
	app := &cli.Command{
		Name:     "telebridge",
		Usage:    "Forward messages from Telegram channels to other channels or email",
		Version:  "1.0.0",
		Commands: commands(),
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// app bundles the wired services behind every command.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	db        *database.DB
	pool      *telegram.Pool
	sessions  *session.Manager
	srcValid  *validate.SourceValidator
	tgtValid  *validate.TargetValidator
	engine    *forward.Engine
	notifier  *notify.Notifier
	collector *metrics.Collector
}

// newApp loads configuration, opens the database and wires the services.
// The returned cleanup closes the database.
func newApp(ctx context.Context) (*app, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)

	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}

	factory := telegram.NewGotdFactory(db, []byte(cfg.EncryptionKey))
	pool := telegram.NewPool(factory, rate.Limit(cfg.SendRate), cfg.SendBurst, logger)

	var notifier *notify.Notifier
	if cfg.NotifyEnabled() {
		notifier, err = notify.New(cfg.NotifyBotToken, cfg.NotifyChatID, logger)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		logger.Info("operator notifications enabled", "chat_id", cfg.NotifyChatID)
	}

	var collector *metrics.Collector
	if cfg.MetricsEnabled() {
		collector, err = metrics.NewCollector()
		if err != nil {
			db.Close()
			return nil, nil, err
		}
	}

	var mailer email.Sender
	if cfg.SMTPEnabled() {
		mailer = email.NewSMTPSender(email.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			Timeout:  cfg.CallTimeout,
		}, logger)
		logger.Info("smtp relay enabled", "host", cfg.SMTPHost)
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		pool:     pool,
		sessions: session.NewManager(db, pool, cfg.CallTimeout, logger),
		srcValid: validate.NewSourceValidator(db, pool, cfg.CallTimeout, logger),
		tgtValid: validate.NewTargetValidator(db, pool, cfg.CallTimeout, logger),
		engine: forward.NewEngine(db, pool, mailer, notifier, collector, forward.Config{
			FetchLimit:  cfg.FetchLimit,
			CallTimeout: cfg.CallTimeout,
			BackoffBase: cfg.BackoffBase,
			BackoffMax:  cfg.BackoffMax,
		}, logger),
		notifier:  notifier,
		collector: collector,
	}
	return a, func() { db.Close() }, nil
}

func setupLogger(level, format string) *slog.Logger {
	var handler slog.Handler
	logLevel := parseLevel(level)

	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: logLevel,
		})
	} else {
		// Pretty colored output for console
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.DateTime,
			NoColor:    false,
		})
	}

	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
