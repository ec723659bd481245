package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config application configuration
type Config struct {
	// Database
	DatabasePath string `env:"DATABASE_PATH" envDefault:"./data/telebridge.db"`

	// Security: AES-256 key sealing session blobs at rest
	EncryptionKey string `env:"ENCRYPTION_KEY,required"`

	// Scheduler
	PollInterval         time.Duration `env:"POLL_INTERVAL" envDefault:"1m"`
	StatusStaleAfter     time.Duration `env:"STATUS_STALE_AFTER" envDefault:"15m"`
	ValidationStaleAfter time.Duration `env:"VALIDATION_STALE_AFTER" envDefault:"6h"`
	Workers              int           `env:"WORKERS" envDefault:"4"`

	// Platform calls
	CallTimeout time.Duration `env:"CALL_TIMEOUT" envDefault:"30s"`
	FetchLimit  int           `env:"FETCH_LIMIT" envDefault:"100"`

	// Per-account outgoing message rate
	SendRate  float64 `env:"SEND_RATE" envDefault:"1"` // messages per second
	SendBurst int     `env:"SEND_BURST" envDefault:"3"`

	// Retry backoff
	BackoffBase time.Duration `env:"BACKOFF_BASE" envDefault:"500ms"`
	BackoffMax  time.Duration `env:"BACKOFF_MAX" envDefault:"30s"`

	// SMTP relay for email targets (optional)
	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	SMTPFrom     string `env:"SMTP_FROM"`

	// Operator notifications via bot (optional)
	NotifyBotToken string `env:"NOTIFY_BOT_TOKEN"`
	NotifyChatID   int64  `env:"NOTIFY_CHAT_ID"`

	// Metrics endpoint (optional), e.g. ":9090"
	MetricsAddr string `env:"METRICS_ADDR"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"` // "json" or "text"
}

// SMTPEnabled returns true if an SMTP relay is configured
func (c *Config) SMTPEnabled() bool {
	return c.SMTPHost != "" && c.SMTPFrom != ""
}

// NotifyEnabled returns true if operator notifications are configured
func (c *Config) NotifyEnabled() bool {
	return c.NotifyBotToken != "" && c.NotifyChatID != 0
}

// MetricsEnabled returns true if the metrics endpoint is configured
func (c *Config) MetricsEnabled() bool {
	return c.MetricsAddr != ""
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Validate encryption key length (32 bytes for AES-256)
	if len(cfg.EncryptionKey) != 32 {
		return nil, fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes, got %d", len(cfg.EncryptionKey))
	}

	return cfg, nil
}
