// Package config loads application configuration from an optional YAML file
// with environment variable overrides. Env vars use double underscores as
// section separators, e.g. DATABASE__MAX_OPEN_CONNS=10 sets
// database.max_open_conns.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Database      DatabaseConfig      `koanf:"database"`
	Log           LogConfig           `koanf:"log"`
	JWT           JWTConfig           `koanf:"jwt"`
	CORS          CORSConfig          `koanf:"cors"`
	Ingest        IngestConfig        `koanf:"ingest"`
	Escalation    EscalationConfig    `koanf:"escalation"`
	SLA           SLAConfig           `koanf:"sla"`
	Notifications NotificationsConfig `koanf:"notifications"`
}

// ServerConfig configures the HTTP listeners.
type ServerConfig struct {
	Host         string        `koanf:"host"`
	Port         string        `koanf:"port"`
	MetricsPort  string        `koanf:"metrics_port"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// DatabaseConfig configures the PostgreSQL pool and migrations.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	ConnectAttempts int           `koanf:"connect_attempts"`
	MigrationsPath  string        `koanf:"migrations_path"`
}

// LogConfig configures slog output.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// JWTConfig configures operator API tokens.
type JWTConfig struct {
	SecretKey           string        `koanf:"secret_key"`
	AccessTokenDuration time.Duration `koanf:"access_token_duration"`
}

// CORSConfig configures cross-origin access for the operator API.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// IngestConfig configures the public events API.
type IngestConfig struct {
	RateLimitPerMinute int           `koanf:"rate_limit_per_minute"`
	RateLimitBurst     int           `koanf:"rate_limit_burst"`
	ReopenWindow       time.Duration `koanf:"reopen_window"`
}

// EscalationConfig configures the escalation scheduler sweep.
type EscalationConfig struct {
	Enabled         bool          `koanf:"enabled"`
	SweepInterval   time.Duration `koanf:"sweep_interval"`
	NumWorkers      int           `koanf:"num_workers"`
	BatchSize       int           `koanf:"batch_size"`
	StaleClaimAfter time.Duration `koanf:"stale_claim_after"`
}

// SLAConfig configures the SLA breach monitor sweep.
type SLAConfig struct {
	Enabled              bool          `koanf:"enabled"`
	SweepInterval        time.Duration `koanf:"sweep_interval"`
	AckWarningWindow     time.Duration `koanf:"ack_warning_window"`
	ResolveWarningWindow time.Duration `koanf:"resolve_warning_window"`
}

// NotificationsConfig configures the dispatcher and channel senders.
type NotificationsConfig struct {
	Enabled            bool           `koanf:"enabled"`
	RateLimitPerMinute int            `koanf:"rate_limit_per_minute"`
	RateLimitBurst     int            `koanf:"rate_limit_burst"`
	Retry              RetryConfig    `koanf:"retry"`
	Email              EmailConfig    `koanf:"email"`
	Webhook            WebhookConfig  `koanf:"webhook"`
	Chat               ChatConfig     `koanf:"chat"`
	SMS                ProviderConfig `koanf:"sms"`
	Push               ProviderConfig `koanf:"push"`
	WhatsApp           ProviderConfig `koanf:"whatsapp"`
}

// RetryConfig bounds delivery retries.
type RetryConfig struct {
	MaxAttempts  int           `koanf:"max_attempts"`
	InitialDelay time.Duration `koanf:"initial_delay"`
	MaxDelay     time.Duration `koanf:"max_delay"`
	Multiplier   float64       `koanf:"multiplier"`
}

// EmailConfig configures the SMTP sender.
type EmailConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	From     string `koanf:"from"`
	UseTLS   bool   `koanf:"use_tls"`
}

// WebhookConfig configures the outbound webhook sender.
type WebhookConfig struct {
	Enabled bool          `koanf:"enabled"`
	Timeout time.Duration `koanf:"timeout"`
}

// ChatConfig configures the chat webhook sender.
type ChatConfig struct {
	Enabled    bool          `koanf:"enabled"`
	WebhookURL string        `koanf:"webhook_url"`
	Timeout    time.Duration `koanf:"timeout"`
}

// ProviderConfig is the shape shared by external delivery providers that are
// integrated behind a feature flag.
type ProviderConfig struct {
	Enabled    bool   `koanf:"enabled"`
	GatewayURL string `koanf:"gateway_url"`
	APIKey     string `koanf:"api_key"`
	From       string `koanf:"from"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"server.host":          "0.0.0.0",
		"server.port":          "8080",
		"server.metrics_port":  "9090",
		"server.read_timeout":  "15s",
		"server.write_timeout": "15s",

		"database.max_open_conns":    10,
		"database.max_idle_conns":    2,
		"database.conn_max_lifetime": "30m",
		"database.connect_timeout":   "30s",
		"database.connect_attempts":  5,
		"database.migrations_path":   "migrations",

		"log.level":  "info",
		"log.format": "json",

		"jwt.access_token_duration": "15m",

		"cors.allowed_origins": []string{},

		"ingest.rate_limit_per_minute": 120,
		"ingest.rate_limit_burst":      20,
		"ingest.reopen_window":         "30m",

		"escalation.enabled":           true,
		"escalation.sweep_interval":    "30s",
		"escalation.num_workers":       4,
		"escalation.batch_size":        100,
		"escalation.stale_claim_after": "5m",

		"sla.enabled":                true,
		"sla.sweep_interval":         "1m",
		"sla.ack_warning_window":     "5m",
		"sla.resolve_warning_window": "15m",

		"notifications.enabled":               true,
		"notifications.rate_limit_per_minute": 60,
		"notifications.rate_limit_burst":      10,
		"notifications.retry.max_attempts":    3,
		"notifications.retry.initial_delay":   "1s",
		"notifications.retry.max_delay":       "30s",
		"notifications.retry.multiplier":      2.0,
		"notifications.webhook.timeout":       "10s",
		"notifications.chat.timeout":          "10s",
	}
}

// Load reads configuration from the given YAML file (skipped when path is
// empty or the file does not exist) and applies environment overrides.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load config file %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps DATABASE__MAX_OPEN_CONNS to database.max_open_conns. Variables
// without a section separator are ignored so unrelated environment noise
// (PATH, HOME) never leaks into the config tree.
func envKey(s string) string {
	if !strings.Contains(s, "__") {
		return ""
	}
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if c.JWT.SecretKey == "" {
		return errors.New("jwt.secret_key is required")
	}
	if c.Escalation.NumWorkers < 1 {
		return errors.New("escalation.num_workers must be at least 1")
	}
	if c.Notifications.Retry.MaxAttempts < 1 {
		return errors.New("notifications.retry.max_attempts must be at least 1")
	}
	return nil
}
