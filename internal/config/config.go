// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Forwarder backends.
const (
	ForwarderRedis   = "redis"
	ForwarderKafka   = "kafka"
	ForwarderWebhook = "webhook"
)

// ErrDatabaseURLRequired is returned by LoadWorker when DATABASE_URL is unset.
var ErrDatabaseURLRequired = errors.New("DATABASE_URL is required")

// Config holds all application configuration.
// All fields are populated from environment variables.
type Config struct {
	// Application settings
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort int    `env:"APP_PORT" envDefault:"8080"`

	// Redis backs the rate limiter and the default event stream.
	RedisURL string `env:"REDIS_URL,required,notEmpty"`

	// Database (PostgreSQL). Only the worker needs it; the API serves
	// daily stats when it is set.
	DatabaseURL string `env:"DATABASE_URL"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Server timeouts
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Rate limiting
	RateLimitEnabled        bool          `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	RateLimitTrackWindow    time.Duration `env:"RATE_LIMIT_TRACK_WINDOW" envDefault:"1m"`
	RateLimitTrackMax       int           `env:"RATE_LIMIT_TRACK_MAX" envDefault:"1000"`
	RateLimitTrackPerTenant bool          `env:"RATE_LIMIT_TRACK_PER_TENANT" envDefault:"false"`
	RateLimitAPIWindow      time.Duration `env:"RATE_LIMIT_API_WINDOW" envDefault:"15m"`
	RateLimitAPIMax         int           `env:"RATE_LIMIT_API_MAX" envDefault:"100"`

	// Public URLs
	FrontendURL string `env:"FRONTEND_URL" envDefault:"http://localhost:3000"`
	APIURL      string `env:"API_URL" envDefault:"http://localhost:8080"`

	// CORS configuration for the admin API. Tracking routes accept any origin.
	// Comma-separated list of allowed origins (e.g., "https://example.com,https://app.example.com")
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:""`

	// Request body size limit in bytes (default 1MB)
	MaxRequestBodySize int64 `env:"MAX_REQUEST_BODY_SIZE" envDefault:"1048576"`

	// Downstream forwarding
	ForwarderBackend string        `env:"FORWARDER_BACKEND" envDefault:"redis"`
	KafkaBrokers     []string      `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	KafkaTopic       string        `env:"KAFKA_TOPIC" envDefault:"beacon.events"`
	ForwardTimeout   time.Duration `env:"FORWARD_TIMEOUT" envDefault:"500ms"`
	WebhookURL       string        `env:"WEBHOOK_URL"`
	WebhookSecret    string        `env:"WEBHOOK_SECRET"`

	// Argon2id hash of the admin bearer token. Empty disables the admin API.
	AdminTokenHash string `env:"ADMIN_TOKEN_HASH"`

	// Cache lifetime of /tracker.js in seconds.
	TrackerScriptMaxAge int `env:"TRACKER_SCRIPT_MAX_AGE" envDefault:"3600"`

	// Worker
	WorkerBatchSize int `env:"WORKER_BATCH_SIZE" envDefault:"500"`
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// AdminEnabled reports whether an admin token hash is configured.
func (c *Config) AdminEnabled() bool {
	return c.AdminTokenHash != ""
}

// GetCORSAllowedOrigins parses the comma-separated origins string into a slice.
// The frontend URL is always allowed.
func (c *Config) GetCORSAllowedOrigins() []string {
	result := make([]string, 0, 4)
	seen := make(map[string]bool)
	add := func(origin string) {
		trimmed := strings.TrimRight(strings.TrimSpace(origin), "/")
		if trimmed != "" && !seen[trimmed] {
			seen[trimmed] = true
			result = append(result, trimmed)
		}
	}

	add(c.FrontendURL)
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		add(origin)
	}

	return result
}

// Validate checks values env tags cannot express.
func (c *Config) Validate() error {
	switch c.ForwarderBackend {
	case ForwarderRedis:
	case ForwarderKafka:
		if len(c.KafkaBrokers) == 0 || c.KafkaTopic == "" {
			return errors.New("KAFKA_BROKERS and KAFKA_TOPIC are required for the kafka forwarder")
		}
	case ForwarderWebhook:
		if c.WebhookURL == "" {
			return errors.New("WEBHOOK_URL is required for the webhook forwarder")
		}
	default:
		return fmt.Errorf("FORWARDER_BACKEND must be one of %q, %q or %q, got %q",
			ForwarderRedis, ForwarderKafka, ForwarderWebhook, c.ForwarderBackend)
	}
	if c.RateLimitTrackWindow <= 0 || c.RateLimitAPIWindow <= 0 {
		return errors.New("rate limit windows must be positive")
	}
	if c.RateLimitTrackMax <= 0 || c.RateLimitAPIMax <= 0 {
		return errors.New("rate limit maxima must be positive")
	}
	if c.MaxRequestBodySize <= 0 {
		return errors.New("MAX_REQUEST_BODY_SIZE must be positive")
	}
	if c.TrackerScriptMaxAge < 0 {
		return errors.New("TRACKER_SCRIPT_MAX_AGE must not be negative")
	}
	return nil
}

// Load parses environment variables and returns a Config.
// Returns an error if required variables are missing.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadWorker is Load plus the worker's DATABASE_URL requirement.
func LoadWorker() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, ErrDatabaseURLRequired
	}
	return cfg, nil
}
