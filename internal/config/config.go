package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"INFO"`
	StagingDir      string        `envconfig:"STAGING_DIR"`
	PoliteDelay     time.Duration `envconfig:"POLITE_DELAY" default:"100ms"`
	FetchTimeout    time.Duration `envconfig:"FETCH_TIMEOUT" default:"5m"`
	ClientLabel     string        `envconfig:"CLIENT_LABEL" default:"photos-relay/1.0"`
	SessionTTL      time.Duration `envconfig:"SESSION_TTL" default:"24h"`
	CleanupInterval time.Duration `envconfig:"CLEANUP_INTERVAL" default:"10m"`

	DBPath            string   `envconfig:"DB_PATH" default:"sessions.db"`
	DiscordWebhookURL string   `envconfig:"DISCORD_WEBHOOK_URL"`
	AllowedOrigins    []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"http://localhost:5173,http://localhost:3000"`

	Web struct {
		BindAddress     string        `split_words:"true" default:"127.0.0.1:3001"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"10m"`
		IdleTimeout     time.Duration `split_words:"true" default:"60s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}

	Telemetry struct {
		Enabled      bool   `default:"true"`
		ServiceName  string `split_words:"true" default:"photos-relay"`
		OTLPEndpoint string `envconfig:"OTLP_ENDPOINT"`
	}
}

// LoadConfig reads a .env file when present, then environment variables,
// and validates the result.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks values envconfig cannot check on its own.
func (c *Config) Validate() error {
	if !validLogLevel(c.LogLevel) {
		return fmt.Errorf("invalid log level %q, must be one of DEBUG, INFO, WARN, ERROR", c.LogLevel)
	}

	if c.PoliteDelay < 0 {
		return errors.New("POLITE_DELAY cannot be negative")
	}

	if c.FetchTimeout < 0 {
		return errors.New("FETCH_TIMEOUT cannot be negative")
	}

	if c.SessionTTL < 0 {
		return errors.New("SESSION_TTL cannot be negative")
	}

	if c.SessionTTL > 0 && c.CleanupInterval <= 0 {
		return errors.New("CLEANUP_INTERVAL must be positive when SESSION_TTL is set")
	}

	if c.StagingDir != "" {
		info, err := os.Stat(c.StagingDir)
		if err != nil {
			return fmt.Errorf("STAGING_DIR is not accessible: %w", err)
		}

		if !info.IsDir() {
			return fmt.Errorf("STAGING_DIR must be a directory, got file: %s", c.StagingDir)
		}
	}

	if c.DiscordWebhookURL != "" {
		if _, err := url.ParseRequestURI(c.DiscordWebhookURL); err != nil {
			return fmt.Errorf("invalid DISCORD_WEBHOOK_URL: %w", err)
		}
	}

	return nil
}

// StagingRoot is the directory session staging areas are created under.
func (c *Config) StagingRoot() string {
	if c.StagingDir == "" {
		return os.TempDir()
	}

	return c.StagingDir
}

func (c *Config) SlogLevel() slog.Level {
	return parseLevel(c.LogLevel)
}

// PlacementConfig configures the local placement client.
type PlacementConfig struct {
	LogLevel     string        `envconfig:"LOG_LEVEL" default:"INFO"`
	RelayURL     string        `envconfig:"RELAY_URL" default:"http://127.0.0.1:3001"`
	SessionID    string        `envconfig:"SESSION_ID" required:"true"`
	TargetDir    string        `envconfig:"TARGET_DIR" required:"true"`
	PollInterval time.Duration `envconfig:"POLL_INTERVAL" default:"1s"`
	MaxParallel  int           `envconfig:"MAX_PARALLEL" default:"4"`
}

// LoadPlacementConfig reads the placement client configuration.
func LoadPlacementConfig() (*PlacementConfig, error) {
	_ = godotenv.Load()

	var cfg PlacementConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *PlacementConfig) Validate() error {
	if c.SessionID == "" {
		return errors.New("SESSION_ID is required")
	}

	if c.TargetDir == "" {
		return errors.New("TARGET_DIR is required")
	}

	if !validLogLevel(c.LogLevel) {
		return fmt.Errorf("invalid log level %q, must be one of DEBUG, INFO, WARN, ERROR", c.LogLevel)
	}

	u, err := url.Parse(c.RelayURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid RELAY_URL %q", c.RelayURL)
	}

	if c.PollInterval <= 0 {
		return errors.New("POLL_INTERVAL must be positive")
	}

	if c.MaxParallel < 1 {
		return errors.New("MAX_PARALLEL must be at least 1")
	}

	return nil
}

func (c *PlacementConfig) SlogLevel() slog.Level {
	return parseLevel(c.LogLevel)
}

func validLogLevel(level string) bool {
	switch strings.ToUpper(level) {
	case "DEBUG", "INFO", "WARN", "ERROR":
		return true
	default:
		return false
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
