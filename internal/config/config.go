// Package config loads relayd settings from the environment.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/xraph/hookrelay"
)

// Store backends the binary can open.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// Config is the full relayd configuration. Relay carries the engine
// settings; the rest configures the process around it.
type Config struct {
	HTTPAddr  string
	Store     string
	DSN       string
	SchemaDir string

	InternalToken string
	AdminToken    string

	Relay   hookrelay.Config
	Logging LoggingConfig
	OTel    OTelConfig
}

// LoggingConfig selects the slog level (debug, info, warn, error) and the
// handler format (text or json).
type LoggingConfig struct {
	Level  string
	Format string
}

// OTelConfig points the OTLP/HTTP trace exporter at a collector. An empty
// Endpoint disables export.
type OTelConfig struct {
	Endpoint    string
	ServiceName string
}

// Enabled reports whether spans are exported.
func (c OTelConfig) Enabled() bool {
	return c.Endpoint != ""
}

// Load reads HOOKRELAY_* variables. Call godotenv first to pick up a .env file.
func Load() (Config, error) {
	return load(viper.New())
}

func load(v *viper.Viper) (Config, error) {
	v.SetEnvPrefix("hookrelay")
	v.AutomaticEnv()

	def := hookrelay.DefaultConfig()
	v.SetDefault("http_addr", ":3000")
	v.SetDefault("store", StoreMemory)
	v.SetDefault("database_url", "")
	v.SetDefault("schema_dir", "")
	v.SetDefault("internal_api_token", "")
	v.SetDefault("admin_api_token", "")
	v.SetDefault("concurrency", def.Concurrency)
	v.SetDefault("poll_interval", def.PollInterval)
	v.SetDefault("batch_size", def.BatchSize)
	v.SetDefault("request_timeout", def.RequestTimeout)
	v.SetDefault("max_attempts", def.MaxAttempts)
	v.SetDefault("base_delay", def.BaseDelay)
	v.SetDefault("claim_timeout", def.ClaimTimeout)
	v.SetDefault("shutdown_timeout", def.ShutdownTimeout)
	v.SetDefault("rate_limit", def.RateLimit)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("otel_endpoint", "")
	v.SetDefault("service_name", "hookrelay")

	store := strings.ToLower(strings.TrimSpace(v.GetString("store")))
	switch store {
	case StoreMemory:
	case StorePostgres, StoreSQLite:
		if strings.TrimSpace(v.GetString("database_url")) == "" {
			return Config{}, fmt.Errorf("HOOKRELAY_DATABASE_URL is required for store %q", store)
		}
	default:
		return Config{}, fmt.Errorf("invalid HOOKRELAY_STORE: %q", store)
	}

	relayCfg := hookrelay.Config{
		Concurrency:     v.GetInt("concurrency"),
		PollInterval:    v.GetDuration("poll_interval"),
		BatchSize:       v.GetInt("batch_size"),
		RequestTimeout:  v.GetDuration("request_timeout"),
		MaxAttempts:     v.GetInt("max_attempts"),
		BaseDelay:       v.GetDuration("base_delay"),
		ClaimTimeout:    v.GetDuration("claim_timeout"),
		ShutdownTimeout: v.GetDuration("shutdown_timeout"),
		RateLimit:       v.GetFloat64("rate_limit"),
	}
	if err := validate(relayCfg); err != nil {
		return Config{}, err
	}

	format := strings.ToLower(strings.TrimSpace(v.GetString("log_format")))
	if format != "json" && format != "text" {
		return Config{}, fmt.Errorf("invalid HOOKRELAY_LOG_FORMAT: %q", format)
	}

	return Config{
		HTTPAddr:      strings.TrimSpace(v.GetString("http_addr")),
		Store:         store,
		DSN:           strings.TrimSpace(v.GetString("database_url")),
		SchemaDir:     strings.TrimSpace(v.GetString("schema_dir")),
		InternalToken: strings.TrimSpace(v.GetString("internal_api_token")),
		AdminToken:    strings.TrimSpace(v.GetString("admin_api_token")),
		Relay:         relayCfg,
		Logging: LoggingConfig{
			Level:  strings.ToLower(strings.TrimSpace(v.GetString("log_level"))),
			Format: format,
		},
		OTel: OTelConfig{
			Endpoint:    strings.TrimRight(strings.TrimSpace(v.GetString("otel_endpoint")), "/"),
			ServiceName: strings.TrimSpace(v.GetString("service_name")),
		},
	}, nil
}

func validate(c hookrelay.Config) error {
	positive := []struct {
		key string
		ok  bool
	}{
		{"CONCURRENCY", c.Concurrency > 0},
		{"POLL_INTERVAL", c.PollInterval > 0},
		{"BATCH_SIZE", c.BatchSize > 0},
		{"REQUEST_TIMEOUT", c.RequestTimeout > 0},
		{"MAX_ATTEMPTS", c.MaxAttempts > 0},
		{"BASE_DELAY", c.BaseDelay > 0},
		{"CLAIM_TIMEOUT", c.ClaimTimeout > 0},
		{"SHUTDOWN_TIMEOUT", c.ShutdownTimeout > 0},
	}
	for _, p := range positive {
		if !p.ok {
			return fmt.Errorf("HOOKRELAY_%s must be positive", p.key)
		}
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("HOOKRELAY_RATE_LIMIT must not be negative")
	}
	// A claim is held only for the send itself, never across a queue or rate wait.
	if c.ClaimTimeout <= c.RequestTimeout {
		return fmt.Errorf("HOOKRELAY_CLAIM_TIMEOUT must exceed HOOKRELAY_REQUEST_TIMEOUT")
	}
	return nil
}

// Options converts the loaded settings into relay options.
func (c Config) Options() []hookrelay.Option {
	return []hookrelay.Option{hookrelay.WithConfig(c.Relay)}
}
