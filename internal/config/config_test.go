package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/xraph/hookrelay"
	"github.com/xraph/hookrelay/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HTTPAddr != ":3000" {
		t.Fatalf("expected :3000, got %q", cfg.HTTPAddr)
	}
	if cfg.Store != config.StoreMemory {
		t.Fatalf("expected memory store, got %q", cfg.Store)
	}
	if cfg.Relay != hookrelay.DefaultConfig() {
		t.Fatalf("expected relay defaults, got %+v", cfg.Relay)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "info" {
		t.Fatalf("unexpected logging config %+v", cfg.Logging)
	}
	if cfg.OTel.Enabled() {
		t.Fatal("otel should be disabled without an endpoint")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("HOOKRELAY_HTTP_ADDR", ":8080")
	t.Setenv("HOOKRELAY_STORE", "Postgres")
	t.Setenv("HOOKRELAY_DATABASE_URL", "postgres://localhost/hookrelay?sslmode=disable")
	t.Setenv("HOOKRELAY_INTERNAL_API_TOKEN", " internal ")
	t.Setenv("HOOKRELAY_ADMIN_API_TOKEN", "admin")
	t.Setenv("HOOKRELAY_CONCURRENCY", "4")
	t.Setenv("HOOKRELAY_BASE_DELAY", "2s")
	t.Setenv("HOOKRELAY_MAX_ATTEMPTS", "3")
	t.Setenv("HOOKRELAY_RATE_LIMIT", "12.5")
	t.Setenv("HOOKRELAY_LOG_FORMAT", "text")
	t.Setenv("HOOKRELAY_OTEL_ENDPOINT", "http://collector:4318/")

	cfg, err := config.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.Store != config.StorePostgres {
		t.Fatalf("unexpected server config %+v", cfg)
	}
	if cfg.InternalToken != "internal" || cfg.AdminToken != "admin" {
		t.Fatal("tokens should be trimmed and loaded")
	}
	if cfg.Relay.Concurrency != 4 || cfg.Relay.MaxAttempts != 3 {
		t.Fatalf("unexpected worker config %+v", cfg.Relay)
	}
	if cfg.Relay.BaseDelay != 2*time.Second {
		t.Fatalf("expected 2s base delay, got %v", cfg.Relay.BaseDelay)
	}
	if cfg.Relay.RateLimit != 12.5 {
		t.Fatalf("expected rate limit 12.5, got %v", cfg.Relay.RateLimit)
	}
	if cfg.Logging.Format != "text" {
		t.Fatalf("expected text format, got %q", cfg.Logging.Format)
	}
	if !cfg.OTel.Enabled() || cfg.OTel.Endpoint != "http://collector:4318" {
		t.Fatalf("unexpected otel config %+v", cfg.OTel)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"unknown store", map[string]string{"HOOKRELAY_STORE": "cassandra"}, "HOOKRELAY_STORE"},
		{"sql store without dsn", map[string]string{"HOOKRELAY_STORE": "sqlite"}, "HOOKRELAY_DATABASE_URL"},
		{"zero concurrency", map[string]string{"HOOKRELAY_CONCURRENCY": "0"}, "HOOKRELAY_CONCURRENCY"},
		{"negative rate", map[string]string{"HOOKRELAY_RATE_LIMIT": "-1"}, "HOOKRELAY_RATE_LIMIT"},
		{"claim below timeout", map[string]string{"HOOKRELAY_CLAIM_TIMEOUT": "1s"}, "HOOKRELAY_CLAIM_TIMEOUT"},
		{"bad log format", map[string]string{"HOOKRELAY_LOG_FORMAT": "xml"}, "HOOKRELAY_LOG_FORMAT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := config.Load()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error mentioning %s, got %v", tt.want, err)
			}
		})
	}
}
