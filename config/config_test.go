package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const minimalYAML = `
marketpulse:
  name: marketpulse
  version: "0.0.1"
channels:
  raw_buffer: 128
streams:
  symbols: [BTCUSDT, ETHUSDT]
storage:
  postgres:
    host: localhost
    database: marketpulse
`

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeTempConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Streams.ReadTimeout != 60*time.Second {
		t.Errorf("read_timeout = %v, want 60s", cfg.Streams.ReadTimeout)
	}
	if cfg.Streams.Retry.BaseDelay != 5*time.Second {
		t.Errorf("base_delay = %v, want 5s", cfg.Streams.Retry.BaseDelay)
	}
	if cfg.Trackers.Liquidations.BufferSize != 1000 {
		t.Errorf("liquidation buffer = %d, want 1000", cfg.Trackers.Liquidations.BufferSize)
	}
	if cfg.Ingest.Retention.LiquidationDays != 90 {
		t.Errorf("liquidation retention = %d, want 90", cfg.Ingest.Retention.LiquidationDays)
	}
	if cfg.Fallback.Enabled {
		t.Error("fallback must default to disabled")
	}
	if cfg.Fallback.Force {
		t.Error("fallback force must default to disabled")
	}
}

func TestLoadConfigMissingName(t *testing.T) {
	body := `
marketpulse:
  version: "0.0.1"
channels:
  raw_buffer: 1
streams:
  symbols: [BTCUSDT]
storage:
  postgres:
    host: localhost
    database: db
`
	if _, err := LoadConfig(writeTempConfig(t, body)); err == nil {
		t.Fatal("expected validation error for missing name")
	}
}

func TestLoadConfigEnvSubstitution(t *testing.T) {
	t.Setenv("MP_TEST_HOST", "db.internal")
	body := `
marketpulse:
  name: marketpulse
  version: "0.0.1"
channels:
  raw_buffer: 16
streams:
  symbols: [BTCUSDT]
storage:
  postgres:
    host: ${MP_TEST_HOST:localhost}
    database: ${MP_TEST_DB:marketpulse}
`
	cfg, err := LoadConfig(writeTempConfig(t, body))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Postgres.Host != "db.internal" {
		t.Errorf("host = %q, want db.internal", cfg.Storage.Postgres.Host)
	}
	if cfg.Storage.Postgres.Database != "marketpulse" {
		t.Errorf("database = %q, want default marketpulse", cfg.Storage.Postgres.Database)
	}
}

func TestLoadConfigBadRetry(t *testing.T) {
	body := `
marketpulse:
  name: marketpulse
  version: "0.0.1"
channels:
  raw_buffer: 128
streams:
  symbols: [BTCUSDT]
  retry:
    base_delay: 10s
    max_delay: 1s
    backoff_multiplier: 2
storage:
  postgres:
    host: localhost
    database: marketpulse
`
	// max_delay below base_delay must be rejected
	if _, err := LoadConfig(writeTempConfig(t, body)); err == nil {
		t.Fatal("expected validation error for max_delay < base_delay")
	}
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{Host: "h", Port: 5432, User: "u", Password: "p", Database: "d", SSLMode: "disable"}
	want := "host=h port=5432 user=u password=p dbname=d sslmode=disable"
	if got := p.DSN(); got != want {
		t.Fatalf("DSN = %q, want %q", got, want)
	}
}
