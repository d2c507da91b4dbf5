package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rowmill/rowmill/pkg/export"
	"github.com/rowmill/rowmill/pkg/observability/logger"
)

func TestLoadDefaults(t *testing.T) {
	loader := NewViperLoader("", "ROWMILL")

	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Service.Name != "rowmill" {
		t.Errorf("service.name = %q", cfg.Service.Name)
	}
	if cfg.Logger.Level != "info" || cfg.Logger.Format != "json" {
		t.Errorf("logger defaults = %+v", cfg.Logger)
	}
	if cfg.Database.MaxOpenConns != 25 {
		t.Errorf("database.max_open_conns = %d", cfg.Database.MaxOpenConns)
	}
	if cfg.Queue.WaitTimeSeconds != 20 {
		t.Errorf("queue.wait_time_seconds = %d", cfg.Queue.WaitTimeSeconds)
	}
	if cfg.Export.MaxSyncRows != export.DefaultMaxSyncRows {
		t.Errorf("export.max_sync_rows = %d, want %d", cfg.Export.MaxSyncRows, export.DefaultMaxSyncRows)
	}
}

func TestLoadFromFile(t *testing.T) {
	content := `
service:
  name: orders-api
logger:
  level: debug
database:
  url: postgres://localhost/orders
  query_timeout: 5s
export:
  max_sync_rows: 500
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := NewViperLoader(path, "ROWMILL").Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Service.Name != "orders-api" {
		t.Errorf("service.name = %q", cfg.Service.Name)
	}
	if cfg.Logger.Level != "debug" {
		t.Errorf("logger.level = %q", cfg.Logger.Level)
	}
	if cfg.Database.URL != "postgres://localhost/orders" {
		t.Errorf("database.url = %q", cfg.Database.URL)
	}
	if cfg.Database.QueryTimeout != 5*time.Second {
		t.Errorf("database.query_timeout = %v", cfg.Database.QueryTimeout)
	}
	if cfg.Export.MaxSyncRows != 500 {
		t.Errorf("export.max_sync_rows = %d", cfg.Export.MaxSyncRows)
	}
	// Untouched sections keep their defaults.
	if cfg.Queue.MaxMessages != 10 {
		t.Errorf("queue.max_messages = %d", cfg.Queue.MaxMessages)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	content := `
database:
  url: postgres://file/db
export:
  max_sync_rows: 500
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("ROWMILL_DATABASE_URL", "postgres://env/db")
	t.Setenv("ROWMILL_EXPORT_MAX_SYNC_ROWS", "2000")
	t.Setenv("ROWMILL_CACHE_ENABLED", "true")
	t.Setenv("ROWMILL_CACHE_URL", "redis://localhost:6379/0")

	cfg, err := NewViperLoader(path, "ROWMILL").Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.URL != "postgres://env/db" {
		t.Errorf("database.url = %q, want env value", cfg.Database.URL)
	}
	if cfg.Export.MaxSyncRows != 2000 {
		t.Errorf("export.max_sync_rows = %d, want 2000", cfg.Export.MaxSyncRows)
	}
	if !cfg.Cache.Enabled || cfg.Cache.URL != "redis://localhost:6379/0" {
		t.Errorf("cache = %+v", cfg.Cache)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := NewViperLoader("/nonexistent/config.yaml", "ROWMILL").Load(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	loader := NewViperLoader("", "ROWMILL")

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:    "empty service name",
			mutate:  func(c *Config) { c.Service.Name = " " },
			wantErr: "service.name",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logger.Level = "verbose" },
			wantErr: "logger.level",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Logger.Format = "xml" },
			wantErr: "logger.format",
		},
		{
			name:    "idle conns exceed open conns",
			mutate:  func(c *Config) { c.Database.MaxIdleConns = 100 },
			wantErr: "max_idle_conns",
		},
		{
			name:    "wait time out of range",
			mutate:  func(c *Config) { c.Queue.WaitTimeSeconds = 30 },
			wantErr: "wait_time_seconds",
		},
		{
			name:    "cache enabled without url",
			mutate:  func(c *Config) { c.Cache.Enabled = true },
			wantErr: "cache.url",
		},
		{
			name:    "zero sync threshold",
			mutate:  func(c *Config) { c.Export.MaxSyncRows = 0 },
			wantErr: "max_sync_rows",
		},
		{
			name:    "tracing enabled without endpoint",
			mutate:  func(c *Config) { c.Tracing.Enabled = true },
			wantErr: "tracing.endpoint",
		},
		{
			name:    "sample rate out of range",
			mutate:  func(c *Config) { c.Tracing.SampleRate = 2 },
			wantErr: "sample_rate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := loader.Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestOptionConversions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Database.URL = "postgres://localhost/rowmill"
	cfg.Queue.QueueURL = "https://sqs.us-east-1.amazonaws.com/1/exports"
	cfg.Storage.Bucket = "rowmill-exports"
	cfg.Logger.Level = "warn"

	if got := cfg.DatabaseOptions(); got.URL != cfg.Database.URL || got.MaxOpenConns != 25 {
		t.Errorf("DatabaseOptions() = %+v", got)
	}
	if got := cfg.QueueOptions(); got.QueueURL != cfg.Queue.QueueURL || got.WaitTimeSeconds != 20 {
		t.Errorf("QueueOptions() = %+v", got)
	}
	if got := cfg.StorageOptions(); got.Bucket != "rowmill-exports" {
		t.Errorf("StorageOptions() = %+v", got)
	}
	if got := cfg.LoggerOptions(); got.Level != logger.WarnLevel {
		t.Errorf("LoggerOptions() = %+v", got)
	}
	if got := cfg.ExportOptions(); got.MaxSyncRows != export.DefaultMaxSyncRows {
		t.Errorf("ExportOptions() = %+v", got)
	}
	if got := cfg.TracingOptions("1.2.3"); got.ServiceName != "rowmill" || got.ServiceVersion != "1.2.3" {
		t.Errorf("TracingOptions() = %+v", got)
	}
}
