// Package config loads and validates the process configuration with a
// precedence of environment variables over config file over defaults.
package config

import (
	"time"

	"github.com/rowmill/rowmill/pkg/export"
	"github.com/rowmill/rowmill/pkg/observability/logger"
	"github.com/rowmill/rowmill/pkg/observability/tracing"
	"github.com/rowmill/rowmill/pkg/queue"
	"github.com/rowmill/rowmill/pkg/store/postgres"
	"github.com/rowmill/rowmill/pkg/store/redis"
	"github.com/rowmill/rowmill/pkg/store/s3"
)

// Config is the root configuration.
type Config struct {
	Service  ServiceConfig  `mapstructure:"service"`
	Logger   LoggerConfig   `mapstructure:"logger"`
	Database DatabaseConfig `mapstructure:"database"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Export   ExportConfig   `mapstructure:"export"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

// ServiceConfig identifies the running service.
type ServiceConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// LoggerConfig configures structured logging.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DatabaseConfig configures the PostgreSQL pool.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
}

// QueueConfig configures the SQS task queue.
type QueueConfig struct {
	Region            string        `mapstructure:"region"`
	QueueURL          string        `mapstructure:"queue_url"`
	Endpoint          string        `mapstructure:"endpoint"`
	AccessKeyID       string        `mapstructure:"access_key_id"`
	SecretAccessKey   string        `mapstructure:"secret_access_key"`
	SessionToken      string        `mapstructure:"session_token"`
	OperationTimeout  time.Duration `mapstructure:"operation_timeout"`
	WaitTimeSeconds   int32         `mapstructure:"wait_time_seconds"`
	MaxMessages       int32         `mapstructure:"max_messages"`
	VisibilityTimeout int32         `mapstructure:"visibility_timeout"`
}

// StorageConfig configures the S3 artifact store.
type StorageConfig struct {
	Bucket           string        `mapstructure:"bucket"`
	Region           string        `mapstructure:"region"`
	Endpoint         string        `mapstructure:"endpoint"`
	AccessKeyID      string        `mapstructure:"access_key_id"`
	SecretAccessKey  string        `mapstructure:"secret_access_key"`
	SessionToken     string        `mapstructure:"session_token"`
	UsePathStyle     bool          `mapstructure:"use_path_style"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
	PresignExpiry    time.Duration `mapstructure:"presign_expiry"`
}

// CacheConfig configures the Redis status cache.
type CacheConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	URL              string        `mapstructure:"url"`
	MaxConns         int           `mapstructure:"max_conns"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
	StatusTTL        time.Duration `mapstructure:"status_ttl"`
}

// ExportConfig tunes the export orchestrator.
type ExportConfig struct {
	MaxSyncRows int64 `mapstructure:"max_sync_rows"`
}

// TracingConfig configures OpenTelemetry trace export.
type TracingConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	Endpoint   string  `mapstructure:"endpoint"`
	SampleRate float64 `mapstructure:"sample_rate"`
}

// DefaultConfig returns the configuration used when nothing overrides it.
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "rowmill",
			Environment: "development",
		},
		Logger: LoggerConfig{
			Level:  string(logger.InfoLevel),
			Format: string(logger.JSONFormat),
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
			QueryTimeout:    30 * time.Second,
		},
		Queue: QueueConfig{
			Region:            "us-east-1",
			OperationTimeout:  10 * time.Second,
			WaitTimeSeconds:   20,
			MaxMessages:       10,
			VisibilityTimeout: 300,
		},
		Storage: StorageConfig{
			Region:           "us-east-1",
			OperationTimeout: 30 * time.Second,
			PresignExpiry:    15 * time.Minute,
		},
		Cache: CacheConfig{
			Enabled:          false,
			MaxConns:         10,
			OperationTimeout: 3 * time.Second,
			StatusTTL:        export.DefaultStatusTTL,
		},
		Export: ExportConfig{
			MaxSyncRows: export.DefaultMaxSyncRows,
		},
		Tracing: TracingConfig{
			Enabled:    false,
			SampleRate: 0.1,
		},
	}
}

// LoggerOptions converts the section into the logger package's config.
func (c *Config) LoggerOptions() logger.Config {
	cfg := logger.DefaultConfig()
	if level, err := logger.ParseLogLevel(c.Logger.Level); err == nil {
		cfg.Level = level
	}
	if format, err := logger.ParseLogFormat(c.Logger.Format); err == nil {
		cfg.Format = format
	}
	return cfg
}

// DatabaseOptions converts the section into the postgres adapter's config.
func (c *Config) DatabaseOptions() postgres.Config {
	return postgres.Config{
		URL:             c.Database.URL,
		MaxOpenConns:    c.Database.MaxOpenConns,
		MaxIdleConns:    c.Database.MaxIdleConns,
		ConnMaxLifetime: c.Database.ConnMaxLifetime,
		ConnMaxIdleTime: c.Database.ConnMaxIdleTime,
		QueryTimeout:    c.Database.QueryTimeout,
	}
}

// QueueOptions converts the section into the SQS queue's config.
func (c *Config) QueueOptions() queue.SQSConfig {
	return queue.SQSConfig{
		Region:            c.Queue.Region,
		QueueURL:          c.Queue.QueueURL,
		Endpoint:          c.Queue.Endpoint,
		AccessKeyID:       c.Queue.AccessKeyID,
		SecretAccessKey:   c.Queue.SecretAccessKey,
		SessionToken:      c.Queue.SessionToken,
		OperationTimeout:  c.Queue.OperationTimeout,
		WaitTimeSeconds:   c.Queue.WaitTimeSeconds,
		MaxMessages:       c.Queue.MaxMessages,
		VisibilityTimeout: c.Queue.VisibilityTimeout,
	}
}

// StorageOptions converts the section into the S3 adapter's config.
func (c *Config) StorageOptions() s3.Config {
	return s3.Config{
		Bucket:           c.Storage.Bucket,
		Region:           c.Storage.Region,
		Endpoint:         c.Storage.Endpoint,
		AccessKeyID:      c.Storage.AccessKeyID,
		SecretAccessKey:  c.Storage.SecretAccessKey,
		SessionToken:     c.Storage.SessionToken,
		UsePathStyle:     c.Storage.UsePathStyle,
		OperationTimeout: c.Storage.OperationTimeout,
		PresignExpiry:    c.Storage.PresignExpiry,
	}
}

// CacheOptions converts the section into the Redis adapter's config.
func (c *Config) CacheOptions() redis.Config {
	return redis.Config{
		URL:              c.Cache.URL,
		MaxConns:         c.Cache.MaxConns,
		OperationTimeout: c.Cache.OperationTimeout,
	}
}

// ExportOptions converts the section into the orchestrator's config.
func (c *Config) ExportOptions() export.Config {
	return export.Config{
		MaxSyncRows: c.Export.MaxSyncRows,
	}
}

// TracingOptions converts the section into the tracing package's config,
// borrowing the service identity.
func (c *Config) TracingOptions(serviceVersion string) tracing.TracerConfig {
	return tracing.TracerConfig{
		ServiceName:    c.Service.Name,
		ServiceVersion: serviceVersion,
		Environment:    c.Service.Environment,
		Endpoint:       c.Tracing.Endpoint,
		SampleRate:     c.Tracing.SampleRate,
		Enabled:        c.Tracing.Enabled,
	}
}
