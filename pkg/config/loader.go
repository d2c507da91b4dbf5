package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Loader defines the interface for loading configuration
type Loader interface {
	Load() (*Config, error)
	Validate(*Config) error
}

// ViperLoader implements Loader using Viper for configuration management
type ViperLoader struct {
	configFile string
	envPrefix  string
}

// NewViperLoader creates a new ViperLoader.
// configFile: path to configuration file (optional, can be empty)
// envPrefix: prefix for environment variables (e.g., "ROWMILL")
func NewViperLoader(configFile, envPrefix string) *ViperLoader {
	return &ViperLoader{
		configFile: configFile,
		envPrefix:  envPrefix,
	}
}

// Load loads configuration with precedence: ENV > file > defaults
func (l *ViperLoader) Load() (*Config, error) {
	v := viper.New()

	l.setDefaults(v, DefaultConfig())

	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", l.configFile, err)
		}
	}

	// Environment variables override file config through explicit bindings.
	v.SetEnvPrefix(l.envPrefix)
	l.bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := l.Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// bindEnvVars explicitly binds environment variables for nested structs
func (l *ViperLoader) bindEnvVars(v *viper.Viper) {
	v.BindEnv("service.name", l.prefixedEnv("SERVICE_NAME"))
	v.BindEnv("service.environment", l.prefixedEnv("SERVICE_ENVIRONMENT"), l.prefixedEnv("ENVIRONMENT"))

	v.BindEnv("logger.level", l.prefixedEnv("LOG_LEVEL"))
	v.BindEnv("logger.format", l.prefixedEnv("LOG_FORMAT"))

	v.BindEnv("database.url", l.prefixedEnv("DATABASE_URL"))
	v.BindEnv("database.max_open_conns", l.prefixedEnv("DATABASE_MAX_OPEN_CONNS"))
	v.BindEnv("database.max_idle_conns", l.prefixedEnv("DATABASE_MAX_IDLE_CONNS"))
	v.BindEnv("database.conn_max_lifetime", l.prefixedEnv("DATABASE_CONN_MAX_LIFETIME"))
	v.BindEnv("database.conn_max_idle_time", l.prefixedEnv("DATABASE_CONN_MAX_IDLE_TIME"))
	v.BindEnv("database.query_timeout", l.prefixedEnv("DATABASE_QUERY_TIMEOUT"))

	v.BindEnv("queue.region", l.prefixedEnv("QUEUE_REGION"), l.prefixedEnv("AWS_REGION"))
	v.BindEnv("queue.queue_url", l.prefixedEnv("QUEUE_URL"))
	v.BindEnv("queue.endpoint", l.prefixedEnv("QUEUE_ENDPOINT"))
	v.BindEnv("queue.access_key_id", l.prefixedEnv("QUEUE_ACCESS_KEY_ID"))
	v.BindEnv("queue.secret_access_key", l.prefixedEnv("QUEUE_SECRET_ACCESS_KEY"))
	v.BindEnv("queue.session_token", l.prefixedEnv("QUEUE_SESSION_TOKEN"))
	v.BindEnv("queue.operation_timeout", l.prefixedEnv("QUEUE_OPERATION_TIMEOUT"))
	v.BindEnv("queue.wait_time_seconds", l.prefixedEnv("QUEUE_WAIT_TIME_SECONDS"))
	v.BindEnv("queue.max_messages", l.prefixedEnv("QUEUE_MAX_MESSAGES"))
	v.BindEnv("queue.visibility_timeout", l.prefixedEnv("QUEUE_VISIBILITY_TIMEOUT"))

	v.BindEnv("storage.bucket", l.prefixedEnv("STORAGE_BUCKET"))
	v.BindEnv("storage.region", l.prefixedEnv("STORAGE_REGION"), l.prefixedEnv("AWS_REGION"))
	v.BindEnv("storage.endpoint", l.prefixedEnv("STORAGE_ENDPOINT"))
	v.BindEnv("storage.access_key_id", l.prefixedEnv("STORAGE_ACCESS_KEY_ID"))
	v.BindEnv("storage.secret_access_key", l.prefixedEnv("STORAGE_SECRET_ACCESS_KEY"))
	v.BindEnv("storage.session_token", l.prefixedEnv("STORAGE_SESSION_TOKEN"))
	v.BindEnv("storage.use_path_style", l.prefixedEnv("STORAGE_USE_PATH_STYLE"))
	v.BindEnv("storage.operation_timeout", l.prefixedEnv("STORAGE_OPERATION_TIMEOUT"))
	v.BindEnv("storage.presign_expiry", l.prefixedEnv("STORAGE_PRESIGN_EXPIRY"))

	v.BindEnv("cache.enabled", l.prefixedEnv("CACHE_ENABLED"))
	v.BindEnv("cache.url", l.prefixedEnv("CACHE_URL"), l.prefixedEnv("REDIS_URL"))
	v.BindEnv("cache.max_conns", l.prefixedEnv("CACHE_MAX_CONNS"))
	v.BindEnv("cache.operation_timeout", l.prefixedEnv("CACHE_OPERATION_TIMEOUT"))
	v.BindEnv("cache.status_ttl", l.prefixedEnv("CACHE_STATUS_TTL"))

	v.BindEnv("export.max_sync_rows", l.prefixedEnv("EXPORT_MAX_SYNC_ROWS"))

	v.BindEnv("tracing.enabled", l.prefixedEnv("TRACING_ENABLED"))
	v.BindEnv("tracing.endpoint", l.prefixedEnv("TRACING_ENDPOINT"))
	v.BindEnv("tracing.sample_rate", l.prefixedEnv("TRACING_SAMPLE_RATE"))
}

func (l *ViperLoader) prefixedEnv(name string) string {
	if l.envPrefix == "" {
		return name
	}
	return l.envPrefix + "_" + name
}

// setDefaults seeds viper with the default configuration values
func (l *ViperLoader) setDefaults(v *viper.Viper, defaults *Config) {
	v.SetDefault("service.name", defaults.Service.Name)
	v.SetDefault("service.environment", defaults.Service.Environment)

	v.SetDefault("logger.level", defaults.Logger.Level)
	v.SetDefault("logger.format", defaults.Logger.Format)

	v.SetDefault("database.url", defaults.Database.URL)
	v.SetDefault("database.max_open_conns", defaults.Database.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaults.Database.MaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", defaults.Database.ConnMaxLifetime)
	v.SetDefault("database.conn_max_idle_time", defaults.Database.ConnMaxIdleTime)
	v.SetDefault("database.query_timeout", defaults.Database.QueryTimeout)

	v.SetDefault("queue.region", defaults.Queue.Region)
	v.SetDefault("queue.queue_url", defaults.Queue.QueueURL)
	v.SetDefault("queue.endpoint", defaults.Queue.Endpoint)
	v.SetDefault("queue.operation_timeout", defaults.Queue.OperationTimeout)
	v.SetDefault("queue.wait_time_seconds", defaults.Queue.WaitTimeSeconds)
	v.SetDefault("queue.max_messages", defaults.Queue.MaxMessages)
	v.SetDefault("queue.visibility_timeout", defaults.Queue.VisibilityTimeout)

	v.SetDefault("storage.bucket", defaults.Storage.Bucket)
	v.SetDefault("storage.region", defaults.Storage.Region)
	v.SetDefault("storage.endpoint", defaults.Storage.Endpoint)
	v.SetDefault("storage.use_path_style", defaults.Storage.UsePathStyle)
	v.SetDefault("storage.operation_timeout", defaults.Storage.OperationTimeout)
	v.SetDefault("storage.presign_expiry", defaults.Storage.PresignExpiry)

	v.SetDefault("cache.enabled", defaults.Cache.Enabled)
	v.SetDefault("cache.url", defaults.Cache.URL)
	v.SetDefault("cache.max_conns", defaults.Cache.MaxConns)
	v.SetDefault("cache.operation_timeout", defaults.Cache.OperationTimeout)
	v.SetDefault("cache.status_ttl", defaults.Cache.StatusTTL)

	v.SetDefault("export.max_sync_rows", defaults.Export.MaxSyncRows)

	v.SetDefault("tracing.enabled", defaults.Tracing.Enabled)
	v.SetDefault("tracing.endpoint", defaults.Tracing.Endpoint)
	v.SetDefault("tracing.sample_rate", defaults.Tracing.SampleRate)
}

// Validate checks that the loaded configuration is internally consistent.
// Connection URLs are not required here: a worker deployment may run without
// the cache, and tests construct adapters directly.
func (l *ViperLoader) Validate(cfg *Config) error {
	var errs []string

	if strings.TrimSpace(cfg.Service.Name) == "" {
		errs = append(errs, "service.name must not be empty")
	}

	switch cfg.Logger.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("logger.level %q is not one of debug, info, warn, error", cfg.Logger.Level))
	}
	switch cfg.Logger.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Sprintf("logger.format %q is not one of json, text", cfg.Logger.Format))
	}

	if cfg.Database.MaxOpenConns < 0 {
		errs = append(errs, "database.max_open_conns must not be negative")
	}
	if cfg.Database.MaxIdleConns > cfg.Database.MaxOpenConns && cfg.Database.MaxOpenConns > 0 {
		errs = append(errs, "database.max_idle_conns must not exceed database.max_open_conns")
	}

	if cfg.Queue.WaitTimeSeconds < 0 || cfg.Queue.WaitTimeSeconds > 20 {
		errs = append(errs, "queue.wait_time_seconds must be between 0 and 20")
	}
	if cfg.Queue.MaxMessages < 1 || cfg.Queue.MaxMessages > 10 {
		errs = append(errs, "queue.max_messages must be between 1 and 10")
	}

	if cfg.Cache.Enabled && cfg.Cache.URL == "" {
		errs = append(errs, "cache.url is required when cache.enabled is true")
	}

	if cfg.Export.MaxSyncRows < 1 {
		errs = append(errs, "export.max_sync_rows must be at least 1")
	}

	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		errs = append(errs, "tracing.endpoint is required when tracing.enabled is true")
	}
	if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
		errs = append(errs, "tracing.sample_rate must be between 0 and 1")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}
