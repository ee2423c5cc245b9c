// Package config defines the global configuration structure for the
// air-quality platform. Configuration is loaded once at process
// initialization and is immutable thereafter. It follows 12-Factor App
// principles by strictly separating code from configuration.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File (Lowest)
//
// Any missing required value or invalid format causes startup to fail
// immediately (fail fast).
package config

import (
	"time"

	"airsense/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the platform. It is
// populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" default:"local" validate:"oneof=local dev staging prod"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Server   ServerConfig
	Database DatabaseConfig
	Feed     FeedConfig
	Ingest   IngestConfig
	Cache    CacheConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port               string        `envconfig:"PORT" default:"8080"`
	RequestTimeout     time.Duration `envconfig:"REQUEST_TIMEOUT" default:"29s"`
	CorsAllowedOrigins []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	// Tuning Parameters
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"1"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// FeedConfig holds the external feed endpoint and resilience settings.
type FeedConfig struct {
	BaseURL      string        `envconfig:"FEED_BASE_URL" default:"https://api.waqi.info" validate:"required,url"`
	Token        SecretString  `envconfig:"FEED_TOKEN" validate:"required"`
	FetchTimeout time.Duration `envconfig:"FEED_FETCH_TIMEOUT" default:"20s"`
	MaxRetries   int           `envconfig:"FEED_MAX_RETRIES" default:"3"`
	RetryMinWait time.Duration `envconfig:"FEED_RETRY_MIN_WAIT" default:"500ms"`
	UserAgent    string        `envconfig:"FEED_USER_AGENT" default:"airsense-ingestor/1.0"`
}

// IngestConfig holds ingestion run tuning.
type IngestConfig struct {
	// Interval between scheduled ingestion runs.
	Interval time.Duration `envconfig:"INGEST_INTERVAL" default:"1h"`
	// MinSpacing is the global minimum spacing between outbound station
	// fetches within a run (feed quota protection). Applies in aggregate
	// across workers, not per worker.
	MinSpacing time.Duration `envconfig:"INGEST_MIN_SPACING" default:"500ms"`
	// Concurrency bounds the fetch worker pool. 1 means sequential.
	Concurrency int `envconfig:"INGEST_CONCURRENCY" default:"4" validate:"min=1"`
	// AutoRegister controls the unknown-station policy: when true,
	// observations for unknown stations auto-register a placeholder station;
	// when false they are rejected with a typed error.
	AutoRegister bool `envconfig:"INGEST_AUTO_REGISTER" default:"false"`
}

// CacheConfig holds read-side cache TTLs.
type CacheConfig struct {
	StationsTTL time.Duration `envconfig:"CACHE_STATIONS_TTL" default:"30s"`
	HeatmapTTL  time.Duration `envconfig:"CACHE_HEATMAP_TTL" default:"30s"`
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
