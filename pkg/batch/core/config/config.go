// Package config defines the configuration of the import engine and its loading
// from embedded YAML, .env files and environment variables.
package config

import (
	"time"

	dbconfig "github.com/tigerroll/batchimport/pkg/batch/adapter/database/config"
)

// EmbeddedConfig is the raw YAML the application embeds with go:embed.
type EmbeddedConfig []byte

// LogLevel names a log level.
type LogLevel string

const (
	LogLevelDebug  LogLevel = "DEBUG"
	LogLevelInfo   LogLevel = "INFO"
	LogLevelWarn   LogLevel = "WARN"
	LogLevelError  LogLevel = "ERROR"
	LogLevelSilent LogLevel = "SILENT"
)

// DefaultChunkSize is the commit interval used when none is configured.
const DefaultChunkSize = 65000

// RetryConfig configures chunk-level retry of retryable sink failures.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"` // 0 disables retry.
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	Factor          float64       `yaml:"factor"`
	RetryableErrors []string      `yaml:"retryable_errors"`
}

// ImportConfig configures the import job and its chunk step.
type ImportConfig struct {
	JobName   string `yaml:"job_name"`
	StepName  string `yaml:"step_name"`
	ChunkSize int    `yaml:"chunk_size"`
	// SkipLimit is the number of rejected records tolerated; 0 means fail-fast.
	SkipLimit       int           `yaml:"skip_limit"`
	SkippableErrors []string      `yaml:"skippable_errors"`
	CommitTimeout   time.Duration `yaml:"commit_timeout"`
	ChunkRetry      RetryConfig   `yaml:"chunk_retry"`
	AsyncPoolSize   int           `yaml:"async_pool_size"`
	// Reader and Writer hold component properties bound with configbinder.
	Reader map[string]interface{} `yaml:"reader"`
	Writer map[string]interface{} `yaml:"writer"`
}

// GCSConfig configures the Google Cloud Storage source.
type GCSConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
	Endpoint        string `yaml:"endpoint"`
}

// FTPConfig configures the FTP source.
type FTPConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// StorageConfig configures the record source backends.
type StorageConfig struct {
	// BaseDir resolves relative local paths. Empty means the working directory.
	BaseDir string    `yaml:"base_dir"`
	GCS     GCSConfig `yaml:"gcs"`
	FTP     FTPConfig `yaml:"ftp"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	// ListenAddress serves /metrics on its own listener when the web surface is disabled.
	ListenAddress string `yaml:"listen_address"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Exporter    string `yaml:"exporter"` // "otlphttp", "otlpgrpc" or "none".
	Endpoint    string `yaml:"endpoint"`
	Insecure    bool   `yaml:"insecure"`
	ServiceName string `yaml:"service_name"`
}

// WebConfig configures the HTTP admin surface.
type WebConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address"`
}

// LoggingConfig configures the package logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// SecurityConfig lists job parameters masked in logs.
type SecurityConfig struct {
	MaskedParameterKeys []string `yaml:"masked_parameter_keys"`
}

// Config is the root configuration.
type Config struct {
	Import   ImportConfig            `yaml:"import"`
	Database dbconfig.DatabaseConfig `yaml:"database"`
	Storage  StorageConfig           `yaml:"storage"`
	Metrics  MetricsConfig           `yaml:"metrics"`
	Tracing  TracingConfig           `yaml:"tracing"`
	Web      WebConfig               `yaml:"web"`
	Logging  LoggingConfig           `yaml:"logging"`
	Security SecurityConfig          `yaml:"security"`
}

// NewConfig returns the defaults.
func NewConfig() *Config {
	return &Config{
		Import: ImportConfig{
			JobName:       "importJob",
			StepName:      "importStep",
			ChunkSize:     DefaultChunkSize,
			AsyncPoolSize: 4,
			ChunkRetry: RetryConfig{
				InitialInterval: 500 * time.Millisecond,
				MaxInterval:     10 * time.Second,
				Factor:          2.0,
			},
		},
		Database: dbconfig.DatabaseConfig{
			Type:        "sqlite",
			Database:    "batch.db",
			LogLevel:    "silent",
			AutoMigrate: true,
			Pool: dbconfig.PoolConfig{
				MaxOpenConns: 1,
				MaxIdleConns: 1,
			},
		},
		Storage: StorageConfig{
			FTP: FTPConfig{Timeout: 30 * time.Second},
		},
		Metrics: MetricsConfig{
			ListenAddress: ":9090",
		},
		Tracing: TracingConfig{
			Exporter:    "none",
			ServiceName: "batchimport",
		},
		Web: WebConfig{
			ListenAddress: ":8080",
		},
		Logging:  LoggingConfig{Level: "INFO"},
		Security: SecurityConfig{MaskedParameterKeys: []string{"password", "api_key", "secret"}},
	}
}
