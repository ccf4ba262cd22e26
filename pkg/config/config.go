package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/larderapp/larder/pkg/stores"
	"github.com/larderapp/larder/pkg/telemetry"
)

// Config is the complete larder configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Remote   RemoteConfig   `yaml:"remote"`
	Sync     SyncConfig     `yaml:"sync"`
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Tracing  TracingConfig  `yaml:"tracing"`
}

// DatabaseConfig locates the local database file and tunes replica connection retries.
type DatabaseConfig struct {
	DataDir  string `yaml:"data_dir" env:"LARDER_DATA_DIR" validate:"required"`
	FileName string `yaml:"file_name" env:"LARDER_DB_FILE" validate:"required,excludesall=/\\"`

	// RetryAttempts is the number of connection rounds against the remote.
	RetryAttempts int           `yaml:"retry_attempts" env:"LARDER_RETRY_ATTEMPTS" validate:"min=1,max=20"`
	RetryDelay    time.Duration `yaml:"retry_delay" env:"LARDER_RETRY_DELAY" validate:"min=0"`

	// Migrate applies the embedded schema after init.
	Migrate bool `yaml:"migrate" env:"LARDER_MIGRATE"`
}

// RemoteConfig names the primary database. Both fields are needed for replica mode.
type RemoteConfig struct {
	URL       string `yaml:"url" env:"LARDER_DATABASE_URL" validate:"omitempty,url"`
	AuthToken string `yaml:"auth_token" env:"LARDER_AUTH_TOKEN"`
}

// SyncConfig drives the background sync coordinator.
type SyncConfig struct {
	Enabled  bool          `yaml:"enabled" env:"LARDER_SYNC_ENABLED"`
	Interval time.Duration `yaml:"interval" env:"LARDER_SYNC_INTERVAL" validate:"min=0"`
	Debounce time.Duration `yaml:"debounce" env:"LARDER_SYNC_DEBOUNCE" validate:"min=0"`
}

// LogConfig configures zerolog output.
type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" validate:"oneof=trace debug info warn error fatal"`
	Format string `yaml:"format" env:"LARDER_LOG_FORMAT" validate:"oneof=console json"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" env:"LARDER_METRICS_ENABLED"`
	Address string `yaml:"address" env:"LARDER_METRICS_ADDR" validate:"omitempty,hostname_port"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	Exporter string `yaml:"exporter" env:"LARDER_TRACE_EXPORTER" validate:"oneof=none stdout otlp"`
	Endpoint string `yaml:"endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// DefaultDataDir is the per-user directory holding local.db.
func DefaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "larder")
	}
	return ".larder"
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			DataDir:       DefaultDataDir(),
			FileName:      stores.DefaultFileName,
			RetryAttempts: stores.DefaultAttempts,
			RetryDelay:    stores.DefaultRetryDelay,
		},
		Sync: SyncConfig{
			Enabled:  true,
			Interval: 5 * time.Second,
			Debounce: 300 * time.Millisecond,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: "127.0.0.1:9464",
		},
		Tracing: TracingConfig{
			Exporter: "none",
		},
	}
}

var validate = validator.New()

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Metrics.Enabled && c.Metrics.Address == "" {
		return fmt.Errorf("invalid configuration: metrics.address is required when metrics are enabled")
	}
	if c.Tracing.Exporter == "otlp" && c.Tracing.Endpoint == "" {
		return fmt.Errorf("invalid configuration: tracing.endpoint is required for the otlp exporter")
	}
	return nil
}

// RemoteTarget returns the remote as the connection manager sees it.
func (c *Config) RemoteTarget() stores.Remote {
	return stores.Remote{URL: c.Remote.URL, AuthToken: c.Remote.AuthToken}
}

// ManagerConfig returns connection manager settings. Driver, logger and
// telemetry are left for the caller.
func (c *Config) ManagerConfig() stores.ManagerConfig {
	return stores.ManagerConfig{
		DataDir:    c.Database.DataDir,
		FileName:   c.Database.FileName,
		Attempts:   c.Database.RetryAttempts,
		RetryDelay: c.Database.RetryDelay,
	}
}

// TelemetryConfig maps logging, metrics and tracing settings onto telemetry.
func (c *Config) TelemetryConfig(version string) telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.Version = version
	tc.Log.Level = c.Log.Level
	tc.Log.Format = c.Log.Format
	tc.Metrics.Enabled = c.Metrics.Enabled
	tc.Metrics.Addr = c.Metrics.Address
	tc.Trace.Exporter = c.Tracing.Exporter
	tc.Trace.Endpoint = c.Tracing.Endpoint
	return tc
}
