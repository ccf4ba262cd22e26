package telemetry

import (
	"fmt"
	"io"
)

// Config selects what the process reports and where.
type Config struct {
	Service string
	Version string

	Log     LogConfig
	Trace   TraceConfig
	Metrics MetricsConfig
	Events  EventConfig
}

// LogConfig configures the zerolog logger.
type LogConfig struct {
	Level  string // trace, debug, info, warn, error
	Format string // console or json
	// Output defaults to stderr. stdout belongs to command output and the
	// serve channel.
	Output io.Writer
}

// TraceConfig configures span export.
type TraceConfig struct {
	Exporter    string // none, stdout or otlp
	Endpoint    string // otlp collector host:port
	SampleRatio float64
	Insecure    bool
}

// MetricsConfig configures the Prometheus registry and its endpoint.
type MetricsConfig struct {
	Enabled bool
	Addr    string
}

// EventConfig configures lifecycle event delivery.
type EventConfig struct {
	// Async queues events and delivers them from a goroutine.
	Async  bool
	Buffer int
}

// DefaultConfig returns console logging at info, no span export, metrics
// on the loopback interface and asynchronous events.
func DefaultConfig() Config {
	return Config{
		Service: "larder",
		Version: "dev",
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Trace: TraceConfig{
			Exporter:    "none",
			SampleRatio: 1,
			Insecure:    true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    "127.0.0.1:9464",
		},
		Events: EventConfig{
			Async:  true,
			Buffer: 256,
		},
	}
}

// QuietConfig is DefaultConfig with warn-level JSON logs and synchronous
// events, for tests.
func QuietConfig() Config {
	cfg := DefaultConfig()
	cfg.Log.Level = "warn"
	cfg.Log.Format = "json"
	cfg.Log.Output = io.Discard
	cfg.Events.Async = false
	return cfg
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Service == "" {
		return fmt.Errorf("service name is required")
	}
	if _, ok := levels[c.Log.Level]; !ok {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be 'console' or 'json')", c.Log.Format)
	}
	switch c.Trace.Exporter {
	case "none", "stdout":
	case "otlp":
		if c.Trace.Endpoint == "" {
			return fmt.Errorf("otlp exporter needs an endpoint")
		}
	default:
		return fmt.Errorf("invalid trace exporter: %s", c.Trace.Exporter)
	}
	if c.Trace.SampleRatio < 0 || c.Trace.SampleRatio > 1 {
		return fmt.Errorf("trace sample ratio must be between 0 and 1, got: %f", c.Trace.SampleRatio)
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics address is required when metrics are enabled")
	}
	if c.Events.Async && c.Events.Buffer <= 0 {
		return fmt.Errorf("event buffer must be positive for async delivery, got: %d", c.Events.Buffer)
	}
	return nil
}
