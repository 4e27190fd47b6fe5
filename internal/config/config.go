// Package config loads the loomd daemon configuration.
//
// Configuration is resolved in three layers: hardcoded defaults, a
// YAML file (default ~/.config/loomd/config.yaml), and environment
// variable overrides such as SERVER_HTTP_PORT or PIPELINE_QUEUE_LIMIT.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete loomd configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Events    EventsConfig    `koanf:"events"`
	Pipeline  PipelineConfig  `koanf:"pipeline"`
	Qa        QaConfig        `koanf:"qa"`
	Scrub     ScrubConfig     `koanf:"scrub"`
}

// ServerConfig holds HTTP API server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`

	// SubmissionRate and SubmissionBurst bound how fast pipeline
	// submissions are accepted, in requests per second.
	SubmissionRate  float64 `koanf:"submission_rate"`
	SubmissionBurst int     `koanf:"submission_burst"`
}

// Address returns the host:port the server binds to.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json, console
}

// TelemetryConfig holds OpenTelemetry export configuration.
type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
	Endpoint    string `koanf:"endpoint"`
	Protocol    string `koanf:"protocol"` // grpc, http
	Insecure    bool   `koanf:"insecure"`
}

// EventsConfig holds event transport configuration. An empty NATS URL
// leaves events on the in-process bus only.
type EventsConfig struct {
	NATSURL Secret `koanf:"nats_url"`
}

// PipelineConfig holds pipeline executor configuration.
type PipelineConfig struct {
	QueueLimit       int `koanf:"queue_limit"`
	MaxFixIterations int `koanf:"max_fix_iterations"`
	MaxLogEntries    int `koanf:"max_log_entries"`
}

// QaConfig holds QA gate configuration.
type QaConfig struct {
	PolicyPath  string `koanf:"policy_path"`
	WatchPolicy bool   `koanf:"watch_policy"`
}

// ScrubConfig holds build-log secret scrubbing configuration.
type ScrubConfig struct {
	Enabled       bool   `koanf:"enabled"`
	AllowlistPath string `koanf:"allowlist_path"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            9876,
			ShutdownTimeout: Duration(10 * time.Second),
			SubmissionRate:  5,
			SubmissionBurst: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Enabled:     true,
			ServiceName: "loomd",
			Endpoint:    "localhost:4317",
			Protocol:    "grpc",
			Insecure:    true,
		},
		Pipeline: PipelineConfig{
			QueueLimit:       1,
			MaxFixIterations: 3,
			MaxLogEntries:    10000,
		},
		Scrub: ScrubConfig{
			Enabled: true,
		},
	}
}

// Validate checks the configuration for values the daemon cannot run
// with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (want 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be greater than zero")
	}
	if c.Server.SubmissionRate <= 0 {
		return errors.New("submission rate must be positive")
	}
	if c.Server.SubmissionBurst < 1 {
		return errors.New("submission burst must be at least 1")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level %q (must be debug, info, warn, or error)", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid logging format %q (must be json or console)", c.Logging.Format)
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.ServiceName == "" {
			return errors.New("service name required with telemetry enabled")
		}
		switch c.Telemetry.Protocol {
		case "grpc", "http":
		default:
			return fmt.Errorf("invalid telemetry protocol %q (must be grpc or http)", c.Telemetry.Protocol)
		}
	}

	if c.Pipeline.QueueLimit < 1 {
		return errors.New("pipeline queue limit must be at least 1")
	}
	if c.Pipeline.MaxFixIterations < 0 {
		return errors.New("pipeline max fix iterations must not be negative")
	}
	if c.Pipeline.MaxLogEntries < 0 {
		return errors.New("pipeline max log entries must not be negative")
	}

	return nil
}
