package telemetry

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/fyrsmithlabs/loomd/internal/config"
)

// Config controls provider construction. Field names line up with the
// [telemetry] block of the daemon config file.
type Config struct {
	Enabled         bool            `koanf:"enabled"`
	Endpoint        string          `koanf:"endpoint"`
	Protocol        string          `koanf:"protocol"`
	ServiceName     string          `koanf:"service_name"`
	ServiceVersion  string          `koanf:"service_version"`
	Insecure        bool            `koanf:"insecure"`
	TLSSkipVerify   bool            `koanf:"tls_skip_verify"`
	Sampling        SamplingConfig  `koanf:"sampling"`
	Metrics         MetricsConfig   `koanf:"metrics"`
	ShutdownTimeout config.Duration `koanf:"shutdown_timeout"`
}

// SamplingConfig sets the head sampling rate for traces, 0 to 1.
type SamplingConfig struct {
	Rate float64 `koanf:"rate"`
}

// MetricsConfig controls OTLP metric export.
type MetricsConfig struct {
	Enabled        bool            `koanf:"enabled"`
	ExportInterval config.Duration `koanf:"export_interval"`
}

// DefaultConfig returns defaults tuned for a collector on the same
// host. Telemetry starts disabled; installs without a collector need
// no configuration at all.
func DefaultConfig() *Config {
	return &Config{
		Enabled:        false,
		Endpoint:       "localhost:4317",
		Protocol:       "grpc",
		ServiceName:    "loomd",
		ServiceVersion: "0.1.0",
		Insecure:       true,
		Sampling: SamplingConfig{
			Rate: 1.0,
		},
		Metrics: MetricsConfig{
			Enabled:        true,
			ExportInterval: config.Duration(15 * time.Second),
		},
		ShutdownTimeout: config.Duration(5 * time.Second),
	}
}

// Validate checks the fields New will act on. A disabled config is
// always valid.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Endpoint == "" {
		return fmt.Errorf("endpoint required when telemetry is enabled")
	}
	if c.ServiceName == "" {
		return fmt.Errorf("service_name required when telemetry is enabled")
	}
	if c.ServiceVersion == "" {
		return fmt.Errorf("service_version required when telemetry is enabled")
	}
	if c.Protocol != "" && c.Protocol != "grpc" && c.Protocol != "http" {
		return fmt.Errorf("protocol %q not supported, want grpc or http", c.Protocol)
	}
	// Plaintext export stays on this machine. A remote collector gets
	// TLS, with tls_skip_verify as the internal-CA escape hatch.
	if c.Insecure && !localEndpoint(c.Endpoint) {
		return fmt.Errorf("insecure export to remote endpoint %q not allowed", c.Endpoint)
	}
	if c.Sampling.Rate < 0 || c.Sampling.Rate > 1 {
		return fmt.Errorf("sampling rate %v outside [0, 1]", c.Sampling.Rate)
	}
	if c.Metrics.Enabled && c.Metrics.ExportInterval.Duration() <= 0 {
		return fmt.Errorf("metrics export interval must be positive")
	}
	if c.ShutdownTimeout.Duration() <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive")
	}
	return nil
}

// localEndpoint reports whether endpoint points at this machine.
func localEndpoint(endpoint string) bool {
	host := endpoint
	if h, _, err := net.SplitHostPort(endpoint); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")

	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}
