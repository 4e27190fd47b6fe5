package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/loomd/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.Equal(t, "grpc", cfg.Protocol)
	assert.Equal(t, "loomd", cfg.ServiceName)
	assert.True(t, cfg.Insecure)
	assert.Equal(t, 1.0, cfg.Sampling.Rate)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, config.Duration(15*time.Second), cfg.Metrics.ExportInterval)
	assert.Equal(t, config.Duration(5*time.Second), cfg.ShutdownTimeout)

	require.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.Enabled = true
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "enabled defaults",
			mutate: func(*Config) {},
		},
		{
			name: "disabled skips validation",
			mutate: func(c *Config) {
				c.Enabled = false
				c.Endpoint = ""
				c.Protocol = "carrier-pigeon"
			},
		},
		{
			name:    "endpoint unset",
			mutate:  func(c *Config) { c.Endpoint = "" },
			wantErr: "endpoint required",
		},
		{
			name:    "service name unset",
			mutate:  func(c *Config) { c.ServiceName = "" },
			wantErr: "service_name required",
		},
		{
			name:    "service version unset",
			mutate:  func(c *Config) { c.ServiceVersion = "" },
			wantErr: "service_version required",
		},
		{
			name:    "unsupported protocol",
			mutate:  func(c *Config) { c.Protocol = "udp" },
			wantErr: "not supported",
		},
		{
			name:    "insecure remote endpoint",
			mutate:  func(c *Config) { c.Endpoint = "collector.prod.example.com:4317" },
			wantErr: "not allowed",
		},
		{
			name: "secure remote endpoint",
			mutate: func(c *Config) {
				c.Endpoint = "collector.prod.example.com:4317"
				c.Insecure = false
			},
		},
		{
			name:    "negative sampling rate",
			mutate:  func(c *Config) { c.Sampling.Rate = -0.1 },
			wantErr: "outside [0, 1]",
		},
		{
			name:    "sampling rate above one",
			mutate:  func(c *Config) { c.Sampling.Rate = 1.5 },
			wantErr: "outside [0, 1]",
		},
		{
			name:    "zero export interval",
			mutate:  func(c *Config) { c.Metrics.ExportInterval = 0 },
			wantErr: "export interval must be positive",
		},
		{
			name:    "zero shutdown timeout",
			mutate:  func(c *Config) { c.ShutdownTimeout = 0 },
			wantErr: "shutdown_timeout must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLocalEndpoint(t *testing.T) {
	tests := []struct {
		endpoint string
		want     bool
	}{
		{"localhost:4317", true},
		{"localhost", true},
		{"127.0.0.1:4317", true},
		{"127.0.0.53:53", true},
		{"[::1]:4317", true},
		{"::1", true},
		{"collector.prod.example.com:4317", false},
		{"10.0.0.5:4317", false},
		{"otel-collector:4317", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			assert.Equal(t, tt.want, localEndpoint(tt.endpoint))
		})
	}
}
