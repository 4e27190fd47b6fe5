package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

func TestNewSampler(t *testing.T) {
	tests := []struct {
		name string
		rate float64
		want string
	}{
		{"always on", 1.0, "AlwaysOnSampler"},
		{"always off", 0, "AlwaysOffSampler"},
		{"ratio", 0.25, "TraceIDRatioBased"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc := newSampler(tt.rate).Description()
			assert.Contains(t, desc, "ParentBased")
			assert.Contains(t, desc, tt.want)
		})
	}
}

func TestStripScheme(t *testing.T) {
	tests := []struct {
		endpoint string
		want     string
	}{
		{"localhost:4317", "localhost:4317"},
		{"http://localhost:4318", "localhost:4318"},
		{"https://collector:4318", "collector:4318"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, stripScheme(tt.endpoint))
	}
}

func TestNewResource(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ServiceName = "loomd-test"
	cfg.ServiceVersion = "9.9.9"

	res := newResource(cfg)
	require.NotNil(t, res)

	attrs := make(map[string]string)
	for _, kv := range res.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "loomd-test", attrs[string(semconv.ServiceNameKey)])
	assert.Equal(t, "9.9.9", attrs[string(semconv.ServiceVersionKey)])
}

func TestNewTracerProvider(t *testing.T) {
	res := newResource(DefaultConfig())

	for _, protocol := range []string{"grpc", "http"} {
		t.Run(protocol, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Enabled = true
			cfg.Protocol = protocol

			// Lazy exporters: construction succeeds without a collector.
			tp, err := newTracerProvider(context.Background(), cfg, res)
			require.NoError(t, err)
			require.NotNil(t, tp)
			assert.NoError(t, tp.Shutdown(context.Background()))
		})
	}
}

func TestNewMeterProvider_MetricsDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Metrics.Enabled = false

	mp, err := newMeterProvider(context.Background(), cfg, newResource(cfg))
	require.NoError(t, err)
	assert.Nil(t, mp)
}
