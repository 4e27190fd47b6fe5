package telemetry

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// TestTelemetry is a Telemetry wired to in-memory span recording and a
// manual metric reader, for asserting on instrumentation in tests.
type TestTelemetry struct {
	*Telemetry

	Spans  *tracetest.SpanRecorder
	Reader *sdkmetric.ManualReader
}

// NewTestTelemetry builds an enabled instance that exports nothing.
func NewTestTelemetry() *TestTelemetry {
	cfg := DefaultConfig()
	cfg.Enabled = true

	spans := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()

	return &TestTelemetry{
		Telemetry: &Telemetry{
			cfg:     cfg,
			traces:  sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans)),
			metrics: sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
		},
		Spans:  spans,
		Reader: reader,
	}
}

// Collect drains current metric state from the manual reader.
func (t *TestTelemetry) Collect(ctx context.Context) (metricdata.ResourceMetrics, error) {
	var rm metricdata.ResourceMetrics
	err := t.Reader.Collect(ctx, &rm)
	return rm, err
}

// SpanByName returns the first ended span called name, or nil.
func (t *TestTelemetry) SpanByName(name string) sdktrace.ReadOnlySpan {
	for _, span := range t.Spans.Ended() {
		if span.Name() == name {
			return span
		}
	}
	return nil
}

// AssertSpanExists fails unless a span called name has ended.
func (t *TestTelemetry) AssertSpanExists(tb testing.TB, name string) {
	tb.Helper()
	if t.SpanByName(name) != nil {
		return
	}
	names := make([]string, 0, len(t.Spans.Ended()))
	for _, span := range t.Spans.Ended() {
		names = append(names, span.Name())
	}
	tb.Errorf("span %q not recorded, have %v", name, names)
}

// AssertSpanAttribute fails unless the named span carries the attribute
// with the given rendered value.
func (t *TestTelemetry) AssertSpanAttribute(tb testing.TB, spanName, key, want string) {
	tb.Helper()
	span := t.SpanByName(spanName)
	if span == nil {
		tb.Fatalf("span %q not recorded", spanName)
	}
	for _, attr := range span.Attributes() {
		if string(attr.Key) == key {
			if got := attr.Value.Emit(); got != want {
				tb.Errorf("span %q attribute %q: got %s, want %s", spanName, key, got, want)
			}
			return
		}
	}
	tb.Errorf("span %q has no attribute %q", spanName, key)
}
