// Package telemetry owns the OpenTelemetry providers behind loomd's
// traces, metrics and log export. Spans and measurements leave the
// process over OTLP, gRPC or HTTP, toward whatever collector the
// operator configured.
//
// The package never takes the daemon down: when an exporter cannot be
// built the instance degrades to no-op providers and Health() carries
// the cause. Telemetry is opt-in; a default Config leaves it disabled
// so installs without a collector run clean.
//
//	tel, err := telemetry.New(ctx, telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//
//	ctx, span := tel.Tracer("loomd.pipeline").Start(ctx, "pipeline.run")
//	defer span.End()
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Telemetry bundles the tracer, meter and logger providers plus their
// shutdown and health state. The zero value is unusable; build one
// with New. Methods tolerate a nil receiver so callers can thread an
// optional *Telemetry without guarding every call.
type Telemetry struct {
	cfg *Config

	traces  *sdktrace.TracerProvider
	metrics *sdkmetric.MeterProvider
	logs    log.LoggerProvider

	mu     sync.Mutex
	closed bool
	reason string
}

// Status is a snapshot of telemetry health.
type Status struct {
	Healthy  bool
	Degraded bool
	Reason   string
}

// New validates cfg and brings up the configured providers. A disabled
// config yields a working instance whose Tracer and Meter hand out
// no-ops. Exporter construction failures degrade the instance instead
// of failing it; only an invalid config returns an error.
func New(ctx context.Context, cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("telemetry config: %w", err)
	}

	t := &Telemetry{cfg: cfg}
	if !cfg.Enabled {
		return t, nil
	}

	res := newResource(cfg)

	if tp, err := newTracerProvider(ctx, cfg, res); err != nil {
		t.degrade("trace exporter: %v", err)
	} else {
		t.traces = tp
		otel.SetTracerProvider(tp)
	}

	if mp, err := newMeterProvider(ctx, cfg, res); err != nil {
		t.degrade("metric exporter: %v", err)
	} else if mp != nil {
		t.metrics = mp
		otel.SetMeterProvider(mp)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return t, nil
}

// Tracer returns a tracer scoped to name, falling back to the global
// provider (a no-op unless something else installed one) when this
// instance has none.
func (t *Telemetry) Tracer(name string, opts ...oteltrace.TracerOption) oteltrace.Tracer {
	if t == nil || t.traces == nil {
		return otel.GetTracerProvider().Tracer(name, opts...)
	}
	return t.traces.Tracer(name, opts...)
}

// Meter returns a meter scoped to name, falling back to the global
// provider when this instance has none.
func (t *Telemetry) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	if t == nil || t.metrics == nil {
		return otel.GetMeterProvider().Meter(name, opts...)
	}
	return t.metrics.Meter(name, opts...)
}

// LoggerProvider returns the provider the logging bridge should attach
// to, or nil when log export is not wired.
func (t *Telemetry) LoggerProvider() log.LoggerProvider {
	if t == nil {
		return nil
	}
	return t.logs
}

// SetLoggerProvider installs the provider handed to the logging bridge.
func (t *Telemetry) SetLoggerProvider(lp log.LoggerProvider) {
	if t != nil {
		t.logs = lp
	}
}

// Shutdown flushes and stops every provider. When ctx carries no
// deadline the configured shutdown timeout is applied. The instance is
// unhealthy afterwards.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}

	if _, ok := ctx.Deadline(); !ok && t.cfg != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.ShutdownTimeout.Duration())
		defer cancel()
	}

	var errs []error
	if t.traces != nil {
		if err := t.traces.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("traces: %w", err))
		}
	}
	if t.metrics != nil {
		if err := t.metrics.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics: %w", err))
		}
	}

	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()

	return errors.Join(errs...)
}

// ForceFlush pushes pending spans and measurements to the exporters,
// for use ahead of operations that may not return.
func (t *Telemetry) ForceFlush(ctx context.Context) error {
	if t == nil {
		return nil
	}

	var errs []error
	if t.traces != nil {
		if err := t.traces.ForceFlush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("traces: %w", err))
		}
	}
	if t.metrics != nil {
		if err := t.metrics.ForceFlush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Health reports whether the instance is live and whether any provider
// failed to come up.
func (t *Telemetry) Health() Status {
	if t == nil {
		return Status{Degraded: true}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return Status{
		Healthy:  !t.closed,
		Degraded: t.reason != "",
		Reason:   t.reason,
	}
}

// IsEnabled reports whether telemetry was configured on and is still
// live.
func (t *Telemetry) IsEnabled() bool {
	if t == nil || t.cfg == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cfg.Enabled && !t.closed
}

func (t *Telemetry) degrade(format string, args ...interface{}) {
	t.mu.Lock()
	t.reason = fmt.Sprintf(format, args...)
	t.mu.Unlock()
}
