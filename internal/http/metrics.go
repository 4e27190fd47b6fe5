package http

import (
	"errors"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationScope = "github.com/fyrsmithlabs/loomd/internal/http"

// metricsMiddleware records a request counter, latency and
// response-size histograms, and an in-flight gauge for every request,
// labeled by method, matched route and status code. When instrument
// registration fails the middleware degrades to a pass-through rather
// than taking the server down.
func metricsMiddleware(logger *zap.Logger) echo.MiddlewareFunc {
	ins, err := newRequestInstruments(otel.Meter(instrumentationScope))
	if err != nil {
		logger.Warn("http metrics disabled", zap.Error(err))
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return ins.middleware()
}

type requestInstruments struct {
	requests metric.Int64Counter
	latency  metric.Float64Histogram
	respSize metric.Int64Histogram
	inFlight metric.Int64UpDownCounter
}

func newRequestInstruments(meter metric.Meter) (*requestInstruments, error) {
	var (
		ins  requestInstruments
		errs []error
		err  error
	)

	ins.requests, err = meter.Int64Counter(
		"loomd.http.requests_total",
		metric.WithDescription("Total HTTP requests labeled by method, endpoint (route template), and status code."),
		metric.WithUnit("{request}"),
	)
	errs = append(errs, err)

	ins.latency, err = meter.Float64Histogram(
		"loomd.http.request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds, labeled like the request counter."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	errs = append(errs, err)

	ins.respSize, err = meter.Int64Histogram(
		"loomd.http.response_size_bytes",
		metric.WithDescription("HTTP response body size in bytes. Build-log queries dominate the upper buckets."),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(100, 500, 1000, 5000, 10000, 50000, 100000, 500000),
	)
	errs = append(errs, err)

	ins.inFlight, err = meter.Int64UpDownCounter(
		"loomd.http.active_requests",
		metric.WithDescription("Number of currently active HTTP requests."),
		metric.WithUnit("{request}"),
	)
	errs = append(errs, err)

	return &ins, errors.Join(errs...)
}

func (ins *requestInstruments) middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			ins.inFlight.Add(ctx, 1)
			start := time.Now()

			err := next(c)

			attrs := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("endpoint", routeLabel(c.Path())),
				attribute.Int("status", c.Response().Status),
			)
			ins.requests.Add(ctx, 1, attrs)
			ins.latency.Record(ctx, time.Since(start).Seconds(), attrs)
			ins.respSize.Record(ctx, c.Response().Size, attrs)
			ins.inFlight.Add(ctx, -1)

			return err
		}
	}
}

// routeLabel bounds the cardinality of the endpoint label. Echo hands
// back the matched route template, so /api/v1/tasks/:id stays a single
// label no matter how many tasks exist. Requests that matched no route
// fold into "/".
func routeLabel(path string) string {
	if path == "" {
		return "/"
	}
	return path
}
