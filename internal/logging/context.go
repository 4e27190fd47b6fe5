package logging

import (
	"context"
	"regexp"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type ctxKey uint8

const (
	ctxTask ctxKey = iota
	ctxBead
	ctxRequest
)

// idOK bounds correlation IDs to 128 chars of [A-Za-z0-9_-]. IDs arrive
// from HTTP clients and bead metadata; anything outside this shape is
// dropped rather than logged.
var idOK = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// WithTaskID tags ctx with a task ID for log correlation. Invalid IDs
// leave ctx unchanged.
func WithTaskID(ctx context.Context, id string) context.Context {
	if !idOK.MatchString(id) {
		return ctx
	}
	return context.WithValue(ctx, ctxTask, id)
}

// TaskID returns the task ID stored in ctx, or "".
func TaskID(ctx context.Context) string {
	id, _ := ctx.Value(ctxTask).(string)
	return id
}

// WithBeadID tags ctx with a bead ID for log correlation. Invalid IDs
// leave ctx unchanged.
func WithBeadID(ctx context.Context, id string) context.Context {
	if !idOK.MatchString(id) {
		return ctx
	}
	return context.WithValue(ctx, ctxBead, id)
}

// BeadID returns the bead ID stored in ctx, or "".
func BeadID(ctx context.Context) string {
	id, _ := ctx.Value(ctxBead).(string)
	return id
}

// WithRequestID tags ctx with an HTTP request ID for log correlation.
// Invalid IDs leave ctx unchanged.
func WithRequestID(ctx context.Context, id string) context.Context {
	if !idOK.MatchString(id) {
		return ctx
	}
	return context.WithValue(ctx, ctxRequest, id)
}

// RequestID returns the request ID stored in ctx, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxRequest).(string)
	return id
}

// fieldsFromContext collects the correlation fields every entry
// carries: active span identifiers plus any task, bead and request IDs.
func fieldsFromContext(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}
	if id := TaskID(ctx); id != "" {
		fields = append(fields, zap.String("task.id", id))
	}
	if id := BeadID(ctx); id != "" {
		fields = append(fields, zap.String("bead.id", id))
	}
	if id := RequestID(ctx); id != "" {
		fields = append(fields, zap.String("request.id", id))
	}
	return fields
}
