// Package logging wraps zap with the output, correlation and redaction
// plumbing shared by every loomd component.
//
// A Logger writes structured JSON to stderr, optionally mirrored to an
// OpenTelemetry log exporter through the otelzap bridge. Every logging
// call takes a context.Context; trace, task, bead and request
// identifiers stored in the context are appended to the entry
// automatically, so call sites never thread correlation fields by hand.
//
// Sensitive values are masked at the encoder. Field keys named in the
// redaction config and values matching its patterns are replaced with
// a placeholder before the entry reaches any sink.
//
//	logger, err := logging.New(logging.DefaultConfig(), nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithTaskID(ctx, task.ID)
//	logger.Info(ctx, "pipeline accepted", zap.String("phase", "coding"))
package logging

import (
	"context"
	"errors"
	"fmt"
	"syscall"

	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a leveled, context-aware logger. It is safe for concurrent
// use; child loggers from With and Named are independent of the parent.
type Logger struct {
	zl  *zap.Logger
	cfg *Config
}

// New builds a Logger from cfg. A nil provider disables the
// OpenTelemetry sink even when cfg asks for it.
func New(cfg *Config, provider log.LoggerProvider) (*Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("logging config: %w", err)
	}

	core, err := buildCore(cfg, provider)
	if err != nil {
		return nil, err
	}

	opts := []zap.Option{zap.AddStacktrace(cfg.StacktraceLevel)}
	if cfg.Caller {
		opts = append(opts, zap.AddCaller(), zap.AddCallerSkip(cfg.CallerSkip))
	}

	zl := zap.New(core, opts...)
	if len(cfg.Fields) > 0 {
		static := make([]zap.Field, 0, len(cfg.Fields))
		for k, v := range cfg.Fields {
			static = append(static, zap.String(k, v))
		}
		zl = zl.With(static...)
	}

	return &Logger{zl: zl, cfg: cfg}, nil
}

// log is the single funnel for every leveled method. CallerSkip in the
// config is calibrated against this call depth.
func (l *Logger) log(ctx context.Context, lvl zapcore.Level, msg string, fields []zap.Field) {
	ce := l.zl.Check(lvl, msg)
	if ce == nil {
		return
	}
	ce.Write(append(fieldsFromContext(ctx), fields...)...)
}

// Debug logs at debug level with context correlation fields.
func (l *Logger) Debug(ctx context.Context, msg string, fields ...zap.Field) {
	l.log(ctx, zapcore.DebugLevel, msg, fields)
}

// Info logs at info level with context correlation fields.
func (l *Logger) Info(ctx context.Context, msg string, fields ...zap.Field) {
	l.log(ctx, zapcore.InfoLevel, msg, fields)
}

// Warn logs at warn level with context correlation fields.
func (l *Logger) Warn(ctx context.Context, msg string, fields ...zap.Field) {
	l.log(ctx, zapcore.WarnLevel, msg, fields)
}

// Error logs at error level with context correlation fields.
func (l *Logger) Error(ctx context.Context, msg string, fields ...zap.Field) {
	l.log(ctx, zapcore.ErrorLevel, msg, fields)
}

// With returns a child logger carrying the given fields on every entry.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{zl: l.zl.With(fields...), cfg: l.cfg}
}

// Named returns a child logger with name appended to the logger path.
func (l *Logger) Named(name string) *Logger {
	return &Logger{zl: l.zl.Named(name), cfg: l.cfg}
}

// Sync flushes buffered entries. Sync on stderr fails with EINVAL or
// ENOTTY on Linux; those are swallowed.
func (l *Logger) Sync() error {
	err := l.zl.Sync()
	var errno syscall.Errno
	if errors.As(err, &errno) && (errno == syscall.EINVAL || errno == syscall.ENOTTY) {
		return nil
	}
	return err
}

// Underlying exposes the wrapped *zap.Logger for services that take one
// directly.
func (l *Logger) Underlying() *zap.Logger {
	return l.zl
}
