package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	logger, err := New(DefaultConfig(), nil)
	require.NoError(t, err)
	require.NotNil(t, logger)
	assert.Same(t, logger.zl, logger.Underlying())
}

func TestNew_NilConfigUsesDefaults(t *testing.T) {
	logger, err := New(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, zapcore.InfoLevel, logger.cfg.Level)
}

func TestNew_InvalidFormat(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Format = "xml"

	_, err := New(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "format")
}

func TestNew_OTELWithoutProvider(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Output.Stderr = false
	cfg.Output.OTEL = true

	// OTEL requested but no provider leaves zero sinks.
	_, err := New(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "output")
}

func observedLogger(lvl zapcore.Level) (*Logger, *observer.ObservedLogs) {
	core, recorded := observer.New(lvl)
	return &Logger{zl: zap.New(core), cfg: DefaultConfig()}, recorded
}

func TestLoggerLevels(t *testing.T) {
	logger, recorded := observedLogger(zapcore.InfoLevel)
	ctx := context.Background()

	logger.Debug(ctx, "too quiet")
	logger.Info(ctx, "hello")
	logger.Warn(ctx, "careful")
	logger.Error(ctx, "broken")

	entries := recorded.All()
	require.Len(t, entries, 3)
	assert.Equal(t, "hello", entries[0].Message)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
}

func TestLoggerContextCorrelation(t *testing.T) {
	logger, recorded := observedLogger(zapcore.DebugLevel)

	ctx := WithTaskID(context.Background(), "task-42")
	ctx = WithBeadID(ctx, "bd-7")
	logger.Info(ctx, "phase change", zap.String("phase", "coding"))

	entries := recorded.All()
	require.Len(t, entries, 1)

	got := map[string]string{}
	for _, f := range entries[0].Context {
		if f.Type == zapcore.StringType {
			got[f.Key] = f.String
		}
	}
	assert.Equal(t, "task-42", got["task.id"])
	assert.Equal(t, "bd-7", got["bead.id"])
	assert.Equal(t, "coding", got["phase"])
}

func TestWith(t *testing.T) {
	logger, recorded := observedLogger(zapcore.DebugLevel)

	child := logger.With(zap.String("component", "pipeline"))
	child.Info(context.Background(), "from child")
	logger.Info(context.Background(), "from parent")

	entries := recorded.All()
	require.Len(t, entries, 2)
	require.Len(t, entries[0].Context, 1)
	assert.Equal(t, "component", entries[0].Context[0].Key)
	assert.Empty(t, entries[1].Context)
}

func TestNamed(t *testing.T) {
	logger, recorded := observedLogger(zapcore.DebugLevel)

	logger.Named("qa").Named("gate").Info(context.Background(), "named")

	entries := recorded.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "qa.gate", entries[0].LoggerName)
}

func TestSyncSwallowsStderrErrno(t *testing.T) {
	logger, err := New(DefaultConfig(), nil)
	require.NoError(t, err)
	assert.NoError(t, logger.Sync())
}
