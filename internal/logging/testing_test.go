package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestTestLoggerRecordsEntries(t *testing.T) {
	tl := NewTestLogger()

	tl.Info(context.Background(), "queue drained", zap.Int("waiting", 0))
	tl.Warn(context.Background(), "qa retry")

	assert.Equal(t, 2, tl.Recorded.Len())
	tl.AssertLogged(t, zapcore.InfoLevel, "queue drained")
	tl.AssertLogged(t, zapcore.WarnLevel, "retry")
}

func TestAssertNoSecrets_CleanLog(t *testing.T) {
	tl := NewTestLogger()
	tl.Info(context.Background(), "task created", zap.String("phase", "discovery"))
	tl.AssertNoSecrets(t)
}

func TestAssertNoSecrets_FlagsLeak(t *testing.T) {
	tl := NewTestLogger()
	tl.Info(context.Background(), "login", zap.String("password", "hunter2"))

	probe := &testing.T{}
	tl.AssertNoSecrets(probe)
	assert.True(t, probe.Failed(), "leaked password must fail the assertion")
}

func TestAssertNoSecrets_AcceptsMaskedValues(t *testing.T) {
	tl := NewTestLogger()
	tl.Info(context.Background(), "auth", RedactedString("authorization", "Bearer tk-1"))
	tl.AssertNoSecrets(t)
}
