package logging

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestContextIDs(t *testing.T) {
	ctx := context.Background()

	ctx = WithTaskID(ctx, "task-1")
	ctx = WithBeadID(ctx, "bd_9")
	ctx = WithRequestID(ctx, "req-abc-123")

	assert.Equal(t, "task-1", TaskID(ctx))
	assert.Equal(t, "bd_9", BeadID(ctx))
	assert.Equal(t, "req-abc-123", RequestID(ctx))
}

func TestContextIDs_Empty(t *testing.T) {
	ctx := context.Background()

	assert.Empty(t, TaskID(ctx))
	assert.Empty(t, BeadID(ctx))
	assert.Empty(t, RequestID(ctx))
}

func TestWithTaskID_RejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		id   string
	}{
		{"empty", ""},
		{"spaces", "task 1"},
		{"dot dot path", "../../etc/passwd"},
		{"newline injection", "id\nlevel=error"},
		{"too long", strings.Repeat("a", 129)},
		{"non ascii", "täsk"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := WithTaskID(context.Background(), tt.id)
			assert.Empty(t, TaskID(ctx), "invalid ID must be dropped")
		})
	}
}

func TestWithTaskID_MaxLength(t *testing.T) {
	id := strings.Repeat("a", 128)
	ctx := WithTaskID(context.Background(), id)
	assert.Equal(t, id, TaskID(ctx))
}

func TestFieldsFromContext(t *testing.T) {
	ctx := WithTaskID(context.Background(), "task-7")
	ctx = WithRequestID(ctx, "req-1")

	fields := fieldsFromContext(ctx)
	require.Len(t, fields, 2)

	byKey := map[string]string{}
	for _, f := range fields {
		require.Equal(t, zapcore.StringType, f.Type)
		byKey[f.Key] = f.String
	}
	assert.Equal(t, "task-7", byKey["task.id"])
	assert.Equal(t, "req-1", byKey["request.id"])
}

func TestFieldsFromContext_Background(t *testing.T) {
	assert.Empty(t, fieldsFromContext(context.Background()))
}
