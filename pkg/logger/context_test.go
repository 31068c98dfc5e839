package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureOutput направляет глобальный логгер в буфер на время теста.
func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()

	var buf bytes.Buffer
	Init(Config{Level: "debug", Output: &buf})
	t.Cleanup(func() {
		Init(Config{Level: "info"})
	})
	return &buf
}

func logLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	return line
}

func TestFromContextEnrichment(t *testing.T) {
	buf := captureOutput(t)

	ctx := WithTraceID(context.Background(), "trace-123")
	ctx = WithOrderID(ctx, 42)

	// Методы уровней зовутся прямо на результате FromContext.
	FromContext(ctx).Info().Msg("сообщение саги")

	line := logLine(t, buf)
	assert.Equal(t, "trace-123", line["trace_id"])
	assert.Equal(t, float64(42), line["order_id"])
	assert.Equal(t, "сообщение саги", line["message"])
}

func TestFromContextChainedLevels(t *testing.T) {
	tests := []struct {
		name  string
		emit  func(ctx context.Context)
		level string
	}{
		{name: "debug", emit: func(ctx context.Context) { FromContext(ctx).Debug().Msg("d") }, level: "debug"},
		{name: "info", emit: func(ctx context.Context) { FromContext(ctx).Info().Msg("i") }, level: "info"},
		{name: "warn", emit: func(ctx context.Context) { FromContext(ctx).Warn().Msg("w") }, level: "warn"},
		{name: "error", emit: func(ctx context.Context) { FromContext(ctx).Error().Msg("e") }, level: "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := captureOutput(t)
			tt.emit(context.Background())

			line := logLine(t, buf)
			assert.Equal(t, tt.level, line["level"])
		})
	}
}

func TestFromContextEmptyContext(t *testing.T) {
	buf := captureOutput(t)

	FromContext(context.Background()).Info().Msg("без корреляции")

	line := logLine(t, buf)
	assert.NotContains(t, line, "trace_id")
	assert.NotContains(t, line, "order_id")
}

func TestTraceIDRoundTrip(t *testing.T) {
	ctx := WithTraceID(context.Background(), "t-1")
	assert.Equal(t, "t-1", TraceIDFromContext(ctx))
	assert.Equal(t, "", TraceIDFromContext(context.Background()))

	ctx = WithOrderID(ctx, 7)
	assert.Equal(t, int64(7), OrderIDFromContext(ctx))
	assert.Equal(t, int64(0), OrderIDFromContext(context.Background()))
}
