package observability

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func consoleLine(t *testing.T, level slog.Level, handler slog.Handler, msg string, args ...any) string {
	t.Helper()

	rec := slog.NewRecord(time.Date(2024, 1, 2, 13, 14, 15, 0, time.UTC), level, msg, 0)
	rec.Add(args...)

	require.NoError(t, handler.Handle(context.Background(), rec))

	return ""
}

func TestConsoleHandlerFormat(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer

	handler := NewConsoleHandler(&buf, slog.LevelDebug)

	consoleLine(t, slog.LevelInfo, handler, "session started", "tag", "run1")

	out := buf.String()
	assert.Contains(t, out, "13:14:15")
	assert.Contains(t, out, "INFO")
	assert.Contains(t, out, "session started")
	assert.Contains(t, out, "tag=run1")
}

func TestConsoleHandlerLabel(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer

	handler := NewConsoleHandler(&buf, slog.LevelDebug).
		WithAttrs([]slog.Attr{slog.String("label", "align")})

	consoleLine(t, slog.LevelWarn, handler, "sample failed")

	out := buf.String()
	assert.Contains(t, out, "[align]")
	assert.NotContains(t, out, "label=")
}

func TestConsoleHandlerLevelGate(t *testing.T) {
	handler := NewConsoleHandler(&bytes.Buffer{}, slog.LevelWarn)

	assert.False(t, handler.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, handler.Enabled(context.Background(), slog.LevelError))
}
