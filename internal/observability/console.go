package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// ConsoleHandler renders log records for humans: timestamp, colored
// level, the component label, the message, and remaining attrs as
// key=value pairs.
type ConsoleHandler struct {
	mu    sync.Mutex
	out   io.Writer
	level slog.Level
	attrs []slog.Attr
}

// NewConsoleHandler creates a console handler writing to out.
func NewConsoleHandler(out io.Writer, level slog.Level) *ConsoleHandler {
	return &ConsoleHandler{out: out, level: level}
}

// Enabled implements slog.Handler.
func (handler *ConsoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= handler.level
}

var levelColors = map[slog.Level]*color.Color{
	slog.LevelDebug: color.New(color.FgHiBlack),
	slog.LevelInfo:  color.New(color.FgGreen),
	slog.LevelWarn:  color.New(color.FgYellow),
	slog.LevelError: color.New(color.FgRed, color.Bold),
}

func levelTag(level slog.Level) string {
	tag := level.String()

	painter, known := levelColors[level]
	if !known {
		return tag
	}

	return painter.Sprint(tag)
}

// Handle implements slog.Handler.
func (handler *ConsoleHandler) Handle(_ context.Context, rec slog.Record) error {
	label := ""
	pairs := make([]string, 0)

	collect := func(attr slog.Attr) bool {
		if attr.Key == "label" {
			label = attr.Value.String()

			return true
		}

		pairs = append(pairs, fmt.Sprintf("%s=%v", attr.Key, attr.Value.Any()))

		return true
	}

	for _, attr := range handler.attrs {
		collect(attr)
	}

	rec.Attrs(collect)

	var line strings.Builder

	line.WriteString(rec.Time.Format(time.TimeOnly))
	line.WriteString(" ")
	line.WriteString(levelTag(rec.Level))

	if label != "" {
		line.WriteString(" [")
		line.WriteString(label)
		line.WriteString("]")
	}

	line.WriteString(" ")
	line.WriteString(rec.Message)

	if len(pairs) > 0 {
		line.WriteString(" ")
		line.WriteString(strings.Join(pairs, " "))
	}

	line.WriteString("\n")

	handler.mu.Lock()
	defer handler.mu.Unlock()

	_, err := io.WriteString(handler.out, line.String())

	return err
}

// WithAttrs implements slog.Handler.
func (handler *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(handler.attrs)+len(attrs))
	merged = append(merged, handler.attrs...)
	merged = append(merged, attrs...)

	return &ConsoleHandler{out: handler.out, level: handler.level, attrs: merged}
}

// WithGroup implements slog.Handler. Groups are flattened; the console
// surface does not nest.
func (handler *ConsoleHandler) WithGroup(_ string) slog.Handler {
	return handler
}
