package logger

import (
	"context"
	"io"
	"log/slog"
)

const ansiReset = "\033[0m"

var levelColors = map[slog.Level]string{
	slog.LevelDebug: "\033[36m", // cyan
	slog.LevelInfo:  "\033[32m", // green
	slog.LevelWarn:  "\033[33m", // yellow
	slog.LevelError: "\033[31m", // red
}

// ColorTextHandler decorates slog.TextHandler with an ANSI-colored level
// prefix so interactive runs are easy to scan.
type ColorTextHandler struct {
	*slog.TextHandler
	showLevel bool
}

// NewColorTextHandler creates a new ColorTextHandler. showLevel controls
// whether the colored level name is prefixed to the message.
func NewColorTextHandler(w io.Writer, opts *slog.HandlerOptions, showLevel bool) *ColorTextHandler {
	h := &ColorTextHandler{TextHandler: slog.NewTextHandler(w, opts)}
	h.showLevel = showLevel
	return h
}

// Handle implements slog.Handler.
func (h *ColorTextHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.showLevel {
		color, ok := levelColors[r.Level]
		if !ok {
			color = ansiReset
		}
		r.Message = color + r.Level.String() + ansiReset + "  " + r.Message
	}
	return h.TextHandler.Handle(ctx, r)
}
