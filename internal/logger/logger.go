package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation parameters for service output logs.
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Config describes the combined output destination for a service. A
// service's stdout and stderr share one stream. If Path is empty and Dir
// is set, the file is Dir/<name>.log. Rotation parameters follow
// lumberjack semantics.
type Config struct {
	Dir        string // base directory for logs
	Path       string // explicit path overrides Dir
	MaxSizeMB  int    // megabytes before rotation (default 10)
	MaxBackups int    // number of backups to keep (default 3)
	MaxAgeDays int    // days to keep (default 7)
	Compress   bool   // gzip rotated files
}

// Writer returns an io.WriteCloser for the named service's combined
// output, or nil when neither Path nor Dir is configured.
func (c Config) Writer(name string) (io.WriteCloser, error) {
	path := c.Path
	if path == "" && c.Dir != "" {
		path = filepath.Join(c.Dir, fmt.Sprintf("%s.log", name))
	}
	if path == "" {
		return nil, nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, err
		}
	}
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}, nil
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// New builds the supervisor's own slog logger writing to w. level accepts
// debug/info/warn/error (case-insensitive); anything else maps to info.
func New(w io.Writer, level string, color bool) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if color {
		return slog.New(NewColorTextHandler(w, opts, true))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
