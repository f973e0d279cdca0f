// Package logging builds the process logger for docrelay. Output is slog
// text or JSON to stderr, or to a rotating file when one is configured.
// Components receive the logger at construction; nothing in the pipeline
// reads a global.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/adalundhe/docrelay/core/config"
)

// New constructs a logger from the logging configuration. Unknown levels
// fall back to info, unknown formats to text.
func New(cfg config.LoggingConfig) *slog.Logger {
	return slog.New(newHandler(cfg, newWriter(cfg)))
}

// newWriter picks stderr or a rotating file.
func newWriter(cfg config.LoggingConfig) io.Writer {
	if cfg.File == "" {
		return os.Stderr
	}

	return &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
}

// newHandler builds the slog handler for the configured format and level.
func newHandler(cfg config.LoggingConfig, w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	if strings.EqualFold(cfg.Format, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// ParseLevel maps a config level name to a slog level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
