package config

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// ParseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func ParseLogLevel(level string) slog.Level {
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

// NewLogger builds the process logger writing to out. Format "auto" picks
// text on a terminal and JSON otherwise. DevMode forces debug.
func NewLogger(cfg LogConfig, devMode bool, out io.Writer) *slog.Logger {
	level := ParseLogLevel(cfg.Level)
	if devMode {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	if useText(cfg.Format, out) {
		return slog.New(slog.NewTextHandler(out, opts))
	}
	return slog.New(slog.NewJSONHandler(out, opts))
}

func useText(format string, out io.Writer) bool {
	switch format {
	case "text":
		return true
	case "json":
		return false
	}
	f, ok := out.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
