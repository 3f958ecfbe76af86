// Package slogger provides a shared LOG_LEVEL-aware slog initialization helper.
//
// Call Init() at the start of main() to configure the global slog logger from the
// LOG_LEVEL and LOG_FORMAT environment variables. Logs go to stderr so that
// command output on stdout stays machine readable.
//
// Valid LOG_LEVEL values: "debug", "info", "warn", "error". Default: "info".
// Valid LOG_FORMAT values: "text", "json". Default: "text".
package slogger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// level holds the dynamic log level so it can be queried at runtime.
var level *slog.LevelVar

// Init configures the default logger from the environment.
func Init() {
	InitWriter(os.Stderr, os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
}

// InitWriter configures the default logger to write to w.
func InitWriter(w io.Writer, lvl, format string) {
	level = &slog.LevelVar{}
	level.Set(parseLevel(lvl))

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// SetLevel changes the level of the logger installed by Init.
func SetLevel(s string) {
	if level == nil {
		return
	}
	level.Set(parseLevel(s))
}

// Level returns the current slog.Level.
func Level() slog.Level {
	if level == nil {
		return slog.LevelInfo
	}
	return level.Level()
}

// IsDebug returns true when the current log level is debug or lower.
func IsDebug() bool {
	return Level() <= slog.LevelDebug
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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
