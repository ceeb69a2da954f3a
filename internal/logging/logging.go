// Package logging provides structured logging setup using log/slog.
package logging

import (
	"log/slog"
	"os"
)

// Level represents the logging verbosity level.
type Level int

const (
	// LevelInfo is the default logging level for normal operation.
	LevelInfo Level = iota
	// LevelDebug enables verbose debug output.
	LevelDebug
)

func slogLevel(level Level) slog.Level {
	if level == LevelDebug {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// Setup initializes the global slog logger with a text handler writing to
// stderr. Call this once at application startup.
func Setup(level Level) {
	opts := &slog.HandlerOptions{
		Level: slogLevel(level),
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
}

// SetupJSON initializes the global slog logger with a JSON handler. Used by
// the gateway daemon, whose output is collected rather than read live.
func SetupJSON(level Level) {
	opts := &slog.HandlerOptions{
		Level: slogLevel(level),
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, opts)))
}

// SetupFromEnv initializes the logger based on environment variables.
// Set EASYVPN_DEBUG=1 to enable debug logging.
func SetupFromEnv() {
	level := LevelInfo
	if os.Getenv("EASYVPN_DEBUG") == "1" {
		level = LevelDebug
	}
	Setup(level)
}
