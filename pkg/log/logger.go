// Package log builds the service's structured loggers and provides typed
// attribute helpers for the values that recur throughout the host.
package log

import (
	"log/slog"
	"os"
)

// New constructs the service's JSON logger at info level
func New(service, env, version string) *slog.Logger {
	return NewWithLevel(service, env, version, slog.LevelInfo)
}

// NewWithLevel constructs the service's JSON logger at the given level.
// Every record carries the service, env, and version attributes
func NewWithLevel(
	service, env, version string, lvl slog.Level,
) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	})

	return slog.New(handler).With(
		slog.String("service", service),
		slog.String("env", env),
		slog.String("version", version))
}

// Discard returns a logger that drops every record, for tests that want a
// quiet host
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
