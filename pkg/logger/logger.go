// Package logger builds the structured loggers shared by the studio
// binaries.
package logger

import (
	"log/slog"
	"os"
)

// New returns a JSON logger writing to stdout. Every record carries the
// service name so api and migrate output can be told apart when both
// land in one stream.
func New(service string, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(handler).With("service", service)
}
