// Package logger builds the process-wide structured logger.
package logger

import (
	"log/slog"
	"os"
	"strings"

	"github.com/tiergate/tiergate/internal/config"
)

// New creates a *slog.Logger writing JSON records to stdout. Every record
// carries the service name so aggregated logs stay attributable. Source
// locations are included only at debug level to keep production records lean.
func New(cfg config.Logging) *slog.Logger {
	level := parseLevel(cfg.Level)

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	})

	return slog.New(handler).With("service", cfg.Service)
}

// parseLevel converts a string log level to slog.Level. Unknown values
// fall back to info rather than failing startup.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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
