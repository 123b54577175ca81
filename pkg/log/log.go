// Package log builds the process logger. Diagnostics go to stderr so
// they never end up inside files redirected from stdout; components
// derive their own loggers with a component field.
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New creates the root logger. Format is "console" or "json"; an
// unknown level falls back to info.
func New(level, format string) zerolog.Logger {
	return NewWithOutput(level, format, os.Stderr)
}

// NewWithOutput creates a logger writing to the given output.
func NewWithOutput(level, format string, out io.Writer) zerolog.Logger {
	var logger zerolog.Logger

	if format == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}).
			With().Timestamp().Logger()
	} else {
		logger = zerolog.New(out).With().Timestamp().Logger()
	}

	switch level {
	case "debug":
		logger = logger.Level(zerolog.DebugLevel)
	case "info":
		logger = logger.Level(zerolog.InfoLevel)
	case "warn":
		logger = logger.Level(zerolog.WarnLevel)
	case "error":
		logger = logger.Level(zerolog.ErrorLevel)
	default:
		logger = logger.Level(zerolog.InfoLevel)
	}

	return logger
}
