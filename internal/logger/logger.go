// Package logger builds the zerolog logger shared by every component.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New creates a logger for the given environment. level is a zerolog level
// name; unknown or empty names fall back to info. The dev environment
// always logs at debug level in a human-readable console format.
func New(appEnv, level string) zerolog.Logger {
	return newWithWriter(os.Stdout, appEnv, level)
}

func newWithWriter(w io.Writer, appEnv, level string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	if appEnv == "dev" {
		lvl = zerolog.DebugLevel
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	return zerolog.New(w).With().Timestamp().Logger().Level(lvl)
}
