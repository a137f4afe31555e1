// Package telemetry wires up structured logging with zerolog, the same
// logging library the rest of this codebase's teacher dependency stack
// uses.
package telemetry

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger returns a logger scoped to component, writing to w (stderr
// if nil) in zerolog's console-friendly format during development and
// plain JSON otherwise.
func NewLogger(component string, w io.Writer, pretty bool) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	var out io.Writer = w
	if pretty {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

// SetGlobalLevel configures the process-wide minimum log level from a
// string (spec's LOG_LEVEL-style knobs), defaulting to info on an
// unrecognized value.
func SetGlobalLevel(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}
