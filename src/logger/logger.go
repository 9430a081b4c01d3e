// Package logger provides the global diagnostic logger. Pipeline-facing
// output goes through src/output; this logger carries verbose diagnostics
// (exec invocations, retry attempts, registry round trips).
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Log is the global logger instance. Silent until Init is called, so library
// code can log unconditionally.
var Log = zerolog.New(io.Discard)

// Init configures the global logger. Verbose enables debug-level output.
func Init(verbose bool) {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}

	cw := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.TimeOnly,
	}
	Log = zerolog.New(cw).Level(level).With().Timestamp().Logger()
}
