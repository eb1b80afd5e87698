// Package logger constructs the zerolog logger shared by the engine's
// components. The host application passes the resulting logger into the
// engine; components scope it with a "component" field.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New creates a zerolog logger with the given level and format. Format
// "json" writes structured JSON to stdout; anything else uses the console
// writer. Sampling keeps one in five events when enabled, for hosts that
// poll many flows at once.
func New(logLevel int, logFormat string, logSampler bool) zerolog.Logger {
	var writer io.Writer = os.Stdout
	if logFormat != "json" {
		writer = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
	}

	log := zerolog.New(writer).
		Level(zerolog.Level(logLevel)).
		With().
		Timestamp().
		Logger()

	if logSampler {
		log = log.Sample(&zerolog.BasicSampler{N: 5})
	}
	return log
}
