package reflector

import (
	"os"

	"github.com/rs/zerolog"
)

// newLogger builds the process-wide base logger. Every long-lived component
// (Server, RTSPConnection, ReflectorSession, ReflectorStream) derives a
// child logger from it with .With() rather than reaching for a package-level
// global, so tests can inject their own sink.
func newLogger(level zerolog.Level) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		Level(level).
		With().
		Timestamp().
		Logger()
}
