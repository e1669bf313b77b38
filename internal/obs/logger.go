// Package obs carries the engine's ambient observability stack: a zerolog
// logger constructed once at startup and threaded explicitly through every
// component (never a package-level global the core reaches for implicitly),
// plus the Prometheus metric registry for tick summaries and circuit
// breaker state.
package obs

import (
	"os"

	"github.com/rs/zerolog"
)

// NewLogger builds the process logger. In production it writes structured
// JSON to stdout; in development it writes the zerolog console writer,
// mirroring the teacher's cmd/api/main.go setup.
func NewLogger(environment, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if environment == "production" {
		return zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
}
