// Package logging configures the process-wide zerolog logger. Every
// other package logs through the global github.com/rs/zerolog/log
// logger directly, the same way the teacher's internal/worker.go and
// internal/net/server.go do — this package only owns the one-time
// setup of that global logger's level and output format.
package logging

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global zerolog logger. levelName is one of
// zerolog's level strings ("debug", "info", "warn", "error"); pretty
// switches from newline-delimited JSON to zerolog's human-readable
// console writer, for local development.
func Init(levelName string, pretty bool) {
	level, err := zerolog.ParseLevel(strings.ToLower(levelName))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var writer = os.Stderr
	if pretty {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: writer}).With().Timestamp().Logger()
		return
	}
	log.Logger = zerolog.New(writer).With().Timestamp().Logger()
}
