// logger.go - Structured logging setup for the billing daemon.
package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger configures zerolog's global logger: JSON to stdout by
// default, or a human-readable console writer when pretty is set
// (local development, not production).
func InitLogger(level string, pretty bool) error {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(parsed)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	var writer = os.Stdout
	if pretty {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: writer}).With().Timestamp().Logger()
		return nil
	}
	log.Logger = zerolog.New(writer).With().Timestamp().Logger()
	return nil
}
