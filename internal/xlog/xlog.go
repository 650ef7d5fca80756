// Package xlog wires up the process-wide zerolog logger from config,
// grounded on the teacher's direct rs/zerolog/log usage throughout
// internal/server.go and internal/net/server.go.
package xlog

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures the global zerolog logger for the given level and
// format ("console" or "json") and returns it. Unrecognized levels fall
// back to info.
func Setup(level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var w zerolog.Logger
	if format == "json" {
		w = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		w = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	}

	log.Logger = w
	return w
}
