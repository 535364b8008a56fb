// Package logging configures the global zerolog logger.
package logging

import (
    "io"
    "os"
    "time"

    "github.com/rs/zerolog"
    "github.com/rs/zerolog/log"
)

// Setup initializes the global logger. Format "console" gives a pretty
// writer for development; anything else logs JSON to stdout.
func Setup(level, format string) {
    lvl, err := zerolog.ParseLevel(level)
    if err != nil {
        lvl = zerolog.InfoLevel
    }
    zerolog.SetGlobalLevel(lvl)
    zerolog.TimeFieldFormat = time.RFC3339Nano

    var output io.Writer = os.Stdout
    if format == "console" {
        output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
    }

    log.Logger = zerolog.New(output).
        With().
        Timestamp().
        Str("service", "bookrelay").
        Logger()
}

// NewLogger returns a logger tagged with a component name.
func NewLogger(component string) zerolog.Logger {
    return log.Logger.With().Str("component", component).Logger()
}
