// Package logging builds the process zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"reminderq/internal/config"
)

const consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// New returns a logger writing to stdout and installs it as the global logger.
func New(cfg config.Log, service string) zerolog.Logger {
	return newLogger(cfg, service, os.Stdout)
}

func newLogger(cfg config.Log, service string, out io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.ErrorFieldName = "err"

	w := out
	if strings.EqualFold(strings.TrimSpace(cfg.Format), "console") {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: consoleTimeFormat}
	}

	zl := zerolog.New(w).
		Level(ParseLevel(cfg.Level, zerolog.InfoLevel)).
		With().
		Timestamp().
		Str("service", service).
		Logger()

	log.Logger = zl
	zerolog.DefaultContextLogger = &log.Logger
	return zl
}

// ParseLevel maps a level name to a zerolog level, falling back to def.
func ParseLevel(s string, def zerolog.Level) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return def
	case "warning":
		return zerolog.WarnLevel
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return def
	}
	return lvl
}
