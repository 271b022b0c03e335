// Package sysutil sets up process-wide concerns for the relay binary.
package sysutil

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetLogLevel applies a zerolog level name. "warning" is accepted for warn;
// blank or unknown names fall back to info.
func SetLogLevel(lvl string) zerolog.Level {
	name := strings.ToLower(strings.TrimSpace(lvl))
	if name == "warning" {
		name = "warn"
	}
	level, err := zerolog.ParseLevel(name)
	if err != nil || name == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	return level
}

// Hostname identifies this relay node. Rooms and presence are per process,
// so log lines must say which node produced them.
func Hostname() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "unknown"
}

// SetupLogging installs the global logger. Lines are JSON unless pretty is
// set, and always carry service and node.
func SetupLogging(w io.Writer, level, service string, pretty bool) {
	if w == nil {
		w = os.Stdout
	}
	SetLogLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	log.Logger = zerolog.New(w).With().
		Timestamp().
		Str("service", service).
		Str("node", Hostname()).
		Logger()
}

// FirstNonEmpty returns the first value that is not blank, unmodified.
func FirstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
