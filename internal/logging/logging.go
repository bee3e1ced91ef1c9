// Package logging builds the zerolog loggers used across xswap.
package logging

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New returns a logger writing to w. An empty or "disabled" level yields a
// no-op logger so one-shot commands keep stderr clean for error envelopes.
func New(w io.Writer, level, format string) (zerolog.Logger, error) {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "" || level == "disabled" || level == "off" {
		return zerolog.Nop(), nil
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("parse log level %q: %w", level, err)
	}

	var out io.Writer = w
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "console":
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: true}
	case "json":
	default:
		return zerolog.Nop(), fmt.Errorf("unsupported log format %q", format)
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger(), nil
}

// Component derives a child logger tagged with the component name.
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}
