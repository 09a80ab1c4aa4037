// Package logging builds the structured loggers used by the command line
// tool.
package logging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

var errInvalidLevel = errors.New("invalid log level")

type Options struct {
	Level slog.Level

	Logout io.Writer

	WantJSON bool
}

// NewLogger returns a colourised text logger, or a JSON logger if
// requested.
func NewLogger(opts Options) *slog.Logger {
	if opts.WantJSON {
		return slog.New(slog.NewJSONHandler(opts.Logout, &slog.HandlerOptions{
			Level: opts.Level,
		}))
	}

	return slog.New(tint.NewHandler(opts.Logout, &tint.Options{
		Level:      opts.Level,
		TimeFormat: time.TimeOnly,
	}))
}

// ParseLevel parses a level name as accepted on the command line.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}

	return 0, fmt.Errorf("%w: %q is not recognized", errInvalidLevel, s)
}
