// SPDX-License-Identifier: Apache-2.0

// Package logging builds the slog loggers shared by the vault-flow binaries.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

type Options struct {
	// Env "prod" selects JSON output without source locations; anything
	// else gets human-readable text with sources.
	Env     string
	Level   string
	Service string
	Output  io.Writer
}

// New returns a logger tagged with the service name. Output defaults to
// stdout.
func New(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	var h slog.Handler
	if strings.EqualFold(strings.TrimSpace(opts.Env), "prod") {
		h = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: ParseLevel(opts.Level)})
	} else {
		h = slog.NewTextHandler(out, &slog.HandlerOptions{
			Level:     ParseLevel(opts.Level),
			AddSource: true,
		})
	}

	l := slog.New(h)
	if opts.Service != "" {
		l = l.With("service", opts.Service)
	}
	return l
}

// NewLogger is New with the level read from LOG_LEVEL.
func NewLogger(env, service string) *slog.Logger {
	return New(Options{Env: env, Level: os.Getenv("LOG_LEVEL"), Service: service})
}

// ParseLevel maps debug/info/warn/error to a slog level; unknown values
// fall back to info.
func ParseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
