// Package logging provides the slog constructors shared across the engine.
//
// Loggers write to stderr because stdout carries the collected element
// streams: structured log lines must never interleave with pipeline output.
package logging

import (
	"log/slog"
	"os"
	"time"
)

// New creates the engine logger at the given level.
// Log timestamps stay second-granular to keep lines short; full-precision
// event times belong to the elements themselves, not the log stream.
func New(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			switch a.Key {
			case "error":
				a.Key = "err"
			case slog.TimeKey:
				if len(groups) == 0 {
					a.Value = slog.StringValue(a.Value.Time().Format(time.DateTime))
				}
			}
			return a
		},
	}))
}

// NewNop returns a logger that discards everything. Components default to it
// so embedding the engine stays silent unless a logger is injected.
func NewNop() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
