// Package logging builds the process-wide [log/slog] logger and carries it
// through request and command contexts.
//
// Environment variables read by [New]:
//
//	LOG_LEVEL  = debug | info | warn | error  (default: info)
//	LOG_FORMAT = json | text                  (default: json)
//	LOG_SOURCE = true | false                 (default: false)
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Service is attached to every record emitted by a logger from [New].
const Service = "docsearch"

type contextKey struct{}

// Options control handler construction. The zero value writes info-level
// JSON without source locations.
type Options struct {
	Level  slog.Level
	Format string // "json" or "text"
	Source bool
}

// OptionsFromEnv reads LOG_LEVEL, LOG_FORMAT and LOG_SOURCE.
func OptionsFromEnv() Options {
	return Options{
		Level:  parseLevel(os.Getenv("LOG_LEVEL")),
		Format: strings.ToLower(strings.TrimSpace(os.Getenv("LOG_FORMAT"))),
		Source: parseBool(os.Getenv("LOG_SOURCE")),
	}
}

// New returns a stderr logger configured from the environment.
func New() *slog.Logger {
	return NewWriter(os.Stderr, OptionsFromEnv())
}

// NewWriter returns a logger that writes to w. Every record carries
// service=docsearch.
func NewWriter(w io.Writer, o Options) *slog.Logger {
	hopts := &slog.HandlerOptions{Level: o.Level, AddSource: o.Source}

	var h slog.Handler
	if o.Format == "text" {
		h = slog.NewTextHandler(w, hopts)
	} else {
		h = slog.NewJSONHandler(w, hopts)
	}
	return slog.New(h).With(slog.String("service", Service))
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// WithLogger returns a copy of ctx carrying logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext returns the logger stored in ctx, or [slog.Default] when there
// is none.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(contextKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
