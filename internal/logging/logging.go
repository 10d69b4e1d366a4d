// Package logging builds the slog loggers used by the server and agent.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Config holds the logging configuration.
type Config struct {
	Level     string // debug, info, warn, error
	Format    string // text or json
	AddSource bool
}

// Logger pairs a logger with the level variable that drives it, so the level
// can be changed after construction.
type Logger struct {
	*slog.Logger
	level *slog.LevelVar
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// New creates a logger writing to w. Text output goes through tint.
func New(cfg Config, w io.Writer) (*Logger, error) {
	lvl, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	v := new(slog.LevelVar)
	v.Set(lvl)

	var h slog.Handler
	switch cfg.Format {
	case "json":
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: v, AddSource: cfg.AddSource})
	case "text", "":
		h = tint.NewHandler(w, &tint.Options{
			Level:      v,
			AddSource:  cfg.AddSource,
			TimeFormat: time.DateTime,
		})
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	return &Logger{Logger: slog.New(h), level: v}, nil
}

// SetLevel changes the minimum level of the logger and every logger derived
// from it with With.
func (l *Logger) SetLevel(s string) error {
	lvl, err := ParseLevel(s)
	if err != nil {
		return err
	}
	l.level.Set(lvl)
	return nil
}

// Level returns the current minimum level.
func (l *Logger) Level() slog.Level {
	return l.level.Level()
}

// Discard returns a logger that drops everything. Used in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(100)}))
}
