// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	charm "github.com/charmbracelet/log"
)

// Level names accepted by Config.Level.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Config controls log output for the process.
type Config struct {
	Level  string    // debug, info, warn, error
	Format string    // "text" or "json"
	Output io.Writer // defaults to stderr
}

// DefaultConfig returns the standard logging configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Format: "text",
		Output: os.Stderr,
	}
}

// Logger is a leveled, component-scoped structured logger.
type Logger struct {
	l *charm.Logger
}

// New creates a logger from the given configuration.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	opts := charm.Options{
		ReportTimestamp: true,
		Level:           parseLevel(cfg.Level),
	}
	if strings.EqualFold(cfg.Format, "json") {
		opts.Formatter = charm.JSONFormatter
	}

	return &Logger{l: charm.NewWithOptions(out, opts)}
}

func parseLevel(s string) charm.Level {
	switch strings.ToLower(s) {
	case LevelDebug:
		return charm.DebugLevel
	case LevelWarn:
		return charm.WarnLevel
	case LevelError:
		return charm.ErrorLevel
	default:
		return charm.InfoLevel
	}
}

var (
	defaultMu     sync.RWMutex
	defaultLogger = New(DefaultConfig())
)

// Default returns the process-wide logger.
func Default() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// SetDefault replaces the process-wide logger (called once from the
// composition root after the config is loaded).
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = l
}

// WithComponent returns the default logger scoped to a component name.
func WithComponent(name string) *Logger {
	return Default().WithComponent(name)
}

// WithComponent returns a copy of the logger scoped to a component name.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{l: l.l.With("component", name)}
}

// With returns a copy of the logger with extra key/value context.
func (l *Logger) With(keyvals ...any) *Logger {
	return &Logger{l: l.l.With(keyvals...)}
}

// WithError returns a copy of the logger with the error attached.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{l: l.l.With("error", err)}
}

func (l *Logger) Debug(msg string, keyvals ...any) { l.l.Debug(msg, keyvals...) }
func (l *Logger) Info(msg string, keyvals ...any)  { l.l.Info(msg, keyvals...) }
func (l *Logger) Warn(msg string, keyvals ...any)  { l.l.Warn(msg, keyvals...) }
func (l *Logger) Error(msg string, keyvals ...any) { l.l.Error(msg, keyvals...) }
