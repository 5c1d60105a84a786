// Package logger provides the structured logging interface used across the
// notification service. It is a thin layer over log/slog so components depend
// on a small interface instead of a concrete handler.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

// LogLevel is the minimum severity a logger emits.
type LogLevel string

// Supported log levels.
const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Field is a single structured key/value pair attached to a log record.
type Field = slog.Attr

// Logger is the structured logger used by every component.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	With(fields ...Field) Logger
}

// SlogLogger implements Logger on top of a slog.Logger.
type SlogLogger struct {
	inner *slog.Logger
}

// ParseLevel converts a configuration string into a LogLevel.
func ParseLevel(value string) (LogLevel, error) {
	switch LogLevel(strings.ToLower(strings.TrimSpace(value))) {
	case LogLevelDebug:
		return LogLevelDebug, nil
	case LogLevelInfo, "":
		return LogLevelInfo, nil
	case LogLevelWarn, "warning":
		return LogLevelWarn, nil
	case LogLevelError:
		return LogLevelError, nil
	default:
		return LogLevelInfo, fmt.Errorf("unsupported log level %q", value)
	}
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewSlogLogger creates a text logger writing to w. When tz is non-nil,
// record timestamps are converted into that location.
func NewSlogLogger(w io.Writer, level LogLevel, tz *time.Location) *SlogLogger {
	return &SlogLogger{inner: slog.New(slog.NewTextHandler(w, handlerOptions(level, tz)))}
}

// NewJSONLogger creates a JSON logger writing to w.
func NewJSONLogger(w io.Writer, level LogLevel, tz *time.Location) *SlogLogger {
	return &SlogLogger{inner: slog.New(slog.NewJSONHandler(w, handlerOptions(level, tz)))}
}

// New builds a logger from the configured format ("text" or "json").
func New(w io.Writer, format string, level LogLevel) (*SlogLogger, error) {
	switch strings.ToLower(format) {
	case "", "text":
		return NewSlogLogger(w, level, nil), nil
	case "json":
		return NewJSONLogger(w, level, nil), nil
	default:
		return nil, fmt.Errorf("unsupported log format %q", format)
	}
}

func handlerOptions(level LogLevel, tz *time.Location) *slog.HandlerOptions {
	opts := &slog.HandlerOptions{Level: level.slogLevel()}
	if tz != nil {
		opts.ReplaceAttr = func(_ []string, attr slog.Attr) slog.Attr {
			if attr.Key == slog.TimeKey && attr.Value.Kind() == slog.KindTime {
				return slog.Time(slog.TimeKey, attr.Value.Time().In(tz))
			}
			return attr
		}
	}
	return opts
}

func (l *SlogLogger) log(level slog.Level, msg string, fields []Field) {
	l.inner.LogAttrs(context.Background(), level, msg, fields...)
}

// Debug logs at debug level.
func (l *SlogLogger) Debug(msg string, fields ...Field) { l.log(slog.LevelDebug, msg, fields) }

// Info logs at info level.
func (l *SlogLogger) Info(msg string, fields ...Field) { l.log(slog.LevelInfo, msg, fields) }

// Warn logs at warn level.
func (l *SlogLogger) Warn(msg string, fields ...Field) { l.log(slog.LevelWarn, msg, fields) }

// Error logs at error level.
func (l *SlogLogger) Error(msg string, fields ...Field) { l.log(slog.LevelError, msg, fields) }

// With returns a child logger that always carries fields.
func (l *SlogLogger) With(fields ...Field) Logger {
	args := make([]any, 0, len(fields))
	for _, f := range fields {
		args = append(args, f)
	}
	return &SlogLogger{inner: l.inner.With(args...)}
}

// Discard returns a logger that drops everything. Used by tests and as a
// nil-safe fallback in constructors.
func Discard() Logger {
	return NewSlogLogger(io.Discard, LogLevelError, nil)
}

// String creates a string field.
func String(key, value string) Field { return slog.String(key, value) }

// Int creates an int field.
func Int(key string, value int) Field { return slog.Int(key, value) }

// Int64 creates an int64 field.
func Int64(key string, value int64) Field { return slog.Int64(key, value) }

// Uint64 creates a uint64 field.
func Uint64(key string, value uint64) Field { return slog.Uint64(key, value) }

// Bool creates a bool field.
func Bool(key string, value bool) Field { return slog.Bool(key, value) }

// Float64 creates a float64 field.
func Float64(key string, value float64) Field { return slog.Float64(key, value) }

// Duration creates a duration field.
func Duration(key string, value time.Duration) Field { return slog.Duration(key, value) }

// Time creates a timestamp field.
func Time(key string, value time.Time) Field { return slog.Time(key, value) }

// Any creates a field for an arbitrary value.
func Any(key string, value any) Field { return slog.Any(key, value) }

// Error creates the conventional "error" field. A nil error is logged as an
// empty string.
func Error(err error) Field {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}
