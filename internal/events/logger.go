package events

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/TheMichaelB/axcrypt/internal/config"
)

// LogLevel represents logging severity.
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// Logger provides structured logging on top of a slog handler.
// Derived loggers share the handler and carry their own fields.
type Logger struct {
	level  LogLevel
	format string
	base   *slog.Logger
	closer io.Closer
}

// NewLogger creates a logger from config.
func NewLogger(cfg *config.LogConfig) (*Logger, error) {
	var output io.Writer = os.Stderr
	var closer io.Closer
	if cfg.File != "" {
		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		output = file
		closer = file
	}

	l := newLogger(parseLevel(cfg.Level), cfg.Format, output)
	l.closer = closer
	return l, nil
}

// NewTestLogger creates a logger for testing.
func NewTestLogger(level LogLevel, format string, output io.Writer) *Logger {
	return newLogger(level, format, output)
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return newLogger(ErrorLevel+1, "text", io.Discard)
}

func newLogger(level LogLevel, format string, output io.Writer) *Logger {
	opts := &slog.HandlerOptions{
		Level: slogLevel(level),
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok {
					a.Value = slog.StringValue(strings.ToLower(lvl.String()))
				}
			}
			return a
		},
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	return &Logger{
		level:  level,
		format: format,
		base:   slog.New(handler),
	}
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	if l == nil || l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// Level returns the minimum level this logger emits.
func (l *Logger) Level() LogLevel {
	return l.level
}

// WithField returns a logger with an additional field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.derive(l.handle().With(key, value))
}

// WithFields returns a logger with additional fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return l.derive(l.handle().With(args...))
}

// WithError adds an error field.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithField("error", err.Error())
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string) {
	l.log(DebugLevel, msg)
}

// Info logs at info level.
func (l *Logger) Info(msg string) {
	l.log(InfoLevel, msg)
}

// Warn logs at warn level.
func (l *Logger) Warn(msg string) {
	l.log(WarnLevel, msg)
}

// Error logs at error level.
func (l *Logger) Error(msg string) {
	l.log(ErrorLevel, msg)
}

// Slog exposes the underlying slog logger.
func (l *Logger) Slog() *slog.Logger {
	return l.handle()
}

func (l *Logger) log(level LogLevel, msg string) {
	if l == nil || level < l.level {
		return
	}
	l.handle().Log(context.Background(), slogLevel(level), msg)
}

func (l *Logger) handle() *slog.Logger {
	if l == nil || l.base == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return l.base
}

func (l *Logger) derive(base *slog.Logger) *Logger {
	if l == nil {
		return &Logger{level: InfoLevel, base: base}
	}
	return &Logger{
		level:  l.level,
		format: l.format,
		base:   base,
		closer: l.closer,
	}
}

// Helper functions

func parseLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return DebugLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

func slogLevel(l LogLevel) slog.Level {
	switch l {
	case DebugLevel:
		return slog.LevelDebug
	case InfoLevel:
		return slog.LevelInfo
	case WarnLevel:
		return slog.LevelWarn
	case ErrorLevel:
		return slog.LevelError
	default:
		return slog.LevelError + 4
	}
}

// ParseLevel converts a level name into a LogLevel, defaulting to info.
func ParseLevel(s string) LogLevel {
	return parseLevel(s)
}
