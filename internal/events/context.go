package events

import (
	"context"
	"os"
)

type contextKey int

const (
	loggerKey contextKey = iota
	operationKey
	pathKey
)

// FromContext extracts logger from context.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok && l != nil {
		return l
	}
	return defaultLogger
}

// WithLogger adds logger to context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// WithOperation tags the context logger with the running file operation.
func WithOperation(ctx context.Context, op string) context.Context {
	logger := FromContext(ctx).WithField("operation", op)
	ctx = context.WithValue(ctx, operationKey, op)
	return WithLogger(ctx, logger)
}

// WithPath tags the context logger with the file being processed.
func WithPath(ctx context.Context, path string) context.Context {
	logger := FromContext(ctx).WithField("path", path)
	ctx = context.WithValue(ctx, pathKey, path)
	return WithLogger(ctx, logger)
}

// GetOperation retrieves the operation name from context.
func GetOperation(ctx context.Context) string {
	if op, ok := ctx.Value(operationKey).(string); ok {
		return op
	}
	return ""
}

// GetPath retrieves the path from context.
func GetPath(ctx context.Context) string {
	if p, ok := ctx.Value(pathKey).(string); ok {
		return p
	}
	return ""
}

var defaultLogger = newLogger(InfoLevel, "text", os.Stderr)

// SetDefault sets the default logger.
func SetDefault(logger *Logger) {
	defaultLogger = logger
}
