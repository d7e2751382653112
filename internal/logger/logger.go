// Package logger provides structured logging using Go's slog package.
// Format (JSON/text) and level come from the loaded configuration.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// contextKey is a typed key for context values to avoid collisions.
type contextKey string

const (
	miniAppIDKey contextKey = "mini_app_id"
	operationKey contextKey = "operation"
)

// Init initializes the global logger writing to stdout.
//
// format is "json" (default) or "text"; level is "DEBUG", "INFO" (default),
// "WARN" or "ERROR".
func Init(format, level string) error {
	return InitWriter(os.Stdout, format, level)
}

// InitWriter initializes the global logger writing to w.
func InitWriter(w io.Writer, format, level string) error {
	if format == "" {
		format = "json"
	}
	if level == "" {
		level = "INFO"
	}

	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "INFO":
		lvl = slog.LevelInfo
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		return fmt.Errorf("invalid log level: %s (must be DEBUG, INFO, WARN, or ERROR)", level)
	}

	opts := &slog.HandlerOptions{
		Level: lvl,
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		return fmt.Errorf("invalid log format: %s (must be json or text)", format)
	}

	slog.SetDefault(slog.New(handler))

	return nil
}

// WithMiniAppID tags the context with the calling mini-app.
func WithMiniAppID(ctx context.Context, miniAppID string) context.Context {
	return context.WithValue(ctx, miniAppIDKey, miniAppID)
}

// GetMiniAppID retrieves the mini-app ID from context.
// Returns empty string if not present.
func GetMiniAppID(ctx context.Context) string {
	if id, ok := ctx.Value(miniAppIDKey).(string); ok {
		return id
	}
	return ""
}

// WithOperation tags the context with the key manager operation in flight.
func WithOperation(ctx context.Context, op string) context.Context {
	return context.WithValue(ctx, operationKey, op)
}

// FromContext returns a logger enriched with the mini-app ID and operation
// from context. If neither is present, returns the default logger.
func FromContext(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if id := GetMiniAppID(ctx); id != "" {
		l = l.With("mini_app_id", id)
	}
	if op, ok := ctx.Value(operationKey).(string); ok && op != "" {
		l = l.With("operation", op)
	}
	return l
}

// Info logs at INFO level with context enrichment.
func Info(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).Info(msg, args...)
}

// Error logs at ERROR level with context enrichment.
func Error(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).Error(msg, args...)
}

// Warn logs at WARN level with context enrichment.
func Warn(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).Warn(msg, args...)
}

// Debug logs at DEBUG level with context enrichment.
func Debug(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).Debug(msg, args...)
}
