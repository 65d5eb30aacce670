package common

import (
	"context"
	"log/slog"
)

// Context keys for storing values in context
type contextKey string

const (
	ContextKeyRunID  contextKey = "run_id"
	ContextKeyFile   contextKey = "file"
	ContextKeyLogger contextKey = "logger"
)

// WithRunID adds a run ID to the context
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, ContextKeyRunID, runID)
}

// RunIDFromContext extracts the run ID from context
func RunIDFromContext(ctx context.Context) string {
	if runID, ok := ctx.Value(ContextKeyRunID).(string); ok {
		return runID
	}
	return ""
}

// WithFile adds the path of the file being processed to the context
func WithFile(ctx context.Context, path string) context.Context {
	return context.WithValue(ctx, ContextKeyFile, path)
}

// FileFromContext extracts the file path from context
func FileFromContext(ctx context.Context) string {
	if path, ok := ctx.Value(ContextKeyFile).(string); ok {
		return path
	}
	return ""
}

// WithLogger stores a request-scoped logger
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ContextKeyLogger, logger)
}

// LoggerFromContext returns the stored logger, or fallback when none is set.
// A run ID found in ctx is attached.
func LoggerFromContext(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	logger, ok := ctx.Value(ContextKeyLogger).(*slog.Logger)
	if !ok || logger == nil {
		logger = fallback
	}
	if logger == nil {
		logger = slog.Default()
	}
	if id := RunIDFromContext(ctx); id != "" {
		logger = logger.With("run_id", id)
	}
	return logger
}
