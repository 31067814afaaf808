// Package observability carries request and task scoped loggers on contexts.
package observability

import (
	"context"
	"log/slog"
)

type loggerContextKey struct{}

// requestIDContextKey stores the originating HTTP request_id so queue workers
// and deeper layers can correlate their logs with the submission.
type requestIDContextKey struct{}

// ContextWithLogger attaches a non-nil logger to the context.
func ContextWithLogger(ctx context.Context, lg *slog.Logger) context.Context {
	if ctx == nil || lg == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerContextKey{}, lg)
}

// LoggerFromContext returns the logger stored in the context or slog.Default.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return slog.Default()
	}
	if lg, ok := ctx.Value(loggerContextKey{}).(*slog.Logger); ok && lg != nil {
		return lg
	}
	return slog.Default()
}

// WithLogAttrs derives a logger carrying args from the one on ctx and stores it
// back, so every layer below logs the same analysis_id/attempt fields.
func WithLogAttrs(ctx context.Context, args ...any) (context.Context, *slog.Logger) {
	lg := LoggerFromContext(ctx).With(args...)
	return ContextWithLogger(ctx, lg), lg
}

// ContextWithRequestID stores a non-empty request_id in the context.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	if ctx == nil || requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDContextKey{}, requestID)
}

// RequestIDFromContext retrieves the request_id, or "" when none is present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	rid, _ := ctx.Value(requestIDContextKey{}).(string)
	return rid
}
