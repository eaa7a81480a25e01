package logger

import (
	"context"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel/trace"
)

// New returns the JSON logger used by both services.
func New(service string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})).With("service", service)
}

// Info logs at info level with trace and span IDs when a span is active.
func Info(ctx context.Context, logger *slog.Logger, msg string, args ...any) {
	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.IsValid() {
		args = append(args,
			"trace_id", spanCtx.TraceID().String(),
			"span_id", spanCtx.SpanID().String(),
		)
	}
	logger.Info(msg, args...)
}

// Error logs at error level with trace and span IDs when a span is active.
func Error(ctx context.Context, logger *slog.Logger, msg string, args ...any) {
	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.IsValid() {
		args = append(args,
			"trace_id", spanCtx.TraceID().String(),
			"span_id", spanCtx.SpanID().String(),
		)
	}
	logger.Error(msg, args...)
}
