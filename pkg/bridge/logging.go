package bridge

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/polis-broker/pkg/automation"
	"github.com/polisai/polis-broker/pkg/domain"
)

// StructuredLogger writes bridge events with consistent attributes
type StructuredLogger struct {
	logger *slog.Logger
}

// NewStructuredLogger creates a new structured logger
func NewStructuredLogger(logger *slog.Logger) *StructuredLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &StructuredLogger{logger: logger}
}

// LogConnection logs an engine connection event such as "opened" or "closed"
func (sl *StructuredLogger) LogConnection(ctx context.Context, event string, kind domain.Kind, h automation.Handle, err error) {
	attrs := []slog.Attr{
		slog.String("event_type", event),
		slog.String("kind", string(kind)),
		slog.Int64("handle", int64(h)),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	attrs = appendTraceAttrs(ctx, attrs)

	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelError
	}
	sl.logger.LogAttrs(ctx, level, "Engine connection", attrs...)
}

// LogLookupFailure logs a degraded enrichment field
func (sl *StructuredLogger) LogLookupFailure(ctx context.Context, err *domain.LookupError, elapsed time.Duration) {
	attrs := []slog.Attr{
		slog.String("name", err.Name),
		slog.String("field", err.Field),
		slog.Duration("duration", elapsed),
		slog.String("error", err.Err.Error()),
	}
	attrs = appendTraceAttrs(ctx, attrs)
	sl.logger.LogAttrs(ctx, slog.LevelWarn, "Enrichment lookup failed", attrs...)
}

// LogMismatch logs a change set whose names and values differ in length
func (sl *StructuredLogger) LogMismatch(ctx context.Context, kind domain.Kind, names, values int) {
	sl.logger.LogAttrs(ctx, slog.LevelWarn, "Names and values length mismatch; truncating",
		appendTraceAttrs(ctx, []slog.Attr{
			slog.String("kind", string(kind)),
			slog.Int("names", names),
			slog.Int("values", values),
		})...)
}

// LogTeardownFailure logs an engine close failure that was swallowed
func (sl *StructuredLogger) LogTeardownFailure(ctx context.Context, err *domain.TeardownError) {
	attrs := []slog.Attr{
		slog.String("kind", string(err.Kind)),
		slog.Int64("handle", err.Handle),
		slog.String("error", err.Err.Error()),
	}
	attrs = appendTraceAttrs(ctx, attrs)
	sl.logger.LogAttrs(ctx, slog.LevelWarn, "Engine teardown failed", attrs...)
}

func appendTraceAttrs(ctx context.Context, attrs []slog.Attr) []slog.Attr {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return attrs
	}
	return append(attrs,
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
