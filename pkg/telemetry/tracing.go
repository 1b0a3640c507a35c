package telemetry

import (
	"context"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/polis-broker/pkg/domain"
)

const instrumentationName = "github.com/polisai/polis-broker"

// TracingManager hands out the tracer shared by the broker components
type TracingManager struct {
	provider trace.TracerProvider
	tracer   trace.Tracer
}

// NewTracingManager creates a tracing manager. A nil provider uses the global
// tracer provider.
func NewTracingManager(provider trace.TracerProvider) *TracingManager {
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	return &TracingManager{
		provider: provider,
		tracer:   provider.Tracer(instrumentationName),
	}
}

// Tracer returns the shared tracer
func (tm *TracingManager) Tracer() trace.Tracer {
	return tm.tracer
}

// StartSpan starts a new span with the given name and attributes
func (tm *TracingManager) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tm.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// HTTPMiddleware wraps next with server-side request spans
func (tm *TracingManager) HTTPMiddleware(next http.Handler) http.Handler {
	return otelhttp.NewHandler(next, "polis-broker",
		otelhttp.WithTracerProvider(tm.provider),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// RecordStreamEvent attaches a coarse-grained event to the span streaming a
// feed, without the event payload.
func RecordStreamEvent(span trace.Span, ev domain.Event) {
	if span == nil || !span.IsRecording() {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("subscription.kind", string(ev.Kind())),
	}
	if msg, ok := ev.ErrorMessage(); ok {
		attrs = append(attrs, attribute.String("event.error", msg))
	}

	span.AddEvent("feed.event", trace.WithAttributes(attrs...))
}
