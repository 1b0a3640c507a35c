package telemetry

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Lookup outcomes.
const (
	LookupSuccess = "success"
	LookupError   = "error"
	LookupTimeout = "timeout"
)

var (
	metricsOnce            sync.Once
	metricsInitErr         error
	lookupCounter          metric.Int64Counter
	lookupLatencyHistogram metric.Float64Histogram
)

// LookupMetrics captures the fields needed to record an enrichment lookup.
type LookupMetrics struct {
	Field    string
	Outcome  string
	Duration time.Duration
}

// RecordLookupMetrics emits the counter and histogram describing one
// enrichment lookup.
func RecordLookupMetrics(ctx context.Context, m LookupMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("lookup.field", m.Field),
		attribute.String("lookup.outcome", m.Outcome),
	)

	lookupCounter.Add(ctx, 1, attrs)
	if m.Duration > 0 {
		lookupLatencyHistogram.Record(ctx, float64(m.Duration)/float64(time.Millisecond), attrs)
	}
}

// LookupRecorder adapts RecordLookupMetrics to the bridge lookup hook.
type LookupRecorder struct{}

// RecordLookup classifies err and records the lookup.
func (LookupRecorder) RecordLookup(ctx context.Context, field string, elapsed time.Duration, err error) {
	outcome := LookupSuccess
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		outcome = LookupTimeout
	default:
		outcome = LookupError
	}
	RecordLookupMetrics(ctx, LookupMetrics{Field: field, Outcome: outcome, Duration: elapsed})
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("broker.enrichment")

		lookupCounter, metricsInitErr = meter.Int64Counter(
			"broker.enrichment.lookups_total",
			metric.WithDescription("Enrichment lookups partitioned by field and outcome"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		lookupLatencyHistogram, metricsInitErr = meter.Float64Histogram(
			"broker.enrichment.lookup_duration_ms",
			metric.WithDescription("Observed enrichment lookup latency"),
			metric.WithUnit("ms"),
		)
	})

	return metricsInitErr
}
