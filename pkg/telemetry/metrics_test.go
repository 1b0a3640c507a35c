package telemetry

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/polisai/polis-broker/pkg/domain"
)

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}

	metrics := map[string]metricdata.Metrics{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			metrics[m.Name] = m
		}
	}
	return metrics
}

func installMeterProvider(t *testing.T) *sdkmetric.ManualReader {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)
	t.Cleanup(func() {
		otel.SetMeterProvider(prev)
		ResetMetricsForTest()
	})

	ResetMetricsForTest()
	return reader
}

func TestRecordLookupMetrics(t *testing.T) {
	reader := installMeterProvider(t)
	ctx := context.Background()

	RecordLookupMetrics(ctx, LookupMetrics{
		Field:    "status",
		Outcome:  LookupSuccess,
		Duration: 150 * time.Millisecond,
	})

	metrics := collectMetrics(t, reader)

	sum, ok := metrics["broker.enrichment.lookups_total"]
	if !ok {
		t.Fatalf("missing broker.enrichment.lookups_total metric")
	}
	sumData, ok := sum.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type for lookups metric")
	}
	if len(sumData.DataPoints) != 1 {
		t.Fatalf("expected 1 datapoint, got %d", len(sumData.DataPoints))
	}
	if sumData.DataPoints[0].Value != 1 {
		t.Fatalf("expected lookup count 1, got %d", sumData.DataPoints[0].Value)
	}
	if value, ok := sumData.DataPoints[0].Attributes.Value(attribute.Key("lookup.field")); !ok || value.AsString() != "status" {
		t.Fatalf("expected lookup.field attribute to be status, got %v", value)
	}

	hist, ok := metrics["broker.enrichment.lookup_duration_ms"]
	if !ok {
		t.Fatalf("missing broker.enrichment.lookup_duration_ms metric")
	}
	histData := hist.Data.(metricdata.Histogram[float64])
	if histData.DataPoints[0].Count != 1 {
		t.Fatalf("expected histogram count 1, got %d", histData.DataPoints[0].Count)
	}
	if histData.DataPoints[0].Sum != 150 {
		t.Fatalf("expected histogram sum 150, got %v", histData.DataPoints[0].Sum)
	}
}

func TestLookupRecorderClassifiesOutcome(t *testing.T) {
	reader := installMeterProvider(t)
	ctx := context.Background()
	var rec LookupRecorder

	rec.RecordLookup(ctx, "timestamp", time.Millisecond, nil)
	rec.RecordLookup(ctx, "timestamp", time.Millisecond, errors.New("unavailable"))
	rec.RecordLookup(ctx, "timestamp", time.Millisecond, context.DeadlineExceeded)

	metrics := collectMetrics(t, reader)
	sumData := metrics["broker.enrichment.lookups_total"].Data.(metricdata.Sum[int64])

	outcomes := map[string]int64{}
	for _, dp := range sumData.DataPoints {
		value, _ := dp.Attributes.Value(attribute.Key("lookup.outcome"))
		outcomes[value.AsString()] += dp.Value
	}
	want := map[string]int64{LookupSuccess: 1, LookupError: 1, LookupTimeout: 1}
	for outcome, n := range want {
		if outcomes[outcome] != n {
			t.Fatalf("expected %d %s lookups, got %d", n, outcome, outcomes[outcome])
		}
	}
}

func TestRecordStreamEvent(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider()
	tp.RegisterSpanProcessor(recorder)
	tm := NewTracingManager(tp)

	_, span := tm.StartSpan(context.Background(), "feed")
	msg := "source offline"
	RecordStreamEvent(span, &domain.NamesEvent{Type: "update", Error: &msg})
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	events := spans[0].Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 feed event, got %d", len(events))
	}
	if events[0].Name != "feed.event" {
		t.Fatalf("unexpected event name %q", events[0].Name)
	}

	attrs := attribute.NewSet(events[0].Attributes...)
	if value, ok := attrs.Value(attribute.Key("subscription.kind")); !ok || value.AsString() != "names" {
		t.Fatalf("expected subscription.kind names, got %v", value)
	}
	if value, ok := attrs.Value(attribute.Key("event.error")); !ok || value.AsString() != msg {
		t.Fatalf("expected event.error %q, got %v", msg, value)
	}

	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown tracer provider: %v", err)
	}
}

func TestSetupProviderWithoutEndpoint(t *testing.T) {
	shutdown, err := SetupProvider(context.Background(), Config{ServiceName: "test"})
	if err != nil {
		t.Fatalf("setup provider: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestSamplerHonoursRatio(t *testing.T) {
	for _, tc := range []struct {
		ratio float64
		want  string
	}{
		{0, "AlwaysOnSampler"},
		{1, "AlwaysOnSampler"},
		{0.25, "TraceIDRatioBased{0.25}"},
	} {
		desc := sampler(tc.ratio).Description()
		if !strings.Contains(desc, tc.want) {
			t.Fatalf("ratio %v: sampler %q does not contain %q", tc.ratio, desc, tc.want)
		}
	}

	bad := Config{SampleRatio: -0.1}
	if err := bad.Validate(); err == nil {
		t.Fatal("expected negative ratio to be rejected")
	}
}
