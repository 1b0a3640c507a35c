package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/polisai/polis-broker/pkg/broker"
	"github.com/polisai/polis-broker/pkg/domain"
)

func TestChannelMetrics(t *testing.T) {
	m := New()
	b := broker.New(broker.WithObserver[int](m), broker.WithQueueFactory(broker.QueueFactoryFor[int](1)))

	b.Publish("ch", 0)
	it := b.Subscribe("ch")
	b.Publish("ch", 1)
	b.Publish("ch", 2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.channelsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.eventsPublished.WithLabelValues("dropped")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.eventsPublished.WithLabelValues("queued")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.queueEvictions))

	it.Cancel()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.channelsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.channelsTotal))
}

func TestConnectionMetrics(t *testing.T) {
	m := New()

	m.ConnectionOpened(domain.KindTags)
	m.ConnectionOpened(domain.KindTags)
	m.ConnectionFailed(domain.KindNames)
	m.ConnectionClosed(domain.KindTags, nil)
	m.ConnectionClosed(domain.KindTags, errors.New("busy"))

	assert.Equal(t, 0.0, testutil.ToFloat64(m.connectionsActive.WithLabelValues("tags")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.connectionOpens.WithLabelValues("tags", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectionOpens.WithLabelValues("names", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectionCloses.WithLabelValues("tags", "error")))
}

// Property: subscribe request counters match the requests recorded.
func TestSubscribeRequestCountsProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		m := New()
		kinds := []domain.Kind{domain.KindNames, domain.KindQueryLatest, domain.KindQueryAll, domain.KindTags}
		statuses := []string{"ok", "invalid", "failed", "cancelled"}

		n := rapid.IntRange(0, 50).Draw(rt, "n")
		expected := make(map[[2]string]int)
		for range n {
			kind := rapid.SampledFrom(kinds).Draw(rt, "kind")
			status := rapid.SampledFrom(statuses).Draw(rt, "status")
			m.SubscribeRequest(kind, status)
			expected[[2]string{string(kind), status}]++
		}

		for key, want := range expected {
			got := testutil.ToFloat64(m.subscribeRequests.WithLabelValues(key[0], key[1]))
			if int(got) != want {
				rt.Fatalf("count mismatch for %v: expected %d, got %v", key, want, got)
			}
		}
	})
}

func TestMiddlewareRecordsRequests(t *testing.T) {
	m := New()
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/feeds/names" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	for _, path := range []string{"/health", "/feeds/names", "/feeds/other"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", "health", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", "names", "400")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", "unknown", "200")))
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New()
	m.RecordConfigReload("success")
	m.RecordStreamedEvent(domain.KindNames)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `polis_broker_config_reloads_total{status="success"} 1`))
	assert.True(t, strings.Contains(body, `polis_broker_events_streamed_total{kind="names"} 1`))
}
