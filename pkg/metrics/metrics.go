// Package metrics exposes Prometheus metrics for the broker, the bridges and
// the HTTP surface. Metrics use a dedicated registry rather than the global
// default.
package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/polisai/polis-broker/pkg/bridge"
	"github.com/polisai/polis-broker/pkg/broker"
	"github.com/polisai/polis-broker/pkg/domain"
	"github.com/polisai/polis-broker/pkg/subscription"
)

const namespace = "polis_broker"

// Metrics holds all Prometheus metrics for the broker
type Metrics struct {
	// Channel registry metrics
	channelsActive  prometheus.Gauge
	channelsTotal   prometheus.Counter
	eventsPublished *prometheus.CounterVec
	queueEvictions  prometheus.Counter

	// Engine connection metrics
	connectionsActive *prometheus.GaugeVec
	connectionOpens   *prometheus.CounterVec
	connectionCloses  *prometheus.CounterVec

	// Subscribe request metrics
	subscribeRequests *prometheus.CounterVec

	// Streaming metrics
	eventsStreamed *prometheus.CounterVec

	// Configuration reload metrics
	configReloads *prometheus.CounterVec

	// HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

var (
	_ broker.Observer              = (*Metrics)(nil)
	_ bridge.Observer              = (*Metrics)(nil)
	_ subscription.RequestObserver = (*Metrics)(nil)
)

// New creates a metrics instance with every broker metric registered
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		channelsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "channels_active",
				Help:      "Number of channels with at least one subscriber",
			},
		),

		channelsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "channels_total",
				Help:      "Total number of channels opened",
			},
		),

		eventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_published_total",
				Help:      "Total number of published events by delivery outcome",
			},
			[]string{"outcome"},
		),

		queueEvictions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queue_evictions_total",
				Help:      "Total number of queued events evicted by bounded queues",
			},
		),

		connectionsActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "engine_connections_active",
				Help:      "Number of open engine connections by kind",
			},
			[]string{"kind"},
		),

		connectionOpens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "engine_connection_opens_total",
				Help:      "Total number of engine connection opens by kind and status",
			},
			[]string{"kind", "status"},
		),

		connectionCloses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "engine_connection_closes_total",
				Help:      "Total number of engine connection closes by kind and status",
			},
			[]string{"kind", "status"},
		),

		subscribeRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "subscribe_requests_total",
				Help:      "Total number of subscribe requests by kind and status",
			},
			[]string{"kind", "status"},
		),

		eventsStreamed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_streamed_total",
				Help:      "Total number of events written to streaming clients by kind",
			},
			[]string{"kind"},
		),

		configReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reloads_total",
				Help:      "Total number of configuration reload attempts by status",
			},
			[]string{"status"},
		),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.channelsActive,
		m.channelsTotal,
		m.eventsPublished,
		m.queueEvictions,
		m.connectionsActive,
		m.connectionOpens,
		m.connectionCloses,
		m.subscribeRequests,
		m.eventsStreamed,
		m.configReloads,
		m.httpRequestsTotal,
		m.httpRequestDuration,
	)

	return m
}

// ChannelOpened implements broker.Observer
func (m *Metrics) ChannelOpened() {
	m.channelsActive.Inc()
	m.channelsTotal.Inc()
}

// ChannelClosed implements broker.Observer
func (m *Metrics) ChannelClosed() {
	m.channelsActive.Dec()
}

// EventPublished implements broker.Observer
func (m *Metrics) EventPublished(outcome broker.Outcome) {
	m.eventsPublished.WithLabelValues(string(outcome)).Inc()
}

// EventEvicted implements broker.Observer
func (m *Metrics) EventEvicted() {
	m.queueEvictions.Inc()
}

// ConnectionOpened implements bridge.Observer
func (m *Metrics) ConnectionOpened(kind domain.Kind) {
	m.connectionOpens.WithLabelValues(string(kind), "success").Inc()
	m.connectionsActive.WithLabelValues(string(kind)).Inc()
}

// ConnectionFailed implements bridge.Observer
func (m *Metrics) ConnectionFailed(kind domain.Kind) {
	m.connectionOpens.WithLabelValues(string(kind), "error").Inc()
}

// ConnectionClosed implements bridge.Observer. A failed close still releases
// the connection from the broker's point of view.
func (m *Metrics) ConnectionClosed(kind domain.Kind, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.connectionCloses.WithLabelValues(string(kind), status).Inc()
	m.connectionsActive.WithLabelValues(string(kind)).Dec()
}

// SubscribeRequest implements subscription.RequestObserver
func (m *Metrics) SubscribeRequest(kind domain.Kind, status string) {
	m.subscribeRequests.WithLabelValues(string(kind), status).Inc()
}

// RecordStreamedEvent records an event written to a streaming client
func (m *Metrics) RecordStreamedEvent(kind domain.Kind) {
	m.eventsStreamed.WithLabelValues(string(kind)).Inc()
}

// RecordConfigReload records a configuration reload attempt
func (m *Metrics) RecordConfigReload(status string) {
	m.configReloads.WithLabelValues(status).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Middleware creates HTTP middleware that records request metrics
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		m.RecordHTTPRequest(r.Method, endpointName(r.URL.Path), strconv.Itoa(wrapped.statusCode), time.Since(start))
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("underlying ResponseWriter does not support http.Hijacker")
}

// Unwrap lets http.ResponseController reach the underlying writer
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// endpointName maps a path to a bounded label value
func endpointName(path string) string {
	switch path {
	case "/health":
		return "health"
	case "/metrics":
		return "metrics"
	case "/feeds/names", "/feeds/tags", "/feeds/query/latest", "/feeds/query/all":
		return strings.TrimPrefix(path, "/feeds/")
	default:
		return "unknown"
	}
}
