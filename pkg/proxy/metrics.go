package proxy

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the proxy
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	maskedEntities   *prometheus.CounterVec
	requestsInFlight prometheus.Gauge

	upstreamLatency *prometheus.HistogramVec
	upstreamErrors  *prometheus.CounterVec

	streamChunks  prometheus.Counter
	streamFlushes prometheus.Counter

	secretRuleReloads *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics instance backed by its own registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "veilproxy_requests_total",
				Help: "Total number of proxied requests by mode and outcome",
			},
			[]string{"mode", "outcome"},
		),

		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "veilproxy_request_duration_seconds",
				Help:    "End-to-end request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"mode"},
		),

		maskedEntities: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "veilproxy_masked_entities_total",
				Help: "Total number of placeholders issued by entity type",
			},
			[]string{"entity_type"},
		),

		requestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "veilproxy_requests_in_flight",
				Help: "Number of requests currently being proxied",
			},
		),

		upstreamLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "veilproxy_upstream_duration_seconds",
				Help:    "Upstream time to first byte in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"status_code"},
		),

		upstreamErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "veilproxy_upstream_errors_total",
				Help: "Total number of upstream failures by kind",
			},
			[]string{"kind"},
		),

		streamChunks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "veilproxy_stream_chunks_total",
				Help: "Total number of streamed SSE events forwarded to clients",
			},
		),

		streamFlushes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "veilproxy_stream_flushes_total",
				Help: "Total number of end-of-stream buffer flushes that emitted text",
			},
		),

		secretRuleReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "veilproxy_secret_rule_reloads_total",
				Help: "Total number of secret rule reload attempts by status",
			},
			[]string{"status"},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.maskedEntities,
		m.requestsInFlight,
		m.upstreamLatency,
		m.upstreamErrors,
		m.streamChunks,
		m.streamFlushes,
		m.secretRuleReloads,
	)

	return m
}

// RecordRequest records one completed proxy request.
func (m *Metrics) RecordRequest(mode, outcome string, duration time.Duration) {
	m.requestsTotal.WithLabelValues(mode, outcome).Inc()
	m.requestDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordMaskedEntities records placeholder counts per entity type.
func (m *Metrics) RecordMaskedEntities(counts map[string]int) {
	for entityType, n := range counts {
		m.maskedEntities.WithLabelValues(entityType).Add(float64(n))
	}
}

// RecordUpstream records upstream time to first byte.
func (m *Metrics) RecordUpstream(statusCode int, duration time.Duration) {
	m.upstreamLatency.WithLabelValues(strconv.Itoa(statusCode)).Observe(duration.Seconds())
}

// RecordUpstreamError records an upstream failure.
func (m *Metrics) RecordUpstreamError(kind string) {
	m.upstreamErrors.WithLabelValues(kind).Inc()
}

// RecordStreamChunk counts a forwarded SSE event.
func (m *Metrics) RecordStreamChunk() {
	m.streamChunks.Inc()
}

// RecordStreamFlush counts an end-of-stream flush that emitted buffered text.
func (m *Metrics) RecordStreamFlush() {
	m.streamFlushes.Inc()
}

// RecordSecretRuleReload records a secret rule reload attempt.
func (m *Metrics) RecordSecretRuleReload(ok bool) {
	status := "success"
	if !ok {
		status = "error"
	}
	m.secretRuleReloads.WithLabelValues(status).Inc()
}

// TrackInFlight increments the in-flight gauge and returns a release func.
func (m *Metrics) TrackInFlight() func() {
	m.requestsInFlight.Inc()
	return m.requestsInFlight.Dec
}

// Handler returns an HTTP handler that exposes the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
