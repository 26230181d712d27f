package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the delivery server and
// the ingest task. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal          prometheus.Counter
	errorsTotal            prometheus.Counter
	segmentsFinalizedTotal prometheus.Counter
	segmentsEvictedTotal   prometheus.Counter
	ingestBytesTotal       prometheus.Counter
	authFailuresTotal      prometheus.Counter
	accessDeniedTotal      prometheus.Counter
	segmentDuration        prometheus.Histogram
	windowSegments         prometheus.Gauge
	sessionHeld            prometheus.Gauge
}

// New creates and registers the metrics on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hls_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hls_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		segmentsFinalizedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hls_segments_finalized_total",
			Help: "Total number of segments closed and added to the live window",
		}),
		segmentsEvictedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hls_segments_evicted_total",
			Help: "Total number of segments dropped from the live window",
		}),
		ingestBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hls_ingest_bytes_total",
			Help: "Total encoded bytes written to segment files",
		}),
		authFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hls_auth_failures_total",
			Help: "Total number of requests rejected by authentication",
		}),
		accessDeniedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hls_access_denied_total",
			Help: "Total number of stream access requests refused because the stream is busy",
		}),
		segmentDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hls_segment_duration_seconds",
			Help:    "Duration of finalized segments",
			Buckets: []float64{0.5, 1, 2, 4, 6, 8, 10, 15},
		}),
		windowSegments: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hls_window_segments",
			Help: "Number of segments currently in the live window",
		}),
		sessionHeld: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hls_session_held",
			Help: "1 while a viewer holds the stream access lease",
		}),
	}

	m.registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.segmentsFinalizedTotal,
		m.segmentsEvictedTotal,
		m.ingestBytesTotal,
		m.authFailuresTotal,
		m.accessDeniedTotal,
		m.segmentDuration,
		m.windowSegments,
		m.sessionHeld,
	)
	return m
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	if m != nil {
		m.requestsTotal.Inc()
	}
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	if m != nil {
		m.errorsTotal.Inc()
	}
}

// ObserveSegment records one finalized segment and its duration in seconds.
func (m *Metrics) ObserveSegment(seconds float64) {
	if m != nil {
		m.segmentsFinalizedTotal.Inc()
		m.segmentDuration.Observe(seconds)
	}
}

// AddEvicted adds n evicted segments.
func (m *Metrics) AddEvicted(n int) {
	if m != nil && n > 0 {
		m.segmentsEvictedTotal.Add(float64(n))
	}
}

// AddIngestBytes adds n written bytes.
func (m *Metrics) AddIngestBytes(n int) {
	if m != nil && n > 0 {
		m.ingestBytesTotal.Add(float64(n))
	}
}

// IncAuthFailures increments the authentication failure counter.
func (m *Metrics) IncAuthFailures() {
	if m != nil {
		m.authFailuresTotal.Inc()
	}
}

// IncAccessDenied increments the busy-stream counter.
func (m *Metrics) IncAccessDenied() {
	if m != nil {
		m.accessDeniedTotal.Inc()
	}
}

// SetWindowSegments sets the live window gauge.
func (m *Metrics) SetWindowSegments(n int) {
	if m != nil {
		m.windowSegments.Set(float64(n))
	}
}

// SetSessionHeld sets the lease gauge.
func (m *Metrics) SetSessionHeld(held bool) {
	if m == nil {
		return
	}
	if held {
		m.sessionHeld.Set(1)
	} else {
		m.sessionHeld.Set(0)
	}
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
