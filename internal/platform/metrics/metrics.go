// Package metrics exposes Prometheus counters, gauges, and histograms for
// the stream orchestrator: segment throughput, representation switches,
// buffer health, stalls, and retries, alongside ambient HTTP-request
// observability for the debug control plane.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus collectors for one process's orchestrators.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal       prometheus.Counter
	segmentBytesTotal   *prometheus.CounterVec
	segmentFetchSeconds *prometheus.HistogramVec
	retriesTotal        *prometheus.CounterVec
	switchesTotal       *prometheus.CounterVec
	stallsTotal         *prometheus.CounterVec
	manifestRefreshes   prometheus.Counter
	protectionSessions  prometheus.Counter
	activeStreams       prometheus.Gauge
	errorsTotal         *prometheus.CounterVec
}

// New creates and registers the orchestrator's Prometheus collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "player_control_plane_requests_total",
			Help: "Total requests received by the debug control plane.",
		}),
		segmentBytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "player_segment_bytes_total",
			Help: "Total bytes of segment data appended, by track type.",
		}, []string{"track"}),
		segmentFetchSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "player_segment_fetch_seconds",
			Help:    "Segment fetch-and-parse latency, by track type.",
			Buckets: prometheus.DefBuckets,
		}, []string{"track"}),
		retriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "player_retries_total",
			Help: "Total retry attempts, by operation.",
		}, []string{"op"}),
		switchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "player_representation_switches_total",
			Help: "Total ABR representation switches, by track type.",
		}, []string{"track"}),
		stallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "player_stalls_total",
			Help: "Total playback stalls observed, by track type.",
		}, []string{"track"}),
		manifestRefreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "player_manifest_refreshes_total",
			Help: "Total live manifest refreshes performed.",
		}),
		protectionSessions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "player_protection_sessions_total",
			Help: "Total content-protection sessions opened.",
		}),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "player_active_streams",
			Help: "Number of orchestrators currently running.",
		}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "player_errors_total",
			Help: "Total errors surfaced to StreamEvent subscribers, by kind.",
		}, []string{"kind"}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.segmentBytesTotal,
		m.segmentFetchSeconds,
		m.retriesTotal,
		m.switchesTotal,
		m.stallsTotal,
		m.manifestRefreshes,
		m.protectionSessions,
		m.activeStreams,
		m.errorsTotal,
	)

	return m
}

// IncRequests increments the control-plane request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// ObserveSegmentBytes records bytes appended for a track.
func (m *Metrics) ObserveSegmentBytes(track string, bytes float64) {
	m.segmentBytesTotal.WithLabelValues(track).Add(bytes)
}

// ObserveFetchSeconds records a segment fetch-and-parse duration.
func (m *Metrics) ObserveFetchSeconds(track string, seconds float64) {
	m.segmentFetchSeconds.WithLabelValues(track).Observe(seconds)
}

// IncRetries increments the retry counter for an operation.
func (m *Metrics) IncRetries(op string) {
	m.retriesTotal.WithLabelValues(op).Inc()
}

// IncSwitches increments the representation-switch counter for a track.
func (m *Metrics) IncSwitches(track string) {
	m.switchesTotal.WithLabelValues(track).Inc()
}

// IncStalls increments the stall counter for a track.
func (m *Metrics) IncStalls(track string) {
	m.stallsTotal.WithLabelValues(track).Inc()
}

// IncManifestRefreshes increments the live-manifest-refresh counter.
func (m *Metrics) IncManifestRefreshes() {
	m.manifestRefreshes.Inc()
}

// IncProtectionSessions increments the protection-session counter.
func (m *Metrics) IncProtectionSessions() {
	m.protectionSessions.Inc()
}

// SetActiveStreams sets the active-orchestrator gauge.
func (m *Metrics) SetActiveStreams(n int) {
	m.activeStreams.Set(float64(n))
}

// IncErrors increments the errors counter for a Kind.
func (m *Metrics) IncErrors(kind string) {
	m.errorsTotal.WithLabelValues(kind).Inc()
}

// Handler returns an http.Handler that serves the Prometheus scrape
// endpoint. updateGauges is called before each scrape to refresh gauges
// whose value isn't pushed incrementally (e.g. active streams).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
