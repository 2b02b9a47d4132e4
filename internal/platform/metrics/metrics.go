package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the stream studio.
type Metrics struct {
	registry             *prometheus.Registry
	requestsTotal        prometheus.Counter
	streamsStartedTotal  prometheus.Counter
	streamsStoppedTotal  prometheus.Counter
	streamFailuresTotal  prometheus.Counter
	segmentRequestsTotal prometheus.Counter
	activeStreams        prometheus.Gauge
	errorsTotal          prometheus.Counter
}

// New creates and registers Prometheus metrics for the service.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "studio_requests_total",
		Help: "Total number of HTTP requests received",
	})
	streamsStartedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "studio_streams_started_total",
		Help: "Total number of conversion jobs launched",
	})
	streamsStoppedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "studio_streams_stopped_total",
		Help: "Total number of conversion jobs stopped via the API",
	})
	streamFailuresTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "studio_stream_failures_total",
		Help: "Total number of conversion jobs that failed to launch",
	})
	segmentRequestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "studio_segment_requests_total",
		Help: "Total number of playlist and segment files served",
	})
	activeStreams := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "studio_active_streams",
		Help: "Number of registered conversion jobs",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "studio_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})

	registry.MustRegister(
		requestsTotal,
		streamsStartedTotal,
		streamsStoppedTotal,
		streamFailuresTotal,
		segmentRequestsTotal,
		activeStreams,
		errorsTotal,
	)

	return &Metrics{
		registry:             registry,
		requestsTotal:        requestsTotal,
		streamsStartedTotal:  streamsStartedTotal,
		streamsStoppedTotal:  streamsStoppedTotal,
		streamFailuresTotal:  streamFailuresTotal,
		segmentRequestsTotal: segmentRequestsTotal,
		activeStreams:        activeStreams,
		errorsTotal:          errorsTotal,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncStreamsStarted increments the launched-jobs counter.
func (m *Metrics) IncStreamsStarted() {
	m.streamsStartedTotal.Inc()
}

// IncStreamsStopped increments the stopped-jobs counter.
func (m *Metrics) IncStreamsStopped() {
	m.streamsStoppedTotal.Inc()
}

// IncStreamFailures increments the failed-launch counter.
func (m *Metrics) IncStreamFailures() {
	m.streamFailuresTotal.Inc()
}

// IncSegmentRequests increments the served-files counter.
func (m *Metrics) IncSegmentRequests() {
	m.segmentRequestsTotal.Inc()
}

// SetActiveStreams sets the active streams gauge.
func (m *Metrics) SetActiveStreams(n int) {
	m.activeStreams.Set(float64(n))
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g.
// active streams).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
