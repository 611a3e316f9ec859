// Package metrics defines the Prometheus collectors exported by kitchensink
// and the /metrics handler that serves them.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kitchensink"

// DefaultBuckets are the default histogram buckets (in seconds).
var DefaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// NewRegistry returns a registry preloaded with Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// Query holds the query runner collectors. A nil *Query records nothing.
type Query struct {
	sessions *prometheus.CounterVec
	pages    prometheus.Counter
	records  prometheus.Counter
	active   prometheus.Gauge
	duration *prometheus.HistogramVec
}

// NewQuery creates and registers the query runner collectors.
func NewQuery(reg prometheus.Registerer) *Query {
	q := &Query{
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "query", Name: "sessions_total",
			Help: "Query sessions by terminal outcome.",
		}, []string{"outcome"}),
		pages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "query", Name: "pages_total",
			Help: "Result pages fetched from the record store.",
		}),
		records: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "query", Name: "records_total",
			Help: "Records accumulated by query sessions.",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "query", Name: "active_sessions",
			Help: "Query sessions currently fetching.",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "query", Name: "session_duration_seconds",
			Help: "Time from session start to its terminal event.", Buckets: DefaultBuckets,
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(q.sessions, q.pages, q.records, q.active, q.duration)
	}
	return q
}

func (q *Query) Started() {
	if q != nil {
		q.active.Inc()
	}
}

func (q *Query) Page() {
	if q != nil {
		q.pages.Inc()
	}
}

func (q *Query) Record() {
	if q != nil {
		q.records.Inc()
	}
}

// Finished records the terminal outcome of a session started at start.
func (q *Query) Finished(outcome string, start time.Time) {
	if q == nil {
		return
	}
	q.active.Dec()
	q.sessions.WithLabelValues(outcome).Inc()
	q.duration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

// HTTP holds the API request collectors. A nil *HTTP records nothing.
type HTTP struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewHTTP creates and registers the HTTP collectors.
func NewHTTP(reg prometheus.Registerer) *HTTP {
	h := &HTTP{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests by method and status.",
		}, []string{"method", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help: "HTTP request latency.", Buckets: DefaultBuckets,
		}, []string{"method"}),
	}
	if reg != nil {
		reg.MustRegister(h.requests, h.duration)
	}
	return h
}

// Observe records one completed request.
func (h *HTTP) Observe(method string, status int, d time.Duration) {
	if h == nil {
		return
	}
	h.requests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	h.duration.WithLabelValues(method).Observe(d.Seconds())
}
