// Package metrics exposes Prometheus counters for analysis sessions and the
// HTTP API.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zsiec/bitlens/internal/parser"
	"github.com/zsiec/bitlens/internal/session"
)

// Metrics holds Prometheus counters and gauges for bitlens. It implements
// session.Observer.
type Metrics struct {
	registry         *prometheus.Registry
	requestsTotal    prometheus.Counter
	errorsTotal      prometheus.Counter
	sessionsStarted  *prometheus.CounterVec
	sessionsFinished *prometheus.CounterVec
	unitsParsed      *prometheus.CounterVec
	malformedUnits   *prometheus.CounterVec
	parseDuration    *prometheus.HistogramVec
	activeSessions   prometheus.Gauge
}

// New creates and registers Prometheus metrics.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bitlens_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bitlens_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		sessionsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bitlens_sessions_started_total",
			Help: "Parse sessions started, by input format",
		}, []string{"format"}),
		sessionsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bitlens_sessions_finished_total",
			Help: "Parse sessions finished, by input format and terminal state",
		}, []string{"format", "state"}),
		unitsParsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bitlens_units_parsed_total",
			Help: "Top-level units appended to packet models",
		}, []string{"format"}),
		malformedUnits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bitlens_malformed_units_total",
			Help: "Top-level units that carry an error diagnostic",
		}, []string{"format"}),
		parseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bitlens_parse_duration_seconds",
			Help:    "Wall time of finished parse sessions",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"format"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bitlens_active_sessions",
			Help: "Number of sessions currently parsing",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.sessionsStarted,
		m.sessionsFinished,
		m.unitsParsed,
		m.malformedUnits,
		m.parseDuration,
		m.activeSessions,
	)
	return m
}

// Registry returns the registry the metrics are registered with.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// SessionStarted implements session.Observer.
func (m *Metrics) SessionStarted(format parser.Format) {
	m.sessionsStarted.WithLabelValues(format.String()).Inc()
	m.activeSessions.Inc()
}

// UnitParsed implements session.Observer.
func (m *Metrics) UnitParsed(format parser.Format, malformed bool) {
	m.unitsParsed.WithLabelValues(format.String()).Inc()
	if malformed {
		m.malformedUnits.WithLabelValues(format.String()).Inc()
	}
}

// SessionFinished implements session.Observer.
func (m *Metrics) SessionFinished(format parser.Format, state session.State, elapsed time.Duration) {
	m.sessionsFinished.WithLabelValues(format.String(), state.String()).Inc()
	m.parseDuration.WithLabelValues(format.String()).Observe(elapsed.Seconds())
	m.activeSessions.Dec()
}

// SetActiveSessions sets the active sessions gauge.
func (m *Metrics) SetActiveSessions(n int) {
	m.activeSessions.Set(float64(n))
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
