package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sla"

// Metrics holds the Prometheus collectors of the service on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	errors          *prometheus.CounterVec

	attachments  *prometheus.CounterVec
	transitions  *prometheus.CounterVec
	escalations  *prometheus.CounterVec
	scanDuration prometheus.Histogram
	scanRows     *prometheus.CounterVec
	fallbacks    *prometheus.CounterVec
}

// NewMetrics registers all collectors on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"path", "method", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"path", "method"}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "errors_total",
			Help:      "HTTP errors by route, method and error code.",
		}, []string{"path", "method", "code"}),
		attachments: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attachments_total",
			Help:      "Attach attempts by outcome.",
		}, []string{"outcome"}),
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commitment_transitions_total",
			Help:      "Commitment state transitions performed by the detector.",
		}, []string{"breach_type", "state"}),
		escalations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalations_total",
			Help:      "Escalation attempts by outcome.",
		}, []string{"outcome"}),
		scanDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "detector",
			Name:      "scan_duration_seconds",
			Help:      "Duration of a breach detector pass.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		scanRows: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detector",
			Name:      "rows_total",
			Help:      "Tracking rows evaluated by the detector by result.",
		}, []string{"result"}),
		fallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deadline",
			Name:      "fallbacks_total",
			Help:      "Business-hours computations that fell back to calendar time.",
		}, []string{"reason"}),
	}
}

// Registry exposes the private registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(path, method).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(path, method, code).Inc()
}

// RecordAttach counts an attach attempt; outcome is created, existing, skipped or failed.
func (m *Metrics) RecordAttach(outcome string) {
	if m == nil {
		return
	}
	m.attachments.WithLabelValues(outcome).Inc()
}

// RecordTransition counts a MET or BREACHED transition.
func (m *Metrics) RecordTransition(breachType, state string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(breachType, state).Inc()
}

// RecordEscalation counts an escalation attempt; outcome is escalated, exhausted or failed.
func (m *Metrics) RecordEscalation(outcome string) {
	if m == nil {
		return
	}
	m.escalations.WithLabelValues(outcome).Inc()
}

// ObserveScan records the duration and row results of one detector pass.
func (m *Metrics) ObserveScan(duration time.Duration, evaluated, failed int) {
	if m == nil {
		return
	}
	m.scanDuration.Observe(duration.Seconds())
	m.scanRows.WithLabelValues("ok").Add(float64(evaluated - failed))
	m.scanRows.WithLabelValues("failed").Add(float64(failed))
}

// RecordDeadlineFallback counts a business-hours computation that used calendar time.
func (m *Metrics) RecordDeadlineFallback(reason string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(reason).Inc()
}
