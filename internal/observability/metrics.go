package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors. Each instance owns its
// registry so tests can build one without touching the global default.
type Metrics struct {
	registry *prometheus.Registry

	HTTPInFlight        prometheus.Gauge
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	AuthDecisions     *prometheus.CounterVec
	CredentialsIssued *prometheus.CounterVec
	CredentialsSwept  prometheus.Counter
	AuditEventsTotal  *prometheus.CounterVec
	AuditQueueDepth   prometheus.Gauge
}

// NewMetrics creates and registers every collector
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		HTTPInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latencies in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
		AuthDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authz_decisions_total",
				Help: "Authorization outcomes by result code.",
			},
			[]string{"outcome"},
		),
		CredentialsIssued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credentials_issued_total",
				Help: "Opaque credentials issued by kind.",
			},
			[]string{"kind"},
		),
		CredentialsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "credentials_swept_total",
			Help: "Credentials removed by the retention sweep.",
		}),
		AuditEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audit_events_total",
				Help: "Audit events by delivery result.",
			},
			[]string{"result"},
		),
		AuditQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "audit_queue_depth",
			Help: "Audit events waiting for a worker.",
		}),
	}

	m.registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		m.HTTPInFlight,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AuthDecisions,
		m.CredentialsIssued,
		m.CredentialsSwept,
		m.AuditEventsTotal,
		m.AuditQueueDepth,
	)
	return m
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveDecision counts an authorization outcome. A nil receiver is a no-op.
func (m *Metrics) ObserveDecision(outcome string) {
	if m == nil {
		return
	}
	m.AuthDecisions.WithLabelValues(outcome).Inc()
}

// ObserveIssued counts an issued credential. A nil receiver is a no-op.
func (m *Metrics) ObserveIssued(kind string) {
	if m == nil {
		return
	}
	m.CredentialsIssued.WithLabelValues(kind).Inc()
}

// ObserveSwept counts credentials removed by a sweep. A nil receiver is a no-op.
func (m *Metrics) ObserveSwept(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.CredentialsSwept.Add(float64(n))
}

// ObserveAudit counts an audit delivery result. A nil receiver is a no-op.
func (m *Metrics) ObserveAudit(result string) {
	if m == nil {
		return
	}
	m.AuditEventsTotal.WithLabelValues(result).Inc()
}

// SetAuditQueueDepth records the audit backlog. A nil receiver is a no-op.
func (m *Metrics) SetAuditQueueDepth(n int) {
	if m == nil {
		return
	}
	m.AuditQueueDepth.Set(float64(n))
}
