package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the datastore's prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	auditRevisions    *prometheus.CounterVec
	valueWrites       *prometheus.CounterVec
	entityTransitions *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
}

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer to
// expose them globally.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		auditRevisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "datastore_audit_revisions_total",
			Help: "Total number of history rows archived, by live table",
		}, []string{"table"}),
		valueWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "datastore_value_writes_total",
			Help: "Total number of value rows written, by value kind and operation",
		}, []string{"kind", "op"}),
		entityTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "datastore_entity_transitions_total",
			Help: "Total number of entity rows created, retired, restored or purged",
		}, []string{"transition"}),
		operationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "datastore_operation_duration_seconds",
			Help:    "Duration of datastore operations including their transaction",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"operation"}),
	}
}

// AuditRevision counts one archived history row. It matches audit.Observer.
func (m *Metrics) AuditRevision(table string) {
	if m == nil {
		return
	}
	m.auditRevisions.WithLabelValues(table).Inc()
}

// ValueWrite counts n value rows written.
func (m *Metrics) ValueWrite(kind, op string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.valueWrites.WithLabelValues(kind, op).Add(float64(n))
}

// EntityTransition counts n entity rows moved through a lifecycle transition.
func (m *Metrics) EntityTransition(transition string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.entityTransitions.WithLabelValues(transition).Add(float64(n))
}

// ObserveOperation records how long an operation took since start.
func (m *Metrics) ObserveOperation(operation string, start time.Time) {
	if m == nil {
		return
	}
	m.operationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
