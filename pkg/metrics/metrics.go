// Package metrics exposes Prometheus metrics for the registry: domain
// counters fed by the versioning observer hooks and HTTP request metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "qa_registry"

// Metrics holds the registry collectors. Each instance registers on its own
// registerer so tests can use a fresh registry.
type Metrics struct {
	versionsCreated   *prometheus.CounterVec
	writeRetries      *prometheus.CounterVec
	datasetsPublished prometheus.Counter
	membershipChanges *prometheus.CounterVec
	membershipDelta   *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		// Labels:
		//   - kind: "edit" or "rollback"
		versionsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "question_versions_created_total",
			Help:      "Total number of question versions appended",
		}, []string{"kind"}),
		// Labels:
		//   - reason: "conflict" or "transient"
		writeRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_retries_total",
			Help:      "Total number of retried write transactions",
		}, []string{"reason"}),
		datasetsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datasets_published_total",
			Help:      "Total number of dataset versions published for the first time",
		}),
		membershipChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dataset_membership_operations_total",
			Help:      "Total number of dataset membership add/remove operations",
		}, []string{"op"}),
		membershipDelta: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dataset_membership_questions_total",
			Help:      "Total number of questions actually added to or removed from datasets",
		}, []string{"op"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by route, method and status code",
		}, []string{"route", "method", "code"}),
		// Buckets: 5ms to 5s
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"route", "method"}),
	}
	reg.MustRegister(
		m.versionsCreated,
		m.writeRetries,
		m.datasetsPublished,
		m.membershipChanges,
		m.membershipDelta,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// VersionCreated records an appended question version.
func (m *Metrics) VersionCreated(kind string) {
	m.versionsCreated.WithLabelValues(kind).Inc()
}

// WriteRetried records one retry of a write transaction.
func (m *Metrics) WriteRetried(reason string) {
	m.writeRetries.WithLabelValues(reason).Inc()
}

// DatasetPublished records a first-time dataset publication.
func (m *Metrics) DatasetPublished() {
	m.datasetsPublished.Inc()
}

// DatasetMembershipChanged records an add or remove operation and the
// signed change in question count it produced.
func (m *Metrics) DatasetMembershipChanged(op string, delta int) {
	m.membershipChanges.WithLabelValues(op).Inc()
	if delta < 0 {
		delta = -delta
	}
	m.membershipDelta.WithLabelValues(op).Add(float64(delta))
}
