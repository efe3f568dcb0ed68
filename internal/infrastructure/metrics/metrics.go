// Package metrics exports engine counters in Prometheus format.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus instruments. A nil *Metrics is a
// valid no-op receiver so unit tests can run without a registry.
type Metrics struct {
	decisions        *prometheus.CounterVec
	decisionDuration prometheus.Histogram
	cacheHits        prometheus.Counter
	cacheMisses      prometheus.Counter
	auditRecords     prometheus.Counter
	auditFailures    prometheus.Counter
	orphansRemoved   prometheus.Counter
}

// New registers the engine metrics with the default registry.
func New() *Metrics {
	return &Metrics{
		decisions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "themis_decisions_total",
				Help: "Total number of authorization decisions by effect",
			},
			[]string{"effect"},
		),
		decisionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "themis_decision_duration_seconds",
			Help:    "Duration of decision evaluation in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		}),
		cacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "themis_decision_cache_hits_total",
			Help: "Total number of decision cache hits",
		}),
		cacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "themis_decision_cache_misses_total",
			Help: "Total number of decision cache misses",
		}),
		auditRecords: promauto.NewCounter(prometheus.CounterOpts{
			Name: "themis_audit_records_total",
			Help: "Total number of audit records appended",
		}),
		auditFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "themis_audit_failures_total",
			Help: "Total number of audit appends that failed; decisions were still returned",
		}),
		orphansRemoved: promauto.NewCounter(prometheus.CounterOpts{
			Name: "themis_reconcile_orphans_removed_total",
			Help: "Total number of orphaned dynamic rules removed by reconciliation",
		}),
	}
}

// RecordDecision counts a decision by effect.
func (m *Metrics) RecordDecision(effect string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(effect).Inc()
}

// RecordDuration observes one evaluation duration.
func (m *Metrics) RecordDuration(seconds float64) {
	if m == nil {
		return
	}
	m.decisionDuration.Observe(seconds)
}

// RecordCacheHit counts a decision cache hit.
func (m *Metrics) RecordCacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

// RecordCacheMiss counts a decision cache miss.
func (m *Metrics) RecordCacheMiss() {
	if m == nil {
		return
	}
	m.cacheMisses.Inc()
}

// RecordAudit counts a successful audit append.
func (m *Metrics) RecordAudit() {
	if m == nil {
		return
	}
	m.auditRecords.Inc()
}

// RecordAuditFailure counts a failed audit append. This is the alerting
// signal for audit-path degradation.
func (m *Metrics) RecordAuditFailure() {
	if m == nil {
		return
	}
	m.auditFailures.Inc()
}

// RecordOrphansRemoved counts rules removed by a reconciliation sweep.
func (m *Metrics) RecordOrphansRemoved(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.orphansRemoved.Add(float64(n))
}
