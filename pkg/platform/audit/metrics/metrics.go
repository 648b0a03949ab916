package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the audit logger and the timeline deduplicator.
type Metrics struct {
	Logged            prometheus.Counter
	Suppressed        *prometheus.CounterVec
	LockErrors        prometheus.Counter
	LockContended     prometheus.Counter
	PersistFailures   prometheus.Counter
	LogDuration       prometheus.Histogram
	ReadInput         prometheus.Counter
	ReadCollapsed     prometheus.Counter
	MalformedSkipped  prometheus.Counter
	DedupDuration     prometheus.Histogram
	SourceFailures    *prometheus.CounterVec
	LockCircuitOpened prometheus.Gauge
}

// New creates the audit metrics and registers them with reg.
// A nil registerer yields working but unregistered collectors, which keeps tests independent.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Logged: f.NewCounter(prometheus.CounterOpts{
			Name: "casetrail_audit_logged_total",
			Help: "Total number of audit records persisted by the audit logger",
		}),
		Suppressed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "casetrail_audit_suppressed_total",
			Help: "Total number of audit writes suppressed as duplicates",
		}, []string{"reason"}),
		LockErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "casetrail_audit_lock_errors_total",
			Help: "Total number of advisory lock backend errors tolerated by the audit logger",
		}),
		LockContended: f.NewCounter(prometheus.CounterOpts{
			Name: "casetrail_audit_lock_contended_total",
			Help: "Total number of audit writes that waited on a lock held by another writer",
		}),
		PersistFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "casetrail_audit_persist_failures_total",
			Help: "Total number of audit record persistence failures",
		}),
		LogDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "casetrail_audit_log_duration_seconds",
			Help:    "Latency of audit logger writes, including the duplicate check",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),
		ReadInput: f.NewCounter(prometheus.CounterOpts{
			Name: "casetrail_timeline_input_events_total",
			Help: "Total number of raw records submitted for timeline deduplication",
		}),
		ReadCollapsed: f.NewCounter(prometheus.CounterOpts{
			Name: "casetrail_timeline_collapsed_events_total",
			Help: "Total number of raw records folded into another record's group",
		}),
		MalformedSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: "casetrail_timeline_malformed_skipped_total",
			Help: "Total number of malformed records skipped during timeline deduplication",
		}),
		DedupDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "casetrail_timeline_dedup_duration_seconds",
			Help:    "Latency of a timeline deduplication pass",
			Buckets: []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025},
		}),
		SourceFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "casetrail_timeline_source_failures_total",
			Help: "Total number of timeline source fetch failures",
		}, []string{"source"}),
		LockCircuitOpened: f.NewGauge(prometheus.GaugeOpts{
			Name: "casetrail_audit_lock_circuit_state",
			Help: "Advisory lock circuit breaker state (0=closed/healthy, 1=open/bypassed)",
		}),
	}
}

// ReasonWindowMatch labels writes suppressed by a stored record in the write window.
const ReasonWindowMatch = "window_match"

// IncLogged increments the persisted counter.
func (m *Metrics) IncLogged() { m.Logged.Inc() }

// IncSuppressed increments the suppression counter for reason.
func (m *Metrics) IncSuppressed(reason string) { m.Suppressed.WithLabelValues(reason).Inc() }

// IncLockErrors increments the lock error counter.
func (m *Metrics) IncLockErrors() { m.LockErrors.Inc() }

// IncLockContended increments the lock contention counter.
func (m *Metrics) IncLockContended() { m.LockContended.Inc() }

// IncPersistFailures increments the persist failure counter.
func (m *Metrics) IncPersistFailures() { m.PersistFailures.Inc() }

// ObserveLogDuration records a write latency in seconds.
func (m *Metrics) ObserveLogDuration(seconds float64) { m.LogDuration.Observe(seconds) }

// ObserveDedup records one read pass.
func (m *Metrics) ObserveDedup(input, collapsed, malformed int, seconds float64) {
	m.ReadInput.Add(float64(input))
	m.ReadCollapsed.Add(float64(collapsed))
	m.MalformedSkipped.Add(float64(malformed))
	m.DedupDuration.Observe(seconds)
}

// IncSourceFailures increments the failure counter for a named timeline source.
func (m *Metrics) IncSourceFailures(source string) { m.SourceFailures.WithLabelValues(source).Inc() }

// SetLockCircuitState sets the circuit breaker state gauge.
func (m *Metrics) SetLockCircuitState(open bool) {
	if open {
		m.LockCircuitOpened.Set(1)
	} else {
		m.LockCircuitOpened.Set(0)
	}
}
