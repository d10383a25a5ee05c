// Package metrics provides the prometheus counters of a verification process.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"medbill-verify/internal/errors"
)

const namespace = "medbill"

// Config controls metrics export
type Config struct {
	// Enabled turns collection on
	Enabled bool `json:"enabled" mapstructure:"enabled"`

	// Textfile is written after each CLI run when set (node_exporter textfile format)
	Textfile string `json:"textfile" mapstructure:"textfile"`
}

// Metrics holds every collector on a private registry
type Metrics struct {
	registry *prometheus.Registry

	ItemsTotal          *prometheus.CounterVec
	OracleCallsTotal    *prometheus.CounterVec
	OracleCacheHits     prometheus.Counter
	OracleBudgetSkips   prometheus.Counter
	ReconcileAttempts   prometheus.Counter
	ReconcileSuccesses  prometheus.Counter
	RunsTotal           *prometheus.CounterVec
	RunDuration         prometheus.Histogram
	ItemPanicsRecovered prometheus.Counter
}

// RunDurationBuckets covers single-page bills to large inpatient bills
var RunDurationBuckets = []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60}

// New registers all collectors on a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ItemsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "items_total",
			Help: "Verified bill line items by final status.",
		}, []string{"status"}),
		OracleCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "oracle_calls_total",
			Help: "Oracle consultations by result (accepted, rejected, failed).",
		}, []string{"result"}),
		OracleCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "oracle_cache_hits_total",
			Help: "Oracle decisions served from the decision cache.",
		}),
		OracleBudgetSkips: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "oracle_budget_skips_total",
			Help: "Oracle referrals rejected because the run budget was exhausted.",
		}),
		ReconcileAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "reconcile_attempts_total",
			Help: "Mismatched items retried against other categories.",
		}),
		ReconcileSuccesses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "reconcile_successes_total",
			Help: "Mismatched items matched in another category.",
		}),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "runs_total",
			Help: "Verification runs by outcome (complete, partial, invalid).",
		}, []string{"outcome"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "run_duration_seconds",
			Help:    "Wall time of a verification run.",
			Buckets: RunDurationBuckets,
		}),
		ItemPanicsRecovered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "item_panics_recovered_total",
			Help: "Line items whose processing panicked and was resolved as MISMATCH.",
		}),
	}
	m.registry.MustRegister(
		m.ItemsTotal, m.OracleCallsTotal, m.OracleCacheHits, m.OracleBudgetSkips,
		m.ReconcileAttempts, m.ReconcileSuccesses, m.RunsTotal, m.RunDuration,
		m.ItemPanicsRecovered,
	)
	return m
}

// Registry returns the private registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordItem counts one verified item
func (m *Metrics) RecordItem(status string) {
	if m == nil {
		return
	}
	m.ItemsTotal.WithLabelValues(status).Inc()
}

// RecordOracleCall counts one oracle consultation
func (m *Metrics) RecordOracleCall(result string) {
	if m == nil {
		return
	}
	m.OracleCallsTotal.WithLabelValues(result).Inc()
}

// RecordOracleCacheHit counts a cached oracle decision
func (m *Metrics) RecordOracleCacheHit() {
	if m == nil {
		return
	}
	m.OracleCacheHits.Inc()
}

// RecordOracleBudgetSkip counts a referral skipped for budget
func (m *Metrics) RecordOracleBudgetSkip() {
	if m == nil {
		return
	}
	m.OracleBudgetSkips.Inc()
}

// RecordReconcile counts a reconciliation attempt and its outcome
func (m *Metrics) RecordReconcile(succeeded bool) {
	if m == nil {
		return
	}
	m.ReconcileAttempts.Inc()
	if succeeded {
		m.ReconcileSuccesses.Inc()
	}
}

// RecordPanic counts a recovered item panic
func (m *Metrics) RecordPanic() {
	if m == nil {
		return
	}
	m.ItemPanicsRecovered.Inc()
}

// RecordRun counts a finished run
func (m *Metrics) RecordRun(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(outcome).Inc()
	m.RunDuration.Observe(d.Seconds())
}

// WriteTextfile writes the registry in the node_exporter textfile format
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return errors.Wrap(errors.TypeInternal, "failed to write metrics textfile", err)
	}
	return nil
}
