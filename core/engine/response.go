package engine

import (
	"time"

	"medbill-verify/core/aggregate"
	"medbill-verify/core/matching"
	"medbill-verify/core/reconcile"
	"medbill-verify/core/summary"
	"medbill-verify/core/types"
	"medbill-verify/core/views"
)

// Phase is how far a run progressed. Phases only move forward.
type Phase int

const (
	PhaseStarted Phase = iota
	PhaseValidated
	PhaseHospitalSelected
	PhaseCatalogPrepared
	PhaseItemsMatched
	PhaseReconciled
	PhaseSummarized
)

// String returns the phase name
func (p Phase) String() string {
	names := []string{
		"started", "validated", "hospital_selected", "catalog_prepared",
		"items_matched", "reconciled", "summarized",
	}
	if int(p) < len(names) {
		return names[p]
	}
	return "unknown"
}

// MarshalText renders the phase by name
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// CategoryResult holds the line results of one bill category in bill order
type CategoryResult struct {
	BillCategory    string                          `json:"bill_category"`
	CatalogCategory string                          `json:"catalog_category,omitempty"`
	Similarity      float64                         `json:"similarity"`
	Level           matching.CategoryLevel          `json:"level"`
	Items           []*types.ItemVerificationResult `json:"items"`
}

// Response is the outcome of one verification run
type Response struct {
	BillID          string  `json:"bill_id"`
	Hospital        string  `json:"hospital"`
	MatchedHospital string  `json:"matched_hospital"`
	HospitalScore   float64 `json:"hospital_score"`

	Categories []CategoryResult          `json:"categories"`
	Aggregates []*aggregate.Item         `json:"aggregates"`
	Summary    summary.FinancialSummary  `json:"summary"`
	Debug      *views.DebugView          `json:"debug"`
	Final      *views.FinalView          `json:"final"`
	Checks     views.Consistency         `json:"consistency"`

	// Consistent is false when the views disagree or totals do not re-sum
	Consistent bool `json:"consistent"`

	// Partial is set when the run was cancelled; only processed lines are listed
	Partial bool  `json:"partial"`
	Phase   Phase `json:"phase"`

	// Stats are run-specific and left out of the serialized response
	Stats Stats `json:"-"`
}

// Results returns every line result in bill order
func (r *Response) Results() []*types.ItemVerificationResult {
	var out []*types.ItemVerificationResult
	for _, c := range r.Categories {
		out = append(out, c.Items...)
	}
	return out
}

// Stats describe the work done by a run
type Stats struct {
	RunID    string        `json:"run_id"`
	Duration time.Duration `json:"duration"`

	Items        int                  `json:"items"`
	Processed    int                  `json:"processed"`
	StatusCounts map[types.Status]int `json:"status_counts"`

	OracleCalls       int64 `json:"oracle_calls"`
	OracleCacheHits   int64 `json:"oracle_cache_hits"`
	OracleFailures    int64 `json:"oracle_failures"`
	OracleBudgetUsed  int64 `json:"oracle_budget_used"`
	RateCacheHits     int64 `json:"rate_cache_hits"`
	RateCacheMisses   int64 `json:"rate_cache_misses"`
	PanicsRecovered   int   `json:"panics_recovered"`
	SkippedCatalogItems int `json:"skipped_catalog_items"`

	Reconciliation reconcile.Stats `json:"reconciliation"`
}
