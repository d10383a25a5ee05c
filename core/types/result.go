package types

import (
	"github.com/shopspring/decimal"

	"medbill-verify/internal/errors"
)

// ScoreBreakdown is the visible decomposition of a hybrid score
type ScoreBreakdown struct {
	Semantic     float64 `json:"semantic"`
	TokenOverlap float64 `json:"token_overlap"`
	Anchor       float64 `json:"anchor"`
	Final        float64 `json:"final"`

	DosageMatch   bool `json:"dosage_match"`
	ModalityMatch bool `json:"modality_match"`
	BodyPartMatch bool `json:"bodypart_match"`

	// AnchorApplicable is false when neither side carries any anchor;
	// the anchor weight is then spread over the other signals.
	AnchorApplicable bool `json:"anchor_applicable"`
}

// Decision is the calibrated outcome for a candidate
type Decision string

const (
	DecisionAutoMatch Decision = "AUTO_MATCH"
	DecisionOracle    Decision = "ORACLE"
	DecisionReject    Decision = "REJECT"
)

// MatchCandidate is one catalog item considered for a line
type MatchCandidate struct {
	Item      CatalogItem    `json:"item"`
	Breakdown ScoreBreakdown `json:"breakdown"`
	Decision  Decision       `json:"decision"`
	Accepted  bool           `json:"accepted"`

	// RejectionReason is set when a hard constraint rejected the candidate
	RejectionReason FailureReason `json:"rejection_reason,omitempty"`

	// RejectionDetail names the specific discrepancy, e.g. "dosage differs: 500mg vs 650mg"
	RejectionDetail string `json:"rejection_detail,omitempty"`
}

// Score returns the final hybrid score
func (c MatchCandidate) Score() float64 {
	return c.Breakdown.Final
}

// OracleOpinion records a secondary oracle consultation
type OracleOpinion struct {
	Candidate      string  `json:"candidate"`
	Match          bool    `json:"match"`
	Confidence     float64 `json:"confidence"`
	NormalizedName string  `json:"normalized_name,omitempty"`
	Model          string  `json:"model,omitempty"`
	Accepted       bool    `json:"accepted"`

	// Error is set when the oracle failed and the opinion degraded to reject
	Error string `json:"error,omitempty"`
}

// FailureDiagnostics explains a non-matched result
type FailureDiagnostics struct {
	// BestCandidate is the best candidate seen, even if rejected
	BestCandidate *MatchCandidate `json:"best_candidate,omitempty"`

	// BestScore is the best hybrid score seen
	BestScore float64 `json:"best_score"`

	// CategoriesTried lists every catalog category attempted
	CategoriesTried []string `json:"categories_tried"`

	// Explanation is the human-readable discrepancy
	Explanation string `json:"explanation"`

	// ServiceErrors lists recovered scorer/oracle failures
	ServiceErrors []string `json:"service_errors,omitempty"`
}

// ItemVerificationResult is the verdict for exactly one bill line
type ItemVerificationResult struct {
	ItemID   string   `json:"item_id"`
	Position Position `json:"position"`

	RawText        string `json:"raw_text"`
	NormalizedName string `json:"normalized_name"`

	OriginalCategory string `json:"original_category"`
	FinalCategory    string `json:"final_category"`

	Status   Status   `json:"status"`
	Strategy Strategy `json:"strategy"`

	Matched *CatalogItem `json:"matched,omitempty"`
	Score   float64      `json:"score"`

	Quantity decimal.Decimal `json:"quantity"`
	Billed   decimal.Decimal `json:"billed"`
	Allowed  decimal.Decimal `json:"allowed"`
	Extra    decimal.Decimal `json:"extra"`

	FailureReason FailureReason       `json:"failure_reason,omitempty"`
	Diagnostics   *FailureDiagnostics `json:"diagnostics,omitempty"`

	CategoriesTried         []string `json:"categories_tried"`
	ReconciliationAttempted bool     `json:"reconciliation_attempted"`
	ReconciliationSucceeded bool     `json:"reconciliation_succeeded"`
	ReconciliationNote      string   `json:"reconciliation_note,omitempty"`

	IsPackage  bool `json:"is_package"`
	IsArtifact bool `json:"is_artifact"`

	// Candidates holds every candidate considered, in evaluation order
	Candidates []MatchCandidate `json:"candidates,omitempty"`

	Oracle *OracleOpinion `json:"oracle,omitempty"`
	Notes  []string       `json:"notes,omitempty"`
}

// MatchedRef returns the reference of the matched catalog item, or ""
func (r *ItemVerificationResult) MatchedRef() string {
	if r.Matched == nil {
		return ""
	}
	return r.Matched.Ref()
}

// BestCandidate returns the highest scoring candidate, accepted or not
func (r *ItemVerificationResult) BestCandidate() *MatchCandidate {
	var best *MatchCandidate
	for i := range r.Candidates {
		c := &r.Candidates[i]
		if best == nil || c.Score() > best.Score() {
			best = c
		}
	}
	return best
}

// AddNote appends a trace note
func (r *ItemVerificationResult) AddNote(note string) {
	r.Notes = append(r.Notes, note)
}

// Failure returns the MATCH_FAILURE error of a line that carries a failure
// reason, or nil. It is for logs and callers; runs never return it.
func (r *ItemVerificationResult) Failure() error {
	if r.FailureReason == ReasonNone {
		return nil
	}
	msg := string(r.FailureReason)
	if r.Diagnostics != nil && r.Diagnostics.Explanation != "" {
		msg = r.Diagnostics.Explanation
	}
	return errors.MatchFailure(msg).
		WithContext("item", r.ItemID).
		WithContext("reason", string(r.FailureReason))
}
