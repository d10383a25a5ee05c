// Package views - Debug and final views of a verification run
// Both views describe the same line results. The debug view keeps every
// piece of evidence; the final view keeps only status, amounts and a reason tag.
package views

import (
	"fmt"

	"github.com/shopspring/decimal"

	"medbill-verify/core/aggregate"
	"medbill-verify/core/determinism"
	"medbill-verify/core/summary"
	"medbill-verify/core/types"
	"medbill-verify/core/verdict"
)

// CandidateTrace is one considered candidate
type CandidateTrace struct {
	Name     string  `json:"name"`
	Category string  `json:"category"`
	Semantic float64 `json:"semantic"`
	Overlap  float64 `json:"token_overlap"`
	Anchor   float64 `json:"anchor"`
	Hybrid   float64 `json:"hybrid"`

	Decision        types.Decision      `json:"decision"`
	Accepted        bool                `json:"accepted"`
	RejectionReason types.FailureReason `json:"rejection_reason,omitempty"`
	RejectionDetail string              `json:"rejection_detail,omitempty"`
}

func traceCandidate(c types.MatchCandidate) CandidateTrace {
	return CandidateTrace{
		Name:            c.Item.Name,
		Category:        c.Item.Category,
		Semantic:        c.Breakdown.Semantic,
		Overlap:         c.Breakdown.TokenOverlap,
		Anchor:          c.Breakdown.Anchor,
		Hybrid:          c.Breakdown.Final,
		Decision:        c.Decision,
		Accepted:        c.Accepted,
		RejectionReason: c.RejectionReason,
		RejectionDetail: c.RejectionDetail,
	}
}

// ItemTrace is the full trace of one line
type ItemTrace struct {
	ItemID           string         `json:"item_id"`
	Position         types.Position `json:"position"`
	OriginalText     string         `json:"original_text"`
	NormalizedText   string         `json:"normalized_text"`
	DeclaredCategory string         `json:"declared_category"`
	FinalCategory    string         `json:"final_category"`
	Strategy         types.Strategy `json:"strategy"`
	Status           types.Status   `json:"status"`
	Matched          string         `json:"matched,omitempty"`
	Score            float64        `json:"score"`

	Billed  decimal.Decimal `json:"billed"`
	Allowed decimal.Decimal `json:"allowed"`
	Extra   decimal.Decimal `json:"extra"`

	FailureReason types.FailureReason `json:"failure_reason,omitempty"`
	Explanation   string              `json:"explanation,omitempty"`
	ServiceErrors []string            `json:"service_errors,omitempty"`

	BestCandidate *CandidateTrace  `json:"best_candidate,omitempty"`
	Candidates    []CandidateTrace `json:"candidates"`

	CategoriesTried         []string `json:"categories_tried"`
	ReconciliationAttempted bool     `json:"reconciliation_attempted"`
	ReconciliationSucceeded bool     `json:"reconciliation_succeeded"`
	ReconciliationNote      string   `json:"reconciliation_note,omitempty"`

	IsPackage  bool                 `json:"is_package"`
	IsArtifact bool                 `json:"is_artifact"`
	Oracle     *types.OracleOpinion `json:"oracle,omitempty"`
	Notes      []string             `json:"notes,omitempty"`
}

// TraceItem builds the trace of one result
func TraceItem(r *types.ItemVerificationResult) ItemTrace {
	t := ItemTrace{
		ItemID:                  r.ItemID,
		Position:                r.Position,
		OriginalText:            r.RawText,
		NormalizedText:          r.NormalizedName,
		DeclaredCategory:        r.OriginalCategory,
		FinalCategory:           r.FinalCategory,
		Strategy:                r.Strategy,
		Status:                  r.Status,
		Score:                   r.Score,
		Billed:                  r.Billed,
		Allowed:                 r.Allowed,
		Extra:                   r.Extra,
		FailureReason:           r.FailureReason,
		Candidates:              make([]CandidateTrace, 0, len(r.Candidates)),
		CategoriesTried:         append([]string{}, r.CategoriesTried...),
		ReconciliationAttempted: r.ReconciliationAttempted,
		ReconciliationSucceeded: r.ReconciliationSucceeded,
		ReconciliationNote:      r.ReconciliationNote,
		IsPackage:               r.IsPackage,
		IsArtifact:              r.IsArtifact,
		Oracle:                  r.Oracle,
		Notes:                   r.Notes,
	}
	if r.Matched != nil {
		t.Matched = r.Matched.Name
	}
	if r.Diagnostics != nil {
		t.Explanation = r.Diagnostics.Explanation
		t.ServiceErrors = r.Diagnostics.ServiceErrors
	}
	for _, c := range r.Candidates {
		t.Candidates = append(t.Candidates, traceCandidate(c))
	}
	if best := r.BestCandidate(); best != nil {
		bt := traceCandidate(*best)
		t.BestCandidate = &bt
	}
	return t
}

// DebugCategory groups traces by final category
type DebugCategory struct {
	Category string      `json:"category"`
	Items    []ItemTrace `json:"items"`
}

// DebugView is the verbose view of a run
type DebugView struct {
	Hospital        string                   `json:"hospital"`
	MatchedHospital string                   `json:"matched_hospital"`
	HospitalScore   float64                  `json:"hospital_score"`
	Categories      []DebugCategory          `json:"categories"`
	Aggregates      []*aggregate.Item        `json:"aggregates"`
	Summary         summary.FinancialSummary `json:"summary"`
}

// FinalItem is one line of the clean view
type FinalItem struct {
	DisplayName string          `json:"display_name"`
	Status      types.Status    `json:"status"`
	Billed      decimal.Decimal `json:"billed"`
	Allowed     decimal.Decimal `json:"allowed"`
	Extra       decimal.Decimal `json:"extra"`
	ReasonTag   string          `json:"reason_tag,omitempty"`
}

// FinalCategory is one category of the clean view
type FinalCategory struct {
	Category string          `json:"category"`
	Items    []FinalItem     `json:"items"`
	Billed   decimal.Decimal `json:"total_bill"`
	Allowed  decimal.Decimal `json:"total_allowed"`
	Extra    decimal.Decimal `json:"total_extra"`
}

// FinalView is the clean view of a run
type FinalView struct {
	Hospital        string               `json:"hospital"`
	MatchedHospital string               `json:"matched_hospital"`
	Categories      []FinalCategory      `json:"categories"`
	Billed          decimal.Decimal      `json:"grand_total_bill"`
	Allowed         decimal.Decimal      `json:"grand_total_allowed"`
	Extra           decimal.Decimal      `json:"grand_total_extra"`
	StatusCounts    map[types.Status]int `json:"status_counts"`
}

// ReasonTag is the short reason shown in the final view
func ReasonTag(r *types.ItemVerificationResult) string {
	switch r.Status {
	case types.StatusGreen, types.StatusRed:
		if r.ReconciliationSucceeded {
			return "RECONCILED"
		}
		return ""
	case types.StatusMismatch, types.StatusAllowedNotComparable, types.StatusIgnoredArtifact:
		return string(r.FailureReason)
	}
	panic(fmt.Sprintf("views: unknown status %q", string(r.Status)))
}

// Input is the material both views are built from
type Input struct {
	Hospital        string
	MatchedHospital string
	HospitalScore   float64
	Results         []*types.ItemVerificationResult
	Aggregates      []*aggregate.Item
	Summary         summary.FinancialSummary
}

// groupByCategory orders results by the category order of the summary
func groupByCategory(in Input) ([]string, map[string][]*types.ItemVerificationResult) {
	order := make([]string, 0, len(in.Summary.Categories))
	for _, c := range in.Summary.Categories {
		order = append(order, c.Category)
	}
	groups := make(map[string][]*types.ItemVerificationResult, len(order))
	for _, r := range in.Results {
		if r == nil {
			continue
		}
		if _, ok := groups[r.FinalCategory]; !ok && !contains(order, r.FinalCategory) {
			order = append(order, r.FinalCategory)
		}
		groups[r.FinalCategory] = append(groups[r.FinalCategory], r)
	}
	return order, groups
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Debug builds the debug view
func Debug(in Input) *DebugView {
	v := &DebugView{
		Hospital:        in.Hospital,
		MatchedHospital: in.MatchedHospital,
		HospitalScore:   in.HospitalScore,
		Aggregates:      in.Aggregates,
		Summary:         in.Summary,
	}
	order, groups := groupByCategory(in)
	for _, name := range order {
		dc := DebugCategory{Category: name}
		for _, r := range groups[name] {
			dc.Items = append(dc.Items, TraceItem(r))
		}
		v.Categories = append(v.Categories, dc)
	}
	return v
}

// Final builds the final view
func Final(in Input) *FinalView {
	v := &FinalView{
		Hospital:        in.Hospital,
		MatchedHospital: in.MatchedHospital,
		Billed:          decimal.Zero,
		Allowed:         decimal.Zero,
		Extra:           decimal.Zero,
		StatusCounts:    make(map[types.Status]int, len(types.AllStatuses)),
	}
	order, groups := groupByCategory(in)
	for _, name := range order {
		fc := FinalCategory{Category: name, Billed: decimal.Zero, Allowed: decimal.Zero, Extra: decimal.Zero}
		for _, r := range groups[name] {
			fc.Items = append(fc.Items, FinalItem{
				DisplayName: verdict.DisplayName(r),
				Status:      r.Status,
				Billed:      r.Billed,
				Allowed:     r.Allowed,
				Extra:       r.Extra,
				ReasonTag:   ReasonTag(r),
			})
			fc.Billed = fc.Billed.Add(r.Billed)
			fc.Allowed = fc.Allowed.Add(r.Allowed)
			fc.Extra = fc.Extra.Add(r.Extra)
			v.StatusCounts[r.Status]++
		}
		fc.Billed = determinism.Round2(fc.Billed)
		fc.Allowed = determinism.Round2(fc.Allowed)
		fc.Extra = determinism.Round2(fc.Extra)
		v.Billed = v.Billed.Add(fc.Billed)
		v.Allowed = v.Allowed.Add(fc.Allowed)
		v.Extra = v.Extra.Add(fc.Extra)
		v.Categories = append(v.Categories, fc)
	}
	v.Billed = determinism.Round2(v.Billed)
	v.Allowed = determinism.Round2(v.Allowed)
	v.Extra = determinism.Round2(v.Extra)
	return v
}
