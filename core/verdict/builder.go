// Package verdict - Item result assembly
// Builds the single ItemVerificationResult of a bill line from its matching
// attempts: priced when a candidate was accepted, diagnosed otherwise.
package verdict

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"medbill-verify/core/failure"
	"medbill-verify/core/matching"
	"medbill-verify/core/pricing"
	"medbill-verify/core/types"
)

// Builder assembles item results
type Builder struct {
	pricer   *pricing.Checker
	failures *failure.Engine
}

// NewBuilder creates a builder
func NewBuilder(pricer *pricing.Checker, failures *failure.Engine) *Builder {
	return &Builder{pricer: pricer, failures: failures}
}

// Start returns the unresolved result of a line, MISMATCH until decided
func (b *Builder) Start(li *types.LineItem) *types.ItemVerificationResult {
	return &types.ItemVerificationResult{
		ItemID:           li.Key(),
		Position:         li.Position,
		RawText:          li.Text,
		NormalizedName:   li.Extraction.Normalized,
		OriginalCategory: li.DeclaredCategory,
		FinalCategory:    li.DeclaredCategory,
		Status:           types.StatusMismatch,
		Strategy:         types.StrategyNone,
		Quantity:         li.EffectiveQuantity(),
		Billed:           li.Amount,
		Allowed:          decimal.Zero,
		Extra:            decimal.Zero,
		CategoriesTried:  []string{},
		IsPackage:        li.Extraction.IsPackage,
		IsArtifact:       li.Extraction.IsArtifact,
	}
}

// Artifact resolves an administrative or artifact line. It is listed but
// never priced.
func (b *Builder) Artifact(res *types.ItemVerificationResult, li *types.LineItem) {
	v := b.failures.Assign(&failure.Evidence{Extraction: li.Extraction, DeclaredCategory: li.DeclaredCategory})
	res.Status = types.StatusIgnoredArtifact
	res.Strategy = types.StrategyArtifact
	res.FailureReason = v.Reason
	res.Allowed, res.Extra = decimal.Zero, decimal.Zero
	res.Diagnostics = &types.FailureDiagnostics{
		CategoriesTried: []string{},
		Explanation:     v.Explanation,
	}
}

// Record adds the evidence of one attempt to the result
func (b *Builder) Record(res *types.ItemVerificationResult, att *matching.Attempt) {
	res.CategoriesTried = append(res.CategoriesTried, att.Category)
	res.Candidates = append(res.Candidates, att.Candidates...)
	res.Notes = append(res.Notes, att.Notes...)
	if att.Opinion != nil {
		res.Oracle = att.Opinion
	}
}

// Accept prices the accepted candidate of att and marks the result matched
func (b *Builder) Accept(res *types.ItemVerificationResult, li *types.LineItem, att *matching.Attempt) {
	c := att.Accepted
	item := c.Item
	res.Matched = &item
	res.Score = c.Score()
	res.Strategy = att.Strategy
	res.FinalCategory = att.Category
	res.FailureReason = types.ReasonNone
	res.Diagnostics = nil
	if att.Opinion != nil {
		res.Oracle = att.Opinion
	}
	// only the chosen candidate stays accepted across attempts
	for i := range res.Candidates {
		res.Candidates[i].Accepted = res.Candidates[i].Accepted && res.Candidates[i].Item.Ref() == item.Ref()
	}

	v := b.pricer.Check(li.Extraction.Normalized, item, res.Quantity, res.Billed)
	res.Status = v.Status
	res.Allowed = v.Allowed
	res.Extra = v.Extra
	if v.Status == types.StatusAllowedNotComparable {
		res.AddNote(fmt.Sprintf("matched '%s' has no decomposable rate", item.Name))
	}
}

// Fail assigns the failure reason of an unmatched result. Package lines
// without a package rate are allowed but not comparable; every other
// failure is a MISMATCH.
func (b *Builder) Fail(res *types.ItemVerificationResult, li *types.LineItem, serviceErrors []string) {
	ev := &failure.Evidence{
		Extraction:       li.Extraction,
		DeclaredCategory: li.DeclaredCategory,
		Candidates:       res.Candidates,
		CategoriesTried:  res.CategoriesTried,
	}
	v := b.failures.Assign(ev)
	res.Matched = nil
	res.FailureReason = v.Reason
	res.Diagnostics = b.failures.Diagnose(ev, v, serviceErrors)
	res.Score = res.Diagnostics.BestScore
	res.Allowed, res.Extra = decimal.Zero, decimal.Zero
	res.FinalCategory = li.DeclaredCategory

	switch v.Reason {
	case types.ReasonPackageOnly:
		res.Status = types.StatusAllowedNotComparable
		res.Strategy = types.StrategyPackage
	case types.ReasonAdminCharge:
		res.Status = types.StatusIgnoredArtifact
		res.Strategy = types.StrategyArtifact
	default:
		res.Status = types.StatusMismatch
		res.Strategy = types.StrategyNone
	}
}

// ServiceErrors returns the recovered collaborator failures already recorded on res
func ServiceErrors(res *types.ItemVerificationResult) []string {
	if res.Diagnostics == nil {
		return nil
	}
	return append([]string(nil), res.Diagnostics.ServiceErrors...)
}

// DisplayName is the matched canonical name, or the normalized bill text
func DisplayName(res *types.ItemVerificationResult) string {
	if res.Matched != nil {
		return res.Matched.Name
	}
	if res.NormalizedName != "" {
		return strings.ToUpper(res.NormalizedName)
	}
	return strings.TrimSpace(res.RawText)
}
