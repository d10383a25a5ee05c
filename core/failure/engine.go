// Package failure - Failure reason assignment
// A line without an accepted match gets exactly one reason, chosen by an
// ordered list of rules. The first rule that applies wins.
package failure

import (
	"fmt"
	"strings"

	"medbill-verify/core/policy"
	"medbill-verify/core/types"
)

// Evidence is everything known about a line that ended without a match
type Evidence struct {
	// Extraction is the normalizer output of the bill line
	Extraction types.Extraction

	// DeclaredCategory is the bill category of the line
	DeclaredCategory string

	// Candidates are the candidates seen across every attempted category
	Candidates []types.MatchCandidate

	// CategoriesTried lists the catalog categories attempted
	CategoriesTried []string
}

// Best returns the highest scoring candidate, or nil
func (e *Evidence) Best() *types.MatchCandidate {
	var best *types.MatchCandidate
	for i := range e.Candidates {
		c := &e.Candidates[i]
		if best == nil || c.Score() > best.Score() {
			best = c
		}
	}
	return best
}

// Verdict is the assigned reason with its explanation
type Verdict struct {
	Reason      types.FailureReason
	Explanation string
}

// Rule is one predicate -> reason step
type Rule struct {
	Reason types.FailureReason

	// Applies reports whether the rule fires, returning the explanation
	Applies func(e *Engine, ev *Evidence) (string, bool)
}

// Engine assigns failure reasons
type Engine struct {
	policies      *policy.Set
	minSimilarity float64
	rules         []Rule
}

// New creates an engine with the default rule order
func New(policies *policy.Set, minSimilarity float64) *Engine {
	return &Engine{
		policies:      policies,
		minSimilarity: minSimilarity,
		rules:         DefaultRules(),
	}
}

// DefaultRules returns the rules in priority order
func DefaultRules() []Rule {
	return []Rule{
		{Reason: types.ReasonAdminCharge, Applies: adminCharge},
		{Reason: types.ReasonPackageOnly, Applies: packageOnly},
		{Reason: types.ReasonCategoryConflict, Applies: categoryConflict},
		{Reason: types.ReasonWrongCategory, Applies: wrongCategory},
		{Reason: types.ReasonDosageMismatch, Applies: anchorMismatch(types.ReasonDosageMismatch)},
		{Reason: types.ReasonFormMismatch, Applies: anchorMismatch(types.ReasonFormMismatch)},
		{Reason: types.ReasonModalityMismatch, Applies: anchorMismatch(types.ReasonModalityMismatch)},
		{Reason: types.ReasonBodyPartMismatch, Applies: anchorMismatch(types.ReasonBodyPartMismatch)},
		{Reason: types.ReasonLowSimilarity, Applies: lowSimilarity},
		{Reason: types.ReasonNotInTieUp, Applies: notInTieUp},
	}
}

// Rules returns the reasons in evaluation order
func (e *Engine) Rules() []types.FailureReason {
	out := make([]types.FailureReason, len(e.rules))
	for i, r := range e.rules {
		out[i] = r.Reason
	}
	return out
}

// Assign returns the first reason whose rule applies
func (e *Engine) Assign(ev *Evidence) Verdict {
	for _, r := range e.rules {
		if explanation, ok := r.Applies(e, ev); ok {
			return Verdict{Reason: r.Reason, Explanation: explanation}
		}
	}
	return Verdict{Reason: types.ReasonNotInTieUp, Explanation: notInTieUpText(e, ev)}
}

// Diagnose builds the diagnostics attached to a non-matched result
func (e *Engine) Diagnose(ev *Evidence, v Verdict, serviceErrors []string) *types.FailureDiagnostics {
	d := &types.FailureDiagnostics{
		CategoriesTried: append([]string(nil), ev.CategoriesTried...),
		Explanation:     v.Explanation,
		ServiceErrors:   serviceErrors,
	}
	if best := ev.Best(); best != nil {
		c := *best
		d.BestCandidate = &c
		d.BestScore = c.Score()
	}
	return d
}

func adminCharge(_ *Engine, ev *Evidence) (string, bool) {
	if !ev.Extraction.IsArtifact {
		return "", false
	}
	return fmt.Sprintf("'%s' is an administrative line or document artifact", strings.TrimSpace(ev.Extraction.Raw)), true
}

func packageOnly(_ *Engine, ev *Evidence) (string, bool) {
	if !ev.Extraction.IsPackage {
		return "", false
	}
	for _, c := range ev.Candidates {
		if c.Item.IsBundle() && c.RejectionReason == types.ReasonNone {
			return "", false
		}
	}
	return fmt.Sprintf("package line '%s' has no comparable package rate", strings.TrimSpace(ev.Extraction.Raw)), true
}

// categoryConflict fires when a boundary-rejected candidate would otherwise
// have been auto-accepted in its own category
func categoryConflict(e *Engine, ev *Evidence) (string, bool) {
	for _, c := range ev.Candidates {
		if !c.RejectionReason.IsBoundaryViolation() {
			continue
		}
		if c.Score() >= e.policies.Lookup(c.Item.Category).AutoThreshold {
			return fmt.Sprintf("strong match '%s' (%.2f) exists in '%s', which '%s' items may not match",
				c.Item.Name, c.Score(), c.Item.Category, ev.DeclaredCategory), true
		}
	}
	return "", false
}

func wrongCategory(e *Engine, ev *Evidence) (string, bool) {
	best := ev.Best()
	if best == nil || !best.RejectionReason.IsBoundaryViolation() || best.Score() < e.minSimilarity {
		return "", false
	}
	return best.RejectionDetail, true
}

func anchorMismatch(reason types.FailureReason) func(*Engine, *Evidence) (string, bool) {
	return func(_ *Engine, ev *Evidence) (string, bool) {
		best := ev.Best()
		if best == nil || best.RejectionReason != reason {
			return "", false
		}
		return fmt.Sprintf("%s (closest: '%s')", best.RejectionDetail, best.Item.Name), true
	}
}

func lowSimilarity(e *Engine, ev *Evidence) (string, bool) {
	best := ev.Best()
	if best == nil || best.Score() < e.minSimilarity {
		return "", false
	}
	auto := e.policies.Lookup(best.Item.Category).AutoThreshold
	return fmt.Sprintf("closest item '%s' in '%s' scored %.2f, below the acceptance threshold %.2f",
		best.Item.Name, best.Item.Category, best.Score(), auto), true
}

func notInTieUp(e *Engine, ev *Evidence) (string, bool) {
	return notInTieUpText(e, ev), true
}

func notInTieUpText(e *Engine, ev *Evidence) string {
	if len(ev.CategoriesTried) == 0 {
		return "no catalog category matched the bill category"
	}
	return fmt.Sprintf("no catalog item scored at least %.2f in %s", e.minSimilarity, strings.Join(ev.CategoriesTried, ", "))
}
