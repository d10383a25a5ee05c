package failure

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medbill-verify/core/normalize"
	"medbill-verify/core/policy"
	"medbill-verify/core/types"
)

func candidate(name, category string, score float64, reason types.FailureReason, detail string) types.MatchCandidate {
	return types.MatchCandidate{
		Item:            types.CatalogItem{Name: name, Category: category, Unit: types.UnitPerUnit},
		Breakdown:       types.ScoreBreakdown{Final: score},
		Decision:        types.DecisionReject,
		RejectionReason: reason,
		RejectionDetail: detail,
	}
}

func evidence(text, category string, cands ...types.MatchCandidate) *Evidence {
	return &Evidence{
		Extraction:       normalize.NewDefault().Extract(text),
		DeclaredCategory: category,
		Candidates:       cands,
		CategoriesTried:  []string{category},
	}
}

func TestAssignPriorityOrder(t *testing.T) {
	e := New(policy.Defaults(0.85), 0.5)

	tests := []struct {
		name   string
		ev     *Evidence
		reason types.FailureReason
		text   string
	}{
		{
			name:   "artifact",
			ev:     evidence("Page 1 of 2", "medicines"),
			reason: types.ReasonAdminCharge,
			text:   "'Page 1 of 2' is an administrative line or document artifact",
		},
		{
			name:   "package without package rate",
			ev:     evidence("ICU Package - 24 Hours", "icu", candidate("ICU Charges", "icu", 0.7, types.ReasonNone, "")),
			reason: types.ReasonPackageOnly,
		},
		{
			name: "strong match behind a boundary",
			ev: evidence("PARACETAMOL 500MG", "medicines",
				candidate("Paracetamol Level", "diagnostics", 0.91, types.ReasonWrongCategory,
					"category boundary: 'medicines' items may not match 'diagnostics' candidates")),
			reason: types.ReasonCategoryConflict,
			text:   "strong match 'Paracetamol Level' (0.91) exists in 'diagnostics', which 'medicines' items may not match",
		},
		{
			name: "best candidate behind a boundary",
			ev: evidence("PARACETAMOL 500MG", "medicines",
				candidate("Paracetamol Level", "diagnostics", 0.6, types.ReasonWrongCategory,
					"category boundary: 'medicines' items may not match 'diagnostics' candidates"),
				candidate("Dolo", "medicines", 0.4, types.ReasonNone, "")),
			reason: types.ReasonWrongCategory,
			text:   "category boundary: 'medicines' items may not match 'diagnostics' candidates",
		},
		{
			name: "dosage",
			ev: evidence("PARACETAMOL 500MG", "medicines",
				candidate("Paracetamol 650mg", "medicines", 0.8, types.ReasonDosageMismatch, "dosage differs: 500mg vs 650mg")),
			reason: types.ReasonDosageMismatch,
			text:   "dosage differs: 500mg vs 650mg (closest: 'Paracetamol 650mg')",
		},
		{
			name: "modality",
			ev: evidence("MRI BRAIN", "radiology",
				candidate("CT Brain", "radiology", 0.7, types.ReasonModalityMismatch, "modality differs: MRI vs CT")),
			reason: types.ReasonModalityMismatch,
		},
		{
			name: "low similarity",
			ev: evidence("CROSS CONSULTATION", "consultation",
				candidate("Consultation", "consultation", 0.6, types.ReasonNone, "")),
			reason: types.ReasonLowSimilarity,
			text:   "closest item 'Consultation' in 'consultation' scored 0.60, below the acceptance threshold 0.65",
		},
		{
			name: "nothing close",
			ev: evidence("GOLD PLATED STENT", "implants",
				candidate("Bandage", "implants", 0.2, types.ReasonNone, "")),
			reason: types.ReasonNotInTieUp,
			text:   "no catalog item scored at least 0.50 in implants",
		},
		{
			name:   "no category at all",
			ev:     &Evidence{Extraction: normalize.NewDefault().Extract("AMBULANCE")},
			reason: types.ReasonNotInTieUp,
			text:   "no catalog category matched the bill category",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := e.Assign(tt.ev)
			assert.Equal(t, tt.reason, v.Reason)
			if tt.text != "" {
				assert.Equal(t, tt.text, v.Explanation)
			}
			assert.NotEmpty(t, v.Explanation)
		})
	}
}

func TestPackageWithPackageRateFallsThrough(t *testing.T) {
	e := New(policy.Defaults(0.85), 0.5)
	bundle := candidate("ICU Package", "icu", 0.7, types.ReasonNone, "")
	bundle.Item.Unit = types.UnitBundle

	v := e.Assign(evidence("ICU Package - 24 Hours", "icu", bundle))
	assert.Equal(t, types.ReasonLowSimilarity, v.Reason)
}

func TestAnchorReasonNeedsBestCandidate(t *testing.T) {
	e := New(policy.Defaults(0.85), 0.5)
	v := e.Assign(evidence("PARACETAMOL 500MG", "medicines",
		candidate("Paracetamol Syrup", "medicines", 0.75, types.ReasonNone, ""),
		candidate("Paracetamol 650mg", "medicines", 0.7, types.ReasonDosageMismatch, "dosage differs: 500mg vs 650mg")))
	assert.Equal(t, types.ReasonLowSimilarity, v.Reason)
}

func TestRulesOrder(t *testing.T) {
	e := New(policy.Defaults(0.85), 0.5)
	assert.Equal(t, []types.FailureReason{
		types.ReasonAdminCharge,
		types.ReasonPackageOnly,
		types.ReasonCategoryConflict,
		types.ReasonWrongCategory,
		types.ReasonDosageMismatch,
		types.ReasonFormMismatch,
		types.ReasonModalityMismatch,
		types.ReasonBodyPartMismatch,
		types.ReasonLowSimilarity,
		types.ReasonNotInTieUp,
	}, e.Rules())
}

func TestDiagnoseKeepsBestCandidate(t *testing.T) {
	e := New(policy.Defaults(0.85), 0.5)
	ev := evidence("PARACETAMOL 500MG", "medicines",
		candidate("Aspirin 75mg", "medicines", 0.3, types.ReasonNone, ""),
		candidate("Paracetamol 650mg", "medicines", 0.8, types.ReasonDosageMismatch, "dosage differs: 500mg vs 650mg"))
	ev.CategoriesTried = []string{"medicines", "consumables"}

	v := e.Assign(ev)
	d := e.Diagnose(ev, v, []string{"scorer: timeout"})
	require.NotNil(t, d.BestCandidate)
	assert.Equal(t, "Paracetamol 650mg", d.BestCandidate.Item.Name)
	assert.Equal(t, 0.8, d.BestScore)
	assert.Equal(t, []string{"medicines", "consumables"}, d.CategoriesTried)
	assert.Equal(t, v.Explanation, d.Explanation)
	assert.Equal(t, []string{"scorer: timeout"}, d.ServiceErrors)

	ev.CategoriesTried[0] = "changed"
	assert.Equal(t, "medicines", d.CategoriesTried[0])
}
