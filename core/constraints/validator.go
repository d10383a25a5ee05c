// Package constraints - Hard constraint validation
// A rejected candidate is never accepted, whatever its score.
// Checks run in a fixed order and the first violation wins.
package constraints

import (
	"fmt"
	"strings"

	"medbill-verify/core/policy"
	"medbill-verify/core/types"
)

// Subject is one side of a comparison
type Subject struct {
	Category   string
	Extraction types.Extraction
}

// Verdict is the outcome of validating one candidate
type Verdict struct {
	Pass   bool
	Reason types.FailureReason
	Detail string
}

// passed is the verdict for a candidate that violates nothing
var passed = Verdict{Pass: true}

func reject(reason types.FailureReason, format string, args ...interface{}) Verdict {
	return Verdict{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// check is a single hard constraint
type check func(v *Validator, bill, cand Subject, target policy.CategoryPolicy) (Verdict, bool)

// Validator applies category boundaries and domain-anchor rules
type Validator struct {
	policies *policy.Set
	checks   []check
}

// New creates a validator over a policy set
func New(policies *policy.Set) *Validator {
	return &Validator{
		policies: policies,
		checks: []check{
			checkBoundary,
			checkDosage,
			checkForm,
			checkModality,
			checkBodyPart,
		},
	}
}

// Check validates candidate cand for the bill line bill. The anchor
// requirements come from the policy of the candidate's category.
func (v *Validator) Check(bill, cand Subject) Verdict {
	target := v.policies.Lookup(cand.Category)
	for _, c := range v.checks {
		if verdict, violated := c(v, bill, cand, target); violated {
			return verdict
		}
	}
	return passed
}

func checkBoundary(v *Validator, bill, cand Subject, target policy.CategoryPolicy) (Verdict, bool) {
	if !v.policies.Forbids(bill.Category, cand.Category) {
		return Verdict{}, false
	}
	return reject(types.ReasonWrongCategory,
		"category boundary: '%s' items may not match '%s' candidates", bill.Category, cand.Category), true
}

func checkDosage(_ *Validator, bill, cand Subject, _ policy.CategoryPolicy) (Verdict, bool) {
	a, b := bill.Extraction.Attributes, cand.Extraction.Attributes
	if a.Dosage == nil || b.Dosage == nil || a.Dosage.Equal(*b.Dosage) {
		return Verdict{}, false
	}
	if !SameEntity(a, b) {
		return Verdict{}, false
	}
	return reject(types.ReasonDosageMismatch, "dosage differs: %s vs %s", a.Dosage, b.Dosage), true
}

func checkForm(_ *Validator, bill, cand Subject, target policy.CategoryPolicy) (Verdict, bool) {
	a, b := bill.Extraction.Attributes, cand.Extraction.Attributes
	if !SameEntity(a, b) {
		return Verdict{}, false
	}
	if a.Route != "" && b.Route != "" && a.Route != b.Route {
		return reject(types.ReasonFormMismatch, "route differs: %s vs %s", describeForm(a), describeForm(b)), true
	}
	if target.RequireForm && a.Form != "" && b.Form != "" && a.Form != b.Form {
		return reject(types.ReasonFormMismatch, "form differs: %s vs %s", a.Form, b.Form), true
	}
	return Verdict{}, false
}

func checkModality(_ *Validator, bill, cand Subject, target policy.CategoryPolicy) (Verdict, bool) {
	a, b := bill.Extraction.Attributes, cand.Extraction.Attributes
	if !target.RequireModality || a.Modality == "" || b.Modality == "" || a.Modality == b.Modality {
		return Verdict{}, false
	}
	return reject(types.ReasonModalityMismatch, "modality differs: %s vs %s",
		strings.ToUpper(a.Modality), strings.ToUpper(b.Modality)), true
}

func checkBodyPart(_ *Validator, bill, cand Subject, target policy.CategoryPolicy) (Verdict, bool) {
	a, b := bill.Extraction.Attributes, cand.Extraction.Attributes
	if !target.RequireBodyPart || a.BodyPart == "" || b.BodyPart == "" || a.BodyPart == b.BodyPart {
		return Verdict{}, false
	}
	return reject(types.ReasonBodyPartMismatch, "body part differs: %s vs %s", a.BodyPart, b.BodyPart), true
}

func describeForm(a types.MedicalAttributes) string {
	if a.Form != "" {
		return a.Form + " (" + a.Route + ")"
	}
	return a.Route
}

// SameEntity reports whether two attribute sets name the same drug, device
// or service: the core-name tokens of one side contain those of the other.
func SameEntity(a, b types.MedicalAttributes) bool {
	ta := strings.Fields(a.CoreName)
	tb := strings.Fields(b.CoreName)
	if len(ta) == 0 || len(tb) == 0 {
		return false
	}
	if len(ta) > len(tb) {
		ta, tb = tb, ta
	}
	have := make(map[string]bool, len(tb))
	for _, t := range tb {
		have[t] = true
	}
	for _, t := range ta {
		if !have[t] {
			return false
		}
	}
	return true
}
