package types

import "fmt"

// Status is the final verdict for a line item or aggregate
type Status string

const (
	// StatusGreen means billed within the allowed amount
	StatusGreen Status = "GREEN"

	// StatusRed means billed above the allowed amount
	StatusRed Status = "RED"

	// StatusMismatch means no acceptable catalog match was found
	StatusMismatch Status = "MISMATCH"

	// StatusAllowedNotComparable means matched (or packaged) without a decomposable rate
	StatusAllowedNotComparable Status = "ALLOWED_NOT_COMPARABLE"

	// StatusIgnoredArtifact means the line is an administrative or OCR artifact
	StatusIgnoredArtifact Status = "IGNORED_ARTIFACT"
)

// AllStatuses lists every status in resolution priority order
var AllStatuses = []Status{
	StatusRed,
	StatusMismatch,
	StatusGreen,
	StatusAllowedNotComparable,
	StatusIgnoredArtifact,
}

// Rank returns the resolution priority of the status. Lower ranks win.
func (s Status) Rank() int {
	switch s {
	case StatusRed:
		return 0
	case StatusMismatch:
		return 1
	case StatusGreen:
		return 2
	case StatusAllowedNotComparable:
		return 3
	case StatusIgnoredArtifact:
		return 4
	}
	panic(fmt.Sprintf("types: unknown status %q", string(s)))
}

// IsMatched reports whether the status implies an accepted catalog match
func (s Status) IsMatched() bool {
	switch s {
	case StatusGreen, StatusRed:
		return true
	case StatusMismatch, StatusAllowedNotComparable, StatusIgnoredArtifact:
		return false
	}
	panic(fmt.Sprintf("types: unknown status %q", string(s)))
}

// FailureReason explains why no acceptable match exists
type FailureReason string

const (
	ReasonNone             FailureReason = ""
	ReasonAdminCharge      FailureReason = "ADMIN_CHARGE"
	ReasonPackageOnly      FailureReason = "PACKAGE_ONLY"
	ReasonWrongCategory    FailureReason = "WRONG_CATEGORY"
	ReasonCategoryConflict FailureReason = "CATEGORY_CONFLICT"
	ReasonDosageMismatch   FailureReason = "DOSAGE_MISMATCH"
	ReasonFormMismatch     FailureReason = "FORM_MISMATCH"
	ReasonModalityMismatch FailureReason = "MODALITY_MISMATCH"
	ReasonBodyPartMismatch FailureReason = "BODYPART_MISMATCH"
	ReasonLowSimilarity    FailureReason = "LOW_SIMILARITY"
	ReasonNotInTieUp       FailureReason = "NOT_IN_TIEUP"
)

// Describe returns the short human description of the reason
func (r FailureReason) Describe() string {
	switch r {
	case ReasonNone:
		return ""
	case ReasonAdminCharge:
		return "Administrative charge or document artifact"
	case ReasonPackageOnly:
		return "Package item without a comparable package rate"
	case ReasonWrongCategory:
		return "Candidate belongs to a category this item may not match"
	case ReasonCategoryConflict:
		return "Strong match exists only in a conflicting category"
	case ReasonDosageMismatch:
		return "Same drug, different dosage"
	case ReasonFormMismatch:
		return "Same drug, different form or route"
	case ReasonModalityMismatch:
		return "Different imaging or test modality"
	case ReasonBodyPartMismatch:
		return "Different body part"
	case ReasonLowSimilarity:
		return "Closest catalog item is below the acceptance threshold"
	case ReasonNotInTieUp:
		return "Not found in the hospital tie-up rates"
	}
	panic(fmt.Sprintf("types: unknown failure reason %q", string(r)))
}

// IsAnchorMismatch reports whether the reason is a domain-anchor rejection
func (r FailureReason) IsAnchorMismatch() bool {
	switch r {
	case ReasonDosageMismatch, ReasonFormMismatch, ReasonModalityMismatch, ReasonBodyPartMismatch:
		return true
	}
	return false
}

// IsBoundaryViolation reports whether the reason is a category-boundary rejection
func (r FailureReason) IsBoundaryViolation() bool {
	return r == ReasonWrongCategory || r == ReasonCategoryConflict
}

// Retryable reports whether matching in another category could resolve the failure
func (r FailureReason) Retryable() bool {
	switch r {
	case ReasonAdminCharge, ReasonPackageOnly:
		return false
	case ReasonNone, ReasonWrongCategory, ReasonCategoryConflict, ReasonDosageMismatch,
		ReasonFormMismatch, ReasonModalityMismatch, ReasonBodyPartMismatch,
		ReasonLowSimilarity, ReasonNotInTieUp:
		return true
	}
	panic(fmt.Sprintf("types: unknown failure reason %q", string(r)))
}

// Strategy names how an item was resolved
type Strategy string

const (
	StrategyExact    Strategy = "exact"
	StrategyHybrid   Strategy = "hybrid"
	StrategyOracle   Strategy = "oracle"
	StrategyPackage  Strategy = "package"
	StrategyArtifact Strategy = "artifact"
	StrategyNone     Strategy = "none"
)
