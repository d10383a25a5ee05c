package types

import (
	"fmt"
	"strconv"
)

// TokenTier ranks how much a token contributes to the billing meaning of an item
type TokenTier string

const (
	TierCritical TokenTier = "CRITICAL"
	TierHigh     TokenTier = "HIGH"
	TierMedium   TokenTier = "MEDIUM"
	TierLow      TokenTier = "LOW"
	TierNoise    TokenTier = "NOISE"
)

// Token is a normalized token with its tier
type Token struct {
	Text string    `json:"text"`
	Tier TokenTier `json:"tier"`
}

// Dosage is a strength such as 500mg or 5%
type Dosage struct {
	// Magnitude is the numeric strength
	Magnitude float64 `json:"magnitude"`

	// Unit is the normalized unit (mg, mcg, g, ml, iu, units, %)
	Unit string `json:"unit"`
}

// String renders the dosage compactly, e.g. "500mg"
func (d Dosage) String() string {
	return strconv.FormatFloat(d.Magnitude, 'f', -1, 64) + d.Unit
}

// Canonical converts mass units to milligrams so that 0.5g equals 500mg
func (d Dosage) Canonical() Dosage {
	switch d.Unit {
	case "g", "gm":
		return Dosage{Magnitude: d.Magnitude * 1000, Unit: "mg"}
	case "mcg":
		return Dosage{Magnitude: d.Magnitude / 1000, Unit: "mg"}
	case "l":
		return Dosage{Magnitude: d.Magnitude * 1000, Unit: "ml"}
	case "unit", "units":
		return Dosage{Magnitude: d.Magnitude, Unit: "iu"}
	}
	return d
}

// Equal compares dosages after unit canonicalisation
func (d Dosage) Equal(o Dosage) bool {
	a, b := d.Canonical(), o.Canonical()
	if a.Unit != b.Unit {
		return false
	}
	diff := a.Magnitude - b.Magnitude
	return diff < 1e-9 && diff > -1e-9
}

// MedicalAttributes are the structured anchors extracted from a line
type MedicalAttributes struct {
	// CoreName is the drug/device/procedure name without dosage and form
	CoreName string `json:"core_name,omitempty"`

	Dosage     *Dosage  `json:"dosage,omitempty"`
	Form       string   `json:"form,omitempty"`
	Route      string   `json:"route,omitempty"`
	Modality   string   `json:"modality,omitempty"`
	BodyPart   string   `json:"body_part,omitempty"`
	Qualifiers []string `json:"qualifiers,omitempty"`
}

// HasAnchors reports whether any domain anchor is present
func (a MedicalAttributes) HasAnchors() bool {
	return a.Dosage != nil || a.Modality != "" || a.BodyPart != ""
}

// Extraction is the normalizer output for one line of text
type Extraction struct {
	// Raw is the input text
	Raw string `json:"raw"`

	// Normalized is the cleaned lowercase medical core
	Normalized string `json:"normalized"`

	// Tokens are the surviving tokens with tiers
	Tokens []Token `json:"tokens,omitempty"`

	// Attributes are the extracted anchors
	Attributes MedicalAttributes `json:"attributes"`

	// IsArtifact flags administrative or OCR artifact lines
	IsArtifact bool `json:"is_artifact"`

	// IsPackage flags package/bundle lines
	IsPackage bool `json:"is_package"`
}

// LineItem is a bill line together with its extraction and location.
// The engine builds one per BillLineItem and never mutates it afterwards.
type LineItem struct {
	BillLineItem
	Position         Position   `json:"position"`
	DeclaredCategory string     `json:"declared_category"`
	Extraction       Extraction `json:"extraction"`
}

// Key returns the identifier used for traces
func (li *LineItem) Key() string {
	if li.ID != "" {
		return li.ID
	}
	return li.Position.String()
}

// GoString makes LineItem readable in test failures
func (li *LineItem) GoString() string {
	return fmt.Sprintf("LineItem{%s %q}", li.Key(), li.Text)
}
