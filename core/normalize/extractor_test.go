package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"medbill-verify/core/types"
)

func TestExtractStripsInventoryNoise(t *testing.T) {
	e := NewDefault()

	tests := []struct {
		raw        string
		normalized string
		core       string
		dosage     string
		form       string
	}{
		{"(30049099) NICORANDIL-TABLET-5MG-KORANDIL- |GTF", "nicorandil 5mg", "nicorandil", "5mg", "tablet"},
		{"PARACETAMOL 500MG STRIP OF 10 LOT:ABC123", "paracetamol 500mg", "paracetamol", "500mg", ""},
		{"INSULIN INJECTION 100IU BATCH:XYZ789 EXP:12/2025", "insulin 100iu", "insulin", "100iu", "injection"},
		{"PARACETAMOL 500 MG", "paracetamol 500mg", "paracetamol", "500mg", ""},
		{"STENT CORONARY (HS:90183100) BRAND:MEDTRONIC", "stent coronary", "stent coronary", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got := e.Extract(tt.raw)
			assert.Equal(t, tt.normalized, got.Normalized)
			assert.Equal(t, tt.core, got.Attributes.CoreName)
			assert.Equal(t, tt.form, got.Attributes.Form)
			if tt.dosage == "" {
				assert.Nil(t, got.Attributes.Dosage)
			} else {
				require.NotNil(t, got.Attributes.Dosage)
				assert.Equal(t, tt.dosage, got.Attributes.Dosage.String())
			}
			assert.False(t, got.IsArtifact)
		})
	}
}

func TestExtractPreservesQualifiers(t *testing.T) {
	e := NewDefault()

	got := e.Extract("1. CONSULTATION - FIRST VISIT | Dr. Vivek JaCob P")
	assert.Equal(t, "consultation first visit", got.Normalized)
	assert.Equal(t, []string{"first"}, got.Attributes.Qualifiers)

	followUp := e.Extract("Consultation - Follow-up")
	assert.Equal(t, "consultation followup", followUp.Normalized)
	assert.NotEqual(t, got.Normalized, followUp.Normalized)
}

func TestExtractDiagnosticAnchors(t *testing.T) {
	e := NewDefault()

	mri := e.Extract("MRI BRAIN | Dr. Vivek Jacob Philip")
	assert.Equal(t, "mri brain", mri.Normalized)
	assert.Equal(t, "mri", mri.Attributes.Modality)
	assert.Equal(t, "brain", mri.Attributes.BodyPart)

	xray := e.Extract("X-RAY CHEST PA VIEW")
	assert.Equal(t, "xray", xray.Attributes.Modality)
	assert.Equal(t, "chest", xray.Attributes.BodyPart)

	ct := e.Extract("2) CT Scan - Abdomen")
	assert.Equal(t, "ct scan abdomen", ct.Normalized)
	assert.Equal(t, "ct", ct.Attributes.Modality)
	assert.Equal(t, "abdomen", ct.Attributes.BodyPart)
}

func TestExtractFlagsArtifacts(t *testing.T) {
	e := NewDefault()

	for _, raw := range []string{
		"Page 1 of 2",
		"For queries call 1800-123-4567",
		"billing@cityhospital.in",
		"Thank you for choosing us",
		"Policy No: 12345/ABC",
		"Grand Total: 45,210.00",
		"-----------",
		"",
	} {
		assert.True(t, e.Extract(raw).IsArtifact, "expected artifact: %q", raw)
	}

	for _, raw := range []string{"Total Knee Replacement", "MRI BRAIN", "Room Rent"} {
		assert.False(t, e.Extract(raw).IsArtifact, "unexpected artifact: %q", raw)
	}
}

func TestExtractFlagsPackages(t *testing.T) {
	e := NewDefault()

	icu := e.Extract("ICU Package – 24 Hours")
	assert.True(t, icu.IsPackage)
	assert.Equal(t, "icu package 24 hours", icu.Normalized)

	assert.True(t, e.Extract("Health Checkup Bundle").IsPackage)
	assert.False(t, e.Extract("Coronary Implant").IsPackage)
}

func TestExtractIsTotalAndDeterministic(t *testing.T) {
	e := NewDefault()

	for _, raw := range []string{"???", "@@@ ###", "x", "١٢٣", "TAB"} {
		first := e.Extract(raw)
		second := e.Extract(raw)
		assert.Equal(t, first, second)
	}
}

func TestExtractRoutes(t *testing.T) {
	e := NewDefault()

	assert.Equal(t, "oral", e.Extract("Pantoprazole 40mg Tab").Attributes.Route)
	assert.Equal(t, "parenteral", e.Extract("Pantoprazole 40mg Inj").Attributes.Route)
	assert.Equal(t, "parenteral", e.Extract("Pantoprazole 40mg IV").Attributes.Route)
}

func TestTokenTiers(t *testing.T) {
	e := NewDefault()

	got := e.Extract("Paracetamol 500mg emergency visit")
	tiers := map[string]types.TokenTier{}
	for _, tok := range got.Tokens {
		tiers[tok.Text] = tok.Tier
	}
	assert.Equal(t, types.TierCritical, tiers["paracetamol"])
	assert.Equal(t, types.TierHigh, tiers["500mg"])
	assert.Equal(t, types.TierHigh, tiers["emergency"])
	assert.Equal(t, types.TierMedium, tiers["visit"])
}

func TestExtraPackageKeywordsAndArtifactPatterns(t *testing.T) {
	e := New(Options{
		ArtifactPatterns: []string{`^\s*scheme\s*code`, `([`},
		PackageKeywords:  []string{"package", "daycare"},
	}, zap.NewNop())

	assert.True(t, e.Extract("Scheme Code 991").IsArtifact)
	assert.True(t, e.Extract("Cataract Daycare").IsPackage)
	assert.False(t, e.Extract("Diet Plan").IsPackage)
}

func TestDosageCanonicalEquality(t *testing.T) {
	a := ExtractDosage("AMOXICILLIN 0.5G")
	b := ExtractDosage("AMOXICILLIN 500MG")
	require.NotNil(t, a)
	require.NotNil(t, b)
	assert.True(t, a.Equal(*b))

	c := ExtractDosage("PARACETAMOL 650MG")
	assert.False(t, b.Equal(*c))

	pct := ExtractDosage("DEXTROSE 5% 500ML")
	require.NotNil(t, pct)
	assert.Equal(t, "%", pct.Unit)
}
