package matching

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"medbill-verify/core/calibration"
	"medbill-verify/core/normalize"
	"medbill-verify/core/oracle"
	"medbill-verify/core/policy"
	"medbill-verify/core/scoring"
	"medbill-verify/core/types"
)

// pinnedEmbedder returns fixed vectors for known texts and hashes the rest
type pinnedEmbedder struct {
	pinned   map[string][]float32
	fallback *scoring.HashEmbedder
}

func (p pinnedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := p.pinned[text]; ok {
		return v, nil
	}
	v, _ := p.fallback.Embed(ctx, text)
	out := make([]float32, len(v)+2)
	copy(out[2:], v)
	return out, nil
}

func newTestMatcher(pinned map[string][]float32) *Matcher {
	ex := normalize.NewDefault()
	emb := pinnedEmbedder{pinned: pinned, fallback: scoring.NewHashEmbedder(64)}
	return New(DefaultConfig(), ex,
		emb,
		scoring.NewHybrid(scoring.DefaultWeights(), ex.Vocabulary().StopWords),
		policy.Defaults(0.85), zap.NewNop())
}

func catalog(hospital string, cats map[string][]string) *types.RateCatalog {
	c := &types.RateCatalog{Hospital: hospital}
	for _, name := range []string{"medicines", "consultation", "specialist_consultation", "radiology", "hospital"} {
		items, ok := cats[name]
		if !ok {
			continue
		}
		cc := types.CatalogCategory{Name: name}
		for _, it := range items {
			cc.Items = append(cc.Items, types.CatalogItem{Name: it, Rate: decimal.NewFromInt(10)})
		}
		c.Categories = append(c.Categories, cc)
	}
	c.Seal()
	return c
}

func lineItem(text, category string) *types.LineItem {
	return &types.LineItem{
		BillLineItem:     types.BillLineItem{Text: text, Amount: decimal.NewFromInt(10)},
		DeclaredCategory: category,
		Extraction:       normalize.NewDefault().Extract(text),
	}
}

func TestPrepareSkipsPseudoCategories(t *testing.T) {
	m := newTestMatcher(nil)
	pc, err := m.Prepare(context.Background(), catalog("City", map[string][]string{
		"medicines": {"Nicorandil 5mg"},
		"hospital":  {"City Hospital"},
	}))
	require.NoError(t, err)
	require.Len(t, pc.Categories, 1)
	_, ok := pc.Category("hospital")
	assert.False(t, ok)
}

func TestSelectHospitalBestOfN(t *testing.T) {
	m := newTestMatcher(nil)
	a := &types.RateCatalog{Hospital: "Apollo Hospital"}
	b := &types.RateCatalog{Hospital: "City Care Hospital"}

	got, score := m.SelectHospital(context.Background(), "city-care hospital", []*types.RateCatalog{a, b})
	assert.Same(t, b, got)
	assert.Equal(t, 1.0, score)

	got, _ = m.SelectHospital(context.Background(), "Unknown Clinic", []*types.RateCatalog{a})
	assert.Same(t, a, got)
}

func TestMatchCategoryLevels(t *testing.T) {
	m := newTestMatcher(map[string][]float32{
		"pharmacy":           {1, 0},
		"medicines":          {0.68, 0.733},
		"consultation":       {0, 1},
		"doctor visits":      {0.1, 0.995},
		"implants devices":   {-1, 0},
	})
	pc, err := m.Prepare(context.Background(), catalog("City", map[string][]string{
		"medicines":    {"Nicorandil 5mg"},
		"consultation": {"Consultation"},
	}))
	require.NoError(t, err)

	cm := m.MatchCategory(context.Background(), pc, "Medicines")
	assert.Equal(t, CategoryHard, cm.Level)
	assert.Equal(t, "medicines", cm.Target.Name)

	cm = m.MatchCategory(context.Background(), pc, "Pharmacy")
	assert.Equal(t, CategorySoft, cm.Level)
	assert.Equal(t, "medicines", cm.Target.Name)

	cm = m.MatchCategory(context.Background(), pc, "Doctor Visits")
	assert.Equal(t, CategoryHard, cm.Level)
	assert.Equal(t, "consultation", cm.Target.Name)

	cm = m.MatchCategory(context.Background(), pc, "Implants & Devices")
	assert.Equal(t, CategoryNone, cm.Level)
	assert.Nil(t, cm.Target)
}

func TestMatchItemExact(t *testing.T) {
	m := newTestMatcher(nil)
	pc, _ := m.Prepare(context.Background(), catalog("City", map[string][]string{
		"medicines": {"Nicorandil 5mg", "Nicorandil 10mg", "Aspirin 75mg"},
	}))
	target, _ := pc.Category("medicines")
	pipeline := calibration.Build(m.Calibrator(), nil, 0.7, zap.NewNop())

	att := m.MatchItem(context.Background(), lineItem("NICORANDIL 5MG", "medicines"), target, pipeline)
	require.NotNil(t, att.Accepted)
	assert.Equal(t, "Nicorandil 5mg", att.Accepted.Item.Name)
	assert.Equal(t, types.StrategyExact, att.Strategy)
	assert.Equal(t, types.DecisionAutoMatch, att.Accepted.Decision)

	for _, c := range att.Candidates {
		if c.Item.Name == "Nicorandil 10mg" {
			assert.Equal(t, types.ReasonDosageMismatch, c.RejectionReason)
			assert.Equal(t, "dosage differs: 5mg vs 10mg", c.RejectionDetail)
		}
	}
}

func TestMatchItemNeverAutoMatchesDifferentDosage(t *testing.T) {
	same := []float32{1, 0}
	m := newTestMatcher(map[string][]float32{
		"paracetamol 500mg": same,
		"paracetamol 650mg": same,
	})
	pc, _ := m.Prepare(context.Background(), catalog("City", map[string][]string{
		"medicines": {"Paracetamol 650mg"},
	}))
	target, _ := pc.Category("medicines")
	o := &countingOracle{decision: oracle.Decision{Match: true, Confidence: 1}}
	pipeline := calibration.Build(m.Calibrator(), o, 0.7, zap.NewNop())

	att := m.MatchItem(context.Background(), lineItem("PARACETAMOL 500MG", "medicines"), target, pipeline)
	assert.Nil(t, att.Accepted)
	require.Len(t, att.Candidates, 1)
	c := att.Candidates[0]
	assert.Equal(t, 1.0, c.Breakdown.Semantic)
	assert.Equal(t, types.DecisionReject, c.Decision)
	assert.Equal(t, types.ReasonDosageMismatch, c.RejectionReason)
	assert.Equal(t, 0, o.calls, "rejected candidates never reach the oracle")
}

type countingOracle struct {
	decision oracle.Decision
	calls    int
}

func (c *countingOracle) Verify(context.Context, oracle.Request) (oracle.Decision, error) {
	c.calls++
	return c.decision, nil
}

func TestMatchItemRefersBorderlineToOracle(t *testing.T) {
	m := newTestMatcher(map[string][]float32{
		"cross consultation ip":   {0.8, 0.6},
		"specialist consultation": {1, 0},
	})
	pc, _ := m.Prepare(context.Background(), catalog("City", map[string][]string{
		"specialist_consultation": {"Specialist Consultation"},
	}))
	target, _ := pc.Category("specialist_consultation")
	o := &countingOracle{decision: oracle.Decision{Match: true, Confidence: 0.9, Model: "phi3:mini"}}
	pipeline := calibration.Build(m.Calibrator(), o, 0.7, zap.NewNop())

	att := m.MatchItem(context.Background(), lineItem("CROSS CONSULTATION - IP", "consultation"), target, pipeline)
	require.NotNil(t, att.Accepted)
	assert.Equal(t, types.StrategyOracle, att.Strategy)
	require.NotNil(t, att.Opinion)
	assert.True(t, att.Opinion.Accepted)
	assert.Equal(t, 1, o.calls)
}

func TestMatchItemEmptyCategory(t *testing.T) {
	m := newTestMatcher(nil)
	att := m.MatchItem(context.Background(), lineItem("X RAY CHEST", "radiology"),
		&PreparedCategory{Name: "radiology"}, nil)
	assert.Nil(t, att.Accepted)
	assert.Empty(t, att.Candidates)
	assert.NotEmpty(t, att.Notes)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	c := DefaultConfig()
	c.CategorySoftThreshold = 0.8
	assert.Error(t, c.Validate())

	c = DefaultConfig()
	c.ItemAutoThreshold = 1.2
	assert.Error(t, c.Validate())

	c = DefaultConfig()
	c.TopK = 0
	assert.Error(t, c.Validate())

	c = DefaultConfig()
	c.OracleBand = -1
	c.MinSimilarity = 2
	c.CategoryHardThreshold = 3
	for i := 0; i < 10; i++ {
		err := c.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "matching.category_hard_threshold=")
	}
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "specialist consultation", NormalizeName("Specialist_Consultation"))
	assert.Equal(t, "implants devices", NormalizeName(" Implants & Devices "))
}
