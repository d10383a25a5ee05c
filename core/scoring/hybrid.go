package scoring

import (
	"math"

	"medbill-verify/core/determinism"
	"medbill-verify/core/types"
	"medbill-verify/internal/errors"
)

// Weights configures the hybrid score
type Weights struct {
	// Semantic weighs embedding similarity
	Semantic float64 `json:"semantic" mapstructure:"semantic"`

	// TokenOverlap weighs Jaccard overlap of normalized tokens
	TokenOverlap float64 `json:"token_overlap" mapstructure:"token_overlap"`

	// Anchor weighs domain-anchor agreement
	Anchor float64 `json:"anchor" mapstructure:"anchor"`

	// Anchor sub-weights; their sum is capped at 1
	Dosage   float64 `json:"dosage" mapstructure:"dosage"`
	Modality float64 `json:"modality" mapstructure:"modality"`
	BodyPart float64 `json:"body_part" mapstructure:"body_part"`
}

// DefaultWeights returns 0.50/0.25/0.25 with anchor sub-weights 0.4/0.3/0.3
func DefaultWeights() Weights {
	return Weights{
		Semantic:     0.50,
		TokenOverlap: 0.25,
		Anchor:       0.25,
		Dosage:       0.4,
		Modality:     0.3,
		BodyPart:     0.3,
	}
}

// Validate checks the weights are usable
func (w Weights) Validate() error {
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"semantic", w.Semantic}, {"token_overlap", w.TokenOverlap}, {"anchor", w.Anchor},
		{"dosage", w.Dosage}, {"modality", w.Modality}, {"body_part", w.BodyPart},
	} {
		if f.v < 0 || f.v > 1 {
			return errors.Newf(errors.TypeConfig, "weight %s=%.3f outside [0,1]", f.name, f.v)
		}
	}
	if sum := w.Semantic + w.TokenOverlap + w.Anchor; math.Abs(sum-1) > 1e-6 {
		return errors.Newf(errors.TypeConfig, "hybrid weights sum to %.4f, want 1", sum)
	}
	return nil
}

// Hybrid computes hybrid scores
type Hybrid struct {
	weights   Weights
	stopWords map[string]bool
}

// NewHybrid creates a hybrid scorer. stopWords are ignored by token overlap.
func NewHybrid(w Weights, stopWords map[string]bool) *Hybrid {
	return &Hybrid{weights: w, stopWords: stopWords}
}

// Weights returns the configured weights
func (h *Hybrid) Weights() Weights {
	return h.weights
}

// Score combines a semantic score with token overlap and anchor agreement.
// When neither side carries an anchor the anchor weight is spread
// proportionally over the semantic and overlap weights.
func (h *Hybrid) Score(semantic float64, bill, candidate types.Extraction) types.ScoreBreakdown {
	semantic = math.Max(0, math.Min(1, semantic))
	b := types.ScoreBreakdown{
		Semantic:     determinism.Round(semantic),
		TokenOverlap: determinism.Round(TokenOverlap(tokenTexts(bill), tokenTexts(candidate), h.stopWords)),
	}

	anchor, dosage, modality, body := AnchorScore(bill.Attributes, candidate.Attributes, h.weights)
	b.Anchor = determinism.Round(anchor)
	b.DosageMatch, b.ModalityMatch, b.BodyPartMatch = dosage, modality, body
	b.AnchorApplicable = bill.Attributes.HasAnchors() || candidate.Attributes.HasAnchors()

	w := h.weights
	var final float64
	if b.AnchorApplicable || w.Semantic+w.TokenOverlap == 0 {
		final = w.Semantic*b.Semantic + w.TokenOverlap*b.TokenOverlap + w.Anchor*b.Anchor
	} else {
		final = (w.Semantic*b.Semantic + w.TokenOverlap*b.TokenOverlap) / (w.Semantic + w.TokenOverlap)
	}
	b.Final = determinism.Round(math.Min(1, final))
	return b
}

// AnchorScore sums the weights of agreeing anchors, capped at 1.
// An anchor agrees only when both sides carry it and the values are equal.
func AnchorScore(a, b types.MedicalAttributes, w Weights) (score float64, dosage, modality, body bool) {
	if a.Dosage != nil && b.Dosage != nil && a.Dosage.Equal(*b.Dosage) {
		score += w.Dosage
		dosage = true
	}
	if a.Modality != "" && a.Modality == b.Modality {
		score += w.Modality
		modality = true
	}
	if a.BodyPart != "" && a.BodyPart == b.BodyPart {
		score += w.BodyPart
		body = true
	}
	return math.Min(score, 1), dosage, modality, body
}

// TokenOverlap is the Jaccard index of two token lists, ignoring stop words
// and single-character tokens
func TokenOverlap(a, b []string, stopWords map[string]bool) float64 {
	sa := tokenSet(a, stopWords)
	sb := tokenSet(b, stopWords)
	if len(sa) == 0 || len(sb) == 0 {
		return 0
	}
	inter := 0
	for t := range sa {
		if sb[t] {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	return float64(inter) / float64(union)
}

func tokenSet(tokens []string, stop map[string]bool) map[string]bool {
	out := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		if len(t) < 2 || stop[t] {
			continue
		}
		out[t] = true
	}
	return out
}

func tokenTexts(e types.Extraction) []string {
	out := make([]string, 0, len(e.Tokens))
	for _, t := range e.Tokens {
		out = append(out, t.Text)
	}
	return out
}
