package matching

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"medbill-verify/core/calibration"
	"medbill-verify/core/constraints"
	"medbill-verify/core/determinism"
	"medbill-verify/core/normalize"
	"medbill-verify/core/policy"
	"medbill-verify/core/scoring"
	"medbill-verify/core/types"
	"medbill-verify/internal/logging"
)

// Matcher performs hospital, category and item level matching
type Matcher struct {
	cfg        Config
	extractor  *normalize.Extractor
	embedder   scoring.Embedder
	hybrid     *scoring.Hybrid
	validator  *constraints.Validator
	policies   *policy.Set
	calibrator calibration.Calibrator
	logger     *zap.Logger
}

// New creates a matcher
func New(cfg Config, extractor *normalize.Extractor, embedder scoring.Embedder, hybrid *scoring.Hybrid, policies *policy.Set, logger *zap.Logger) *Matcher {
	return &Matcher{
		cfg:        cfg,
		extractor:  extractor,
		embedder:   embedder,
		hybrid:     hybrid,
		validator:  constraints.New(policies),
		policies:   policies,
		calibrator: calibration.NewCalibrator(cfg.OracleBand, cfg.MinSimilarity),
		logger:     logging.OrGlobal(logger),
	}
}

// Config returns the matching configuration
func (m *Matcher) Config() Config {
	return m.cfg
}

// Calibrator returns the score calibrator
func (m *Matcher) Calibrator() calibration.Calibrator {
	return m.calibrator
}

// Policies returns the category policies
func (m *Matcher) Policies() *policy.Set {
	return m.policies
}

// NameSimilarity is the cosine similarity of the embedded normalized names.
// Identical normalized names score 1.
func (m *Matcher) NameSimilarity(ctx context.Context, a, b string) (float64, error) {
	na, nb := NormalizeName(a), NormalizeName(b)
	if na == nb {
		return 1, nil
	}
	va, err := m.embed(ctx, na)
	if err != nil {
		return 0, err
	}
	vb, err := m.embed(ctx, nb)
	if err != nil {
		return 0, err
	}
	return determinism.Round(scoring.Cosine(va, vb)), nil
}

// SelectHospital picks the catalog whose hospital name is most similar to
// the bill's. There is no threshold: the best of N is always returned.
func (m *Matcher) SelectHospital(ctx context.Context, hospital string, catalogs []*types.RateCatalog) (*types.RateCatalog, float64) {
	var best *types.RateCatalog
	bestScore := -1.0
	for _, c := range catalogs {
		score, err := m.NameSimilarity(ctx, hospital, c.Hospital)
		if err != nil {
			m.logger.Warn("hospital name similarity failed", zap.String("catalog", c.Hospital), zap.Error(err))
			score = 0
		}
		if score > bestScore {
			best, bestScore = c, score
		}
	}
	if best == nil {
		return nil, 0
	}

	fields := []zap.Field{
		zap.String("bill_hospital", hospital),
		zap.String("catalog_hospital", best.Hospital),
		zap.Float64("similarity", bestScore),
		zap.Int("candidates", len(catalogs)),
	}
	if bestScore < m.cfg.CategorySoftThreshold {
		m.logger.Warn("best hospital catalog is a weak match", fields...)
	} else {
		m.logger.Info("hospital catalog selected", fields...)
	}
	return best, bestScore
}

// CategoryLevel is the acceptance level of a category match
type CategoryLevel string

const (
	CategoryHard CategoryLevel = "hard"
	CategorySoft CategoryLevel = "soft"
	CategoryNone CategoryLevel = "none"
)

// CategoryMatch is the catalog category chosen for a bill category
type CategoryMatch struct {
	Target     *PreparedCategory
	Similarity float64
	Level      CategoryLevel
}

// MatchCategory maps a bill category to the most similar catalog category.
// Below the soft threshold Target is nil.
func (m *Matcher) MatchCategory(ctx context.Context, pc *PreparedCatalog, billCategory string) CategoryMatch {
	var best *PreparedCategory
	bestScore := -1.0
	name := NormalizeName(billCategory)
	var vec []float32
	for _, c := range pc.Categories {
		var score float64
		switch {
		case c.normalized == name:
			score = 1
		case c.vec == nil:
			continue
		default:
			if vec == nil {
				v, err := m.embed(ctx, name)
				if err != nil {
					m.logger.Warn("category name embedding failed", logging.Category(billCategory), zap.Error(err))
					return CategoryMatch{Level: CategoryNone}
				}
				vec = v
			}
			score = determinism.Round(scoring.Cosine(vec, c.vec))
		}
		if score > bestScore {
			best, bestScore = c, score
		}
	}
	if best == nil {
		return CategoryMatch{Level: CategoryNone}
	}

	switch {
	case bestScore >= m.cfg.CategoryHardThreshold:
		return CategoryMatch{Target: best, Similarity: bestScore, Level: CategoryHard}
	case bestScore >= m.cfg.CategorySoftThreshold:
		m.logger.Warn("soft category match",
			zap.String("bill_category", billCategory),
			zap.String("catalog_category", best.Name),
			zap.Float64("similarity", bestScore))
		return CategoryMatch{Target: best, Similarity: bestScore, Level: CategorySoft}
	}
	m.logger.Info("bill category below soft threshold",
		zap.String("bill_category", billCategory),
		zap.String("closest", best.Name),
		zap.Float64("similarity", bestScore))
	return CategoryMatch{Similarity: bestScore, Level: CategoryNone}
}

// Attempt is the outcome of matching one line against one catalog category
type Attempt struct {
	Category string

	// Candidates are every candidate considered, best first
	Candidates []types.MatchCandidate

	// Accepted is the accepted candidate, if any
	Accepted *types.MatchCandidate
	Strategy types.Strategy

	Opinion       *types.OracleOpinion
	ServiceErrors []string
	Notes         []string
}

// Best returns the highest scoring candidate of the attempt
func (a *Attempt) Best() *types.MatchCandidate {
	if len(a.Candidates) == 0 {
		return nil
	}
	return &a.Candidates[0]
}

type scored struct {
	candidate  types.MatchCandidate
	extraction types.Extraction
}

// MatchItem matches a line against one catalog category. Every candidate
// is scored, validated and labelled; the best passing candidate (an exact
// name match first) is resolved by the calibration pipeline.
func (m *Matcher) MatchItem(ctx context.Context, li *types.LineItem, target *PreparedCategory, pipeline *calibration.Pipeline) Attempt {
	att := Attempt{Category: target.Name, Strategy: types.StrategyNone}
	if target.Index == nil || target.Index.Len() == 0 {
		att.Notes = append(att.Notes, fmt.Sprintf("category '%s' has no indexed items", target.Name))
		return att
	}

	vec, err := m.embed(ctx, li.Extraction.Normalized)
	if err != nil {
		att.ServiceErrors = append(att.ServiceErrors, fmt.Sprintf("scorer: %v", err))
		return att
	}

	hits := target.Index.TopK(vec, m.cfg.TopK)
	if exact, ok := target.Index.Exact(li.Extraction.Normalized); ok && !containsItem(hits, exact.Item) {
		hits = append(hits, scoring.Hit{Entry: exact, Semantic: 1})
	}

	auto := m.policies.Lookup(target.Name).AutoThreshold
	bill := constraints.Subject{Category: li.DeclaredCategory, Extraction: li.Extraction}

	candidates := make([]scored, 0, len(hits))
	for _, h := range hits {
		c := types.MatchCandidate{
			Item:      h.Entry.Item,
			Breakdown: m.hybrid.Score(h.Semantic, li.Extraction, h.Entry.Extraction),
		}
		verdict := m.validator.Check(bill, constraints.Subject{Category: target.Name, Extraction: h.Entry.Extraction})
		if verdict.Pass {
			c.Decision = m.calibrator.Decide(c.Score(), auto)
		} else {
			c.Decision = types.DecisionReject
			c.RejectionReason = verdict.Reason
			c.RejectionDetail = verdict.Detail
		}
		candidates = append(candidates, scored{candidate: c, extraction: h.Entry.Extraction})
	}
	sort.SliceStable(candidates, func(a, b int) bool {
		return candidates[a].candidate.Score() > candidates[b].candidate.Score()
	})

	chosen := -1
	for i, s := range candidates {
		if s.candidate.RejectionReason != types.ReasonNone {
			continue
		}
		if s.extraction.Normalized == li.Extraction.Normalized {
			chosen = i
			break
		}
		if chosen < 0 {
			chosen = i
		}
	}

	if chosen >= 0 && pipeline != nil {
		s := &candidates[chosen]
		res := pipeline.Run(ctx, &calibration.Subject{
			BillText:            li.Text,
			Bill:                li.Extraction,
			Candidate:           s.candidate,
			CandidateExtraction: s.extraction,
			AutoThreshold:       auto,
		})
		att.Opinion = res.Opinion
		if res.Err != nil {
			att.ServiceErrors = append(att.ServiceErrors, res.Err.Error())
		}
		if res.Outcome == calibration.Accept {
			s.candidate.Accepted = true
			if res.Strategy != types.StrategyOracle {
				s.candidate.Decision = types.DecisionAutoMatch
			}
			att.Strategy = res.Strategy
		} else {
			att.Notes = append(att.Notes, fmt.Sprintf("best candidate '%s' (%.4f) rejected at %s stage in '%s'",
				s.candidate.Item.Name, s.candidate.Score(), res.Stage, target.Name))
		}
	}

	att.Candidates = make([]types.MatchCandidate, len(candidates))
	for i, s := range candidates {
		att.Candidates[i] = s.candidate
		if s.candidate.Accepted {
			att.Accepted = &att.Candidates[i]
		}
	}
	return att
}

func containsItem(hits []scoring.Hit, item types.CatalogItem) bool {
	for _, h := range hits {
		if h.Entry.Item.Ref() == item.Ref() {
			return true
		}
	}
	return false
}
