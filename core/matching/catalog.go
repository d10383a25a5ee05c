package matching

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"medbill-verify/core/scoring"
	"medbill-verify/core/types"
)

// PreparedCategory is a catalog category ready for retrieval
type PreparedCategory struct {
	Name       string
	normalized string
	vec        []float32
	Index      *scoring.Index
}

// PreparedCatalog is a rate catalog with every category indexed.
// It is immutable once prepared and safe for concurrent reads.
type PreparedCatalog struct {
	Catalog    *types.RateCatalog
	Categories []*PreparedCategory

	// Skipped lists catalog items left out because their embedding failed
	Skipped []scoring.SkippedEntry

	byName map[string]*PreparedCategory
}

// Category returns the prepared category with the given catalog name
func (pc *PreparedCatalog) Category(name string) (*PreparedCategory, bool) {
	c, ok := pc.byName[name]
	return c, ok
}

var nameSeparators = regexp.MustCompile(`[\s_\-/&.,:]+`)

// NormalizeName lowercases a hospital or category name and collapses separators
func NormalizeName(name string) string {
	return strings.TrimSpace(nameSeparators.ReplaceAllString(strings.ToLower(name), " "))
}

// Prepare normalizes and embeds every item of the catalog. Pseudo-categories
// are left out; items whose embedding fails are skipped and reported.
func (m *Matcher) Prepare(ctx context.Context, catalog *types.RateCatalog) (*PreparedCatalog, error) {
	pc := &PreparedCatalog{
		Catalog: catalog,
		byName:  make(map[string]*PreparedCategory, len(catalog.Categories)),
	}
	for _, cat := range catalog.Categories {
		if m.policies.ShouldSkip(cat.Name) {
			m.logger.Debug("skipping pseudo-category", zap.String("category", cat.Name))
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		entries := make([]scoring.Entry, 0, len(cat.Items))
		for _, item := range cat.Items {
			entries = append(entries, scoring.Entry{Item: item, Extraction: m.extractor.Extract(item.Name)})
		}
		ix, skipped := scoring.BuildIndex(ctx, m.timedEmbedder(), entries)
		for _, s := range skipped {
			m.logger.Warn("catalog item skipped, embedding failed",
				zap.String("item", s.Item.Name),
				zap.String("category", cat.Name),
				zap.Error(s.Err))
		}
		pc.Skipped = append(pc.Skipped, skipped...)

		prepared := &PreparedCategory{
			Name:       cat.Name,
			normalized: NormalizeName(cat.Name),
			Index:      ix,
		}
		if vec, err := m.embed(ctx, prepared.normalized); err == nil {
			prepared.vec = vec
		} else {
			m.logger.Warn("category name embedding failed", zap.String("category", cat.Name), zap.Error(err))
		}
		pc.Categories = append(pc.Categories, prepared)
		pc.byName[cat.Name] = prepared
	}
	return pc, nil
}

// timedEmbedder applies the scorer timeout to every call
type timedEmbedder struct {
	m *Matcher
}

func (t timedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return t.m.embed(ctx, text)
}

func (m *Matcher) timedEmbedder() scoring.Embedder {
	return timedEmbedder{m: m}
}

func (m *Matcher) embed(ctx context.Context, text string) ([]float32, error) {
	if m.cfg.ScorerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.ScorerTimeout)
		defer cancel()
	}
	return m.embedder.Embed(ctx, text)
}
