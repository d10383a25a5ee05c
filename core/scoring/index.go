package scoring

import (
	"context"
	"sort"

	"medbill-verify/core/types"
)

// Entry is one catalog item prepared for retrieval
type Entry struct {
	Item       types.CatalogItem
	Extraction types.Extraction
}

// Hit is a retrieval result
type Hit struct {
	Entry    Entry
	Semantic float64
	Position int
}

// Index is an in-memory cosine index over the items of one catalog category.
// It is immutable after BuildIndex and safe for concurrent reads.
type Index struct {
	entries []Entry
	vecs    [][]float32
	byText  map[string]int
}

// SkippedEntry records a catalog item left out of an index
type SkippedEntry struct {
	Item types.CatalogItem
	Err  error
}

// BuildIndex embeds every entry. Entries whose embedding fails are skipped
// and returned so the caller can log them.
func BuildIndex(ctx context.Context, emb Embedder, entries []Entry) (*Index, []SkippedEntry) {
	ix := &Index{byText: make(map[string]int, len(entries))}
	var skipped []SkippedEntry
	for _, e := range entries {
		vec, err := emb.Embed(ctx, e.Extraction.Normalized)
		if err != nil {
			skipped = append(skipped, SkippedEntry{Item: e.Item, Err: err})
			continue
		}
		pos := len(ix.entries)
		ix.entries = append(ix.entries, e)
		ix.vecs = append(ix.vecs, vec)
		if _, dup := ix.byText[e.Extraction.Normalized]; !dup {
			ix.byText[e.Extraction.Normalized] = pos
		}
	}
	return ix, skipped
}

// Len returns the number of indexed entries
func (ix *Index) Len() int {
	return len(ix.entries)
}

// Entries returns the indexed entries in catalog order
func (ix *Index) Entries() []Entry {
	return ix.entries
}

// Exact returns the first entry whose normalized text equals normalized
func (ix *Index) Exact(normalized string) (Entry, bool) {
	pos, ok := ix.byText[normalized]
	if !ok {
		return Entry{}, false
	}
	return ix.entries[pos], true
}

// TopK returns the k most similar entries, best first. Ties keep catalog order.
func (ix *Index) TopK(vec []float32, k int) []Hit {
	hits := make([]Hit, 0, len(ix.entries))
	for i, v := range ix.vecs {
		hits = append(hits, Hit{Entry: ix.entries[i], Semantic: Cosine(vec, v), Position: i})
	}
	sort.SliceStable(hits, func(a, b int) bool {
		return hits[a].Semantic > hits[b].Semantic
	})
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits
}
