// Package summary - Financial roll-up
// Rolls aggregates into category and grand totals. Every level is derived
// from the level below and can be re-summed to prove it.
package summary

import (
	"github.com/shopspring/decimal"

	"medbill-verify/core/aggregate"
	"medbill-verify/core/determinism"
	"medbill-verify/core/types"
	"medbill-verify/internal/errors"
)

// Totals are the money and count totals of one level
type Totals struct {
	Billed  decimal.Decimal `json:"total_bill"`
	Allowed decimal.Decimal `json:"total_allowed"`
	Extra   decimal.Decimal `json:"total_extra"`

	Items      int `json:"items"`
	Aggregates int `json:"aggregates"`

	StatusCounts map[types.Status]int `json:"status_counts"`
}

func newTotals() Totals {
	return Totals{
		Billed:       decimal.Zero,
		Allowed:      decimal.Zero,
		Extra:        decimal.Zero,
		StatusCounts: make(map[types.Status]int, len(types.AllStatuses)),
	}
}

func (t *Totals) addAggregate(a *aggregate.Item) {
	t.Billed = t.Billed.Add(a.TotalBill)
	t.Allowed = t.Allowed.Add(a.TotalAllowed)
	t.Extra = t.Extra.Add(a.TotalExtra)
	t.Aggregates++
	for _, m := range a.Members {
		t.Items++
		t.StatusCounts[m.Status]++
	}
}

func (t *Totals) round() {
	t.Billed = determinism.Round2(t.Billed)
	t.Allowed = determinism.Round2(t.Allowed)
	t.Extra = determinism.Round2(t.Extra)
}

// CategoryTotals are the totals of one final category
type CategoryTotals struct {
	Category string `json:"category"`
	Totals
}

// FinancialSummary holds the category and grand totals of a run
type FinancialSummary struct {
	Categories []CategoryTotals `json:"categories"`
	Grand      Totals           `json:"grand"`
}

// Category returns the totals of a final category
func (s *FinancialSummary) Category(name string) (CategoryTotals, bool) {
	for _, c := range s.Categories {
		if c.Category == name {
			return c, true
		}
	}
	return CategoryTotals{}, false
}

// Summarize rolls aggregates into category totals (in order of first
// appearance) and grand totals
func Summarize(aggs []*aggregate.Item) FinancialSummary {
	s := FinancialSummary{Grand: newTotals()}
	index := make(map[string]int)
	for _, a := range aggs {
		i, ok := index[a.FinalCategory]
		if !ok {
			i = len(s.Categories)
			index[a.FinalCategory] = i
			s.Categories = append(s.Categories, CategoryTotals{Category: a.FinalCategory, Totals: newTotals()})
		}
		s.Categories[i].addAggregate(a)
	}
	for i := range s.Categories {
		s.Categories[i].round()
		c := s.Categories[i]
		s.Grand.Billed = s.Grand.Billed.Add(c.Billed)
		s.Grand.Allowed = s.Grand.Allowed.Add(c.Allowed)
		s.Grand.Extra = s.Grand.Extra.Add(c.Extra)
		s.Grand.Items += c.Items
		s.Grand.Aggregates += c.Aggregates
		for st, n := range c.StatusCounts {
			s.Grand.StatusCounts[st] += n
		}
	}
	s.Grand.round()
	return s
}

// Reconstruct re-sums every level from the line results up and reports the
// first level whose numbers differ
func Reconstruct(results []*types.ItemVerificationResult, aggs []*aggregate.Item, s FinancialSummary) error {
	if err := aggregate.CheckLossless(results, aggs); err != nil {
		return err
	}

	lines := newTotals()
	for _, r := range results {
		if r == nil {
			continue
		}
		lines.Billed = lines.Billed.Add(r.Billed)
		lines.Allowed = lines.Allowed.Add(r.Allowed)
		lines.Extra = lines.Extra.Add(r.Extra)
		lines.Items++
	}
	lines.round()

	perCategory := make(map[string]Totals)
	for _, a := range aggs {
		t, ok := perCategory[a.FinalCategory]
		if !ok {
			t = newTotals()
		}
		t.addAggregate(a)
		perCategory[a.FinalCategory] = t
	}
	grand := newTotals()
	for _, name := range determinism.SortedKeys(perCategory) {
		t := perCategory[name]
		t.round()
		got, ok := s.Category(name)
		if !ok {
			return errors.Newf(errors.TypeInternal, "category %q missing from summary", name)
		}
		if !sameMoney(t, got.Totals) || t.Items != got.Items {
			return errors.Newf(errors.TypeInternal, "category %q totals differ from its aggregates", name)
		}
		grand.Billed = grand.Billed.Add(t.Billed)
		grand.Allowed = grand.Allowed.Add(t.Allowed)
		grand.Extra = grand.Extra.Add(t.Extra)
		grand.Items += t.Items
	}
	grand.round()
	if len(perCategory) != len(s.Categories) {
		return errors.Newf(errors.TypeInternal, "summary has %d categories, aggregates have %d",
			len(s.Categories), len(perCategory))
	}
	if !sameMoney(grand, s.Grand) || grand.Items != s.Grand.Items {
		return errors.New(errors.TypeInternal, "grand totals differ from category totals")
	}
	if !sameMoney(lines, s.Grand) || lines.Items != s.Grand.Items {
		return errors.New(errors.TypeInternal, "grand totals differ from line totals")
	}
	return nil
}

func sameMoney(a, b Totals) bool {
	return a.Billed.Equal(b.Billed) && a.Allowed.Equal(b.Allowed) && a.Extra.Equal(b.Extra)
}
