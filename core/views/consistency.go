package views

import (
	"strconv"

	"github.com/shopspring/decimal"

	"medbill-verify/core/determinism"
	"medbill-verify/core/types"
)

// Check compares one quantity across the two views
type Check struct {
	Debug string `json:"debug"`
	Final string `json:"final"`
	Match bool   `json:"match"`
}

// Consistency is the outcome of comparing the debug and final views
type Consistency struct {
	Consistent bool             `json:"consistent"`
	Checks     map[string]Check `json:"checks"`
}

// Failed returns the names of the failed checks in order
func (c Consistency) Failed() []string {
	var out []string
	for _, name := range determinism.SortedKeys(c.Checks) {
		if !c.Checks[name].Match {
			out = append(out, name)
		}
	}
	return out
}

type debugTotals struct {
	items                  int
	billed, allowed, extra decimal.Decimal
	statuses               map[types.Status]int
}

func sumDebug(v *DebugView) debugTotals {
	t := debugTotals{
		billed:   decimal.Zero,
		allowed:  decimal.Zero,
		extra:    decimal.Zero,
		statuses: make(map[types.Status]int),
	}
	for _, c := range v.Categories {
		for _, it := range c.Items {
			t.items++
			t.billed = t.billed.Add(it.Billed)
			t.allowed = t.allowed.Add(it.Allowed)
			t.extra = t.extra.Add(it.Extra)
			t.statuses[it.Status]++
		}
	}
	return t
}

// Compare checks that both views describe the same item set: equal item
// counts, equal money totals, equal per-status counts and equal categories
func Compare(debug *DebugView, final *FinalView) Consistency {
	d := sumDebug(debug)
	finalItems := 0
	for _, c := range final.Categories {
		finalItems += len(c.Items)
	}

	checks := map[string]Check{
		"item_count":     intCheck(d.items, finalItems),
		"category_count": intCheck(len(debug.Categories), len(final.Categories)),
		"total_bill":     moneyCheck(d.billed, final.Billed),
		"total_allowed":  moneyCheck(d.allowed, final.Allowed),
		"total_extra":    moneyCheck(d.extra, final.Extra),
		"summary_bill":   moneyCheck(debug.Summary.Grand.Billed, final.Billed),
	}
	for _, s := range types.AllStatuses {
		checks["status_"+string(s)] = intCheck(d.statuses[s], final.StatusCounts[s])
	}

	out := Consistency{Consistent: true, Checks: checks}
	for _, c := range checks {
		if !c.Match {
			out.Consistent = false
		}
	}
	return out
}

func intCheck(a, b int) Check {
	return Check{Debug: strconv.Itoa(a), Final: strconv.Itoa(b), Match: a == b}
}

func moneyCheck(a, b decimal.Decimal) Check {
	a, b = determinism.Round2(a), determinism.Round2(b)
	return Check{Debug: a.StringFixed(2), Final: b.StringFixed(2), Match: a.Equal(b)}
}
