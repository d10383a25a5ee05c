// Package pricing - Price compliance checking
// Turns a matched catalog item and its rate into an allowed amount and a
// GREEN or RED verdict. Items without a decomposable rate are never priced.
package pricing

import (
	"github.com/shopspring/decimal"

	"medbill-verify/core/determinism"
	"medbill-verify/core/types"
)

// Verdict is the priced outcome of one line
type Verdict struct {
	Status  types.Status
	Allowed decimal.Decimal
	Extra   decimal.Decimal
}

// Checker prices matched lines through a rate cache
type Checker struct {
	cache *RateCache
}

// NewChecker creates a checker. A nil cache gets a private one.
func NewChecker(cache *RateCache) *Checker {
	if cache == nil {
		cache = NewRateCache(0)
	}
	return &Checker{cache: cache}
}

// Cache returns the rate cache
func (c *Checker) Cache() *RateCache {
	return c.cache
}

// Quote resolves the rate of a matched item for a normalized bill name
func (c *Checker) Quote(normalized string, item types.CatalogItem) Quote {
	return c.cache.GetOrCompute(KeyFor(normalized, item), func() Quote {
		return Quote{Rate: item.Rate, Unit: item.Unit, Comparable: item.HasRate()}
	})
}

// Allowed returns the allowed amount of a quote for a billed quantity.
// Per-unit rates scale with quantity; flat-service and bundle rates do not.
func Allowed(q Quote, quantity decimal.Decimal) decimal.Decimal {
	switch q.Unit {
	case types.UnitFlatService, types.UnitBundle:
		return determinism.Round2(q.Rate)
	default:
		return determinism.Round2(q.Rate.Mul(quantity))
	}
}

// Check prices a matched line. billed is the amount of the whole line.
func (c *Checker) Check(normalized string, item types.CatalogItem, quantity, billed decimal.Decimal) Verdict {
	q := c.Quote(normalized, item)
	if !q.Comparable {
		return Verdict{Status: types.StatusAllowedNotComparable, Allowed: decimal.Zero, Extra: decimal.Zero}
	}
	allowed := Allowed(q, quantity)
	if billed.LessThanOrEqual(allowed) {
		return Verdict{Status: types.StatusGreen, Allowed: allowed, Extra: decimal.Zero}
	}
	return Verdict{Status: types.StatusRed, Allowed: allowed, Extra: determinism.Round2(billed.Sub(allowed))}
}
