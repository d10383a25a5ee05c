package pricing

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"medbill-verify/core/types"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func item(name, rate string, unit types.PricingUnit) types.CatalogItem {
	return types.CatalogItem{Name: name, Rate: d(rate), Unit: unit, Category: "medicines", Hospital: "City"}
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name     string
		item     types.CatalogItem
		quantity string
		billed   string
		status   types.Status
		allowed  string
		extra    string
	}{
		{"per unit within rate", item("Nicorandil 5mg", "49.25", types.UnitPerUnit), "1", "19.70", types.StatusGreen, "49.25", "0"},
		{"per unit scales with quantity", item("Nicorandil 5mg", "49.25", types.UnitPerUnit), "4", "78.80", types.StatusGreen, "197", "0"},
		{"overcharge", item("Paracetamol 500mg", "15.00", types.UnitPerUnit), "1", "25.00", types.StatusRed, "15", "10"},
		{"billed equal to allowed", item("Paracetamol 500mg", "15.00", types.UnitPerUnit), "2", "30.00", types.StatusGreen, "30", "0"},
		{"flat service ignores quantity", item("Consultation", "500", types.UnitFlatService), "3", "600", types.StatusRed, "500", "100"},
		{"bundle ignores quantity", item("ICU Package", "15000", types.UnitBundle), "2", "15000", types.StatusGreen, "15000", "0"},
		{"no rate", item("ICU Package", "0", types.UnitBundle), "1", "15000", types.StatusAllowedNotComparable, "0", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker(nil)
			v := c.Check("x", tt.item, d(tt.quantity), d(tt.billed))
			assert.Equal(t, tt.status, v.Status)
			assert.True(t, d(tt.allowed).Equal(v.Allowed), "allowed %s", v.Allowed)
			assert.True(t, d(tt.extra).Equal(v.Extra), "extra %s", v.Extra)
		})
	}
}

func TestRateCacheKeysByNameAndRef(t *testing.T) {
	c := NewChecker(NewRateCache(0))
	it := item("Nicorandil 5mg", "49.25", types.UnitPerUnit)

	for i := 0; i < 4; i++ {
		c.Check("nicorandil 5mg", it, d("1"), d("19.70"))
	}
	c.Check("nicorandil", it, d("1"), d("19.70"))

	hits, misses := c.Cache().Stats()
	assert.Equal(t, int64(3), hits)
	assert.Equal(t, int64(2), misses)
	assert.Equal(t, 2, c.Cache().Len())

	c.Cache().Reset()
	assert.Equal(t, 0, c.Cache().Len())
	hits, _ = c.Cache().Stats()
	assert.Zero(t, hits)
}

func TestRateCacheConcurrent(t *testing.T) {
	cache := NewRateCache(0)
	computed := 0
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cache.GetOrCompute(RateKey{NormalizedName: "a", MatchedRef: "r"}, func() Quote {
				mu.Lock()
				computed++
				mu.Unlock()
				return Quote{Rate: d("1"), Unit: types.UnitPerUnit, Comparable: true}
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, computed)
	assert.Equal(t, "a@r", RateKey{NormalizedName: "a", MatchedRef: "r"}.String())
}

func TestRateCacheMissesOnChangedRate(t *testing.T) {
	c := NewChecker(NewRateCache(0))

	v := c.Check("paracetamol 500mg", item("Paracetamol 500mg", "15", types.UnitPerUnit), d("1"), d("25"))
	assert.Equal(t, types.StatusRed, v.Status)

	v = c.Check("paracetamol 500mg", item("Paracetamol 500mg", "30", types.UnitPerUnit), d("1"), d("25"))
	assert.Equal(t, types.StatusGreen, v.Status)
	assert.True(t, d("30").Equal(v.Allowed))

	v = c.Check("paracetamol 500mg", item("Paracetamol 500mg", "30", types.UnitFlatService), d("2"), d("25"))
	assert.True(t, d("30").Equal(v.Allowed))

	_, misses := c.Cache().Stats()
	assert.Equal(t, int64(3), misses)
}

func TestRateCacheEvictsOldest(t *testing.T) {
	cache := NewRateCache(2)
	quote := func() Quote { return Quote{Rate: d("1"), Unit: types.UnitPerUnit, Comparable: true} }

	for _, name := range []string{"a", "b", "c"} {
		cache.GetOrCompute(RateKey{NormalizedName: name}, quote)
	}
	assert.Equal(t, 2, cache.Len())

	cache.GetOrCompute(RateKey{NormalizedName: "c"}, quote)
	cache.GetOrCompute(RateKey{NormalizedName: "a"}, quote)
	hits, misses := cache.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(4), misses)
	assert.Equal(t, 2, cache.Len())
}
