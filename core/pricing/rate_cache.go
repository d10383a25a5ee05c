package pricing

import (
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"medbill-verify/core/types"
)

// DefaultRateCacheSize bounds the rate cache of an engine
const DefaultRateCacheSize = 4096

// RateKey identifies a priced identity. The catalog rate and unit are part
// of the key, so a reloaded catalog with a changed rate never hits a stale quote.
type RateKey struct {
	// NormalizedName is the normalized bill text
	NormalizedName string

	// MatchedRef is the reference of the matched catalog item
	MatchedRef string

	// Rate is the catalog rate in canonical decimal form
	Rate string

	Unit types.PricingUnit
}

// KeyFor builds the key of a normalized bill name priced against item
func KeyFor(normalized string, item types.CatalogItem) RateKey {
	return RateKey{
		NormalizedName: normalized,
		MatchedRef:     item.Ref(),
		Rate:           item.Rate.String(),
		Unit:           item.Unit,
	}
}

// String returns the key as "name@ref"
func (k RateKey) String() string {
	return k.NormalizedName + "@" + k.MatchedRef
}

// Quote is a resolved catalog rate
type Quote struct {
	Rate decimal.Decimal
	Unit types.PricingUnit

	// Comparable is false when the item has no decomposable rate
	Comparable bool
}

// RateCache memoizes quotes per RateKey. It is owned by an engine instance
// and safe for concurrent use. When full, the oldest entry is evicted.
type RateCache struct {
	max int

	mu      sync.RWMutex
	entries map[RateKey]Quote
	order   []RateKey

	hits   atomic.Int64
	misses atomic.Int64
}

// NewRateCache creates an empty cache holding at most max quotes.
// max <= 0 selects DefaultRateCacheSize.
func NewRateCache(max int) *RateCache {
	if max <= 0 {
		max = DefaultRateCacheSize
	}
	return &RateCache{max: max, entries: make(map[RateKey]Quote)}
}

// GetOrCompute returns the cached quote for key, computing and storing it on a miss
func (c *RateCache) GetOrCompute(key RateKey, compute func() Quote) Quote {
	c.mu.RLock()
	q, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		c.hits.Add(1)
		return q
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if q, ok := c.entries[key]; ok {
		c.hits.Add(1)
		return q
	}
	c.misses.Add(1)
	q = compute()
	if len(c.order) >= c.max {
		delete(c.entries, c.order[0])
		c.order = c.order[1:]
	}
	c.entries[key] = q
	c.order = append(c.order, key)
	return q
}

// Len returns the number of cached quotes
func (c *RateCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns the hit and miss counts
func (c *RateCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Reset drops every entry and zeroes the counters
func (c *RateCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[RateKey]Quote)
	c.order = nil
	c.hits.Store(0)
	c.misses.Store(0)
}
