package oracle

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"medbill-verify/internal/errors"
	"medbill-verify/internal/logging"
	"medbill-verify/internal/metrics"
)

// ErrBudgetExhausted is returned once a run has spent its oracle budget
var ErrBudgetExhausted = errors.New(errors.TypeExternalService, "oracle call budget exhausted")

// Budget caps the number of uncached consultations in one run
type Budget struct {
	max  int64
	used atomic.Int64
}

// NewBudget creates a budget of max calls. max <= 0 means unlimited.
func NewBudget(max int) *Budget {
	return &Budget{max: int64(max)}
}

// Take consumes one call and reports whether it was available
func (b *Budget) Take() bool {
	if b == nil || b.max <= 0 {
		return true
	}
	if b.used.Add(1) > b.max {
		b.used.Add(-1)
		return false
	}
	return true
}

// Used returns the number of calls consumed
func (b *Budget) Used() int64 {
	if b == nil {
		return 0
	}
	return b.used.Load()
}

// CachedOracle wraps an Oracle with a decision cache, request collapsing,
// a call budget and a per-call timeout. Errors are never cached.
type CachedOracle struct {
	next    Oracle
	cache   DecisionCache
	budget  *Budget
	timeout time.Duration
	metrics *metrics.Metrics
	logger  *zap.Logger

	group singleflight.Group

	calls  atomic.Int64
	hits   atomic.Int64
	failed atomic.Int64
}

// NewCachedOracle creates the wrapper. cache and budget may be nil.
func NewCachedOracle(next Oracle, cache DecisionCache, budget *Budget, timeout time.Duration, m *metrics.Metrics, logger *zap.Logger) *CachedOracle {
	return &CachedOracle{
		next:    next,
		cache:   cache,
		budget:  budget,
		timeout: timeout,
		metrics: m,
		logger:  logging.OrGlobal(logger),
	}
}

// Verify implements Oracle
func (c *CachedOracle) Verify(ctx context.Context, req Request) (Decision, error) {
	key := Key(req)

	if c.cache != nil {
		d, ok, err := c.cache.Get(ctx, key)
		if err != nil {
			c.logger.Debug("oracle cache read failed", zap.Error(err))
		}
		if ok {
			c.hits.Add(1)
			c.metrics.RecordOracleCacheHit()
			d.Cached = true
			return d, nil
		}
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		return c.consult(ctx, key, req)
	})
	if err != nil {
		return Decision{}, err
	}
	return v.(Decision), nil
}

func (c *CachedOracle) consult(ctx context.Context, key string, req Request) (Decision, error) {
	if !c.budget.Take() {
		c.metrics.RecordOracleBudgetSkip()
		return Decision{}, ErrBudgetExhausted
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	c.calls.Add(1)
	d, err := c.next.Verify(ctx, req)
	if err != nil {
		c.failed.Add(1)
		c.metrics.RecordOracleCall("failed")
		if !errors.IsType(err, errors.TypeExternalService) {
			err = errors.ExternalService("oracle", err)
		}
		return Decision{}, err
	}
	c.metrics.RecordOracleCall("answered")

	if c.cache != nil {
		if err := c.cache.Set(ctx, key, d); err != nil {
			c.logger.Debug("oracle cache write failed", zap.Error(err))
		}
	}
	return d, nil
}

// Stats returns uncached calls, cache hits and failed calls
func (c *CachedOracle) Stats() (calls, hits, failed int64) {
	return c.calls.Load(), c.hits.Load(), c.failed.Load()
}
