package oracle

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"medbill-verify/core/determinism"
	"medbill-verify/internal/errors"
)

// DecisionCache stores oracle decisions by request key.
// Get returns ok=false on a miss; errors are reserved for backend failures.
type DecisionCache interface {
	Get(ctx context.Context, key string) (Decision, bool, error)
	Set(ctx context.Context, key string, d Decision) error
}

// Key derives the cache key of a request from the (bill text, candidate text) pair.
// The prior similarity is not part of the key.
func Key(req Request) string {
	return determinism.PairKey(req.BillText, req.CandidateText)
}

// MemoryCache is a bounded in-process decision cache. The oldest entries are
// evicted first.
type MemoryCache struct {
	max int

	mu    sync.RWMutex
	items map[string]Decision
	order []string
}

// NewMemoryCache creates a cache holding at most max decisions (0 = unbounded)
func NewMemoryCache(max int) *MemoryCache {
	return &MemoryCache{max: max, items: make(map[string]Decision)}
}

// Get implements DecisionCache
func (c *MemoryCache) Get(_ context.Context, key string) (Decision, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.items[key]
	return d, ok, nil
}

// Set implements DecisionCache
func (c *MemoryCache) Set(_ context.Context, key string, d Decision) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.items[key]; !exists {
		if c.max > 0 && len(c.order) >= c.max {
			delete(c.items, c.order[0])
			c.order = c.order[1:]
		}
		c.order = append(c.order, key)
	}
	c.items[key] = d
	return nil
}

// Len returns the number of cached decisions
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// RedisConfig configures the shared decision cache
type RedisConfig struct {
	// Addr is host:port of the redis server; empty disables the shared cache
	Addr string `json:"redis_addr" mapstructure:"redis_addr"`

	// DB selects the redis database
	DB int `json:"redis_db" mapstructure:"redis_db"`

	// Prefix namespaces the keys
	Prefix string `json:"redis_prefix" mapstructure:"redis_prefix"`

	// TTL expires decisions; 0 keeps them until evicted by redis
	TTL time.Duration `json:"ttl" mapstructure:"ttl"`
}

// DefaultRedisConfig returns a disabled shared cache
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{Prefix: "medbill:oracle:", TTL: 7 * 24 * time.Hour}
}

// RedisCache shares oracle decisions between processes. Values are JSON.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisCache wraps an existing client
func NewRedisCache(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

// DialRedis connects to the configured server and verifies it answers
func DialRedis(ctx context.Context, cfg RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, DB: cfg.DB})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.ExternalService("redis", err)
	}
	return NewRedisCache(client, cfg.Prefix, cfg.TTL), nil
}

// FullKey returns the namespaced redis key
func (c *RedisCache) FullKey(key string) string {
	return c.prefix + key
}

// Get implements DecisionCache
func (c *RedisCache) Get(ctx context.Context, key string) (Decision, bool, error) {
	data, err := c.client.Get(ctx, c.FullKey(key)).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return Decision{}, false, nil
	}
	if err != nil {
		return Decision{}, false, errors.ExternalService("redis", err)
	}
	var d Decision
	if err := json.Unmarshal(data, &d); err != nil {
		// a corrupt entry is a miss; the next Set overwrites it
		return Decision{}, false, nil
	}
	return d, true, nil
}

// Set implements DecisionCache
func (c *RedisCache) Set(ctx context.Context, key string, d Decision) error {
	data, err := json.Marshal(d)
	if err != nil {
		return errors.Wrap(errors.TypeInternal, "failed to encode decision", err)
	}
	if err := c.client.Set(ctx, c.FullKey(key), data, c.ttl).Err(); err != nil {
		return errors.ExternalService("redis", err)
	}
	return nil
}

// Close releases the client
func (c *RedisCache) Close() error {
	return c.client.Close()
}
