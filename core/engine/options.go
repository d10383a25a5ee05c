package engine

import (
	"go.uber.org/zap"

	"medbill-verify/core/matching"
	"medbill-verify/core/normalize"
	"medbill-verify/core/oracle"
	"medbill-verify/core/policy"
	"medbill-verify/core/pricing"
	"medbill-verify/core/scoring"
	"medbill-verify/internal/metrics"
)

// Config configures the engine
type Config struct {
	Matching   matching.Config         `json:"matching"`
	Weights    scoring.Weights         `json:"weights"`
	Embedding  scoring.EmbeddingConfig `json:"embedding"`
	Oracle     oracle.Config           `json:"oracle"`
	Normalizer normalize.Options       `json:"normalizer"`
}

// DefaultConfig returns the default engine configuration
func DefaultConfig() Config {
	return Config{
		Matching:  matching.DefaultConfig(),
		Weights:   scoring.DefaultWeights(),
		Embedding: scoring.DefaultEmbeddingConfig(),
		Oracle:    oracle.DefaultConfig(),
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if err := c.Matching.Validate(); err != nil {
		return err
	}
	return c.Weights.Validate()
}

// Option customizes an Engine
type Option func(*Engine)

// WithEmbedder replaces the configured embedder
func WithEmbedder(e scoring.Embedder) Option {
	return func(en *Engine) { en.embedder = e }
}

// WithOracle replaces the configured LLM oracle. The engine still wraps it
// with its decision cache, budget and timeout.
func WithOracle(o oracle.Oracle) Option {
	return func(en *Engine) { en.oracle = o }
}

// WithDecisionCache shares an oracle decision cache, e.g. a RedisCache
func WithDecisionCache(c oracle.DecisionCache) Option {
	return func(en *Engine) { en.decisions = c }
}

// WithRateCache shares a rate cache between engines
func WithRateCache(c *pricing.RateCache) Option {
	return func(en *Engine) { en.rates = c }
}

// WithPolicies replaces the default category policies
func WithPolicies(p *policy.Set) Option {
	return func(en *Engine) { en.policies = p }
}

// WithMetrics records run metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(en *Engine) { en.metrics = m }
}

// WithLogger sets the base logger
func WithLogger(l *zap.Logger) Option {
	return func(en *Engine) { en.logger = l }
}
