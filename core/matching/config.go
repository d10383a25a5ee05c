// Package matching - Hierarchical matching
// Resolves a bill to a hospital catalog, a bill category to a catalog
// category, and a bill line to the best acceptable catalog item.
package matching

import (
	"time"

	"medbill-verify/internal/errors"
)

// Config holds the matching thresholds
type Config struct {
	// CategoryHardThreshold accepts a category match outright
	CategoryHardThreshold float64 `json:"category_hard_threshold" mapstructure:"category_hard_threshold"`

	// CategorySoftThreshold accepts a category match with a warning
	CategorySoftThreshold float64 `json:"category_soft_threshold" mapstructure:"category_soft_threshold"`

	// ItemAutoThreshold is the auto-accept threshold of the default policy
	ItemAutoThreshold float64 `json:"item_auto_threshold" mapstructure:"item_auto_threshold"`

	// OracleBand is the referral window below each auto threshold
	OracleBand float64 `json:"oracle_band" mapstructure:"oracle_band"`

	// MinSimilarity separates LOW_SIMILARITY from NOT_IN_TIEUP and floors the referral window
	MinSimilarity float64 `json:"min_similarity" mapstructure:"min_similarity"`

	// TopK candidates are retrieved per category
	TopK int `json:"top_k" mapstructure:"top_k"`

	// Workers bounds parallel item processing (0 = GOMAXPROCS)
	Workers int `json:"workers" mapstructure:"workers"`

	// ScorerTimeout bounds one embedding call
	ScorerTimeout time.Duration `json:"scorer_timeout" mapstructure:"scorer_timeout"`
}

// DefaultConfig returns the tuned defaults
func DefaultConfig() Config {
	return Config{
		CategoryHardThreshold: 0.70,
		CategorySoftThreshold: 0.65,
		ItemAutoThreshold:     0.85,
		OracleBand:            0.15,
		MinSimilarity:         0.50,
		TopK:                  5,
		Workers:               0,
		ScorerTimeout:         2 * time.Second,
	}
}

// Validate checks the thresholds
func (c Config) Validate() error {
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"category_hard_threshold", c.CategoryHardThreshold},
		{"category_soft_threshold", c.CategorySoftThreshold},
		{"item_auto_threshold", c.ItemAutoThreshold},
		{"oracle_band", c.OracleBand},
		{"min_similarity", c.MinSimilarity},
	} {
		if f.v < 0 || f.v > 1 {
			return errors.Newf(errors.TypeConfig, "matching.%s=%.3f outside [0,1]", f.name, f.v)
		}
	}
	if c.CategorySoftThreshold > c.CategoryHardThreshold {
		return errors.Newf(errors.TypeConfig, "category soft threshold %.2f above hard threshold %.2f",
			c.CategorySoftThreshold, c.CategoryHardThreshold)
	}
	if c.TopK <= 0 {
		return errors.Newf(errors.TypeConfig, "matching.top_k must be positive, got %d", c.TopK)
	}
	if c.Workers < 0 {
		return errors.Newf(errors.TypeConfig, "matching.workers must not be negative, got %d", c.Workers)
	}
	return nil
}
