// Package oracle provides the secondary arbitration collaborator consulted for
// borderline matches, its decision caches, and the call budget around it.
package oracle

import (
	"context"
	"time"
)

// Request asks whether two terms name the same billable service.
// BillText and CandidateText are the original, unnormalized strings.
type Request struct {
	BillText      string  `json:"bill_text"`
	CandidateText string  `json:"candidate_text"`
	Similarity    float64 `json:"similarity"`
}

// Decision is the oracle's structured answer
type Decision struct {
	Match          bool    `json:"match"`
	Confidence     float64 `json:"confidence"`
	NormalizedName string  `json:"normalized_name"`
	Model          string  `json:"model,omitempty"`

	// Cached is set when the decision came from a decision cache
	Cached bool `json:"-"`
}

// Accepted reports whether the decision confirms the match with enough confidence
func (d Decision) Accepted(minConfidence float64) bool {
	return d.Match && d.Confidence >= minConfidence
}

// Oracle arbitrates borderline matches. Implementations must be safe for concurrent use.
type Oracle interface {
	Verify(ctx context.Context, req Request) (Decision, error)
}

// Config configures the LLM oracle and its wrappers
type Config struct {
	// Enabled turns oracle referral on. When off, borderline scores are rejected.
	Enabled bool `json:"enabled" mapstructure:"enabled"`

	// Runtime is "ollama" or "vllm"
	Runtime string `json:"runtime" mapstructure:"runtime"`

	// BaseURL is the model server address
	BaseURL string `json:"base_url" mapstructure:"base_url"`

	// PrimaryModel is asked first
	PrimaryModel string `json:"primary_model" mapstructure:"primary_model"`

	// SecondaryModel is asked when the primary fails or is unsure
	SecondaryModel string `json:"secondary_model" mapstructure:"secondary_model"`

	// Timeout bounds a single consultation, including the fallback model
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// MinConfidence is the confidence a matching decision needs to be accepted
	MinConfidence float64 `json:"min_confidence" mapstructure:"min_confidence"`

	// MaxCalls is the per-run budget of uncached consultations (0 = unlimited)
	MaxCalls int `json:"max_calls" mapstructure:"max_calls"`

	// CacheSize bounds the in-memory decision cache
	CacheSize int `json:"cache_size" mapstructure:"cache_size"`
}

// DefaultConfig returns a disabled oracle with the usual local models
func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		Runtime:        RuntimeOllama,
		BaseURL:        "http://localhost:11434",
		PrimaryModel:   "phi3:mini",
		SecondaryModel: "qwen2.5:3b",
		Timeout:        30 * time.Second,
		MinConfidence:  0.7,
		MaxCalls:       0,
		CacheSize:      10000,
	}
}
