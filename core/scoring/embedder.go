// Package scoring provides the similarity scorer boundary and the hybrid
// scorer that combines semantic similarity, token overlap and domain anchors.
package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"medbill-verify/core/determinism"
	"medbill-verify/internal/errors"
	"medbill-verify/internal/httpjson"
	"medbill-verify/internal/logging"
)

// Embedder turns text into a vector. Implementations must be safe for concurrent use.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbeddingConfig selects and tunes the embedder
type EmbeddingConfig struct {
	// Provider is "hash" (local, deterministic) or "ollama"
	Provider string `json:"provider" mapstructure:"provider"`

	// BaseURL is the model server address for remote providers
	BaseURL string `json:"base_url" mapstructure:"base_url"`

	// Model is the embedding model name
	Model string `json:"model" mapstructure:"model"`

	// Dimensions is the vector size of the hash embedder
	Dimensions int `json:"dimensions" mapstructure:"dimensions"`

	// CacheSize bounds the embedding cache (0 disables caching)
	CacheSize int `json:"cache_size" mapstructure:"cache_size"`

	// Timeout bounds a single remote embedding call
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
}

// DefaultEmbeddingConfig returns the local hash embedder with a cache
func DefaultEmbeddingConfig() EmbeddingConfig {
	return EmbeddingConfig{
		Provider:   "hash",
		BaseURL:    "http://localhost:11434",
		Model:      "nomic-embed-text",
		Dimensions: 256,
		CacheSize:  20000,
		Timeout:    2 * time.Second,
	}
}

// NewEmbedder builds the configured embedder, wrapped in a cache when CacheSize > 0
func NewEmbedder(cfg EmbeddingConfig, logger *zap.Logger) (Embedder, error) {
	var base Embedder
	switch strings.ToLower(cfg.Provider) {
	case "", "hash":
		base = NewHashEmbedder(cfg.Dimensions)
	case "ollama":
		base = NewOllamaEmbedder(cfg.BaseURL, cfg.Model, cfg.Timeout, logger)
	default:
		return nil, errors.Newf(errors.TypeConfig, "unknown embedding provider %q", cfg.Provider)
	}
	if cfg.CacheSize > 0 {
		return NewCachedEmbedder(base, cfg.CacheSize), nil
	}
	return base, nil
}

// HashEmbedder is a deterministic, model-free embedder. Words and character
// trigrams are hashed into a fixed number of signed buckets.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder creates a hash embedder with the given dimension (default 256)
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = 256
	}
	return &HashEmbedder{dims: dims}
}

// Embed implements Embedder
func (h *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.dims)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h.add(vec, "w:"+word, 1.0)
		padded := " " + word + " "
		runes := []rune(padded)
		for i := 0; i+3 <= len(runes); i++ {
			h.add(vec, "t:"+string(runes[i:i+3]), 0.5)
		}
	}
	normalizeL2(vec)
	return vec, nil
}

func (h *HashEmbedder) add(vec []float32, feature string, weight float32) {
	hs := fnv.New32a()
	hs.Write([]byte(feature))
	sum := hs.Sum32()
	idx := int(sum % uint32(h.dims))
	if sum&(1<<31) != 0 {
		weight = -weight
	}
	vec[idx] += weight
}

func normalizeL2(vec []float32) {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
}

// Cosine returns the cosine similarity of two vectors clamped to [0,1].
// Mismatched or empty vectors score 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	c := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return math.Max(0, math.Min(1, c))
}

// OllamaEmbedder calls an Ollama-compatible /api/embeddings endpoint
type OllamaEmbedder struct {
	baseURL string
	model   string
	timeout time.Duration
	client  *http.Client
	logger  *zap.Logger
}

// NewOllamaEmbedder creates a remote embedder
func NewOllamaEmbedder(baseURL, model string, timeout time.Duration, logger *zap.Logger) *OllamaEmbedder {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &OllamaEmbedder{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		timeout: timeout,
		client:  &http.Client{},
		logger:  logging.OrGlobal(logger),
	}
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Embed implements Embedder
func (o *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	raw, _, err := httpjson.Post(ctx, o.client, o.baseURL+"/api/embeddings",
		ollamaEmbedRequest{Model: o.model, Prompt: text}, o.logger)
	if err != nil {
		return nil, errors.ExternalService("embedding", err)
	}
	var resp ollamaEmbedResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, errors.ExternalService("embedding", fmt.Errorf("decode response: %w", err))
	}
	if len(resp.Embedding) == 0 {
		return nil, errors.ExternalService("embedding", fmt.Errorf("empty embedding for model %s", o.model))
	}
	vec := make([]float32, len(resp.Embedding))
	for i, v := range resp.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

// CachedEmbedder memoizes embeddings keyed by the SHA-256 of the lowercased text.
// The cache is bounded; the oldest entries are evicted first.
type CachedEmbedder struct {
	next Embedder
	max  int

	mu    sync.RWMutex
	items map[string][]float32
	order []string

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCachedEmbedder wraps next with a bounded cache
func NewCachedEmbedder(next Embedder, max int) *CachedEmbedder {
	return &CachedEmbedder{
		next:  next,
		max:   max,
		items: make(map[string][]float32),
	}
}

// Embed implements Embedder
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := determinism.TextKey(text)

	c.mu.RLock()
	vec, ok := c.items[key]
	c.mu.RUnlock()
	if ok {
		c.hits.Add(1)
		return vec, nil
	}
	c.misses.Add(1)

	vec, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.items[key]; !exists {
		if len(c.order) >= c.max && c.max > 0 {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.items, oldest)
		}
		c.items[key] = vec
		c.order = append(c.order, key)
	}
	return vec, nil
}

// Stats returns cache hits and misses
func (c *CachedEmbedder) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Len returns the number of cached vectors
func (c *CachedEmbedder) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
