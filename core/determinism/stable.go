// Package determinism provides the primitives that keep verification runs
// byte-identical: content keys for caches, sorted iteration and rounding.
package determinism

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// TextKey returns the SHA-256 hex digest of the lowercased, trimmed text.
// Embedding caches are keyed by it.
func TextKey(text string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(text))))
	return hex.EncodeToString(sum[:])
}

// PairKey returns a stable key for an ordered pair of texts
func PairKey(a, b string) string {
	h := sha256.New()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(a))))
	h.Write([]byte{0})
	h.Write([]byte(strings.ToLower(strings.TrimSpace(b))))
	return hex.EncodeToString(h.Sum(nil))
}

// Round2 rounds an amount to two decimal places, half away from zero
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// SortedKeys returns the keys of a string-keyed map in order
func SortedKeys[K ~string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Round rounds a score to six decimal places so float noise never leaks
// into serialized results.
func Round(f float64) float64 {
	v, _ := decimal.NewFromFloat(f).Round(6).Float64()
	return v
}
