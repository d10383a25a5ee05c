package determinism

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestTextKeyIgnoresCaseAndSpace(t *testing.T) {
	assert.Equal(t, TextKey("Paracetamol 500MG"), TextKey("  paracetamol 500mg "))
	assert.NotEqual(t, TextKey("paracetamol 500mg"), TextKey("paracetamol 650mg"))
	assert.Len(t, TextKey("x"), 64)
}

func TestPairKeyIsOrdered(t *testing.T) {
	assert.NotEqual(t, PairKey("a", "b"), PairKey("b", "a"))
	assert.NotEqual(t, PairKey("ab", "c"), PairKey("a", "bc"))
	assert.Equal(t, PairKey("MRI Brain", "mri brain"), PairKey("mri brain", "MRI BRAIN"))
}

func TestSortedKeys(t *testing.T) {
	keys := SortedKeys(map[string]int{"pharmacy": 1, "consultation": 2, "radiology": 3})
	assert.Equal(t, []string{"consultation", "pharmacy", "radiology"}, keys)
}

func TestRound(t *testing.T) {
	assert.Equal(t, 0.333333, Round(1.0/3.0))
	assert.Equal(t, 0.85, Round(0.8500000000001))
}

func TestRound2(t *testing.T) {
	assert.Equal(t, "78.81", Round2(decimal.RequireFromString("78.805")).StringFixed(2))
	assert.Equal(t, "-0.13", Round2(decimal.RequireFromString("-0.125")).StringFixed(2))
}
