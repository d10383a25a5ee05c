package errors

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTypeWalksWrapChain(t *testing.T) {
	base := ExternalService("oracle", context.DeadlineExceeded)
	wrapped := fmt.Errorf("verify item 3: %w", base)

	assert.True(t, IsType(wrapped, TypeExternalService))
	assert.False(t, IsType(wrapped, TypeValidation))
	assert.ErrorIs(t, wrapped, context.DeadlineExceeded)
}

func TestIsTypeNestedDomainErrors(t *testing.T) {
	inner := Validation("bill has no categories")
	outer := Input("load bill.json", inner)

	assert.True(t, IsType(outer, TypeInput))
	assert.True(t, IsType(outer, TypeValidation))
	assert.False(t, IsType(nil, TypeInput))
}

func TestErrorMessageAndContext(t *testing.T) {
	err := Validationf("category %q has no items", "pharmacy").WithContext("index", 2)

	assert.Equal(t, `[VALIDATION_ERROR] category "pharmacy" has no items`, err.Error())
	assert.Equal(t, 2, err.Context["index"])
	assert.True(t, err.Is(TypeValidation))
}
