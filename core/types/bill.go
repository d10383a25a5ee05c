// Package types defines the core data model of the bill verification engine.
// Bills and catalogs are read-only inputs; results are produced once per run.
package types

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"medbill-verify/internal/errors"
)

// BillDocument is a structured medical bill as produced by extraction
type BillDocument struct {
	// BillID identifies the bill for tracing
	BillID string `json:"bill_id"`

	// Hospital is the hospital name declared on the bill
	Hospital string `json:"hospital"`

	// Categories are the bill sections in document order
	Categories []BillCategory `json:"categories"`
}

// BillCategory is one section of a bill
type BillCategory struct {
	// Name is the declared category name (e.g. "Pharmacy")
	Name string `json:"name"`

	// Items are the billed line items in document order
	Items []BillLineItem `json:"items"`
}

// BillLineItem is a single billed line
type BillLineItem struct {
	// ID is a stable identifier. Assigned from the position when empty.
	ID string `json:"id,omitempty"`

	// Text is the raw line text
	Text string `json:"text"`

	// Amount is the billed amount for the whole line
	Amount decimal.Decimal `json:"amount"`

	// Quantity is the billed quantity (defaults to 1)
	Quantity decimal.Decimal `json:"quantity"`
}

// Position locates a line item within its bill
type Position struct {
	Category int `json:"category"`
	Item     int `json:"item"`
}

// String returns the position as "c<category>-i<item>"
func (p Position) String() string {
	return fmt.Sprintf("c%d-i%d", p.Category, p.Item)
}

// EffectiveQuantity returns the quantity, treating zero as one
func (li BillLineItem) EffectiveQuantity() decimal.Decimal {
	if li.Quantity.IsPositive() {
		return li.Quantity
	}
	return decimal.NewFromInt(1)
}

// ItemCount returns the number of line items across all categories
func (b *BillDocument) ItemCount() int {
	n := 0
	for _, c := range b.Categories {
		n += len(c.Items)
	}
	return n
}

// TotalBilled sums every line amount
func (b *BillDocument) TotalBilled() decimal.Decimal {
	total := decimal.Zero
	for _, c := range b.Categories {
		for _, it := range c.Items {
			total = total.Add(it.Amount)
		}
	}
	return total
}

// Validate checks the bill is structurally usable
func (b *BillDocument) Validate() error {
	if b == nil {
		return errors.Validation("bill is nil")
	}
	if len(b.Categories) == 0 {
		return errors.Validation("bill has no categories")
	}
	for ci, c := range b.Categories {
		if strings.TrimSpace(c.Name) == "" {
			return errors.Validationf("bill category %d has no name", ci)
		}
		for ii, it := range c.Items {
			pos := Position{Category: ci, Item: ii}
			if it.Amount.IsNegative() {
				return errors.Validationf("line %s (%q) has a negative amount", pos, it.Text).
					WithContext("category", c.Name)
			}
			if it.Quantity.IsNegative() {
				return errors.Validationf("line %s (%q) has a negative quantity", pos, it.Text).
					WithContext("category", c.Name)
			}
		}
	}
	return nil
}
