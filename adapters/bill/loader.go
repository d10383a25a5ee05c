// Package bill loads structured medical bills produced by extraction.
package bill

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"

	"medbill-verify/core/types"
	"medbill-verify/internal/errors"
)

// document is the wire form of a bill
type document struct {
	BillID     string     `json:"bill_id"`
	Hospital   string     `json:"hospital"`
	Categories []category `json:"categories"`
}

type category struct {
	Name  string `json:"name"`
	Items []item `json:"items"`
}

type item struct {
	ID        string           `json:"id"`
	Text      string           `json:"text"`
	Amount    *decimal.Decimal `json:"amount"`
	Quantity  *decimal.Decimal `json:"quantity"`
	UnitPrice *decimal.Decimal `json:"unit_price"`
}

// LoadFile reads a bill from a JSON file. When the bill carries no id, the
// file name without extension is used.
func LoadFile(path string) (*types.BillDocument, error) {
	f, err := os.Open(path)
	if stderrors.Is(err, fs.ErrNotExist) {
		return nil, errors.NotFound("bill", path)
	}
	if err != nil {
		return nil, errors.Input(fmt.Sprintf("failed to open bill %s", path), err)
	}
	defer f.Close()

	b, err := Decode(f)
	if err != nil {
		return nil, err
	}
	if b.BillID == "" {
		b.BillID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return b, nil
}

// Decode parses a bill from JSON. Quantity defaults to 1; a line without an
// amount is priced as unit_price x quantity.
func Decode(r io.Reader) (*types.BillDocument, error) {
	var doc document
	dec := json.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return nil, errors.Input("failed to parse bill JSON", err)
	}

	b := &types.BillDocument{
		BillID:     doc.BillID,
		Hospital:   strings.TrimSpace(doc.Hospital),
		Categories: make([]types.BillCategory, 0, len(doc.Categories)),
	}
	for ci, c := range doc.Categories {
		bc := types.BillCategory{
			Name:  strings.TrimSpace(c.Name),
			Items: make([]types.BillLineItem, 0, len(c.Items)),
		}
		for ii, it := range c.Items {
			li, err := convert(it)
			if err != nil {
				return nil, errors.Input(fmt.Sprintf("bill line c%d-i%d", ci, ii), err)
			}
			bc.Items = append(bc.Items, li)
		}
		b.Categories = append(b.Categories, bc)
	}
	return b, nil
}

func convert(it item) (types.BillLineItem, error) {
	li := types.BillLineItem{
		ID:       it.ID,
		Text:     it.Text,
		Quantity: decimal.NewFromInt(1),
	}
	if it.Quantity != nil && !it.Quantity.IsZero() {
		li.Quantity = *it.Quantity
	}
	switch {
	case it.Amount != nil:
		li.Amount = *it.Amount
	case it.UnitPrice != nil:
		li.Amount = it.UnitPrice.Mul(li.Quantity).Round(2)
	default:
		return li, fmt.Errorf("line %q has neither amount nor unit_price", it.Text)
	}
	return li, nil
}
