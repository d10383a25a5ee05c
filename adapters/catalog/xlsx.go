package catalog

import (
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"medbill-verify/core/types"
	"medbill-verify/internal/errors"
)

// column header spellings accepted on tie-up sheets
var (
	itemHeaders = []string{"item", "item name", "name", "service", "particulars", "description"}
	rateHeaders = []string{"rate", "price", "amount", "tariff", "rate (inr)"}
	unitHeaders = []string{"unit", "pricing unit", "unit type"}
)

// sheetLayout records which columns hold item, rate and unit
type sheetLayout struct {
	header int
	item   int
	rate   int
	unit   int
}

func (l *Loader) loadXLSX(path string) (*types.RateCatalog, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, errors.Input(fmt.Sprintf("failed to open workbook %s", path), err)
	}
	defer f.Close()
	c, err := l.readWorkbook(f)
	if err != nil {
		return nil, errors.Input(fmt.Sprintf("workbook %s", path), err)
	}
	return c, nil
}

// DecodeXLSX reads a tie-up workbook from r. Each sheet is a category.
// The result has no hospital name and is not sealed.
func (l *Loader) DecodeXLSX(r io.Reader) (*types.RateCatalog, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, errors.Input("failed to read workbook", err)
	}
	defer f.Close()
	return l.readWorkbook(f)
}

func (l *Loader) readWorkbook(f *excelize.File) (*types.RateCatalog, error) {
	c := &types.RateCatalog{}
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("sheet %q: %w", sheet, err)
		}
		layout, ok := findLayout(rows)
		if !ok {
			l.logger.Warn("sheet has no Item/Rate header, skipped", zap.String("sheet", sheet))
			continue
		}
		cat, err := readSheet(sheet, rows, layout)
		if err != nil {
			return nil, err
		}
		c.Categories = append(c.Categories, cat)
	}
	return c, nil
}

// findLayout locates the header row: the first row naming both an item
// and a rate column
func findLayout(rows [][]string) (sheetLayout, bool) {
	for r, row := range rows {
		layout := sheetLayout{header: r, item: -1, rate: -1, unit: -1}
		for i, cell := range row {
			h := strings.ToLower(strings.TrimSpace(cell))
			switch {
			case layout.item < 0 && contains(itemHeaders, h):
				layout.item = i
			case layout.rate < 0 && contains(rateHeaders, h):
				layout.rate = i
			case layout.unit < 0 && contains(unitHeaders, h):
				layout.unit = i
			}
		}
		if layout.item >= 0 && layout.rate >= 0 {
			return layout, true
		}
	}
	return sheetLayout{}, false
}

func readSheet(sheet string, rows [][]string, layout sheetLayout) (types.CatalogCategory, error) {
	cat := types.CatalogCategory{Name: strings.TrimSpace(sheet)}
	for r := layout.header + 1; r < len(rows); r++ {
		row := rows[r]
		name := cell(row, layout.item)
		if name == "" {
			continue
		}
		rate, err := parseRate(cell(row, layout.rate))
		if err != nil {
			return cat, fmt.Errorf("sheet %q row %d: %w", sheet, r+1, err)
		}
		cat.Items = append(cat.Items, types.CatalogItem{
			Name: name,
			Rate: rate,
			Unit: types.ParsePricingUnit(cell(row, layout.unit)),
		})
	}
	return cat, nil
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

var rateNoise = strings.NewReplacer(",", "", "₹", "", "Rs.", "", "Rs", "", "INR", "", "/-", "", " ", "")

// parseRate reads a rate cell. Blank, "-" and "NA" mean no decomposable rate.
func parseRate(s string) (decimal.Decimal, error) {
	s = rateNoise.Replace(strings.TrimSpace(s))
	switch strings.ToLower(s) {
	case "", "-", "na", "n/a", "nil":
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid rate %q", s)
	}
	return d, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
