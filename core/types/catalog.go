package types

import (
	"strings"

	"github.com/shopspring/decimal"

	"medbill-verify/internal/errors"
)

// PricingUnit describes how a catalog rate applies to a billed quantity
type PricingUnit string

const (
	// UnitPerUnit rates are multiplied by the billed quantity
	UnitPerUnit PricingUnit = "per-unit"

	// UnitFlatService rates are charged once regardless of quantity
	UnitFlatService PricingUnit = "flat-service"

	// UnitBundle rates cover a package of services
	UnitBundle PricingUnit = "bundle"
)

// ParsePricingUnit maps loose spellings onto a PricingUnit. Unknown values
// fall back to per-unit.
func ParsePricingUnit(s string) PricingUnit {
	switch strings.ToLower(strings.TrimSpace(strings.ReplaceAll(s, "_", "-"))) {
	case "flat-service", "flat", "service", "per-service", "per-visit":
		return UnitFlatService
	case "bundle", "package", "pkg":
		return UnitBundle
	default:
		return UnitPerUnit
	}
}

// RateCatalog is a hospital's authorized price list (tie-up sheet)
type RateCatalog struct {
	// Hospital is the hospital the rates belong to
	Hospital string `json:"hospital"`

	// Categories are the catalog sections
	Categories []CatalogCategory `json:"categories"`
}

// CatalogCategory is one section of a rate catalog
type CatalogCategory struct {
	Name  string        `json:"name"`
	Items []CatalogItem `json:"items"`
}

// CatalogItem is one authorized rate
type CatalogItem struct {
	// Name is the canonical item name
	Name string `json:"name"`

	// Rate is the authorized rate. Zero means no decomposable rate.
	Rate decimal.Decimal `json:"rate"`

	// Unit is the pricing-unit type
	Unit PricingUnit `json:"unit"`

	// Category is the owning catalog category
	Category string `json:"category"`

	// Hospital is the owning hospital
	Hospital string `json:"hospital"`
}

// Ref returns the stable reference of the item within all catalogs
func (c CatalogItem) Ref() string {
	return strings.ToLower(c.Hospital + "/" + c.Category + "/" + c.Name)
}

// HasRate reports whether the item carries a usable rate
func (c CatalogItem) HasRate() bool {
	return c.Rate.IsPositive()
}

// IsBundle reports whether the item is priced as a package
func (c CatalogItem) IsBundle() bool {
	return c.Unit == UnitBundle
}

// Category returns the catalog category with the given name, case-insensitively
func (c *RateCatalog) Category(name string) (*CatalogCategory, bool) {
	for i := range c.Categories {
		if strings.EqualFold(c.Categories[i].Name, name) {
			return &c.Categories[i], true
		}
	}
	return nil, false
}

// ItemCount returns the number of catalog items
func (c *RateCatalog) ItemCount() int {
	n := 0
	for _, cat := range c.Categories {
		n += len(cat.Items)
	}
	return n
}

// Seal stamps owning category and hospital onto every item and defaults
// missing pricing units. Loaders call it once after building a catalog.
func (c *RateCatalog) Seal() {
	for ci := range c.Categories {
		cat := &c.Categories[ci]
		for ii := range cat.Items {
			it := &cat.Items[ii]
			it.Category = cat.Name
			it.Hospital = c.Hospital
			if it.Unit == "" {
				it.Unit = UnitPerUnit
			}
		}
	}
}

// Validate checks the catalog is structurally usable
func (c *RateCatalog) Validate() error {
	if c == nil {
		return errors.Validation("catalog is nil")
	}
	if strings.TrimSpace(c.Hospital) == "" {
		return errors.Validation("catalog has no hospital name")
	}
	if c.ItemCount() == 0 {
		return errors.Validationf("catalog for %q has no items", c.Hospital)
	}
	for _, cat := range c.Categories {
		for _, it := range cat.Items {
			if strings.TrimSpace(it.Name) == "" {
				return errors.Validationf("catalog %q category %q has an unnamed item", c.Hospital, cat.Name)
			}
			if it.Rate.IsNegative() {
				return errors.Validationf("catalog item %q has a negative rate", it.Name).
					WithContext("hospital", c.Hospital)
			}
			switch it.Unit {
			case UnitPerUnit, UnitFlatService, UnitBundle, "":
			default:
				return errors.Validationf("catalog item %q has unknown pricing unit %q", it.Name, it.Unit)
			}
		}
	}
	return nil
}
