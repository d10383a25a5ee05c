// Package catalog loads hospital rate catalogs (tie-up rate sheets) from
// JSON documents and XLSX workbooks.
package catalog

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"medbill-verify/core/types"
	"medbill-verify/internal/errors"
	"medbill-verify/internal/logging"
)

// Options tune catalog loading
type Options struct {
	// Hospital overrides the hospital name of every loaded catalog.
	// Only meaningful when loading a single file.
	Hospital string

	Logger *zap.Logger
}

// Loader reads rate catalogs
type Loader struct {
	opts   Options
	logger *zap.Logger
}

// NewLoader creates a loader
func NewLoader(opts Options) *Loader {
	return &Loader{opts: opts, logger: logging.OrGlobal(opts.Logger)}
}

// Load reads a catalog file or every catalog file of a directory.
// Catalogs are returned sealed, in file name order.
func (l *Loader) Load(path string) ([]*types.RateCatalog, error) {
	info, err := os.Stat(path)
	if stderrors.Is(err, fs.ErrNotExist) {
		return nil, errors.NotFound("catalog path", path)
	}
	if err != nil {
		return nil, errors.Input(fmt.Sprintf("catalog path %s", path), err)
	}
	if !info.IsDir() {
		c, err := l.LoadFile(path)
		if err != nil {
			return nil, err
		}
		return []*types.RateCatalog{c}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, errors.Input(fmt.Sprintf("failed to list catalog directory %s", path), err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !supported(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	if len(names) == 0 {
		return nil, errors.Input(fmt.Sprintf("no .json or .xlsx catalogs in %s", path), nil)
	}

	out := make([]*types.RateCatalog, 0, len(names))
	for _, name := range names {
		c, err := l.LoadFile(filepath.Join(path, name))
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	l.logger.Info("rate catalogs loaded", zap.String("dir", path), zap.Int("catalogs", len(out)))
	return out, nil
}

func supported(name string) bool {
	if strings.HasPrefix(name, "~$") {
		return false
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".xlsx":
		return true
	}
	return false
}

// LoadFile reads one catalog by extension
func (l *Loader) LoadFile(path string) (*types.RateCatalog, error) {
	var (
		c   *types.RateCatalog
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		c, err = l.loadJSON(path)
	case ".xlsx":
		c, err = l.loadXLSX(path)
	default:
		return nil, errors.Input(fmt.Sprintf("unsupported catalog format %q", filepath.Ext(path)), nil)
	}
	if err != nil {
		return nil, err
	}

	if l.opts.Hospital != "" {
		c.Hospital = l.opts.Hospital
	}
	if strings.TrimSpace(c.Hospital) == "" {
		c.Hospital = HospitalFromFileName(path)
	}
	c.Seal()
	l.logger.Debug("rate catalog loaded",
		zap.String("path", path),
		zap.String("hospital", c.Hospital),
		zap.Int("categories", len(c.Categories)),
		zap.Int("items", c.ItemCount()))
	return c, nil
}

// HospitalFromFileName derives a hospital name from a catalog file name,
// e.g. "city_care-hospital.xlsx" becomes "city care hospital"
func HospitalFromFileName(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return strings.Join(strings.FieldsFunc(base, func(r rune) bool {
		return r == '_' || r == '-' || r == '.' || r == ' '
	}), " ")
}

func (l *Loader) loadJSON(path string) (*types.RateCatalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Input(fmt.Sprintf("failed to open catalog %s", path), err)
	}
	defer f.Close()
	c, err := DecodeJSON(f)
	if err != nil {
		return nil, errors.Input(fmt.Sprintf("catalog %s", path), err)
	}
	return c, nil
}

type jsonCatalog struct {
	Hospital   string         `json:"hospital"`
	Categories []jsonCategory `json:"categories"`
}

type jsonCategory struct {
	Name  string     `json:"name"`
	Items []jsonItem `json:"items"`
}

type jsonItem struct {
	Name string           `json:"name"`
	Rate *decimal.Decimal `json:"rate"`
	Unit string           `json:"unit"`
}

// DecodeJSON parses a JSON catalog. A missing rate means the item has no
// decomposable rate. The result is not sealed.
func DecodeJSON(r io.Reader) (*types.RateCatalog, error) {
	var doc jsonCatalog
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("invalid catalog JSON: %w", err)
	}
	c := &types.RateCatalog{Hospital: strings.TrimSpace(doc.Hospital)}
	for _, cat := range doc.Categories {
		cc := types.CatalogCategory{Name: strings.TrimSpace(cat.Name)}
		for _, it := range cat.Items {
			ci := types.CatalogItem{
				Name: strings.TrimSpace(it.Name),
				Unit: types.ParsePricingUnit(it.Unit),
			}
			if it.Rate != nil {
				ci.Rate = *it.Rate
			}
			cc.Items = append(cc.Items, ci)
		}
		c.Categories = append(c.Categories, cc)
	}
	return c, nil
}
