package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"medbill-verify/core/types"
	"medbill-verify/internal/errors"
)

const jsonCatalogDoc = `{
  "hospital": "City Care Hospital",
  "categories": [
    {"name": "medicines", "items": [
      {"name": "Nicorandil 5mg", "rate": "49.25"},
      {"name": "Insulin Pen", "unit": "per_unit"}
    ]},
    {"name": "consultation", "items": [
      {"name": "General Consultation", "rate": 500, "unit": "flat"}
    ]}
  ]
}`

func newLoader(opts Options) *Loader {
	opts.Logger = zap.NewNop()
	return NewLoader(opts)
}

func writeWorkbook(t *testing.T, path string, sheets map[string][][]interface{}) {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	first := true
	for name, rows := range sheets {
		if first {
			require.NoError(t, f.SetSheetName("Sheet1", name))
			first = false
		} else {
			_, err := f.NewSheet(name)
			require.NoError(t, err)
		}
		for r, row := range rows {
			for c, v := range row {
				ref, err := excelize.CoordinatesToCellName(c+1, r+1)
				require.NoError(t, err)
				require.NoError(t, f.SetCellValue(name, ref, v))
			}
		}
	}
	require.NoError(t, f.SaveAs(path))
}

func TestDecodeJSON(t *testing.T) {
	c, err := DecodeJSON(strings.NewReader(jsonCatalogDoc))
	require.NoError(t, err)
	require.Len(t, c.Categories, 2)

	meds := c.Categories[0].Items
	assert.Equal(t, "49.25", meds[0].Rate.StringFixed(2))
	assert.Equal(t, types.UnitPerUnit, meds[0].Unit)
	assert.False(t, meds[1].HasRate())
	assert.Equal(t, types.UnitFlatService, c.Categories[1].Items[0].Unit)
}

func TestLoadFileSealsCatalog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "city.json")
	require.NoError(t, os.WriteFile(path, []byte(jsonCatalogDoc), 0o644))

	c, err := newLoader(Options{}).LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "City Care Hospital", c.Hospital)
	item := c.Categories[0].Items[0]
	assert.Equal(t, "medicines", item.Category)
	assert.Equal(t, "City Care Hospital", item.Hospital)
	assert.NoError(t, c.Validate())
}

func TestLoadXLSX(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sunrise_multispeciality-hospital.xlsx")
	writeWorkbook(t, path, map[string][][]interface{}{
		"Radiology": {
			{"Tie-up rates FY25"},
			{"S.No", "Item Name", "Rate", "Unit"},
			{1, "X-Ray Chest PA", "₹ 1,250", "flat"},
			{2, "", "", ""},
			{3, "MRI Brain", 6500.5, ""},
			{4, "CT Abdomen", "NA", ""},
		},
	})

	c, err := newLoader(Options{}).LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "sunrise multispeciality hospital", c.Hospital)
	require.Len(t, c.Categories, 1)

	cat := c.Categories[0]
	assert.Equal(t, "Radiology", cat.Name)
	require.Len(t, cat.Items, 3)
	assert.Equal(t, "1250.00", cat.Items[0].Rate.StringFixed(2))
	assert.Equal(t, types.UnitFlatService, cat.Items[0].Unit)
	assert.Equal(t, "6500.50", cat.Items[1].Rate.StringFixed(2))
	assert.False(t, cat.Items[2].HasRate())
	assert.Equal(t, "Radiology", cat.Items[2].Category)
}

func TestLoadXLSXHospitalOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rates.xlsx")
	writeWorkbook(t, path, map[string][][]interface{}{
		"Medicines": {{"Item", "Rate"}, {"Nicorandil 5mg", 49.25}},
	})

	c, err := newLoader(Options{Hospital: "City Care Hospital"}).LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "City Care Hospital", c.Hospital)
}

func TestLoadXLSXInvalidRate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.xlsx")
	writeWorkbook(t, path, map[string][][]interface{}{
		"Medicines": {{"Item", "Rate"}, {"Nicorandil 5mg", "forty"}},
	})

	_, err := newLoader(Options{}).LoadFile(path)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.TypeInput))
	assert.Contains(t, err.Error(), "row 2")
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b_city.json"), []byte(jsonCatalogDoc), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore me"), 0o644))
	writeWorkbook(t, filepath.Join(dir, "a_sunrise.xlsx"), map[string][][]interface{}{
		"Medicines": {{"Item", "Rate"}, {"Paracetamol 500mg", 15}},
	})

	cats, err := newLoader(Options{}).Load(dir)
	require.NoError(t, err)
	require.Len(t, cats, 2)
	assert.Equal(t, "a sunrise", cats[0].Hospital)
	assert.Equal(t, "City Care Hospital", cats[1].Hospital)
}

func TestLoadErrors(t *testing.T) {
	l := newLoader(Options{})

	_, err := l.Load(filepath.Join(t.TempDir(), "missing"))
	assert.True(t, errors.IsType(err, errors.TypeNotFound))

	_, err = l.Load(t.TempDir())
	assert.True(t, errors.IsType(err, errors.TypeInput))

	dir := t.TempDir()
	path := filepath.Join(dir, "broken.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"hospital": `), 0o644))
	_, err = l.LoadFile(path)
	assert.True(t, errors.IsType(err, errors.TypeInput))

	_, err = l.LoadFile(filepath.Join(dir, "rates.csv"))
	assert.True(t, errors.IsType(err, errors.TypeInput))
}

func TestHospitalFromFileName(t *testing.T) {
	assert.Equal(t, "city care hospital", HospitalFromFileName("/x/city_care-hospital.xlsx"))
	assert.Equal(t, "Apollo", HospitalFromFileName("Apollo.json"))
}
