package output

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"medbill-verify/core/engine"
	"medbill-verify/core/types"
)

func run(t *testing.T) *engine.Response {
	t.Helper()
	e, err := engine.New(engine.DefaultConfig(), engine.WithLogger(zap.NewNop()))
	require.NoError(t, err)

	catalog := &types.RateCatalog{
		Hospital: "City Care Hospital",
		Categories: []types.CatalogCategory{
			{Name: "medicines", Items: []types.CatalogItem{
				{Name: "Paracetamol 500mg", Rate: decimal.NewFromInt(15)},
			}},
		},
	}
	bill := &types.BillDocument{
		Hospital: "City Care Hospital",
		Categories: []types.BillCategory{
			{Name: "Medicines", Items: []types.BillLineItem{
				{Text: "PARACETAMOL 500MG", Amount: decimal.NewFromInt(25)},
				{Text: "Page 1 of 2", Amount: decimal.Zero},
			}},
		},
	}
	resp, err := e.Verify(context.Background(), bill, []*types.RateCatalog{catalog})
	require.NoError(t, err)
	return resp
}

func TestJSONFormatterViews(t *testing.T) {
	resp := run(t)
	f := JSONFormatter{}

	var buf bytes.Buffer
	require.NoError(t, f.Render(&buf, resp, ViewFinal))
	var final map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &final))
	assert.Equal(t, "25", final["grand_total_bill"])
	assert.Contains(t, final, "status_counts")

	buf.Reset()
	require.NoError(t, f.Render(&buf, resp, ViewBoth))
	var both map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &both))
	assert.Contains(t, both, "debug")
	assert.Contains(t, both, "final")
	assert.Equal(t, true, both["consistent"])
}

func TestTableFormatterFinal(t *testing.T) {
	resp := run(t)

	var buf bytes.Buffer
	require.NoError(t, TableFormatter{}.Render(&buf, resp, ViewFinal))
	out := buf.String()
	assert.Contains(t, out, "Paracetamol 500mg")
	assert.Contains(t, out, "RED")
	assert.Contains(t, out, "10.00")
	assert.Contains(t, out, "IGNORED_ARTIFACT")
	assert.Contains(t, out, "TOTAL")
	assert.NotContains(t, out, "sem ")
}

func TestTableFormatterDebug(t *testing.T) {
	resp := run(t)

	var buf bytes.Buffer
	require.NoError(t, TableFormatter{}.Render(&buf, resp, ViewDebug))
	out := buf.String()
	assert.Contains(t, out, `"PARACETAMOL 500MG" -> "paracetamol 500mg"`)
	assert.Contains(t, out, "ADMIN_CHARGE")
	assert.Contains(t, out, "sem 1.000")
	assert.NotContains(t, out, "TOTAL")
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, []Format{FormatJSON, FormatTable}, r.Formats())

	f, ok := r.Get(FormatTable)
	require.True(t, ok)
	assert.Equal(t, FormatTable, f.Format())

	assert.Error(t, r.Register(JSONFormatter{}))
	_, ok = r.Get("html")
	assert.False(t, ok)
}

func TestParseView(t *testing.T) {
	v, err := ParseView("both")
	require.NoError(t, err)
	assert.Equal(t, ViewBoth, v)

	_, err = ParseView("summary")
	assert.Error(t, err)
}
