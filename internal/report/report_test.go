package report

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/vm-pricedb/internal/pricedb"
)

var sampleDB = pricedb.Database{
	{Region: "centralindia", SKU: "Standard_E8as_v5", VCPU: 8, RAM: 64, Price: 0.5},
	{Region: "eastus", SKU: "Standard_E4as_v5", VCPU: 4, RAM: 32, Price: 0.226},
	{Region: "centralindia", SKU: "Standard_E4as_v5", VCPU: 4, RAM: 32, Price: 0.25},
	{Region: "centralindia", SKU: "Standard_E4as_v5", VCPU: 4, RAM: 32, Price: 0},
	{Region: "centralindia", SKU: "Standard_D2s_v5", VCPU: 2, RAM: 8, Price: 0.1},
}

func TestRowsFiltersAndOrdersBySKU(t *testing.T) {
	t.Parallel()

	rows := Rows(sampleDB, Query{
		SKUs:   []string{"Standard_E4as_v5", "Standard_E8as_v5", "Standard_E16as_v5"},
		Region: "centralindia",
	})
	require.Len(t, rows, 3)
	require.Equal(t, "Standard_E4as_v5", rows[0].SKU)
	require.Equal(t, 400, rows[0].Hours)
	require.Equal(t, 0, rows[1].Hours, "free price reports zero hours")
	require.Equal(t, "Standard_E8as_v5", rows[2].SKU)
	require.Equal(t, 200, rows[2].Hours)
}

func TestRowsEmptyQueryMatchesAll(t *testing.T) {
	t.Parallel()

	rows := Rows(sampleDB, Query{Budget: 10})
	require.Len(t, rows, len(sampleDB))
	require.Equal(t, 100, rows[4].Hours)
}

func TestHours(t *testing.T) {
	t.Parallel()

	require.Equal(t, 442, Hours(100, 0.226))
	require.Equal(t, 0, Hours(100, 0))
	require.Equal(t, 0, Hours(100, -1))
	require.Equal(t, 0, Hours(100, math.NaN()))
}

func TestRender(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	Render(&buf, Rows(sampleDB, Query{SKUs: []string{"Standard_D2s_v5"}}), 0)
	out := buf.String()
	require.Contains(t, out, "Hours for $100")
	require.Contains(t, out, "Standard_D2s_v5")
	require.Contains(t, out, "$0.100")
	require.Contains(t, out, "1000 hrs")
}
