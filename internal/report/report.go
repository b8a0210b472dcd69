// Package report answers "how long does a budget last" questions over a
// written pricing database.
package report

import (
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"github.com/JakeFAU/vm-pricedb/internal/pricedb"
)

// DefaultBudget is the dollar amount used when a query does not set one.
const DefaultBudget = 100.0

// Query selects records. Empty SKUs or Region match everything.
type Query struct {
	SKUs   []string
	Region string
	Budget float64
}

// Row is one line of a report.
type Row struct {
	SKU    string  `json:"sku"`
	Region string  `json:"region"`
	VCPU   float64 `json:"vcpu"`
	RAM    float64 `json:"ram"`
	Price  float64 `json:"price"`
	Hours  int     `json:"hours"`
}

// Rows filters db by q. With SKUs set, rows follow the SKU order of the
// query; within a SKU they keep database order.
func Rows(db pricedb.Database, q Query) []Row {
	budget := q.Budget
	if budget <= 0 {
		budget = DefaultBudget
	}
	rank := make(map[string]int, len(q.SKUs))
	for i, sku := range q.SKUs {
		if _, dup := rank[sku]; !dup {
			rank[sku] = i
		}
	}

	var rows []Row
	for _, r := range db {
		if q.Region != "" && r.Region != q.Region {
			continue
		}
		if len(rank) > 0 {
			if _, ok := rank[r.SKU]; !ok {
				continue
			}
		}
		rows = append(rows, Row{
			SKU:    r.SKU,
			Region: r.Region,
			VCPU:   r.VCPU,
			RAM:    r.RAM,
			Price:  r.Price,
			Hours:  Hours(budget, r.Price),
		})
	}
	if len(rank) > 0 {
		slices.SortStableFunc(rows, func(a, b Row) int {
			return rank[a.SKU] - rank[b.SKU]
		})
	}
	return rows
}

// Hours is how many whole hours budget buys at price per hour; 0 for a free or invalid price.
func Hours(budget, price float64) int {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return 0
	}
	return int(budget / price)
}

// Render prints rows as a table.
func Render(w io.Writer, rows []Row, budget float64) {
	if budget <= 0 {
		budget = DefaultBudget
	}
	table := tablewriter.NewWriter(w)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeader([]string{"VM Name", "Region", "RAM", "Price/hr", fmt.Sprintf("Hours for $%s", formatMoney(budget))})
	for _, r := range rows {
		table.Append([]string{
			r.SKU,
			r.Region,
			strconv.FormatFloat(r.RAM, 'g', -1, 64),
			fmt.Sprintf("$%.3f", r.Price),
			fmt.Sprintf("%d hrs", r.Hours),
		})
	}
	table.Render()
}

func formatMoney(v float64) string {
	if v == math.Trunc(v) {
		return strconv.FormatFloat(v, 'f', 0, 64)
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}
