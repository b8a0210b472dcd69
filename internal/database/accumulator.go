// Package database assembles region outcomes into one pricing database and
// serializes it once at the end of a run.
package database

import (
	"github.com/JakeFAU/vm-pricedb/internal/pricedb"
)

// Accumulator concatenates region records in completion order. It is not
// safe for concurrent use; the dispatcher's collector goroutine owns it.
type Accumulator struct {
	records   pricedb.Database
	outcomes  []pricedb.RegionOutcome
	byStatus  map[pricedb.RegionStatus]int
	processed int
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{byStatus: make(map[pricedb.RegionStatus]int)}
}

// Add appends the outcome's records and returns the processed count so far.
func (a *Accumulator) Add(outcome pricedb.RegionOutcome) int {
	a.records = append(a.records, outcome.Records...)
	a.outcomes = append(a.outcomes, outcome)
	a.byStatus[outcome.Status]++
	a.processed++
	return a.processed
}

// Processed is the number of outcomes added.
func (a *Accumulator) Processed() int {
	return a.processed
}

// Database returns a copy of the accumulated records.
func (a *Accumulator) Database() pricedb.Database {
	out := make(pricedb.Database, len(a.records))
	copy(out, a.records)
	return out
}

// Outcomes returns the outcomes in completion order.
func (a *Accumulator) Outcomes() []pricedb.RegionOutcome {
	out := make([]pricedb.RegionOutcome, len(a.outcomes))
	copy(out, a.outcomes)
	return out
}

// ByStatus returns the count of regions per status.
func (a *Accumulator) ByStatus() map[pricedb.RegionStatus]int {
	out := make(map[pricedb.RegionStatus]int, len(a.byStatus))
	for k, v := range a.byStatus {
		out[k] = v
	}
	return out
}
