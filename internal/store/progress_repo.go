// Package store declares interfaces for persisting build progress.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/vm-pricedb/internal/pricedb"
)

// RegionRow models one region_outcomes row.
type RegionRow struct {
	RunID    uuid.UUID
	Region   string
	Status   pricedb.RegionStatus
	Records  int64
	Duration time.Duration
	Reason   string
	At       time.Time
}

// OutcomeRepository persists run lifecycle and per-region outcomes as they happen.
type OutcomeRepository interface {
	// StartRun inserts (or idempotently refreshes) a running price_runs row.
	StartRun(ctx context.Context, runID uuid.UUID, startedAt time.Time, regions int) error
	// RecordRegions appends region outcomes for a run.
	RecordRegions(ctx context.Context, rows []RegionRow) error
	// CompleteRun marks the run finished with its final status and record count.
	CompleteRun(
		ctx context.Context,
		runID uuid.UUID,
		finishedAt time.Time,
		status pricedb.RunStatus,
		records int64,
		errMsg *string,
	) error
}
