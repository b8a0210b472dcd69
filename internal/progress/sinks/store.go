package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/vm-pricedb/internal/pricedb"
	"github.com/JakeFAU/vm-pricedb/internal/progress"
	"github.com/JakeFAU/vm-pricedb/internal/store"
)

// StoreSink persists run lifecycle and region outcomes via a
// store.OutcomeRepository. Region rows of one batch are written together.
type StoreSink struct {
	repo   store.OutcomeRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.OutcomeRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume forwards the batch in order: run starts, then buffered region rows,
// then completions, so a run is never completed before its regions land.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	var rows []store.RegionRow
	flushRows := func() error {
		if len(rows) == 0 {
			return nil
		}
		if err := s.repo.RecordRegions(ctx, rows); err != nil {
			return fmt.Errorf("record regions: %w", err)
		}
		rows = rows[:0]
		return nil
	}

	for _, evt := range batch {
		runID := evt.RunUUID()
		switch evt.Stage {
		case progress.StageRunStart:
			if err := s.repo.StartRun(ctx, runID, evt.TS, evt.Total); err != nil {
				return fmt.Errorf("start run: %w", err)
			}
		case progress.StageRegionDone, progress.StageRegionError:
			rows = append(rows, store.RegionRow{
				RunID:    runID,
				Region:   evt.Region,
				Status:   pricedb.RegionStatus(evt.Status),
				Records:  evt.Records,
				Duration: evt.Dur,
				Reason:   evt.Note,
				At:       evt.TS,
			})
		case progress.StageRunDone, progress.StageRunError:
			if err := flushRows(); err != nil {
				return err
			}
			status := pricedb.RunSucceeded
			var note *string
			if evt.Stage == progress.StageRunError {
				status = pricedb.RunFailed
				if evt.Note != "" {
					note = &evt.Note
				}
			}
			if err := s.repo.CompleteRun(ctx, runID, evt.TS, status, evt.Records, note); err != nil {
				return fmt.Errorf("complete run: %w", err)
			}
		}
	}
	return flushRows()
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
