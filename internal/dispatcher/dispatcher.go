// Package dispatcher fans region tasks out to a bounded worker pool and
// collects their outcomes into one database.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/vm-pricedb/internal/database"
	"github.com/JakeFAU/vm-pricedb/internal/metrics"
	"github.com/JakeFAU/vm-pricedb/internal/pricedb"
	"github.com/JakeFAU/vm-pricedb/internal/progress"
	"github.com/JakeFAU/vm-pricedb/internal/queue/memory"
	"github.com/JakeFAU/vm-pricedb/internal/worker"
)

const (
	defaultConcurrency   = 20
	defaultProgressEvery = 5
)

// Config tunes the worker pool.
type Config struct {
	Concurrency   int
	ProgressEvery int
}

// Result is everything a run produced, in completion order.
type Result struct {
	Database pricedb.Database
	Outcomes []pricedb.RegionOutcome
	ByStatus map[pricedb.RegionStatus]int
	Elapsed  time.Duration
}

// Unauthorized lists the regions that failed with a 401/403 answer.
func (r Result) Unauthorized() []string {
	var regions []string
	for _, out := range r.Outcomes {
		if out.Unauthorized {
			regions = append(regions, out.Region)
		}
	}
	return regions
}

// Dispatcher runs one RegionProcessor call per region on a fixed pool.
type Dispatcher struct {
	cfg       Config
	processor pricedb.RegionProcessor
	emitter   progress.Emitter
	logger    *zap.Logger
}

// New creates a Dispatcher. A nil emitter discards progress events.
func New(cfg Config, processor pricedb.RegionProcessor, emitter progress.Emitter, logger *zap.Logger) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = defaultProgressEvery
	}
	if emitter == nil {
		emitter = progress.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		cfg:       cfg,
		processor: processor,
		emitter:   emitter,
		logger:    logger.Named("dispatcher"),
	}
}

// Run processes every region and blocks until each has an outcome. Regions
// left unprocessed because ctx ended are reported as failed.
func (d *Dispatcher) Run(ctx context.Context, runID string, regions []string) Result {
	start := time.Now()
	total := len(regions)
	acc := database.NewAccumulator()
	if total == 0 {
		return Result{Database: acc.Database(), ByStatus: acc.ByStatus()}
	}

	queue := memory.NewQueue(total)
	for i, region := range regions {
		if err := queue.Enqueue(ctx, pricedb.RegionTask{Region: region, Index: i}); err != nil {
			d.logger.Warn("stopped enqueueing regions", zap.Int("enqueued", i), zap.Error(err))
			break
		}
	}
	queue.Close()

	workers := min(d.cfg.Concurrency, total)
	results := make(chan pricedb.RegionOutcome, workers)
	var wg sync.WaitGroup
	for i := range workers {
		w := worker.New(i+1, queue, d.processor, d.logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx, results)
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	pending := make(map[string]int, total)
	for _, region := range regions {
		pending[region]++
	}

	runKey := progress.RunIDBytes(runID)
	for out := range results {
		pending[out.Region]--
		d.collect(acc, runKey, total, out)
	}

	for _, region := range regions {
		if pending[region] <= 0 {
			continue
		}
		pending[region]--
		d.collect(acc, runKey, total, pricedb.RegionOutcome{
			Region: region,
			Status: pricedb.RegionFailed,
			Reason: "canceled",
		})
	}

	result := Result{
		Database: acc.Database(),
		Outcomes: acc.Outcomes(),
		ByStatus: acc.ByStatus(),
		Elapsed:  time.Since(start),
	}
	if denied := result.Unauthorized(); len(denied) > 0 {
		d.logger.Warn("regions failed authorization; the token may have expired mid-run",
			zap.Int("regions", len(denied)),
			zap.Strings("region_names", denied),
		)
	}
	return result
}

func (d *Dispatcher) collect(acc *database.Accumulator, runKey [16]byte, total int, out pricedb.RegionOutcome) {
	done := acc.Add(out)
	records := out.RecordCount()
	metrics.ObserveRegion(string(out.Status), records, out.Duration)

	if done%d.cfg.ProgressEvery == 0 || done == total {
		d.logger.Info(fmt.Sprintf("[%d/%d] Processed %s (%d VMs found)", done, total, out.Region, records),
			zap.String("status", string(out.Status)),
		)
	}
	if out.Status == pricedb.RegionFailed {
		d.logger.Warn("region failed", zap.String("region", out.Region), zap.String("reason", out.Reason))
	}

	stage := progress.StageRegionDone
	if out.Status == pricedb.RegionFailed {
		stage = progress.StageRegionError
	}
	d.emitter.Emit(progress.Event{
		RunID:   runKey,
		TS:      time.Now().UTC(),
		Stage:   stage,
		Region:  out.Region,
		Status:  string(out.Status),
		Records: int64(records),
		Done:    done,
		Total:   total,
		Dur:     out.Duration,
		Note:    out.Reason,
	})
}
