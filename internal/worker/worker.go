// Package worker implements the region task execution loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/vm-pricedb/internal/metrics"
	"github.com/JakeFAU/vm-pricedb/internal/pricedb"
)

const dequeueRetryDelay = 100 * time.Millisecond

// Worker consumes region tasks and reports exactly one outcome per task.
type Worker struct {
	id         int
	queue      pricedb.Queue
	processor  pricedb.RegionProcessor
	logger     *zap.Logger
	retryDelay time.Duration
}

// New constructs a Worker.
func New(id int, queue pricedb.Queue, processor pricedb.RegionProcessor, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:         id,
		queue:      queue,
		processor:  processor,
		logger:     logger.With(zap.Int("worker", id)),
		retryDelay: dequeueRetryDelay,
	}
}

// Run blocks, consuming tasks until the queue is drained or the context ends.
func (w *Worker) Run(ctx context.Context, results chan<- pricedb.RegionOutcome) {
	for {
		task, err := w.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, pricedb.ErrQueueClosed) || ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			if !w.backoff(ctx) {
				return
			}
			continue
		}
		w.logger.Debug("dequeued region", zap.String("region", task.Region), zap.Int("index", task.Index))
		results <- w.process(ctx, task)
	}
}

// backoff waits before the next dequeue attempt and reports false once ctx ends.
func (w *Worker) backoff(ctx context.Context) bool {
	timer := time.NewTimer(w.retryDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (w *Worker) process(ctx context.Context, task pricedb.RegionTask) (out pricedb.RegionOutcome) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("region task escaped its guard",
				zap.String("region", task.Region),
				zap.Any("panic", r),
			)
			out = pricedb.RegionOutcome{
				Region:   task.Region,
				Status:   pricedb.RegionFailed,
				Reason:   fmt.Sprintf("panic: %v", r),
				Duration: time.Since(start),
			}
		}
	}()

	out = w.processor.Process(ctx, task.Region)
	if out.Region == "" {
		out.Region = task.Region
	}
	if out.Status == "" {
		out.Status = pricedb.RegionFailed
		out.Reason = "processor returned no status"
	}
	return out
}
