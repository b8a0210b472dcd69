// Package build runs one database build end to end: credentials check,
// region listing, the dispatcher fan-out, the single serialized write and the
// completion notification.
package build

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/vm-pricedb/internal/dispatcher"
	"github.com/JakeFAU/vm-pricedb/internal/pricedb"
	"github.com/JakeFAU/vm-pricedb/internal/progress"
)

// Scheduler fans regions out and collects their outcomes.
type Scheduler interface {
	Run(ctx context.Context, runID string, regions []string) dispatcher.Result
}

// ArtifactWriter serializes the finished database.
type ArtifactWriter interface {
	Write(ctx context.Context, run pricedb.Run, db pricedb.Database) (pricedb.Artifact, error)
}

// Deps groups the collaborators of a Builder. Runs, Publisher and Emitter are optional.
type Deps struct {
	Credentials pricedb.Credentials
	Regions     pricedb.RegionLister
	Scheduler   Scheduler
	Writer      ArtifactWriter
	Runs        pricedb.RunStore
	Publisher   pricedb.Publisher
	Topic       string
	Emitter     progress.Emitter
	IDs         pricedb.IDGenerator
	Clock       pricedb.Clock
	Logger      *zap.Logger
}

// Builder executes builds one at a time.
type Builder struct {
	deps    Deps
	logger  *zap.Logger
	running atomic.Bool
}

// New validates deps and returns a Builder.
func New(deps Deps) (*Builder, error) {
	switch {
	case deps.Regions == nil:
		return nil, errors.New("region lister is required")
	case deps.Scheduler == nil:
		return nil, errors.New("scheduler is required")
	case deps.Writer == nil:
		return nil, errors.New("writer is required")
	case deps.IDs == nil:
		return nil, errors.New("id generator is required")
	case deps.Clock == nil:
		return nil, errors.New("clock is required")
	}
	if deps.Emitter == nil {
		deps.Emitter = progress.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Builder{deps: deps, logger: deps.Logger.Named("build")}, nil
}

// Running reports whether a build is in progress.
func (b *Builder) Running() bool {
	return b.running.Load()
}

// Start reserves the builder and records a new running build. The caller
// must pass the returned run to Execute, which releases the reservation.
func (b *Builder) Start(ctx context.Context) (pricedb.Run, error) {
	if !b.running.CompareAndSwap(false, true) {
		return pricedb.Run{}, pricedb.ErrRunInProgress
	}
	id, err := b.deps.IDs.NewID()
	if err != nil {
		b.running.Store(false)
		return pricedb.Run{}, fmt.Errorf("generate run id: %w", err)
	}
	run := pricedb.Run{
		ID:        id,
		Status:    pricedb.RunRunning,
		StartedAt: b.deps.Clock.Now(),
	}
	if b.deps.Runs != nil {
		if err := b.deps.Runs.CreateRun(ctx, run); err != nil {
			b.running.Store(false)
			return pricedb.Run{}, fmt.Errorf("create run: %w", err)
		}
	}
	return run, nil
}

// Build starts and executes a build synchronously.
func (b *Builder) Build(ctx context.Context) (pricedb.Run, error) {
	run, err := b.Start(ctx)
	if err != nil {
		return pricedb.Run{}, err
	}
	return b.Execute(ctx, run)
}

// Execute runs a build reserved by Start. Missing credentials, a failed region
// listing, cancellation of ctx and a failed artifact write fail the build;
// region failures do not.
func (b *Builder) Execute(ctx context.Context, run pricedb.Run) (pricedb.Run, error) {
	defer b.running.Store(false)
	logger := b.logger.With(zap.String("run_id", run.ID))
	runKey := progress.RunIDBytes(run.ID)

	if err := b.deps.Credentials.Validate(); err != nil {
		return b.fail(ctx, logger, run, runKey, err)
	}

	regions, err := b.deps.Regions.Regions(ctx, b.deps.Credentials)
	if err != nil {
		return b.fail(ctx, logger, run, runKey, fmt.Errorf("list regions: %w", err))
	}
	run.Regions = len(regions)
	logger.Info("processing regions", zap.Int("regions", len(regions)))
	b.deps.Emitter.Emit(progress.Event{
		RunID: runKey,
		TS:    b.deps.Clock.Now(),
		Stage: progress.StageRunStart,
		Total: len(regions),
	})

	result := b.deps.Scheduler.Run(ctx, run.ID, regions)
	run.ByStatus = result.ByStatus
	run.Records = len(result.Database)

	// An interrupted run must leave the previous artifact in place.
	if err := ctx.Err(); err != nil {
		b.saveResult(ctx, logger, run, result)
		return b.fail(ctx, logger, run, runKey, fmt.Errorf("build interrupted: %w", err))
	}

	artifact, err := b.deps.Writer.Write(ctx, run, result.Database)
	if err != nil {
		b.saveResult(ctx, logger, run, result)
		return b.fail(ctx, logger, run, runKey, fmt.Errorf("write database: %w", err))
	}
	run.ArtifactURI = artifact.URI
	run.Digest = artifact.Digest

	finished := b.deps.Clock.Now()
	run.FinishedAt = &finished
	run.Status = pricedb.RunSucceeded
	b.saveResult(ctx, logger, run, result)
	b.updateRun(ctx, logger, run)
	b.publish(ctx, logger, run)

	elapsed := finished.Sub(run.StartedAt)
	b.deps.Emitter.Emit(progress.Event{
		RunID:   runKey,
		TS:      finished,
		Stage:   progress.StageRunDone,
		Records: int64(run.Records),
		Done:    len(result.Outcomes),
		Total:   run.Regions,
		Dur:     elapsed,
	})
	logger.Info(fmt.Sprintf("Database built in %.1f seconds", elapsed.Seconds()),
		zap.Int("records", run.Records),
		zap.Int("regions", run.Regions),
		zap.Int("succeeded", run.ByStatus[pricedb.RegionSucceeded]),
		zap.Int("partial", run.ByStatus[pricedb.RegionPartial]),
		zap.Int("empty", run.ByStatus[pricedb.RegionEmpty]),
		zap.Int("failed", run.ByStatus[pricedb.RegionFailed]),
		zap.String("uri", run.ArtifactURI),
	)
	return run, nil
}

func (b *Builder) fail(ctx context.Context, logger *zap.Logger, run pricedb.Run, runKey [16]byte, cause error) (pricedb.Run, error) {
	finished := b.deps.Clock.Now()
	run.FinishedAt = &finished
	run.Status = pricedb.RunFailed
	run.ErrorText = cause.Error()
	logger.Error("database build failed", zap.Error(cause))

	b.updateRun(ctx, logger, run)
	b.publish(ctx, logger, run)
	b.deps.Emitter.Emit(progress.Event{
		RunID:   runKey,
		TS:      finished,
		Stage:   progress.StageRunError,
		Records: int64(run.Records),
		Total:   run.Regions,
		Dur:     finished.Sub(run.StartedAt),
		Note:    run.ErrorText,
	})
	return run, cause
}

func (b *Builder) saveResult(ctx context.Context, logger *zap.Logger, run pricedb.Run, result dispatcher.Result) {
	if b.deps.Runs == nil {
		return
	}
	if err := b.deps.Runs.SaveResult(ctx, run.ID, result.Database, result.Outcomes); err != nil {
		logger.Warn("save run result failed", zap.Error(err))
	}
}

func (b *Builder) updateRun(ctx context.Context, logger *zap.Logger, run pricedb.Run) {
	if b.deps.Runs == nil {
		return
	}
	// A canceled process context must not prevent recording the final status.
	if err := b.deps.Runs.UpdateRun(context.WithoutCancel(ctx), run); err != nil {
		logger.Warn("update run failed", zap.Error(err))
	}
}

func (b *Builder) publish(ctx context.Context, logger *zap.Logger, run pricedb.Run) {
	if b.deps.Publisher == nil || b.deps.Topic == "" {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	id, err := b.deps.Publisher.Publish(pubCtx, b.deps.Topic, run)
	if err != nil {
		logger.Warn("publish build notification failed", zap.Error(err))
		return
	}
	logger.Debug("build notification published", zap.String("message_id", id))
}
