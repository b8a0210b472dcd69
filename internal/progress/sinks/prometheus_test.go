package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/vm-pricedb/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures run and region collectors follow the event stream.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := progress.UUIDToBytes(uuid.New())
	now := time.Now()
	batch := []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunStart, Total: 2},
		{RunID: runID, TS: now, Stage: progress.StageRegionDone, Region: "eastus", Status: "succeeded", Records: 12, Done: 1, Total: 2},
		{RunID: runID, TS: now, Stage: progress.StageRegionError, Region: "brazilsouth", Status: "failed", Done: 2, Total: 2},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsRunning))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runRegions.WithLabelValues("succeeded")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runRegions.WithLabelValues("failed")))
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.runProgress), 1e-9)

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: now.Add(time.Minute), Stage: progress.StageRunDone, Records: 12, Dur: time.Minute},
	}))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("success")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("error")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsRunning))
	require.Equal(t, 12.0, testutil.ToFloat64(sink.runRecords))
	require.Equal(t, 1, testutil.CollectAndCount(sink.runRuntime, "pricedb_run_runtime_seconds"))
}

func TestPrometheusSinkRejectsDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
