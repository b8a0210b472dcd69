package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/vm-pricedb/internal/progress"
)

// PrometheusSink exports build-level progress: runs started, completed and
// running, plus region status counts and record totals of the latest run.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runRuntime    *prometheus.HistogramVec

	runRegions  *prometheus.GaugeVec
	runRecords  prometheus.Gauge
	runProgress prometheus.Gauge

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pricedb_runs_started_total",
			Help: "Total database builds that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pricedb_runs_completed_total",
			Help: "Total database builds completed partitioned by result.",
		}, []string{"result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pricedb_runs_running",
			Help: "Current number of running builds.",
		}),
		runRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pricedb_run_runtime_seconds",
			Help:    "Wall time per completed build.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"result"}),
		runRegions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pricedb_last_run_regions",
			Help: "Regions of the current or latest build partitioned by outcome status.",
		}, []string{"status"}),
		runRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pricedb_last_run_records",
			Help: "Records produced by the latest completed build.",
		}),
		runProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pricedb_last_run_progress_ratio",
			Help: "Fraction of regions completed in the current or latest build.",
		}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runRuntime,
		s.runRegions,
		s.runRecords,
		s.runProgress,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors using the provided batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			s.runsStarted.Inc()
			s.runRegions.Reset()
			s.runProgress.Set(0)
			if s.tracker.start(evt.RunID) {
				s.runsRunning.Inc()
			}
		case progress.StageRegionDone, progress.StageRegionError:
			s.runRegions.WithLabelValues(evt.Status).Inc()
			if evt.Total > 0 {
				s.runProgress.Set(float64(evt.Done) / float64(evt.Total))
			}
		case progress.StageRunDone:
			s.completeRun(evt, "success")
			s.runRecords.Set(float64(evt.Records))
		case progress.StageRunError:
			s.completeRun(evt, "error")
		}
	}
	return nil
}

func (s *PrometheusSink) completeRun(evt progress.Event, result string) {
	s.runsCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.runRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.RunID) {
		s.runsRunning.Dec()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
