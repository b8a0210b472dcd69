package memory

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/JakeFAU/vm-pricedb/internal/pricedb"
)

type runEntry struct {
	run      pricedb.Run
	records  pricedb.Database
	outcomes []pricedb.RegionOutcome
}

// RunStore keeps recent builds. Only the newest Retain finished runs are
// kept; running builds are never evicted.
type RunStore struct {
	mu     sync.RWMutex
	retain int
	runs   map[string]*runEntry
}

// NewRunStore constructs a RunStore. retain <= 0 keeps every run.
func NewRunStore(retain int) *RunStore {
	return &RunStore{
		retain: retain,
		runs:   make(map[string]*runEntry),
	}
}

// CreateRun stores a new run.
func (s *RunStore) CreateRun(_ context.Context, run pricedb.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return errors.New("run already exists")
	}
	s.runs[run.ID] = &runEntry{run: run}
	return nil
}

// UpdateRun replaces the run metadata and applies retention once it finishes.
func (s *RunStore) UpdateRun(_ context.Context, run pricedb.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.runs[run.ID]
	if !ok {
		return pricedb.ErrNotFound
	}
	entry.run = run
	if isTerminal(run.Status) {
		s.evict()
	}
	return nil
}

// SaveResult attaches the database and outcomes to a run.
func (s *RunStore) SaveResult(_ context.Context, runID string, db pricedb.Database, outcomes []pricedb.RegionOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.runs[runID]
	if !ok {
		return pricedb.ErrNotFound
	}
	entry.records = slices.Clone(db)
	entry.outcomes = slices.Clone(outcomes)
	return nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(_ context.Context, runID string) (pricedb.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.runs[runID]
	if !ok {
		return pricedb.Run{}, pricedb.ErrNotFound
	}
	return entry.run, nil
}

// ListRuns returns the retained runs, newest first.
func (s *RunStore) ListRuns(_ context.Context) ([]pricedb.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]pricedb.Run, 0, len(s.runs))
	for _, entry := range s.runs {
		out = append(out, entry.run)
	}
	slices.SortFunc(out, func(a, b pricedb.Run) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	return out, nil
}

// GetRecords returns a copy of a run's database.
func (s *RunStore) GetRecords(_ context.Context, runID string) (pricedb.Database, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.runs[runID]
	if !ok {
		return nil, pricedb.ErrNotFound
	}
	return slices.Clone(entry.records), nil
}

// GetOutcomes returns a copy of a run's region outcomes.
func (s *RunStore) GetOutcomes(_ context.Context, runID string) ([]pricedb.RegionOutcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.runs[runID]
	if !ok {
		return nil, pricedb.ErrNotFound
	}
	return slices.Clone(entry.outcomes), nil
}

// evict drops the oldest finished runs beyond the retention limit. Callers hold mu.
func (s *RunStore) evict() {
	if s.retain <= 0 {
		return
	}
	finished := make([]pricedb.Run, 0, len(s.runs))
	for _, entry := range s.runs {
		if isTerminal(entry.run.Status) {
			finished = append(finished, entry.run)
		}
	}
	if len(finished) <= s.retain {
		return
	}
	slices.SortFunc(finished, func(a, b pricedb.Run) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	for _, run := range finished[s.retain:] {
		delete(s.runs, run.ID)
	}
}

func isTerminal(status pricedb.RunStatus) bool {
	switch status {
	case pricedb.RunSucceeded, pricedb.RunFailed:
		return true
	default:
		return false
	}
}
