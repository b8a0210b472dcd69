package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported progress stages.
const (
	StageRunStart    Stage = "RUN_START"
	StageRegionDone  Stage = "REGION_DONE"
	StageRegionError Stage = "REGION_ERROR"
	StageRunDone     Stage = "RUN_DONE"
	StageRunError    Stage = "RUN_ERROR"
)

// Event captures a single step of a database build.
type Event struct {
	// RunID identifies the build in 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	Stage Stage
	// Region and Status are set on region stages.
	Region string
	Status string
	// Records is the number of records a region (or the whole run) produced.
	Records int64
	// Done and Total track completed regions against the region count.
	Done  int
	Total int
	Dur   time.Duration
	// Note carries low-volume context such as a failure reason.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
	case StageRegionDone, StageRegionError:
		if e.Region == "" {
			return fmt.Errorf("%s requires region", e.Stage)
		}
		if e.Status == "" {
			return fmt.Errorf("%s requires status", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.Done < 0 || e.Total < 0 || (e.Total > 0 && e.Done > e.Total) {
		return fmt.Errorf("invalid progress %d/%d", e.Done, e.Total)
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// RunIDBytes parses a textual run id; invalid ids map to the zero value,
// which Validate rejects.
func RunIDBytes(runID string) [16]byte {
	id, err := uuid.Parse(runID)
	if err != nil {
		return [16]byte{}
	}
	return UUIDToBytes(id)
}
