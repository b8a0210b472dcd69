package pricedb

import (
	"context"
	"io"
	"time"
)

// Getter performs a single HTTP GET.
type Getter interface {
	Get(ctx context.Context, request Request) (Response, error)
}

// CapabilitySource lists the orderable VM SKUs of a region.
type CapabilitySource interface {
	Capabilities(ctx context.Context, region string, creds Credentials) CapabilityResult
}

// PriceSource lists the retail price items of a region.
type PriceSource interface {
	Prices(ctx context.Context, region string) PriceResult
}

// RegionProcessor turns one region into merged records.
type RegionProcessor interface {
	Process(ctx context.Context, region string) RegionOutcome
}

// RegionLister supplies the regions to process.
type RegionLister interface {
	Regions(ctx context.Context, creds Credentials) ([]string, error)
}

// Queue provides enqueue/dequeue semantics for region tasks.
type Queue interface {
	Enqueue(ctx context.Context, task RegionTask) error
	Dequeue(ctx context.Context) (RegionTask, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// RecordStore mirrors a finished database into a relational store.
type RecordStore interface {
	WriteDatabase(ctx context.Context, run Run, db Database) error
	Close()
}

// RunStore keeps run metadata and results for the API.
type RunStore interface {
	CreateRun(ctx context.Context, run Run) error
	UpdateRun(ctx context.Context, run Run) error
	SaveResult(ctx context.Context, runID string, db Database, outcomes []RegionOutcome) error
	GetRun(ctx context.Context, runID string) (Run, error)
	ListRuns(ctx context.Context) ([]Run, error)
	GetRecords(ctx context.Context, runID string) (Database, error)
	GetOutcomes(ctx context.Context, runID string) ([]RegionOutcome, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes an order-independent content digest of a database.
type Hasher interface {
	Digest(db Database) (string, error)
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Limiter blocks until a request to the URL may proceed.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// Clock abstracts wall time for run bookkeeping.
type Clock interface {
	Now() time.Time
}
