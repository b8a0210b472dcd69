package pricedb

import (
	"net/http"
	"time"
)

// Credentials carries the bearer token and subscription used for management API calls.
// They are supplied once before a run and shared read-only by every region task.
type Credentials struct {
	Token          string
	SubscriptionID string
}

// Validate reports ErrMissingCredentials when either value is blank.
func (c Credentials) Validate() error {
	if c.Token == "" || c.SubscriptionID == "" {
		return ErrMissingCredentials
	}
	return nil
}

// Capability is the hardware shape of one SKU in one region.
type Capability struct {
	SKU   string  `json:"sku"`
	VCPU  float64 `json:"vcpu"`
	RAMGB float64 `json:"ram"`
}

// FetchStatus distinguishes a successful empty answer from a failed call.
type FetchStatus string

// Fetch statuses reported by capability lookups.
const (
	FetchOK     FetchStatus = "ok"
	FetchEmpty  FetchStatus = "empty"
	FetchFailed FetchStatus = "failed"
)

// CapabilityResult is the outcome of one capability listing for a region.
type CapabilityResult struct {
	Capabilities map[string]Capability
	Status       FetchStatus
	Err          error
}

// PriceItem is a single retail price entry. UnitPrice is nil when the source omitted it.
type PriceItem struct {
	SKU           string   `json:"armSkuName"`
	UnitPrice     *float64 `json:"unitPrice"`
	SKUName       string   `json:"skuName"`
	MeterName     string   `json:"meterName"`
	ProductName   string   `json:"productName"`
	UnitOfMeasure string   `json:"unitOfMeasure"`
	CurrencyCode  string   `json:"currencyCode"`
	Type          string   `json:"type"`
}

// PriceResult is the raw price sequence for a region plus pagination metadata.
type PriceResult struct {
	Items     []PriceItem
	Pages     int
	Truncated bool
	Err       error
}

// Record is one merged (region, SKU) row of the pricing database.
type Record struct {
	Region string  `json:"region"`
	SKU    string  `json:"sku"`
	VCPU   float64 `json:"vcpu"`
	RAM    float64 `json:"ram"`
	Price  float64 `json:"price"`
}

// Database is the ordered record collection produced by one run.
type Database []Record

// RegionStatus summarizes how a region task ended.
type RegionStatus string

// Region task statuses.
const (
	RegionSucceeded RegionStatus = "succeeded"
	RegionPartial   RegionStatus = "partial"
	RegionEmpty     RegionStatus = "empty"
	RegionFailed    RegionStatus = "failed"
)

// RegionOutcome is what a region task hands back to the scheduler.
type RegionOutcome struct {
	Region       string        `json:"region"`
	Status       RegionStatus  `json:"status"`
	Records      []Record      `json:"-"`
	Capabilities int           `json:"capabilities"`
	PriceItems   int           `json:"price_items"`
	Pages        int           `json:"pages"`
	Truncated    bool          `json:"truncated"`
	Reason       string        `json:"reason,omitempty"`
	Unauthorized bool          `json:"unauthorized,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// RecordCount returns the number of records the region contributed.
func (o RegionOutcome) RecordCount() int {
	return len(o.Records)
}

// RunStatus represents the lifecycle state of a database build.
type RunStatus string

// Run status values.
const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// Run is the metadata kept for each database build.
type Run struct {
	ID          string               `json:"id"`
	Status      RunStatus            `json:"status"`
	StartedAt   time.Time            `json:"started_at"`
	FinishedAt  *time.Time           `json:"finished_at,omitempty"`
	Regions     int                  `json:"regions"`
	ByStatus    map[RegionStatus]int `json:"regions_by_status,omitempty"`
	Records     int                  `json:"records"`
	ArtifactURI string               `json:"artifact_uri,omitempty"`
	Digest      string               `json:"digest,omitempty"`
	ErrorText   string               `json:"error_text,omitempty"`
}

// Artifact describes the serialized database after it was written.
type Artifact struct {
	URI     string `json:"uri"`
	Records int    `json:"records"`
	Bytes   int    `json:"bytes"`
	Digest  string `json:"digest"`
}

// Request captures everything needed to GET a URL.
type Request struct {
	URL     string
	Headers http.Header
}

// Response is the body plus metadata of a successful GET.
type Response struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// RegionTask wraps a region waiting on the scheduler queue.
type RegionTask struct {
	Region string
	Index  int
}

// Attributes are the message attributes attached to a build notification.
func (r Run) Attributes() map[string]string {
	return map[string]string{
		"run_id": r.ID,
		"status": string(r.Status),
	}
}
