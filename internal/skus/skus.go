// Package skus lists the orderable VM sizes of a region from the compute SKU catalog.
package skus

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/JakeFAU/vm-pricedb/internal/pager"
	"github.com/JakeFAU/vm-pricedb/internal/pricedb"
)

const (
	resourceTypeVM      = "virtualMachines"
	restrictionLocation = "Location"
	capabilityVCPU      = "vCPUs"
	capabilityMemoryGB  = "MemoryGB"
)

// Config points the fetcher at a management endpoint.
type Config struct {
	Endpoint   string
	APIVersion string
	MaxPages   int
}

// Fetcher implements pricedb.CapabilitySource.
type Fetcher struct {
	getter pricedb.Getter
	cfg    Config
	logger *zap.Logger
}

// New builds a Fetcher.
func New(getter pricedb.Getter, cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://management.azure.com"
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2021-07-01"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{getter: getter, cfg: cfg, logger: logger.Named("skus")}
}

type skuPage struct {
	Value    []skuItem `json:"value"`
	NextLink string    `json:"nextLink"`
}

type skuItem struct {
	Name         string        `json:"name"`
	ResourceType string        `json:"resourceType"`
	Restrictions []restriction `json:"restrictions"`
	Capabilities []capability  `json:"capabilities"`
}

type restriction struct {
	Type       string `json:"type"`
	ReasonCode string `json:"reasonCode"`
}

type capability struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func decodePage(body []byte) (pager.Page[skuItem], error) {
	var page skuPage
	if err := json.Unmarshal(body, &page); err != nil {
		return pager.Page[skuItem]{}, fmt.Errorf("decode sku page: %w", err)
	}
	return pager.Page[skuItem]{Items: page.Value, Next: page.NextLink}, nil
}

// URL returns the filtered SKU listing URL for a region.
func (f *Fetcher) URL(region, subscriptionID string) string {
	return fmt.Sprintf("%s/subscriptions/%s/providers/Microsoft.Compute/skus?api-version=%s&$filter=%s",
		strings.TrimRight(f.cfg.Endpoint, "/"),
		url.PathEscape(subscriptionID),
		url.QueryEscape(f.cfg.APIVersion),
		pager.EscapeFilter("location eq "+pager.Literal(region)),
	)
}

// Capabilities returns the vCPU/RAM shape of every VM SKU orderable in region.
// A failed first page yields FetchFailed; a successful listing with no viable
// SKU yields FetchEmpty. When a later page fails, the SKUs already read are
// kept and Err records the truncation.
func (f *Fetcher) Capabilities(ctx context.Context, region string, creds pricedb.Credentials) pricedb.CapabilityResult {
	req := pricedb.Request{
		URL: f.URL(region, creds.SubscriptionID),
		Headers: http.Header{
			"Authorization": {"Bearer " + creds.Token},
			"Content-Type":  {"application/json"},
		},
	}
	res := pager.Follow(ctx, f.getter, req, decodePage, f.cfg.MaxPages)
	if res.Err != nil && res.Pages == 0 {
		return pricedb.CapabilityResult{Status: pricedb.FetchFailed, Err: fmt.Errorf("list skus: %w", res.Err)}
	}

	caps, skipped := extract(res.Items)
	f.logger.Debug("sku listing read",
		zap.String("region", region),
		zap.Int("items", len(res.Items)),
		zap.Int("capabilities", len(caps)),
		zap.Int("skipped", skipped),
		zap.Int("pages", res.Pages),
	)

	out := pricedb.CapabilityResult{Capabilities: caps, Status: pricedb.FetchOK}
	if len(caps) == 0 {
		out.Status = pricedb.FetchEmpty
	}
	if res.Err != nil {
		out.Err = fmt.Errorf("list skus truncated: %w", res.Err)
	}
	return out
}

// extract keeps VM SKUs without a Location restriction whose vCPUs and MemoryGB
// parse as positive numbers. Later duplicates replace earlier ones.
func extract(items []skuItem) (map[string]pricedb.Capability, int) {
	caps := make(map[string]pricedb.Capability, len(items))
	skipped := 0
	for _, item := range items {
		c, ok := capabilityOf(item)
		if !ok {
			skipped++
			continue
		}
		caps[c.SKU] = c
	}
	return caps, skipped
}

func capabilityOf(item skuItem) (pricedb.Capability, bool) {
	if item.Name == "" || item.ResourceType != resourceTypeVM {
		return pricedb.Capability{}, false
	}
	for _, r := range item.Restrictions {
		if r.Type == restrictionLocation {
			return pricedb.Capability{}, false
		}
	}
	values := make(map[string]string, len(item.Capabilities))
	for _, c := range item.Capabilities {
		values[c.Name] = c.Value
	}
	vcpu, ok := positive(values[capabilityVCPU])
	if !ok {
		return pricedb.Capability{}, false
	}
	ram, ok := positive(values[capabilityMemoryGB])
	if !ok {
		return pricedb.Capability{}, false
	}
	return pricedb.Capability{SKU: item.Name, VCPU: vcpu, RAMGB: ram}, true
}

func positive(raw string) (float64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0, false
	}
	return v, true
}
