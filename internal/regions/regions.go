// Package regions supplies the region list for a run.
package regions

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"

	"github.com/JakeFAU/vm-pricedb/internal/pager"
	"github.com/JakeFAU/vm-pricedb/internal/pricedb"
)

// Static returns a fixed region list.
type Static []string

// Regions implements pricedb.RegionLister.
func (s Static) Regions(context.Context, pricedb.Credentials) ([]string, error) {
	return dedupe(s), nil
}

// ARMConfig points the lister at the subscription locations endpoint.
type ARMConfig struct {
	Endpoint   string
	APIVersion string
	MaxPages   int
}

// ARM lists the locations visible to a subscription.
type ARM struct {
	getter pricedb.Getter
	cfg    ARMConfig
}

// NewARM builds an ARM lister.
func NewARM(getter pricedb.Getter, cfg ARMConfig) *ARM {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://management.azure.com"
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2022-12-01"
	}
	return &ARM{getter: getter, cfg: cfg}
}

type location struct {
	Name string `json:"name"`
}

type locationPage struct {
	Value    []location `json:"value"`
	NextLink string     `json:"nextLink"`
}

func decodePage(body []byte) (pager.Page[location], error) {
	var page locationPage
	if err := json.Unmarshal(body, &page); err != nil {
		return pager.Page[location]{}, fmt.Errorf("decode locations: %w", err)
	}
	return pager.Page[location]{Items: page.Value, Next: page.NextLink}, nil
}

// Regions implements pricedb.RegionLister. Unlike region tasks, a failed or
// truncated listing is an error: the run cannot know what it skipped.
func (a *ARM) Regions(ctx context.Context, creds pricedb.Credentials) ([]string, error) {
	req := pricedb.Request{
		URL: fmt.Sprintf("%s/subscriptions/%s/locations?api-version=%s",
			strings.TrimRight(a.cfg.Endpoint, "/"),
			url.PathEscape(creds.SubscriptionID),
			url.QueryEscape(a.cfg.APIVersion)),
		Headers: http.Header{"Authorization": {"Bearer " + creds.Token}},
	}
	res := pager.Follow(ctx, a.getter, req, decodePage, a.cfg.MaxPages)
	if res.Err != nil {
		return nil, fmt.Errorf("list locations: %w", res.Err)
	}
	names := make([]string, 0, len(res.Items))
	for _, loc := range res.Items {
		names = append(names, loc.Name)
	}
	return dedupe(names), nil
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, r := range in {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}
