// Package retail pulls public retail price items for a region.
package retail

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/JakeFAU/vm-pricedb/internal/pager"
	"github.com/JakeFAU/vm-pricedb/internal/pricedb"
)

// Config selects the price endpoint and the filter applied to it.
type Config struct {
	Endpoint      string
	ServiceName   string
	PriceType     string
	CurrencyCode  string
	ExcludeMeters []string
	MaxPages      int
}

// Fetcher implements pricedb.PriceSource.
type Fetcher struct {
	getter pricedb.Getter
	cfg    Config
	logger *zap.Logger
}

// New builds a Fetcher.
func New(getter pricedb.Getter, cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://prices.azure.com/api/retail/prices"
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "Virtual Machines"
	}
	if cfg.PriceType == "" {
		cfg.PriceType = "Consumption"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{getter: getter, cfg: cfg, logger: logger.Named("retail")}
}

type pricePage struct {
	Items        []pricedb.PriceItem `json:"Items"`
	NextPageLink string              `json:"NextPageLink"`
}

func decodePage(body []byte) (pager.Page[pricedb.PriceItem], error) {
	var page pricePage
	if err := json.Unmarshal(body, &page); err != nil {
		return pager.Page[pricedb.PriceItem]{}, fmt.Errorf("decode price page: %w", err)
	}
	return pager.Page[pricedb.PriceItem]{Items: page.Items, Next: page.NextPageLink}, nil
}

// Filter is the OData expression selecting one service, region and price type.
func (f *Fetcher) Filter(region string) string {
	return fmt.Sprintf("serviceName eq %s and armRegionName eq %s and priceType eq %s",
		pager.Literal(f.cfg.ServiceName), pager.Literal(region), pager.Literal(f.cfg.PriceType))
}

// URL returns the first page URL for a region.
func (f *Fetcher) URL(region string) string {
	u := f.cfg.Endpoint + "?"
	if f.cfg.CurrencyCode != "" {
		u += "currencyCode=" + url.QueryEscape(f.cfg.CurrencyCode) + "&"
	}
	return u + "$filter=" + pager.EscapeFilter(f.Filter(region))
}

// Prices follows every price page for region. Items are returned in page
// order without any SKU filtering; a failed page keeps what came before it.
func (f *Fetcher) Prices(ctx context.Context, region string) pricedb.PriceResult {
	res := pager.Follow(ctx, f.getter, pricedb.Request{URL: f.URL(region)}, decodePage, f.cfg.MaxPages)

	items := res.Items
	dropped := 0
	if len(f.cfg.ExcludeMeters) > 0 {
		items, dropped = f.exclude(items)
	}
	f.logger.Debug("price listing read",
		zap.String("region", region),
		zap.Int("items", len(items)),
		zap.Int("excluded", dropped),
		zap.Int("pages", res.Pages),
		zap.Bool("truncated", res.Truncated),
	)

	out := pricedb.PriceResult{Items: items, Pages: res.Pages, Truncated: res.Truncated}
	if res.Err != nil {
		out.Err = fmt.Errorf("list prices: %w", res.Err)
	}
	return out
}

func (f *Fetcher) exclude(items []pricedb.PriceItem) ([]pricedb.PriceItem, int) {
	kept := items[:0:0]
	for _, item := range items {
		if f.excluded(item) {
			continue
		}
		kept = append(kept, item)
	}
	return kept, len(items) - len(kept)
}

func (f *Fetcher) excluded(item pricedb.PriceItem) bool {
	for _, pattern := range f.cfg.ExcludeMeters {
		if pattern == "" {
			continue
		}
		if strings.Contains(item.MeterName, pattern) || strings.Contains(item.SKUName, pattern) {
			return true
		}
	}
	return false
}
