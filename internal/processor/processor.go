// Package processor joins a region's SKU capabilities with its retail prices.
package processor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/vm-pricedb/internal/pricedb"
)

// Processor implements pricedb.RegionProcessor.
type Processor struct {
	capabilities pricedb.CapabilitySource
	prices       pricedb.PriceSource
	creds        pricedb.Credentials
	logger       *zap.Logger
}

// New builds a Processor. Credentials are read-only and shared by every call.
func New(capabilities pricedb.CapabilitySource, prices pricedb.PriceSource, creds pricedb.Credentials, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		capabilities: capabilities,
		prices:       prices,
		creds:        creds,
		logger:       logger.Named("processor"),
	}
}

// Process fetches capabilities, then prices, and merges them. A region with
// no usable capabilities never reaches the price source. Panics are recovered
// into a failed outcome with no records.
func (p *Processor) Process(ctx context.Context, region string) (out pricedb.RegionOutcome) {
	start := time.Now()
	logger := p.logger.With(zap.String("region", region))
	defer func() {
		if r := recover(); r != nil {
			logger.Error("region task panicked",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			out = pricedb.RegionOutcome{
				Region: region,
				Status: pricedb.RegionFailed,
				Reason: fmt.Sprintf("panic: %v", r),
			}
		}
		out.Duration = time.Since(start)
	}()

	out.Region = region
	capRes := p.capabilities.Capabilities(ctx, region, p.creds)
	switch capRes.Status {
	case pricedb.FetchFailed:
		out.Status = pricedb.RegionFailed
		out.Reason, out.Unauthorized = reason("capabilities", capRes.Err)
		logger.Warn("capability fetch failed", zap.Error(capRes.Err))
		return out
	case pricedb.FetchEmpty:
		out.Status = pricedb.RegionEmpty
		out.Reason = "no orderable VM SKUs"
		logger.Debug("no orderable VM SKUs")
		return out
	}
	out.Capabilities = len(capRes.Capabilities)

	priceRes := p.prices.Prices(ctx, region)
	out.PriceItems = len(priceRes.Items)
	out.Pages = priceRes.Pages
	out.Truncated = priceRes.Truncated
	if priceRes.Err != nil && priceRes.Pages == 0 {
		out.Status = pricedb.RegionFailed
		out.Reason, out.Unauthorized = reason("prices", priceRes.Err)
		logger.Warn("price fetch failed", zap.Error(priceRes.Err))
		return out
	}

	out.Records = Merge(region, capRes.Capabilities, priceRes.Items)
	out.Status = pricedb.RegionSucceeded
	switch {
	case priceRes.Err != nil:
		out.Status = pricedb.RegionPartial
		out.Reason, out.Unauthorized = reason("prices", priceRes.Err)
		logger.Warn("price listing truncated", zap.Int("pages", priceRes.Pages), zap.Error(priceRes.Err))
	case capRes.Err != nil:
		out.Status = pricedb.RegionPartial
		out.Reason, out.Unauthorized = reason("capabilities", capRes.Err)
		logger.Warn("capability listing truncated", zap.Error(capRes.Err))
	}
	return out
}

// Merge emits one record per price item that has a unit price and a known SKU,
// in price item order. vCPU and RAM always come from the capability.
func Merge(region string, caps map[string]pricedb.Capability, items []pricedb.PriceItem) []pricedb.Record {
	records := make([]pricedb.Record, 0, len(items))
	for _, item := range items {
		if item.UnitPrice == nil {
			continue
		}
		c, ok := caps[item.SKU]
		if !ok {
			continue
		}
		records = append(records, pricedb.Record{
			Region: region,
			SKU:    item.SKU,
			VCPU:   c.VCPU,
			RAM:    c.RAMGB,
			Price:  *item.UnitPrice,
		})
	}
	return records
}

func reason(stage string, err error) (string, bool) {
	if err == nil {
		return stage + ": unknown error", false
	}
	if errors.Is(err, pricedb.ErrUnauthorized) {
		return fmt.Sprintf("%s: unauthorized: %v", stage, err), true
	}
	return fmt.Sprintf("%s: %v", stage, err), false
}
