package ingest

import (
	"context"
	"fmt"

	"hsexport/internal/hubspot"
	"hsexport/internal/logging"
	"hsexport/internal/metrics"
	"hsexport/internal/model"
)

// DealFetcher pages through every deal in the portal.
type DealFetcher struct {
	Client       hubspot.Client
	Refresher    Refresher
	PageSize     int
	Properties   []string
	Associations []string
}

// FetchAll returns all deals in page order. Any failure other than a recoverable
// token expiry aborts the listing.
func (f *DealFetcher) FetchAll(ctx context.Context) ([]model.Deal, error) {
	all := []model.Deal{}
	seen := make(map[string]struct{})
	after := ""
	for page := 1; ; page++ {
		var p hubspot.DealPage
		err := withAuthRetry(ctx, f.Refresher, "list_deals", func() error {
			var err error
			p, err = f.Client.ListDeals(ctx, after, f.PageSize, f.Properties, f.Associations)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("list deals page %d: %w", page, err)
		}
		metrics.DealPages.Inc()
		metrics.DealsFetched.Add(float64(len(p.Deals)))
		for _, d := range p.Deals {
			if _, dup := seen[d.ID]; dup {
				logging.Warn("duplicate_deal_id", map[string]any{"deal_id": d.ID, "page": page})
			}
			seen[d.ID] = struct{}{}
		}
		all = append(all, p.Deals...)
		logging.Info("deals_page", map[string]any{"page": page, "count": len(p.Deals), "total": len(all)})
		if p.NextAfter == "" {
			return all, nil
		}
		if p.NextAfter == after {
			return nil, fmt.Errorf("list deals page %d: cursor %q did not advance", page, after)
		}
		after = p.NextAfter
	}
}
