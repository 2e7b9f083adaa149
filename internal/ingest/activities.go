package ingest

import (
	"context"
	"fmt"
	"time"

	"hsexport/internal/logging"
	"hsexport/internal/model"
)

// EngagementResolver resolves one engagement type for a deal.
type EngagementResolver interface {
	Resolve(ctx context.Context, dealID string, typ model.EngagementType) model.EngagementSet
}

// Aggregator builds the activity record of a deal.
type Aggregator struct {
	Resolver EngagementResolver
	now      func() time.Time
}

func NewAggregator(r EngagementResolver) *Aggregator {
	return &Aggregator{Resolver: r, now: time.Now}
}

// Aggregate resolves every engagement type in order. It never fails: if resolution
// panics the record is returned degraded, with Error set and every type empty.
func (a *Aggregator) Aggregate(ctx context.Context, dealID string) (rec model.ActivityRecord) {
	now := time.Now
	if a.now != nil {
		now = a.now
	}
	ts := now().UTC()
	defer func() {
		if p := recover(); p != nil {
			rec = model.NewActivityRecord(dealID, ts)
			rec.Error = fmt.Sprint(p)
			logging.Error("aggregate_failed", map[string]any{"deal_id": dealID, "error": rec.Error})
		}
	}()
	rec = model.NewActivityRecord(dealID, ts)
	for _, typ := range model.EngagementTypes {
		set := a.Resolver.Resolve(ctx, dealID, typ)
		if set.Associations == nil {
			set.Associations = []model.AssociationRef{}
		}
		if set.Objects == nil {
			set.Objects = model.EmptyEngagementSet().Objects
		}
		rec.Activities[typ] = set
	}
	return rec
}
