package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"hsexport/internal/model"
)

type panicResolver struct{}

func (panicResolver) Resolve(ctx context.Context, dealID string, typ model.EngagementType) model.EngagementSet {
	panic("resolver exploded")
}

type nilResolver struct{}

func (nilResolver) Resolve(ctx context.Context, dealID string, typ model.EngagementType) model.EngagementSet {
	return model.EngagementSet{}
}

func TestAggregateResolvesEveryType(t *testing.T) {
	f := newFakeCRM()
	f.link("A", model.Notes, "n", 2)
	f.link("A", model.Calls, "c", 1)
	agg := NewAggregator(newResolver(f, nil))
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	agg.now = func() time.Time { return fixed }

	rec := agg.Aggregate(context.Background(), "A")
	assert.Equal(t, "A", rec.DealID)
	assert.Equal(t, fixed, rec.Timestamp)
	assert.Empty(t, rec.Error)
	assert.Len(t, rec.Activities, 5)
	assert.Len(t, rec.Activities[model.Notes].Objects, 2)
	assert.Len(t, rec.Activities[model.Calls].Associations, 1)
	assert.Empty(t, rec.Activities[model.Tasks].Associations)
	assert.True(t, rec.HasActivity())
	assert.Equal(t, 5, f.listCalls)
}

func TestAggregateDegradedRecordKeepsShape(t *testing.T) {
	rec := NewAggregator(panicResolver{}).Aggregate(context.Background(), "B")

	assert.Equal(t, "B", rec.DealID)
	assert.Equal(t, "resolver exploded", rec.Error)
	for _, typ := range model.EngagementTypes {
		set, ok := rec.Activities[typ]
		assert.True(t, ok, "missing %s", typ)
		assert.NotNil(t, set.Associations)
		assert.NotNil(t, set.Objects)
		assert.Empty(t, set.Associations)
	}
	assert.False(t, rec.HasActivity())
}

func TestAggregateAllResolversFailing(t *testing.T) {
	f := newFakeCRM()
	for _, typ := range model.EngagementTypes {
		f.assocErrs["C/"+string(typ)] = []error{errBoom}
	}

	rec := NewAggregator(newResolver(f, nil)).Aggregate(context.Background(), "C")
	assert.Len(t, rec.Activities, 5)
	assert.False(t, rec.HasActivity())
}

func TestAggregateNormalizesNilSlices(t *testing.T) {
	rec := NewAggregator(nilResolver{}).Aggregate(context.Background(), "D")
	for _, typ := range model.EngagementTypes {
		assert.NotNil(t, rec.Activities[typ].Associations)
		assert.NotNil(t, rec.Activities[typ].Objects)
	}
}
