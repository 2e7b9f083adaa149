package analytics

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hsexport/internal/model"
)

func TestSummaryTallies(t *testing.T) {
	now := time.Now()
	a := model.NewActivityRecord("A", now)
	a.Activities[model.Notes] = model.EngagementSet{
		Associations: []model.AssociationRef{{FromObjectID: "A", ToObjectID: "1"}, {FromObjectID: "A", ToObjectID: "2"}},
		Objects:      []json.RawMessage{json.RawMessage(`{"id":"1"}`)},
	}
	b := model.NewActivityRecord("B", now)
	c := model.NewActivityRecord("C", now)
	c.Error = "resolver exploded"

	s := NewSummary()
	s.Add(a)
	s.Add(b)
	s.Add(c)

	assert.Equal(t, 3, s.Deals)
	assert.Equal(t, 1, s.DealsWithActivity)
	assert.Equal(t, 1, s.Degraded)
	require.Contains(t, s.ByType, model.Notes)
	assert.Equal(t, TypeTally{Deals: 1, Associations: 2, Objects: 1}, *s.ByType[model.Notes])
	assert.Equal(t, TypeTally{}, *s.ByType[model.Calls])
	assert.Equal(t, []model.EngagementType{model.Calls, model.Emails, model.Meetings, model.Notes, model.Tasks}, s.SortedTypes())

	f := s.Fields()
	assert.Equal(t, 3, f["deals"])
	assert.Equal(t, 2, f["types"].(map[string]TypeTally)["notes"].Associations)
}
