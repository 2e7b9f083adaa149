package analytics

import (
	"sort"

	"hsexport/internal/model"
)

// TypeTally counts what one engagement type contributed over a run.
type TypeTally struct {
	Deals        int `json:"deals"`
	Associations int `json:"associations"`
	Objects      int `json:"objects"`
}

// Summary aggregates activity records into per-type tallies.
type Summary struct {
	Deals             int
	DealsWithActivity int
	Degraded          int
	ByType            map[model.EngagementType]*TypeTally
}

func NewSummary() *Summary {
	return &Summary{ByType: make(map[model.EngagementType]*TypeTally)}
}

// Add folds one deal's record into the summary.
func (s *Summary) Add(rec model.ActivityRecord) {
	s.Deals++
	if rec.Error != "" {
		s.Degraded++
	}
	if rec.HasActivity() {
		s.DealsWithActivity++
	}
	for typ, set := range rec.Activities {
		t, ok := s.ByType[typ]
		if !ok {
			t = &TypeTally{}
			s.ByType[typ] = t
		}
		if len(set.Associations) > 0 {
			t.Deals++
		}
		t.Associations += len(set.Associations)
		t.Objects += len(set.Objects)
	}
}

// SortedTypes returns the tallied types by name.
func (s *Summary) SortedTypes() []model.EngagementType {
	keys := make([]model.EngagementType, 0, len(s.ByType))
	for k := range s.ByType {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Fields renders the summary as log fields.
func (s *Summary) Fields() map[string]any {
	types := make(map[string]TypeTally, len(s.ByType))
	for _, k := range s.SortedTypes() {
		types[string(k)] = *s.ByType[k]
	}
	return map[string]any{
		"deals":               s.Deals,
		"deals_with_activity": s.DealsWithActivity,
		"degraded":            s.Degraded,
		"types":               types,
	}
}
