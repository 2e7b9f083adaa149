package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"hsexport/internal/hubspot"
	"hsexport/internal/model"
)

var errAuth = &hubspot.APIError{Status: http.StatusUnauthorized, Kind: hubspot.KindAuthExpired, Endpoint: "test", Message: "expired"}

// fakeCRM is an in-memory hubspot.Client with scripted failures.
type fakeCRM struct {
	mu sync.Mutex

	pages    map[string]hubspot.DealPage // keyed by cursor
	dealErrs map[string][]error          // queued per cursor
	cursors  []string

	assoc     map[string][]model.AssociationRef // keyed by dealID/type
	assocErrs map[string][]error
	listCalls int

	objects    map[string]json.RawMessage // keyed by type/id
	batchErrs  map[int]error              // keyed by batch call index
	batchCalls [][]string
}

func newFakeCRM() *fakeCRM {
	return &fakeCRM{
		pages:     map[string]hubspot.DealPage{},
		dealErrs:  map[string][]error{},
		assoc:     map[string][]model.AssociationRef{},
		assocErrs: map[string][]error{},
		objects:   map[string]json.RawMessage{},
		batchErrs: map[int]error{},
	}
}

func (f *fakeCRM) ListDeals(ctx context.Context, after string, limit int, properties, associations []string) (hubspot.DealPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursors = append(f.cursors, after)
	if q := f.dealErrs[after]; len(q) > 0 {
		f.dealErrs[after] = q[1:]
		return hubspot.DealPage{}, q[0]
	}
	p, ok := f.pages[after]
	if !ok {
		return hubspot.DealPage{}, fmt.Errorf("unknown cursor %q", after)
	}
	return p, nil
}

func (f *fakeCRM) ListAssociations(ctx context.Context, dealID string, toType string) ([]model.AssociationRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	key := dealID + "/" + toType
	if q := f.assocErrs[key]; len(q) > 0 {
		f.assocErrs[key] = q[1:]
		return nil, q[0]
	}
	return append([]model.AssociationRef{}, f.assoc[key]...), nil
}

func (f *fakeCRM) BatchRead(ctx context.Context, objectType string, ids, properties []string) ([]json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := len(f.batchCalls)
	f.batchCalls = append(f.batchCalls, append([]string{}, ids...))
	if err := f.batchErrs[idx]; err != nil {
		return nil, err
	}
	out := make([]json.RawMessage, 0, len(ids))
	for _, id := range ids {
		if obj, ok := f.objects[objectType+"/"+id]; ok {
			out = append(out, obj)
		}
	}
	return out, nil
}

// link associates n objects of typ with dealID, with ids prefix-1..prefix-n.
func (f *fakeCRM) link(dealID string, typ model.EngagementType, prefix string, n int) {
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("%s-%d", prefix, i)
		key := dealID + "/" + string(typ)
		f.assoc[key] = append(f.assoc[key], model.AssociationRef{FromObjectID: dealID, ToObjectID: id})
		f.objects[string(typ)+"/"+id] = json.RawMessage(fmt.Sprintf(`{"id":%q,"properties":{}}`, id))
	}
}

type fakeRefresher struct {
	calls      int
	err        error
	canRefresh bool
	onRefresh  func()
}

func (r *fakeRefresher) Refresh(ctx context.Context) error {
	r.calls++
	if r.err != nil {
		return r.err
	}
	if r.onRefresh != nil {
		r.onRefresh()
	}
	return nil
}

func (r *fakeRefresher) CanRefresh() bool { return r.canRefresh }

func deal(id string) model.Deal {
	name := "Deal " + id
	return model.Deal{ID: id, Properties: map[string]*string{"dealname": &name}}
}

var errBoom = errors.New("boom")
