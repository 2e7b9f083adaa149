package ingest

import (
	"context"
	"encoding/json"

	"hsexport/internal/config"
	"hsexport/internal/hubspot"
	"hsexport/internal/logging"
	"hsexport/internal/metrics"
	"hsexport/internal/model"
)

// ReadSpec says how objects of one engagement type are batch-read.
type ReadSpec struct {
	ObjectType string
	Properties []string
}

// ReadTable dispatches engagement types to their batch-read request.
type ReadTable map[model.EngagementType]ReadSpec

// NewReadTable builds the table from the configured per-type property lists.
func NewReadTable(cfg config.ExportConfig) ReadTable {
	t := make(ReadTable, len(cfg.Engagements))
	for typ, props := range cfg.Engagements {
		t[model.EngagementType(typ)] = ReadSpec{ObjectType: typ, Properties: props}
	}
	return t
}

// Resolver lists a deal's associations of one type and reads the associated objects in chunks.
type Resolver struct {
	Client    hubspot.Client
	Refresher Refresher
	Reads     ReadTable
	ChunkSize int
	// OnFailure, when set, is told about every swallowed failure.
	OnFailure func(dealID string, typ model.EngagementType, stage string, err error)
}

// Resolve never fails. Listing errors yield an empty set; a failed chunk is skipped
// and the objects of the other chunks are kept.
func (r *Resolver) Resolve(ctx context.Context, dealID string, typ model.EngagementType) model.EngagementSet {
	set := model.EmptyEngagementSet()

	var refs []model.AssociationRef
	err := withAuthRetry(ctx, r.Refresher, "list_associations", func() error {
		var err error
		refs, err = r.Client.ListAssociations(ctx, dealID, string(typ))
		return err
	})
	if err != nil {
		logging.Warn("list_associations_failed", map[string]any{"deal_id": dealID, "type": string(typ), "error": err.Error()})
		r.fail(dealID, typ, "list_associations", err)
		return set
	}
	if len(refs) == 0 {
		return set
	}
	set.Associations = refs

	spec, ok := r.Reads[typ]
	if !ok {
		logging.Warn("engagement_type_unknown", map[string]any{"deal_id": dealID, "type": string(typ)})
		return set
	}
	size := r.ChunkSize
	if size <= 0 || size > config.MaxBatchSize {
		size = config.MaxBatchSize
	}
	ids := targetIDs(refs)
	for i := 0; i < len(ids); i += size {
		if ctx.Err() != nil {
			r.fail(dealID, typ, "batch_read", ctx.Err())
			break
		}
		chunk := ids[i:min(i+size, len(ids))]
		var objs []json.RawMessage
		err := withAuthRetry(ctx, r.Refresher, "batch_read", func() error {
			var err error
			objs, err = r.Client.BatchRead(ctx, spec.ObjectType, chunk, spec.Properties)
			return err
		})
		if err != nil {
			metrics.IncBatchReadFailure(string(typ))
			logging.Warn("batch_read_failed", map[string]any{"deal_id": dealID, "type": string(typ), "offset": i, "size": len(chunk), "error": err.Error()})
			r.fail(dealID, typ, "batch_read", err)
			continue
		}
		set.Objects = append(set.Objects, objs...)
	}
	return set
}

func (r *Resolver) fail(dealID string, typ model.EngagementType, stage string, err error) {
	if r.OnFailure != nil {
		r.OnFailure(dealID, typ, stage, err)
	}
}

// targetIDs returns the distinct target ids in association order.
func targetIDs(refs []model.AssociationRef) []string {
	seen := make(map[string]struct{}, len(refs))
	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		if ref.ToObjectID == "" {
			continue
		}
		if _, ok := seen[ref.ToObjectID]; ok {
			continue
		}
		seen[ref.ToObjectID] = struct{}{}
		ids = append(ids, ref.ToObjectID)
	}
	return ids
}
