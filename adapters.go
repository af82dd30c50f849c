package relgraph

import (
	"context"
	"fmt"

	"github.com/brunobiangulo/relgraph/reconcile"
	"github.com/brunobiangulo/relgraph/relation"
	"github.com/brunobiangulo/relgraph/resolve"
	"github.com/brunobiangulo/relgraph/store"
)

// edgeStore exposes the edges table as a reconcile.EdgeStore.
type edgeStore struct {
	s *store.Store
}

var _ reconcile.EdgeStore = edgeStore{}

func (a edgeStore) EdgeBatch(ctx context.Context, after int64, kinds []relation.Label, limit int) ([]reconcile.Edge, error) {
	rows, err := a.s.ScanEdges(ctx, store.EdgeQuery{After: after, Kinds: kinds, Limit: limit})
	if err != nil {
		return nil, err
	}
	out := make([]reconcile.Edge, len(rows))
	for i, r := range rows {
		out[i] = reconcile.Edge{
			ID:         r.ID,
			SourceID:   r.SourceID,
			TargetID:   r.TargetID,
			Kind:       r.Kind,
			Similarity: r.Similarity,
			RawMention: r.RawMention,
			Context:    r.Context,
		}
	}
	return out, nil
}

func (a edgeStore) Apply(ctx context.Context, changes []reconcile.Change) error {
	out := make([]store.EdgeChange, 0, len(changes))
	for _, c := range changes {
		ch := store.EdgeChange{ID: c.EdgeID}
		switch c.Action {
		case reconcile.Promote, reconcile.Demote:
			ch.Op = store.ChangeKind
			ch.Kind = c.Kind
			ch.Confidence = c.Confidence
		case reconcile.Rescore:
			ch.Op = store.ChangeSimilarity
			ch.Similarity = c.Similarity
		case reconcile.Delete:
			ch.Op = store.ChangeDelete
		case reconcile.Keep:
			continue
		default:
			return fmt.Errorf("unknown reconcile action %s", c.Action)
		}
		out = append(out, ch)
	}
	if len(out) == 0 {
		return nil
	}
	return a.s.ApplyEdgeChanges(ctx, out)
}

// vectorIndex answers resolver stage 3 from the vec0 entity table.
type vectorIndex struct {
	s *store.Store
}

var _ resolve.SemanticIndex = vectorIndex{}

func (v vectorIndex) Nearest(ctx context.Context, vec []float32, k int) ([]resolve.Neighbor, error) {
	matches, err := v.s.NearestEntities(ctx, vec, k)
	if err != nil {
		return nil, err
	}
	out := make([]resolve.Neighbor, len(matches))
	for i, m := range matches {
		out[i] = resolve.Neighbor{EntityID: m.CIK, Similarity: m.Similarity}
	}
	return out, nil
}
