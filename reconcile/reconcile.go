// Package reconcile re-evaluates persisted relationship edges against the
// current confidence policy and registry.
//
// A pass walks edges in keyset batches and, for each one, recomputes its
// confidence tier from the stored similarity. Edges are promoted, demoted or
// deleted so that the stored kind always agrees with the policy. Edges whose
// endpoints have left the registry are deleted. A pass that changes nothing
// writes nothing, so running it twice in a row leaves the store unchanged.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/brunobiangulo/relgraph/confidence"
	"github.com/brunobiangulo/relgraph/internal/logging"
	"github.com/brunobiangulo/relgraph/relation"
)

// DefaultBatchSize is used when Options.BatchSize is not positive.
const DefaultBatchSize = 500

// Edge is the part of a persisted edge the reconciler reads.
type Edge struct {
	ID         int64
	SourceID   string
	TargetID   string
	Kind       relation.Label
	Similarity *float64
	RawMention string
	Context    string
}

// Action is what a pass does to one edge.
type Action int

const (
	Keep Action = iota
	Promote
	Demote
	Delete
	Rescore
)

func (a Action) String() string {
	switch a {
	case Keep:
		return "keep"
	case Promote:
		return "promote"
	case Demote:
		return "demote"
	case Delete:
		return "delete"
	case Rescore:
		return "rescore"
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// Change is one mutation. Kind and Confidence are set for Promote and
// Demote, Similarity for Rescore.
type Change struct {
	EdgeID     int64
	Action     Action
	Kind       relation.Label
	Confidence relation.Confidence
	Similarity float64
}

// EdgeStore is the persistence the reconciler needs. EdgeBatch returns up to
// limit edges of the given kinds with id greater than after, in id order.
// Apply writes one batch of changes atomically.
type EdgeStore interface {
	EdgeBatch(ctx context.Context, after int64, kinds []relation.Label, limit int) ([]Edge, error)
	Apply(ctx context.Context, changes []Change) error
}

// Membership reports whether an entity is still known.
type Membership interface {
	Has(id string) bool
}

// Rescorer recomputes the similarity signal of an edge that has none.
type Rescorer interface {
	Rescore(ctx context.Context, e Edge) (float64, error)
}

// RescorerFunc adapts a function to Rescorer.
type RescorerFunc func(ctx context.Context, e Edge) (float64, error)

func (f RescorerFunc) Rescore(ctx context.Context, e Edge) (float64, error) { return f(ctx, e) }

// Options controls a pass.
type Options struct {
	BatchSize int `json:"batch_size" yaml:"batch_size" mapstructure:"batch_size"`
	// DryRun classifies and counts without writing.
	DryRun bool `json:"dry_run" yaml:"dry_run" mapstructure:"dry_run"`
	// Types limits the pass to these relationship types; empty means all.
	Types []relation.Type `json:"-" yaml:"-" mapstructure:"-"`
	// StartAfter resumes after the given edge id.
	StartAfter int64 `json:"start_after" yaml:"start_after" mapstructure:"start_after"`
	// MaxBatches stops the pass early when positive.
	MaxBatches int `json:"max_batches" yaml:"max_batches" mapstructure:"max_batches"`
}

// Report summarises a pass. LastID is the resume cursor.
type Report struct {
	Scanned       int   `json:"scanned"`
	Kept          int   `json:"kept"`
	Promoted      int   `json:"promoted"`
	Demoted       int   `json:"demoted"`
	Deleted       int   `json:"deleted"`
	Orphaned      int   `json:"orphaned"`
	Rescored      int   `json:"rescored"`
	RescoreFailed int   `json:"rescore_failed"`
	Invalid       int   `json:"invalid"`
	Batches       int   `json:"batches"`
	LastID        int64 `json:"last_id"`
	DryRun        bool  `json:"dry_run"`
	Complete      bool  `json:"complete"`
}

// Mutations is the number of changes a pass applied, or would apply in a
// dry run.
func (r Report) Mutations() int {
	return r.Promoted + r.Demoted + r.Deleted + r.Orphaned + r.Rescored
}

// Reconciler runs passes. It holds no state between passes.
type Reconciler struct {
	store    EdgeStore
	policy   *confidence.Policy
	entities Membership
	rescorer Rescorer
	logger   *slog.Logger
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithRescorer fills missing similarity signals before classification.
func WithRescorer(r Rescorer) Option {
	return func(rc *Reconciler) { rc.rescorer = r }
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(rc *Reconciler) { rc.logger = l }
}

// ErrMissingDependency is returned by New when a required collaborator is nil.
var ErrMissingDependency = errors.New("reconcile: missing dependency")

// New builds a Reconciler.
func New(store EdgeStore, policy *confidence.Policy, entities Membership, opts ...Option) (*Reconciler, error) {
	switch {
	case store == nil:
		return nil, fmt.Errorf("%w: edge store", ErrMissingDependency)
	case policy == nil:
		return nil, fmt.Errorf("%w: confidence policy", ErrMissingDependency)
	case entities == nil:
		return nil, fmt.Errorf("%w: entity registry", ErrMissingDependency)
	}
	r := &Reconciler{store: store, policy: policy, entities: entities}
	for _, o := range opts {
		o(r)
	}
	if r.logger == nil {
		r.logger = logging.New("reconcile")
	}
	return r, nil
}

// Kinds returns the stored labels governed by types, fact label first.
func Kinds(types []relation.Type) []relation.Label {
	if len(types) == 0 {
		types = relation.All()
	}
	kinds := make([]relation.Label, 0, 2*len(types))
	for _, t := range types {
		kinds = append(kinds, t.Label(), t.CandidateLabel())
	}
	return kinds
}

// Run performs one pass. On error the report covers the batches that were
// committed, and LastID can be passed back as StartAfter to resume.
func (r *Reconciler) Run(ctx context.Context, opts Options) (Report, error) {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	kinds := Kinds(opts.Types)
	rep := Report{LastID: opts.StartAfter, DryRun: opts.DryRun}

	for opts.MaxBatches <= 0 || rep.Batches < opts.MaxBatches {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		edges, err := r.store.EdgeBatch(ctx, rep.LastID, kinds, batchSize)
		if err != nil {
			return rep, fmt.Errorf("reading batch after %d: %w", rep.LastID, err)
		}
		if len(edges) == 0 {
			rep.Complete = true
			break
		}

		batch := Report{}
		var changes []Change
		for _, e := range edges {
			changes = append(changes, r.evaluate(ctx, e, &batch)...)
		}
		if !opts.DryRun && len(changes) > 0 {
			if err := r.store.Apply(ctx, changes); err != nil {
				return rep, fmt.Errorf("applying batch after %d: %w", rep.LastID, err)
			}
		}

		rep.add(batch)
		rep.Batches++
		rep.LastID = edges[len(edges)-1].ID
		r.logger.Debug("batch reconciled",
			"batch", rep.Batches, "edges", len(edges), "changes", len(changes), "last_id", rep.LastID)

		if len(edges) < batchSize {
			rep.Complete = true
			break
		}
	}

	r.logger.Info("reconciliation finished",
		"scanned", rep.Scanned, "promoted", rep.Promoted, "demoted", rep.Demoted,
		"deleted", rep.Deleted, "orphaned", rep.Orphaned, "rescored", rep.Rescored,
		"dry_run", rep.DryRun, "complete", rep.Complete, "last_id", rep.LastID)
	return rep, nil
}

// evaluate decides what happens to one edge and returns the changes to
// apply. At most one rescore and one relabel or delete are produced.
func (r *Reconciler) evaluate(ctx context.Context, e Edge, rep *Report) []Change {
	rep.Scanned++

	typ, stored, err := relation.ParseLabel(e.Kind)
	if err != nil {
		// Kinds filter makes this unreachable unless the store misbehaves.
		rep.Invalid++
		r.logger.Warn("skipping edge with unknown kind", "edge_id", e.ID, "kind", e.Kind)
		return nil
	}

	if !r.entities.Has(e.SourceID) || !r.entities.Has(e.TargetID) {
		rep.Orphaned++
		r.logger.Info("deleting orphaned edge",
			"edge_id", e.ID, "source", e.SourceID, "target", e.TargetID, "kind", e.Kind)
		return []Change{{EdgeID: e.ID, Action: Delete}}
	}

	var changes []Change
	sim := e.Similarity
	if sim == nil && r.rescorer != nil {
		v, err := r.rescorer.Rescore(ctx, e)
		if err != nil {
			// Leave the edge alone; a later pass retries.
			rep.RescoreFailed++
			rep.Kept++
			r.logger.Warn("rescoring edge failed", "edge_id", e.ID, "error", err)
			return nil
		}
		sim = &v
		changes = append(changes, Change{EdgeID: e.ID, Action: Rescore, Similarity: v})
	}

	current, err := r.policy.Classify(typ, sim)
	if err != nil {
		rep.Invalid++
		r.logger.Warn("skipping edge without thresholds", "edge_id", e.ID, "kind", e.Kind, "error", err)
		return nil
	}
	if current == relation.Low {
		rep.Deleted++
		return []Change{{EdgeID: e.ID, Action: Delete}}
	}
	if len(changes) > 0 {
		rep.Rescored++
	}
	if current == stored {
		rep.Kept++
		return changes
	}

	label, _ := typ.EdgeLabel(current)
	action := Demote
	if current == relation.High {
		action = Promote
		rep.Promoted++
	} else {
		rep.Demoted++
	}
	return append(changes, Change{EdgeID: e.ID, Action: action, Kind: label, Confidence: current})
}

func (r *Report) add(b Report) {
	r.Scanned += b.Scanned
	r.Kept += b.Kept
	r.Promoted += b.Promoted
	r.Demoted += b.Demoted
	r.Deleted += b.Deleted
	r.Orphaned += b.Orphaned
	r.Rescored += b.Rescored
	r.RescoreFailed += b.RescoreFailed
	r.Invalid += b.Invalid
}
