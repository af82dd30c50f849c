package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/brunobiangulo/relgraph/relation"
)

// Edge represents a row in the edges table. (SourceID, TargetID, Type) is
// the natural key.
type Edge struct {
	ID            int64               `json:"id"`
	SourceID      string              `json:"source_id"`
	TargetID      string              `json:"target_id"`
	Type          relation.Type       `json:"type"`
	Kind          relation.Label      `json:"kind"`
	Confidence    relation.Confidence `json:"confidence"`
	Similarity    *float64            `json:"similarity,omitempty"`
	LLMVerified   *bool               `json:"llm_verified,omitempty"`
	RawMention    string              `json:"raw_mention"`
	Context       string              `json:"context"`
	DecisionTier  int                 `json:"decision_tier"`
	Reasoning     string              `json:"reasoning"`
	FilingID      *int64              `json:"filing_id,omitempty"`
	ExtractedAt   time.Time           `json:"extracted_at"`
	ConvertedFrom relation.Label      `json:"converted_from,omitempty"`
	ConvertedAt   *time.Time          `json:"converted_at,omitempty"`
}

// EdgeQuery selects edges in id order. Zero fields do not filter.
type EdgeQuery struct {
	After    int64
	Kinds    []relation.Label
	SourceID string
	Limit    int
}

// ChangeOp is the kind of mutation an EdgeChange applies.
type ChangeOp int

const (
	// ChangeKind relabels an edge and records the previous kind.
	ChangeKind ChangeOp = iota + 1
	// ChangeSimilarity stores a recomputed similarity.
	ChangeSimilarity
	// ChangeDelete removes the edge.
	ChangeDelete
)

// EdgeChange is one mutation applied by ApplyEdgeChanges.
type EdgeChange struct {
	ID         int64
	Op         ChangeOp
	Kind       relation.Label
	Confidence relation.Confidence
	Similarity float64
}

var edgeColumns = []string{
	"id", "source_id", "target_id", "relation", "kind", "confidence",
	"similarity", "llm_verified", "COALESCE(raw_mention, '')", "COALESCE(context, '')",
	"COALESCE(decision_tier, 0)", "COALESCE(reasoning, '')", "filing_id", "extracted_at",
	"COALESCE(converted_from, '')", "converted_at",
}

// UpsertEdge inserts an edge or overwrites the one with the same natural
// key, returning its id. The reconciler provenance columns are cleared,
// since the edge now reflects a fresh decision.
func (s *Store) UpsertEdge(ctx context.Context, e Edge) (int64, error) {
	if !e.Type.Valid() {
		return 0, fmt.Errorf("upserting edge: invalid relationship type %d", int(e.Type))
	}
	extractedAt := e.ExtractedAt
	if extractedAt.IsZero() {
		extractedAt = time.Now().UTC()
	}

	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO edges (source_id, target_id, relation, kind, confidence, similarity, llm_verified,
			raw_mention, context, decision_tier, reasoning, filing_id, extracted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id, target_id, relation) DO UPDATE SET
			kind = excluded.kind,
			confidence = excluded.confidence,
			similarity = excluded.similarity,
			llm_verified = excluded.llm_verified,
			raw_mention = excluded.raw_mention,
			context = excluded.context,
			decision_tier = excluded.decision_tier,
			reasoning = excluded.reasoning,
			filing_id = excluded.filing_id,
			extracted_at = excluded.extracted_at,
			converted_from = NULL,
			converted_at = NULL
		RETURNING id
	`, e.SourceID, e.TargetID, e.Type.String(), string(e.Kind), e.Confidence.String(),
		nullFloat(e.Similarity), nullBool(e.LLMVerified), e.RawMention, e.Context,
		e.DecisionTier, e.Reasoning, nullInt(e.FilingID), extractedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upserting edge %s->%s: %w", e.SourceID, e.TargetID, err)
	}
	return id, nil
}

// GetEdge looks an edge up by its natural key.
func (s *Store) GetEdge(ctx context.Context, sourceID, targetID string, typ relation.Type) (*Edge, error) {
	query, args, err := sq.Select(edgeColumns...).From("edges").
		Where(sq.Eq{"source_id": sourceID, "target_id": targetID, "relation": typ.String()}).
		ToSql()
	if err != nil {
		return nil, err
	}
	e, err := scanEdge(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("edge %s-%s->%s: %w", sourceID, typ, targetID, ErrNotFound)
	}
	return e, err
}

// ScanEdges returns up to q.Limit edges with id greater than q.After, in id
// order. Callers page by passing the last id back as After.
func (s *Store) ScanEdges(ctx context.Context, q EdgeQuery) ([]Edge, error) {
	b := sq.Select(edgeColumns...).From("edges").
		Where(sq.Gt{"id": q.After}).
		OrderBy("id")
	if len(q.Kinds) > 0 {
		kinds := make([]string, len(q.Kinds))
		for i, k := range q.Kinds {
			kinds[i] = string(k)
		}
		b = b.Where(sq.Eq{"kind": kinds})
	}
	if q.SourceID != "" {
		b = b.Where(sq.Eq{"source_id": q.SourceID})
	}
	if q.Limit > 0 {
		b = b.Limit(uint64(q.Limit))
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scanning edges: %w", err)
	}
	defer rows.Close()

	var out []Edge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// CountEdgesByKind returns the number of stored edges per kind label.
func (s *Store) CountEdgesByKind(ctx context.Context) (map[relation.Label]int, error) {
	query, args, err := sq.Select("kind", "COUNT(*)").From("edges").GroupBy("kind").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[relation.Label]int)
	for rows.Next() {
		var (
			kind string
			n    int
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		out[relation.Label(kind)] = n
	}
	return out, rows.Err()
}

// ApplyEdgeChanges applies a batch of mutations in a single transaction.
func (s *Store) ApplyEdgeChanges(ctx context.Context, changes []EdgeChange) error {
	if len(changes) == 0 {
		return nil
	}
	now := time.Now().UTC()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, c := range changes {
			var b sq.Sqlizer
			switch c.Op {
			case ChangeKind:
				b = sq.Update("edges").
					Set("converted_from", sq.Expr("kind")).
					Set("converted_at", now).
					Set("kind", string(c.Kind)).
					Set("confidence", c.Confidence.String()).
					Where(sq.Eq{"id": c.ID})
			case ChangeSimilarity:
				b = sq.Update("edges").Set("similarity", c.Similarity).Where(sq.Eq{"id": c.ID})
			case ChangeDelete:
				b = sq.Delete("edges").Where(sq.Eq{"id": c.ID})
			default:
				return fmt.Errorf("edge %d: unknown change op %d", c.ID, c.Op)
			}
			query, args, err := b.ToSql()
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("applying change to edge %d: %w", c.ID, err)
			}
		}
		return nil
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEdge(row rowScanner) (*Edge, error) {
	var (
		e            Edge
		rel, kind    string
		conf, convFr string
		similarity   sql.NullFloat64
		verified     sql.NullBool
		filingID     sql.NullInt64
		convertedAt  sql.NullTime
	)
	if err := row.Scan(&e.ID, &e.SourceID, &e.TargetID, &rel, &kind, &conf,
		&similarity, &verified, &e.RawMention, &e.Context, &e.DecisionTier, &e.Reasoning,
		&filingID, &e.ExtractedAt, &convFr, &convertedAt); err != nil {
		return nil, err
	}

	typ, err := relation.ParseType(rel)
	if err != nil {
		return nil, fmt.Errorf("edge %d: %w", e.ID, err)
	}
	e.Type = typ
	e.Kind = relation.Label(kind)
	if e.Confidence, err = relation.ParseConfidence(conf); err != nil {
		return nil, fmt.Errorf("edge %d: %w", e.ID, err)
	}
	e.ConvertedFrom = relation.Label(convFr)
	if similarity.Valid {
		e.Similarity = &similarity.Float64
	}
	if verified.Valid {
		e.LLMVerified = &verified.Bool
	}
	if filingID.Valid {
		e.FilingID = &filingID.Int64
	}
	if convertedAt.Valid {
		e.ConvertedAt = &convertedAt.Time
	}
	return &e, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullBool(v *bool) sql.NullBool {
	if v == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *v, Valid: true}
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
