package relgraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/brunobiangulo/relgraph/decision"
	"github.com/brunobiangulo/relgraph/filing"
	"github.com/brunobiangulo/relgraph/registry"
	"github.com/brunobiangulo/relgraph/relation"
	"github.com/brunobiangulo/relgraph/store"
)

// Counts are the per-stage tallies of one or more filings.
type Counts struct {
	Sentences      int `json:"sentences"`
	Candidates     int `json:"candidates"`
	Unresolved     int `json:"unresolved"`
	SelfReferences int `json:"self_references"`

	// Decisions by the tier that made them, index 0 is Tier 1.
	Tiers                  [4]decision.TierCounts `json:"tiers"`
	EscalatedWithoutSignal int                    `json:"escalated_without_signal"`

	// AcceptedLow counts accepted candidates whose similarity classified
	// as LOW. They are not persisted.
	AcceptedLow    int `json:"accepted_low"`
	Facts          int `json:"facts"`
	CandidateEdges int `json:"candidate_edges"`
}

// Accepted is the number of ACCEPT decisions.
func (c Counts) Accepted() int {
	n := 0
	for _, t := range c.Tiers {
		n += int(t.Accepted)
	}
	return n
}

// Rejected is the number of REJECT decisions, including fail-closed ones.
func (c Counts) Rejected() int {
	n := 0
	for _, t := range c.Tiers {
		n += int(t.Rejected)
	}
	return n
}

func (c *Counts) add(o Counts) {
	c.Sentences += o.Sentences
	c.Candidates += o.Candidates
	c.Unresolved += o.Unresolved
	c.SelfReferences += o.SelfReferences
	for i := range c.Tiers {
		c.Tiers[i].Accepted += o.Tiers[i].Accepted
		c.Tiers[i].Rejected += o.Tiers[i].Rejected
	}
	c.EscalatedWithoutSignal += o.EscalatedWithoutSignal
	c.AcceptedLow += o.AcceptedLow
	c.Facts += o.Facts
	c.CandidateEdges += o.CandidateEdges
}

// FilingResult is the outcome of one filing.
type FilingResult struct {
	Path      string        `json:"path,omitempty"`
	CompanyID string        `json:"company_id"`
	FilingID  int64         `json:"filing_id,omitempty"`
	Skipped   bool          `json:"skipped"`
	Counts    Counts        `json:"counts"`
	Edges     []store.Edge  `json:"edges,omitempty"`
	Elapsed   time.Duration `json:"elapsed"`
}

// FilingFailure records a filing that could not be processed.
type FilingFailure struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// Summary aggregates a batch of filings.
type Summary struct {
	Filings   int             `json:"filings"`
	Processed int             `json:"processed"`
	Skipped   int             `json:"skipped"`
	Failed    int             `json:"failed"`
	Counts    Counts          `json:"counts"`
	Failures  []FilingFailure `json:"failures,omitempty"`
	Elapsed   time.Duration   `json:"elapsed"`
}

// ProcessFiling runs one filing through parse, extract, resolve, decide,
// classify and persist.
func (e *engine) ProcessFiling(ctx context.Context, path, companyID string, opts ...ProcessOption) (*FilingResult, error) {
	options := &processOptions{}
	for _, o := range opts {
		o(options)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}

	snap := e.snapshot()
	source, ok := snap.reg.Get(companyID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCompany, companyID)
	}

	start := time.Now()
	hash, err := fileHash(absPath)
	if err != nil {
		return nil, fmt.Errorf("hashing file: %w", err)
	}

	// Check if the filing was already processed with the same content
	existing, err := e.store.GetFilingByPath(ctx, absPath)
	switch {
	case err == nil:
		if !options.force && existing.ContentHash == hash && existing.Status == store.FilingProcessed {
			slog.Info("extract: filing unchanged, skipping", "path", absPath, "filing_id", existing.ID)
			return &FilingResult{Path: absPath, CompanyID: companyID, FilingID: existing.ID, Skipped: true}, nil
		}
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("looking up filing: %w", err)
	}

	filingID, err := e.store.UpsertFiling(ctx, store.Filing{
		Path:        absPath,
		CompanyID:   companyID,
		Format:      filing.FormatOf(absPath),
		ContentHash: hash,
		Status:      store.FilingPending,
	})
	if err != nil {
		return nil, fmt.Errorf("recording filing: %w", err)
	}

	fail := func(err error) (*FilingResult, error) {
		// Status is best effort; ctx may already be done.
		if uerr := e.store.UpdateFilingStatus(context.WithoutCancel(ctx), filingID, store.FilingFailed); uerr != nil {
			slog.Warn("extract: marking filing failed", "filing_id", filingID, "error", uerr)
		}
		return nil, err
	}

	parseStart := time.Now()
	slog.Info("extract: parsing filing", "path", absPath, "company", companyID)
	doc, err := e.parsers.Parse(ctx, absPath)
	if err != nil {
		return fail(fmt.Errorf("%w: %w", ErrParsingFailed, err))
	}
	sentences := doc.Sentences(e.cfg.Extraction.SectionsOnly)
	slog.Info("extract: parsing complete",
		"path", absPath, "sections", len(doc.Sections), "sentences", len(sentences),
		"elapsed", time.Since(parseStart).Round(time.Millisecond))

	res, err := e.processSentences(ctx, snap, source, sentences, &filingID)
	if err != nil {
		return fail(err)
	}
	if err := e.store.UpdateFilingStatus(ctx, filingID, store.FilingProcessed); err != nil {
		return nil, fmt.Errorf("updating filing status: %w", err)
	}

	res.Path = absPath
	res.FilingID = filingID
	res.Elapsed = time.Since(start)
	slog.Info("extract: filing complete",
		"path", absPath, "candidates", res.Counts.Candidates,
		"facts", res.Counts.Facts, "candidate_edges", res.Counts.CandidateEdges,
		"elapsed", res.Elapsed.Round(time.Millisecond))
	return res, nil
}

// ProcessText runs the pipeline over text attributed to companyID.
func (e *engine) ProcessText(ctx context.Context, companyID, text string) (*FilingResult, error) {
	snap := e.snapshot()
	source, ok := snap.reg.Get(companyID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCompany, companyID)
	}
	start := time.Now()
	doc := &filing.Document{Text: text, Sections: filing.Items(text)}
	res, err := e.processSentences(ctx, snap, source, doc.Sentences(e.cfg.Extraction.SectionsOnly), nil)
	if err != nil {
		return nil, err
	}
	res.Elapsed = time.Since(start)
	return res, nil
}

// ProcessFilings fans filings out over a bounded worker group. Only
// cancellation of ctx aborts the batch.
func (e *engine) ProcessFilings(ctx context.Context, jobs []FilingJob, opts ...ProcessOption) (*Summary, error) {
	start := time.Now()
	sum := &Summary{Filings: len(jobs)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(e.cfg.Concurrency, 1))

	for _, job := range jobs {
		g.Go(func() error {
			fctx := gctx
			if e.cfg.FilingTimeout > 0 {
				var cancel context.CancelFunc
				fctx, cancel = context.WithTimeout(gctx, e.cfg.FilingTimeout)
				defer cancel()
			}

			res, err := e.ProcessFiling(fctx, job.Path, job.CompanyID, opts...)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if isCancellation(gctx, err) {
					return err
				}
				sum.Failed++
				sum.Failures = append(sum.Failures, FilingFailure{Path: job.Path, Error: err.Error()})
				slog.Error("extract: filing failed", "path", job.Path, "company", job.CompanyID, "error", err)
				return nil
			}
			if res.Skipped {
				sum.Skipped++
				return nil
			}
			sum.Processed++
			sum.Counts.add(res.Counts)
			return nil
		})
	}

	err := g.Wait()
	sort.Slice(sum.Failures, func(i, j int) bool { return sum.Failures[i].Path < sum.Failures[j].Path })
	sum.Elapsed = time.Since(start)
	slog.Info("extract: batch complete",
		"filings", sum.Filings, "processed", sum.Processed, "skipped", sum.Skipped,
		"failed", sum.Failed, "facts", sum.Counts.Facts, "candidate_edges", sum.Counts.CandidateEdges,
		"elapsed", sum.Elapsed.Round(time.Millisecond))
	return sum, err
}

type edgeKey struct {
	target string
	typ    relation.Type
}

// processSentences decides every candidate and persists the best edge per
// (target, type). A later, weaker mention never overwrites a stronger one
// from the same filing.
func (e *engine) processSentences(ctx context.Context, snap *snapshot, source registry.Entity, sentences []string, filingID *int64) (*FilingResult, error) {
	res := &FilingResult{CompanyID: source.ID}
	c := &res.Counts
	best := make(map[edgeKey]store.Edge)

	for _, sentence := range sentences {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c.Sentences++

		for _, cand := range e.extractor.Extract(sentence) {
			c.Candidates++

			j := e.judge(ctx, snap, source, cand)
			switch {
			case j.Resolved == nil:
				c.Unresolved++
				continue
			case j.SelfReference:
				c.SelfReferences++
				continue
			}
			if j.EscalatedWithoutSignal {
				c.EscalatedWithoutSignal++
			}
			if j.Decision.Verdict != decision.Accept {
				c.Tiers[j.Decision.Tier-1].Rejected++
				continue
			}
			c.Tiers[j.Decision.Tier-1].Accepted++

			if !j.Persisted() {
				c.AcceptedLow++
				slog.Debug("extract: accepted below medium threshold",
					"mention", cand.Mention, "entity", j.Resolved.EntityID, "type", cand.Type.String())
				continue
			}

			edge := j.edge(source.ID, cand, filingID)
			key := edgeKey{target: edge.TargetID, typ: cand.Type}
			if prev, seen := best[key]; !seen || stronger(edge, prev) {
				best[key] = edge
			}
		}
	}

	keys := make([]edgeKey, 0, len(best))
	for k := range best {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].target != keys[j].target {
			return keys[i].target < keys[j].target
		}
		return keys[i].typ < keys[j].typ
	})

	for _, k := range keys {
		edge := best[k]
		id, err := e.store.UpsertEdge(ctx, edge)
		if err != nil {
			return nil, fmt.Errorf("storing edge %s -> %s: %w", edge.SourceID, edge.TargetID, err)
		}
		edge.ID = id
		res.Edges = append(res.Edges, edge)
		if edge.Confidence == relation.High {
			c.Facts++
		} else {
			c.CandidateEdges++
		}
	}
	return res, nil
}

// stronger orders edges by confidence tier, then similarity.
func stronger(a, b store.Edge) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	switch {
	case a.Similarity == nil:
		return false
	case b.Similarity == nil:
		return true
	}
	return *a.Similarity > *b.Similarity
}
