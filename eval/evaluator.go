// Package eval measures the extraction pipeline against reviewed mentions:
// each case is judged by the engine and compared with its label.
package eval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/brunobiangulo/relgraph"
	"github.com/brunobiangulo/relgraph/decision"
	"github.com/brunobiangulo/relgraph/registry"
	"github.com/brunobiangulo/relgraph/relation"
)

// Judge is the part of relgraph.Engine the evaluator needs.
type Judge interface {
	Judge(ctx context.Context, m relgraph.Mention) (*relgraph.Judgement, error)
	Registry() *registry.Registry
}

// Rejection reasons that do not come from a decision tier.
const (
	ReasonUnresolved    = "unresolved"
	ReasonSelfReference = "self reference"
	ReasonBelowMedium   = "accepted below medium"
)

// Evaluator runs datasets through a Judge.
type Evaluator struct {
	judge       Judge
	concurrency int
}

// NewEvaluator creates an evaluator. concurrency below 1 runs cases one at
// a time.
func NewEvaluator(judge Judge, concurrency int) *Evaluator {
	return &Evaluator{judge: judge, concurrency: max(concurrency, 1)}
}

// Report holds the results of one evaluation run.
type Report struct {
	Dataset  string               `json:"dataset"`
	Total    int                  `json:"total"`
	Errors   int                  `json:"errors"`
	Overall  Confusion            `json:"overall"`
	ByType   map[string]Confusion `json:"by_type"`
	Rejected map[string]int       `json:"rejected"` // by reason
	Results  []CaseResult         `json:"results"`
	Elapsed  time.Duration        `json:"elapsed"`
}

// CaseResult is the outcome of one case.
type CaseResult struct {
	Index     int            `json:"index"`
	Case      Case           `json:"case"`
	Accepted  bool           `json:"accepted"`
	Label     relation.Label `json:"label,omitempty"`
	Tier      int            `json:"tier,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Reasoning string         `json:"reasoning,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Passed reports whether the outcome matches the reviewer label.
func (r CaseResult) Passed() bool {
	return r.Error == "" && r.Accepted == r.Case.Correct()
}

// Run judges every labelled case. Case errors are recorded in the report;
// only cancellation of ctx aborts the run.
func (e *Evaluator) Run(ctx context.Context, ds Dataset) (*Report, error) {
	start := time.Now()
	results := make([]CaseResult, len(ds.Cases))
	var done int
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, c := range ds.Cases {
		g.Go(func() error {
			r := e.runCase(gctx, c)
			r.Index = i
			if r.Error != "" && gctx.Err() != nil {
				return gctx.Err()
			}
			results[i] = r

			mu.Lock()
			done++
			n := done
			mu.Unlock()
			slog.Debug("eval: case complete",
				"progress", fmt.Sprintf("%d/%d", n, len(ds.Cases)),
				"label", c.Label, "accepted", r.Accepted, "reason", r.Reason,
				"mention", c.Mention)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	rep := &Report{
		Dataset:  ds.Name,
		Total:    len(ds.Cases),
		ByType:   make(map[string]Confusion),
		Rejected: make(map[string]int),
		Results:  results,
		Elapsed:  time.Since(start),
	}
	for _, r := range results {
		if r.Error != "" {
			rep.Errors++
			continue
		}
		correct := r.Case.Correct()
		rep.Overall.add(correct, r.Accepted)
		typ := typeKey(r.Case.Type)
		c := rep.ByType[typ]
		c.add(correct, r.Accepted)
		rep.ByType[typ] = c
		if !r.Accepted {
			rep.Rejected[r.Reason]++
		}
	}

	slog.Info("eval: run complete",
		"dataset", ds.Name, "cases", rep.Total, "errors", rep.Errors,
		"precision", fmt.Sprintf("%.3f", rep.Overall.Precision()),
		"recall", fmt.Sprintf("%.3f", rep.Overall.Recall()),
		"elapsed", rep.Elapsed.Round(time.Millisecond))
	return rep, nil
}

func (e *Evaluator) runCase(ctx context.Context, c Case) CaseResult {
	res := CaseResult{Case: c}
	m, err := e.mention(c)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	j, err := e.judge.Judge(ctx, m)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	res.Tier = j.Decision.Tier
	res.Reasoning = j.Decision.Reasoning
	res.Label = j.Label
	res.Accepted = j.Persisted()
	switch {
	case j.Resolved == nil:
		res.Reason = ReasonUnresolved
	case j.SelfReference:
		res.Reason = ReasonSelfReference
	case res.Accepted:
	case j.Decision.Verdict == decision.Accept:
		res.Reason = ReasonBelowMedium
	default:
		res.Reason = fmt.Sprintf("tier %d", j.Decision.Tier)
	}
	return res
}

// mention maps a case onto engine ids. Tickers are looked up in the
// registry when no id is given.
func (e *Evaluator) mention(c Case) (relgraph.Mention, error) {
	typ, err := relation.ParseType(strings.TrimSpace(c.Type))
	if err != nil {
		return relgraph.Mention{}, err
	}
	reg := e.judge.Registry()
	source, err := lookup(reg, c.SourceID, c.SourceTicker)
	if err != nil {
		return relgraph.Mention{}, fmt.Errorf("source: %w", err)
	}
	if source == "" {
		return relgraph.Mention{}, errors.New("source: no id or ticker")
	}
	// An unknown target ticker falls back to resolving the mention.
	target, _ := lookup(reg, c.TargetID, c.TargetTicker)
	return relgraph.Mention{
		CompanyID: source,
		Sentence:  c.Context,
		Text:      c.Mention,
		Type:      typ,
		TargetID:  target,
	}, nil
}

func lookup(reg *registry.Registry, id, ticker string) (string, error) {
	if id != "" {
		return id, nil
	}
	if ticker == "" {
		return "", nil
	}
	ents := reg.ByTicker(ticker)
	if len(ents) == 0 {
		return "", fmt.Errorf("unknown ticker %q", ticker)
	}
	return ents[0].ID, nil
}

// typeKey normalizes a case type to its fact label for grouping.
func typeKey(s string) string {
	if t, err := relation.ParseType(strings.TrimSpace(s)); err == nil {
		return string(t.Label())
	}
	return s
}

// Types returns the ByType keys in sorted order.
func (r *Report) Types() []string {
	out := make([]string, 0, len(r.ByType))
	for k := range r.ByType {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Reasons returns the rejection reasons, most frequent first.
func (r *Report) Reasons() []string {
	out := make([]string, 0, len(r.Rejected))
	for k := range r.Rejected {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if r.Rejected[out[i]] != r.Rejected[out[j]] {
			return r.Rejected[out[i]] > r.Rejected[out[j]]
		}
		return out[i] < out[j]
	})
	return out
}
