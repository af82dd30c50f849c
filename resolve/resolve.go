// Package resolve maps company mentions to registry entities.
//
// Resolution is staged cheapest-first:
//
//  1. exact name or alias, ticker, and normalized name (suffixes stripped)
//  2. character-level similarity against every name variant
//  3. semantic similarity between the mention in context and entity
//     description embeddings
//
// The first stage that produces a match wins. Within a stage the highest
// similarity wins, then the shorter canonical name, then the lower id.
package resolve

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/brunobiangulo/relgraph/embedding"
	"github.com/brunobiangulo/relgraph/extract"
	"github.com/brunobiangulo/relgraph/registry"
)

// Method records how a mention was resolved.
type Method string

const (
	MethodExact      Method = "exact"
	MethodTicker     Method = "ticker"
	MethodNormalized Method = "normalized"
	MethodFuzzy      Method = "fuzzy"
	MethodSemantic   Method = "semantic"
)

// Stage returns the resolution stage (1-3) the method belongs to.
func (m Method) Stage() int {
	switch m {
	case MethodFuzzy:
		return 2
	case MethodSemantic:
		return 3
	default:
		return 1
	}
}

// Resolved is a successful resolution.
type Resolved struct {
	EntityID   string  `json:"entity_id"`
	Name       string  `json:"name"`
	Ticker     string  `json:"ticker,omitempty"`
	Method     Method  `json:"method"`
	Similarity float64 `json:"similarity"`
	// Confirmed is set when a character-level match was backed by the
	// semantic stage.
	Confirmed bool `json:"confirmed,omitempty"`
}

// Neighbor is a semantic index hit.
type Neighbor struct {
	EntityID   string
	Similarity float64
}

// SemanticIndex finds the entities whose description vectors are nearest to
// vec.
type SemanticIndex interface {
	Nearest(ctx context.Context, vec []float32, k int) ([]Neighbor, error)
}

// Options configures a Resolver. It is copied at construction and never
// mutated afterwards.
type Options struct {
	FuzzyFloor    float64  `json:"fuzzy_floor" yaml:"fuzzy_floor" mapstructure:"fuzzy_floor"`
	SemanticFloor float64  `json:"semantic_floor" yaml:"semantic_floor" mapstructure:"semantic_floor"`
	SemanticK     int      `json:"semantic_k" yaml:"semantic_k" mapstructure:"semantic_k"`
	MaxContext    int      `json:"max_context" yaml:"max_context" mapstructure:"max_context"`
	GenericWords  []string `json:"generic_words" yaml:"generic_words" mapstructure:"generic_words"`

	// Semantic stage collaborators; both are required for stage 3.
	Embedder embedding.Embedder `json:"-" yaml:"-" mapstructure:"-"`
	Index    SemanticIndex      `json:"-" yaml:"-" mapstructure:"-"`
}

// DefaultGenericWords are company names that are also common words.
func DefaultGenericWords() []string {
	return []string{"target", "master", "apple", "amazon", "google", "microsoft", "oracle", "shell", "visa", "gap", "ball", "block", "meta", "square", "delta", "crown"}
}

// DefaultOptions returns the production settings.
func DefaultOptions() Options {
	return Options{
		FuzzyFloor:    0.85,
		SemanticFloor: 0.30,
		SemanticK:     5,
		MaxContext:    embedding.DefaultMaxContext,
		GenericWords:  DefaultGenericWords(),
	}
}

// Resolver resolves mentions against an immutable registry snapshot. It is
// safe for concurrent use.
type Resolver struct {
	reg     *registry.Registry
	opts    Options
	generic map[string]bool
}

// New creates a Resolver. Zero option values fall back to defaults.
func New(reg *registry.Registry, opts Options) *Resolver {
	def := DefaultOptions()
	if opts.FuzzyFloor <= 0 {
		opts.FuzzyFloor = def.FuzzyFloor
	}
	if opts.SemanticFloor <= 0 {
		opts.SemanticFloor = def.SemanticFloor
	}
	if opts.SemanticK <= 0 {
		opts.SemanticK = def.SemanticK
	}
	if opts.MaxContext <= 0 {
		opts.MaxContext = def.MaxContext
	}
	if opts.GenericWords == nil {
		opts.GenericWords = def.GenericWords
	}
	generic := make(map[string]bool, len(opts.GenericWords))
	for _, w := range opts.GenericWords {
		generic[strings.ToLower(w)] = true
	}
	opts.GenericWords = append([]string(nil), opts.GenericWords...)
	return &Resolver{reg: reg, opts: opts, generic: generic}
}

// IsGeneric reports whether mention is a configured generic word.
func (r *Resolver) IsGeneric(mention string) bool {
	return r.generic[strings.ToLower(strings.TrimSpace(mention))]
}

// ResolveCandidate resolves an extracted candidate.
func (r *Resolver) ResolveCandidate(ctx context.Context, c extract.Candidate) (Resolved, bool) {
	return r.Resolve(ctx, c.Mention, c.Sentence)
}

// Resolve maps mention, seen in sentence, to at most one entity.
//
// Generic mentions ("Target", "Apple") resolve only through stage 1, or
// through a stage-2 match that the semantic stage confirms. A bare semantic
// hit is never enough for them.
func (r *Resolver) Resolve(ctx context.Context, mention, sentence string) (Resolved, bool) {
	m := strings.TrimSpace(mention)
	if m == "" || r.reg == nil || r.reg.Len() == 0 {
		return Resolved{}, false
	}
	generic := r.IsGeneric(m)
	if first, _ := utf8.DecodeRuneInString(m); generic && unicode.IsLower(first) {
		return Resolved{}, false
	}

	if res, ok := r.lexical(m); ok {
		return res, true
	}

	fuzzy, fuzzyOK := r.fuzzy(m)
	if fuzzyOK && !generic {
		return fuzzy, true
	}
	if !r.semanticEnabled() {
		return Resolved{}, false
	}

	neighbors := r.semantic(ctx, m, sentence)
	if fuzzyOK {
		for _, n := range neighbors {
			if n.EntityID == fuzzy.EntityID {
				fuzzy.Confirmed = true
				return fuzzy, true
			}
		}
		return Resolved{}, false
	}
	if generic || len(neighbors) == 0 {
		return Resolved{}, false
	}

	best := neighbors[0]
	e, _ := r.reg.Get(best.EntityID)
	return Resolved{
		EntityID:   e.ID,
		Name:       e.Name,
		Ticker:     e.Ticker,
		Method:     MethodSemantic,
		Similarity: best.Similarity,
	}, true
}

type scored struct {
	entity registry.Entity
	method Method
	sim    float64
}

// rank orders candidates by the within-stage tie-break.
func rank(cands []scored) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.sim != b.sim {
			return a.sim > b.sim
		}
		if len(a.entity.Name) != len(b.entity.Name) {
			return len(a.entity.Name) < len(b.entity.Name)
		}
		return a.entity.ID < b.entity.ID
	})
}

func pick(cands []scored) (Resolved, bool) {
	if len(cands) == 0 {
		return Resolved{}, false
	}
	rank(cands)
	c := cands[0]
	return Resolved{
		EntityID:   c.entity.ID,
		Name:       c.entity.Name,
		Ticker:     c.entity.Ticker,
		Method:     c.method,
		Similarity: c.sim,
	}, true
}

// lexical is stage 1.
func (r *Resolver) lexical(m string) (Resolved, bool) {
	var cands []scored
	add := func(es []registry.Entity, method Method, sim float64) {
		for _, e := range es {
			cands = append(cands, scored{e, method, sim})
		}
	}

	add(r.reg.ByName(m), MethodExact, 1.0)
	if looksLikeTicker(m) {
		add(r.reg.ByTicker(m), MethodTicker, 1.0)
	}
	add(r.reg.ByNormalized(m), MethodNormalized, 0.95)
	if len(cands) > 0 {
		return pick(cands)
	}

	// Extraction can run a name into the capitalised words after it
	// ("Microsoft Azure"). Try shorter leading word sequences.
	words := strings.Fields(m)
	for n := len(words) - 1; n >= 1; n-- {
		prefix := strings.Join(words[:n], " ")
		if n == 1 && (r.IsGeneric(prefix) || len(prefix) < 4) {
			break
		}
		add(r.reg.ByName(prefix), MethodNormalized, 0.9)
		add(r.reg.ByNormalized(prefix), MethodNormalized, 0.9)
		if len(cands) > 0 {
			return pick(cands)
		}
	}
	return Resolved{}, false
}

func looksLikeTicker(s string) bool {
	if len(s) == 0 || len(s) > 5 {
		return false
	}
	for _, r := range s {
		if !unicode.IsUpper(r) && r != '.' && r != '-' {
			return false
		}
	}
	return true
}

func (r *Resolver) semanticEnabled() bool {
	return r.opts.Embedder != nil && r.opts.Index != nil
}

// semantic is stage 3. It returns neighbors above the floor that exist in
// the registry, best first. Failures degrade to no neighbors.
func (r *Resolver) semantic(ctx context.Context, mention, sentence string) []Neighbor {
	text := embedding.Truncate(mention+": "+sentence, r.opts.MaxContext)
	vec, err := r.opts.Embedder.Embed(ctx, text)
	if err != nil {
		slog.Warn("resolve: semantic stage unavailable", "mention", mention, "error", err)
		return nil
	}
	hits, err := r.opts.Index.Nearest(ctx, vec, r.opts.SemanticK)
	if err != nil {
		slog.Warn("resolve: semantic index query failed", "mention", mention, "error", err)
		return nil
	}

	var cands []scored
	for _, h := range hits {
		if h.Similarity < r.opts.SemanticFloor {
			continue
		}
		e, ok := r.reg.Get(h.EntityID)
		if !ok {
			continue
		}
		cands = append(cands, scored{e, MethodSemantic, h.Similarity})
	}
	if len(cands) == 0 {
		return nil
	}
	rank(cands)
	out := make([]Neighbor, len(cands))
	for i, c := range cands {
		out[i] = Neighbor{EntityID: c.entity.ID, Similarity: c.sim}
	}
	return out
}
