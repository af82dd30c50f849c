// Package relgraph extracts business relationships between public companies
// from SEC filings and maintains them as a graph of fact and candidate edges.
package relgraph

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/brunobiangulo/relgraph/chunker"
	"github.com/brunobiangulo/relgraph/confidence"
	"github.com/brunobiangulo/relgraph/decision"
	"github.com/brunobiangulo/relgraph/embedding"
	"github.com/brunobiangulo/relgraph/extract"
	"github.com/brunobiangulo/relgraph/filing"
	"github.com/brunobiangulo/relgraph/llm"
	"github.com/brunobiangulo/relgraph/reconcile"
	"github.com/brunobiangulo/relgraph/registry"
	"github.com/brunobiangulo/relgraph/resolve"
	"github.com/brunobiangulo/relgraph/store"
	"github.com/brunobiangulo/relgraph/verify"
)

// Engine is the main entry point for relationship extraction.
type Engine interface {
	// ProcessFiling parses a filing of the given company, extracts its
	// relationships and persists the accepted edges. Skips the filing if its
	// content hash is unchanged since the last successful run.
	ProcessFiling(ctx context.Context, path, companyID string, opts ...ProcessOption) (*FilingResult, error)

	// ProcessText runs the pipeline over raw filing text without recording a
	// filing.
	ProcessText(ctx context.Context, companyID, text string) (*FilingResult, error)

	// ProcessFilings processes filings concurrently. A failed filing is
	// counted in the summary and does not stop the batch.
	ProcessFilings(ctx context.Context, jobs []FilingJob, opts ...ProcessOption) (*Summary, error)

	// Judge runs a single mention through resolution, the decision tiers and
	// the confidence classifier without persisting anything.
	Judge(ctx context.Context, m Mention) (*Judgement, error)

	// Reconcile re-evaluates persisted edges against the current thresholds
	// and registry.
	Reconcile(ctx context.Context, opts reconcile.Options) (reconcile.Report, error)

	// ImportRegistry merges entities into the stored registry and, when embed
	// is set, stores their description vectors.
	ImportRegistry(ctx context.Context, entities []registry.Entity, embed bool) (*ImportResult, error)

	// Registry returns the current entity registry snapshot.
	Registry() *registry.Registry

	// Metrics returns the decision engine counters.
	Metrics() decision.Snapshot

	// Store returns the underlying store for diagnostic access.
	Store() *store.Store

	// Close cleanly shuts down the engine.
	Close() error
}

// FilingJob names a filing and the company that filed it.
type FilingJob struct {
	Path      string `json:"path" yaml:"path"`
	CompanyID string `json:"company_id" yaml:"company_id"`
}

// ImportResult reports a registry import.
type ImportResult struct {
	Imported int `json:"imported"`
	Total    int `json:"total"`
	Embedded int `json:"embedded"`
	Failed   int `json:"failed"`
}

// ProcessOption configures filing processing.
type ProcessOption func(*processOptions)

type processOptions struct {
	force bool
}

// WithForce reprocesses a filing even if its hash hasn't changed.
func WithForce() ProcessOption {
	return func(o *processOptions) { o.force = true }
}

// Option overrides a collaborator built from Config.
type Option func(*options)

type options struct {
	chat     llm.Provider
	embed    llm.Provider
	embedder embedding.Embedder
	scorer   decision.Scorer
	verifier decision.Verifier
	entities []registry.Entity
}

// WithChatProvider sets the provider used for Tier 4 verification.
func WithChatProvider(p llm.Provider) Option {
	return func(o *options) { o.chat = p }
}

// WithEmbeddingProvider sets the provider used for embeddings.
func WithEmbeddingProvider(p llm.Provider) Option {
	return func(o *options) { o.embed = p }
}

// WithEmbedder replaces the cached, rate-limited provider embedder.
func WithEmbedder(e embedding.Embedder) Option {
	return func(o *options) { o.embedder = e }
}

// WithScorer replaces the embedding similarity scorer used by Tier 3 and the
// reconciler.
func WithScorer(s decision.Scorer) Option {
	return func(o *options) { o.scorer = s }
}

// WithVerifier replaces the LLM verifier used by Tier 4.
func WithVerifier(v decision.Verifier) Option {
	return func(o *options) { o.verifier = v }
}

// WithEntities imports entities into the store at startup.
func WithEntities(entities []registry.Entity) Option {
	return func(o *options) { o.entities = entities }
}

// snapshot pairs a registry with the resolver built over it so that both
// are swapped together.
type snapshot struct {
	reg      *registry.Registry
	resolver *resolve.Resolver
}

// engine is the concrete implementation of Engine.
type engine struct {
	cfg       Config
	store     *store.Store
	policy    *confidence.Policy
	parsers   *filing.Registry
	extractor *extract.Extractor
	decider   *decision.Engine
	embedder  embedding.Embedder
	scorer    decision.Scorer

	snap     atomic.Pointer[snapshot]
	importMu sync.Mutex
}

// New creates a relgraph engine with the given configuration.
func New(cfg Config, opts ...Option) (Engine, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	policy, err := cfg.Policy()
	if err != nil {
		return nil, err
	}

	// Resolve database path from config (DBPath > DBName+StorageDir > default)
	dbPath := cfg.resolveDBPath()

	// Apply defaults for zero values
	def := DefaultConfig()
	if cfg.EmbeddingDim == 0 {
		cfg.EmbeddingDim = def.EmbeddingDim
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.ReconcileBatchSize == 0 {
		cfg.ReconcileBatchSize = def.ReconcileBatchSize
	}

	s, err := store.New(dbPath, cfg.EmbeddingDim)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	e := &engine{cfg: cfg, store: s, policy: policy, parsers: filing.NewRegistry()}
	if err := e.wire(o); err != nil {
		s.Close()
		return nil, err
	}

	ctx := context.Background()
	if err := e.reloadRegistry(ctx); err != nil {
		s.Close()
		return nil, err
	}

	if len(o.entities) > 0 {
		if _, err := e.ImportRegistry(ctx, o.entities, false); err != nil {
			s.Close()
			return nil, fmt.Errorf("importing entities: %w", err)
		}
	}
	if cfg.RegistryPath != "" {
		entities, err := registry.LoadFile(cfg.RegistryPath)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("loading registry: %w", err)
		}
		if _, err := e.ImportRegistry(ctx, entities, false); err != nil {
			s.Close()
			return nil, fmt.Errorf("importing registry: %w", err)
		}
	}

	slog.Info("relgraph: engine ready",
		"db", dbPath, "entities", e.Registry().Len(),
		"embeddings", e.embedder != nil, "scorer", e.scorer != nil)
	return e, nil
}

// wire builds the providers and the extraction collaborators.
func (e *engine) wire(o *options) error {
	cfg := e.cfg

	e.embedder = o.embedder
	if e.embedder == nil {
		embedLLM := o.embed
		if embedLLM == nil && cfg.Embedding.Provider != "" {
			p, err := llm.NewProvider(cfg.Embedding)
			if err != nil {
				return fmt.Errorf("creating embedding provider: %w", err)
			}
			embedLLM = p
		}
		if embedLLM != nil {
			e.embedder = embedding.NewCached(
				embedding.NewProviderEmbedder(embedLLM, cfg.EmbeddingRPS, cfg.EmbeddingBurst),
				e.store, cfg.Embedding.Model)
		}
	}

	if e.embedder != nil {
		e.embedder = embedding.NewChunked(e.embedder, chunker.New(cfg.Chunking))
	}

	e.scorer = o.scorer
	if e.scorer == nil && e.embedder != nil {
		e.scorer = embedding.NewScorer(e.embedder, e.store, e.description)
	}

	verifier := o.verifier
	if verifier == nil {
		chatLLM := o.chat
		if chatLLM == nil && cfg.Chat.Provider != "" {
			p, err := llm.NewProvider(cfg.Chat)
			if err != nil {
				return fmt.Errorf("creating chat provider: %w", err)
			}
			chatLLM = p
		}
		if chatLLM != nil {
			verifier = verify.New(chatLLM, cfg.Verifier)
		}
	}

	var dopts []decision.Option
	if e.scorer != nil {
		dopts = append(dopts, decision.WithScorer(e.scorer))
	}
	if verifier != nil {
		dopts = append(dopts, decision.WithVerifier(verifier))
	}
	dcfg := cfg.Decision
	if dcfg.GenericWords == nil {
		dcfg.GenericWords = cfg.Resolver.GenericWords
	}
	decider, err := decision.New(dcfg, e.policy, dopts...)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	e.decider = decider

	var xopts []extract.Option
	if cfg.Extraction.KeywordScan {
		xopts = append(xopts, extract.WithKeywordScan())
	}
	if cfg.Extraction.TickerBlocklist != nil {
		xopts = append(xopts, extract.WithTickerBlocklist(cfg.Extraction.TickerBlocklist))
	}
	if cfg.Extraction.NameBlocklist != nil {
		xopts = append(xopts, extract.WithNameBlocklist(cfg.Extraction.NameBlocklist))
	}
	e.extractor = extract.New(extract.DefaultVocabulary(), xopts...)
	return nil
}

// reloadRegistry rebuilds the registry snapshot from the store.
func (e *engine) reloadRegistry(ctx context.Context) error {
	rows, err := e.store.ListEntities(ctx)
	if err != nil {
		return fmt.Errorf("loading entities: %w", err)
	}
	entities := make([]registry.Entity, len(rows))
	for i, r := range rows {
		entities[i] = registry.Entity{
			ID:          r.CIK,
			Name:        r.Name,
			Ticker:      r.Ticker,
			Aliases:     r.Aliases,
			Description: r.Description,
		}
	}
	reg, err := registry.New(entities)
	if err != nil {
		return fmt.Errorf("building registry: %w", err)
	}

	ropts := e.cfg.Resolver
	if e.embedder != nil {
		ropts.Embedder = e.embedder
		ropts.Index = vectorIndex{e.store}
	}
	e.snap.Store(&snapshot{reg: reg, resolver: resolve.New(reg, ropts)})
	return nil
}

func (e *engine) snapshot() *snapshot {
	return e.snap.Load()
}

// description backs the scorer's fallback when an entity has no stored
// description vector.
func (e *engine) description(entityID string) (string, bool) {
	ent, ok := e.snapshot().reg.Get(entityID)
	if !ok || ent.Description == "" {
		return "", false
	}
	return ent.Description, true
}

// ImportRegistry validates and stores entities, then swaps in a new snapshot.
func (e *engine) ImportRegistry(ctx context.Context, entities []registry.Entity, embed bool) (*ImportResult, error) {
	e.importMu.Lock()
	defer e.importMu.Unlock()

	if _, err := registry.New(entities); err != nil {
		return nil, err
	}
	if embed && e.embedder == nil {
		return nil, ErrNoEmbedder
	}

	start := time.Now()
	rows := make([]store.Entity, len(entities))
	for i, ent := range entities {
		rows[i] = store.Entity{
			CIK:         ent.ID,
			Name:        ent.Name,
			Ticker:      ent.Ticker,
			Aliases:     ent.Aliases,
			Description: ent.Description,
		}
	}
	if err := e.store.UpsertEntities(ctx, rows); err != nil {
		return nil, fmt.Errorf("storing entities: %w", err)
	}
	if err := e.reloadRegistry(ctx); err != nil {
		return nil, err
	}

	res := &ImportResult{Imported: len(entities), Total: e.Registry().Len()}
	slog.Info("registry: entities stored", "imported", res.Imported, "total", res.Total)

	if embed {
		embedded, failed, err := e.embedDescriptions(ctx, entities)
		res.Embedded, res.Failed = embedded, failed
		if err != nil {
			return res, err
		}
		slog.Info("registry: descriptions embedded",
			"embedded", embedded, "failed", failed,
			"elapsed", time.Since(start).Round(time.Millisecond))
	}
	return res, nil
}

// embedDescriptions stores a description vector for every entity that has
// a description. Individual failures are counted; only a run in which every
// attempt failed is an error.
func (e *engine) embedDescriptions(ctx context.Context, entities []registry.Entity) (embedded, failed int, err error) {
	var ok, bad atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(e.cfg.Concurrency, 1))

	for _, ent := range entities {
		if ent.Description == "" {
			continue
		}
		g.Go(func() error {
			vec, err := e.embedder.Embed(gctx, ent.Description)
			if err == nil {
				err = e.store.PutEntityVector(gctx, ent.ID, vec)
			}
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				bad.Add(1)
				slog.Warn("registry: embedding description failed", "entity", ent.ID, "error", err)
				return nil
			}
			ok.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(ok.Load()), int(bad.Load()), err
	}

	embedded, failed = int(ok.Load()), int(bad.Load())
	if embedded == 0 && failed > 0 {
		return embedded, failed, fmt.Errorf("%w: %d descriptions", ErrEmbeddingFailed, failed)
	}
	return embedded, failed, nil
}

// Reconcile runs one reconciliation pass over the stored edges.
func (e *engine) Reconcile(ctx context.Context, opts reconcile.Options) (reconcile.Report, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = e.cfg.ReconcileBatchSize
	}
	var ropts []reconcile.Option
	if e.scorer != nil {
		scorer := e.scorer
		ropts = append(ropts, reconcile.WithRescorer(reconcile.RescorerFunc(
			func(ctx context.Context, edge reconcile.Edge) (float64, error) {
				return scorer.Score(ctx, edge.Context, edge.TargetID)
			})))
	}
	r, err := reconcile.New(edgeStore{e.store}, e.policy, e.Registry(), ropts...)
	if err != nil {
		return reconcile.Report{}, err
	}
	return r.Run(ctx, opts)
}

func (e *engine) Registry() *registry.Registry {
	return e.snapshot().reg
}

func (e *engine) Metrics() decision.Snapshot {
	return e.decider.Metrics().Snapshot()
}

func (e *engine) Store() *store.Store {
	return e.store
}

func (e *engine) Close() error {
	return e.store.Close()
}

// fileHash computes the SHA-256 hash of a file.
func fileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// isCancellation reports whether err comes from the caller's context rather
// than from the filing itself.
func isCancellation(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}
