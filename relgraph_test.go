//go:build cgo

package relgraph

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/brunobiangulo/relgraph/decision"
	"github.com/brunobiangulo/relgraph/llm"
	"github.com/brunobiangulo/relgraph/reconcile"
	"github.com/brunobiangulo/relgraph/registry"
	"github.com/brunobiangulo/relgraph/relation"
	"github.com/brunobiangulo/relgraph/store"
)

const (
	appleID     = "320193"
	microsoftID = "789019"
	tsmcID      = "1046179"
)

var testEntities = []registry.Entity{
	{ID: appleID, Name: "Apple Inc.", Ticker: "AAPL", Description: "Consumer electronics and software."},
	{ID: microsoftID, Name: "Microsoft Corporation", Ticker: "MSFT", Description: "Cloud, productivity software and devices."},
	{ID: tsmcID, Name: "Taiwan Semiconductor Manufacturing Company Limited", Ticker: "TSM",
		Aliases: []string{"Taiwan Semiconductor Manufacturing", "TSMC"}, Description: "Semiconductor foundry."},
}

// mapScorer returns a fixed similarity per entity.
type mapScorer map[string]float64

func (m mapScorer) Score(_ context.Context, _, entityID string) (float64, error) {
	v, ok := m[entityID]
	if !ok {
		return 0, errors.New("no score")
	}
	return v, nil
}

type stubVerifier struct {
	verified bool
	calls    atomic.Int64
}

func (s *stubVerifier) Verify(context.Context, decision.Request) (decision.Verification, error) {
	s.calls.Add(1)
	return decision.Verification{Verified: s.verified, Confidence: 0.9, Explanation: "stated in filing"}, nil
}

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "relgraph.db")
	cfg.Embedding = llm.Config{}
	cfg.EmbeddingDim = 4
	return cfg
}

func newTestEngine(t *testing.T, cfg Config, opts ...Option) Engine {
	t.Helper()
	opts = append([]Option{WithEntities(testEntities)}, opts...)
	eng, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { eng.Close() })
	return eng
}

func getEdge(t *testing.T, eng Engine, target string, typ relation.Type) *store.Edge {
	t.Helper()
	e, err := eng.Store().GetEdge(context.Background(), appleID, target, typ)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		t.Fatalf("GetEdge: %v", err)
	}
	return e
}

func TestCompetitorAboveHighThresholdBecomesFact(t *testing.T) {
	eng := newTestEngine(t, testConfig(t), WithScorer(mapScorer{microsoftID: 0.40}))

	res, err := eng.ProcessText(context.Background(), appleID, "We compete with Microsoft in cloud services.")
	if err != nil {
		t.Fatalf("ProcessText: %v", err)
	}
	if res.Counts.Facts != 1 || res.Counts.Tiers[2].Accepted != 1 {
		t.Fatalf("counts = %+v", res.Counts)
	}

	e := getEdge(t, eng, microsoftID, relation.Competitor)
	if e == nil {
		t.Fatal("no competitor edge stored")
	}
	if e.Kind != "HAS_COMPETITOR" || e.Confidence != relation.High || e.DecisionTier != 3 {
		t.Errorf("edge = %+v", e)
	}
	if e.Similarity == nil || *e.Similarity != 0.40 {
		t.Errorf("similarity = %v", e.Similarity)
	}
	if e.LLMVerified != nil {
		t.Errorf("competitor edge should not be verified, got %v", *e.LLMVerified)
	}
	if e.RawMention != "Microsoft" {
		t.Errorf("raw mention = %q", e.RawMention)
	}
}

func TestCompetitorBelowMediumThresholdStoresNothing(t *testing.T) {
	eng := newTestEngine(t, testConfig(t), WithScorer(mapScorer{microsoftID: 0.20}))

	res, err := eng.ProcessText(context.Background(), appleID, "We compete with Microsoft in cloud services.")
	if err != nil {
		t.Fatalf("ProcessText: %v", err)
	}
	if res.Counts.Rejected() != 1 || len(res.Edges) != 0 {
		t.Errorf("counts = %+v, edges = %d", res.Counts, len(res.Edges))
	}
	if e := getEdge(t, eng, microsoftID, relation.Competitor); e != nil {
		t.Errorf("unexpected edge %+v", e)
	}
}

func TestVerifiedSupplierInAmbiguousBandBecomesCandidate(t *testing.T) {
	v := &stubVerifier{verified: true}
	eng := newTestEngine(t, testConfig(t), WithScorer(mapScorer{tsmcID: 0.40}), WithVerifier(v))

	res, err := eng.ProcessText(context.Background(), appleID,
		"We purchase substantially all of our wafers from Taiwan Semiconductor Manufacturing.")
	if err != nil {
		t.Fatalf("ProcessText: %v", err)
	}
	if res.Counts.CandidateEdges != 1 || res.Counts.Tiers[3].Accepted != 1 {
		t.Fatalf("counts = %+v", res.Counts)
	}
	if v.calls.Load() != 1 {
		t.Errorf("verifier calls = %d, want 1", v.calls.Load())
	}

	e := getEdge(t, eng, tsmcID, relation.Supplier)
	if e == nil {
		t.Fatal("no supplier edge stored")
	}
	if e.Kind != "CANDIDATE_SUPPLIER" || e.Confidence != relation.Medium || e.DecisionTier != 4 {
		t.Errorf("edge = %+v", e)
	}
	if e.LLMVerified == nil || !*e.LLMVerified {
		t.Errorf("llm_verified = %v", e.LLMVerified)
	}
}

func TestSupplierWithoutVerifierFailsClosed(t *testing.T) {
	eng := newTestEngine(t, testConfig(t), WithScorer(mapScorer{tsmcID: 0.40}))

	res, err := eng.ProcessText(context.Background(), appleID,
		"We purchase substantially all of our wafers from Taiwan Semiconductor Manufacturing.")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Edges) != 0 || res.Counts.Rejected() != 1 {
		t.Errorf("counts = %+v", res.Counts)
	}
	if got := eng.Metrics().FailClosed; got != 1 {
		t.Errorf("fail closed = %d, want 1", got)
	}
}

func TestNoScorerEscalatesWithoutSignal(t *testing.T) {
	eng := newTestEngine(t, testConfig(t))

	res, err := eng.ProcessText(context.Background(), appleID, "We compete with Microsoft in cloud services.")
	if err != nil {
		t.Fatal(err)
	}
	if res.Counts.EscalatedWithoutSignal != 1 || len(res.Edges) != 0 {
		t.Errorf("counts = %+v", res.Counts)
	}
}

func TestSelfReferenceAndUnresolvedSkipped(t *testing.T) {
	eng := newTestEngine(t, testConfig(t), WithScorer(mapScorer{microsoftID: 0.9, appleID: 0.9}))

	res, err := eng.ProcessText(context.Background(), appleID,
		"We compete with Apple Inc. in retail. We also compete with Initech in consulting.")
	if err != nil {
		t.Fatal(err)
	}
	if res.Counts.SelfReferences != 1 || res.Counts.Unresolved != 1 || len(res.Edges) != 0 {
		t.Errorf("counts = %+v", res.Counts)
	}
}

func TestStrongestMentionWinsWithinFiling(t *testing.T) {
	calls := 0
	scorer := scorerFunc(func(context.Context, string, string) (float64, error) {
		calls++
		if calls == 1 {
			return 0.50, nil
		}
		return 0.30, nil
	})
	eng := newTestEngine(t, testConfig(t), WithScorer(scorer))

	res, err := eng.ProcessText(context.Background(), appleID,
		"We compete with Microsoft in cloud services. We compete with Microsoft in gaming.")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Edges) != 1 {
		t.Fatalf("edges = %d, want 1", len(res.Edges))
	}
	if e := res.Edges[0]; e.Kind != "HAS_COMPETITOR" || *e.Similarity != 0.50 {
		t.Errorf("edge = %+v", e)
	}
}

type scorerFunc func(ctx context.Context, sentence, entityID string) (float64, error)

func (f scorerFunc) Score(ctx context.Context, sentence, entityID string) (float64, error) {
	return f(ctx, sentence, entityID)
}

func writeFiling(t *testing.T, dir, name, text string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestProcessFilingSkipsUnchanged(t *testing.T) {
	eng := newTestEngine(t, testConfig(t), WithScorer(mapScorer{microsoftID: 0.40}))
	ctx := context.Background()
	path := writeFiling(t, t.TempDir(), "10k.txt", "We compete with Microsoft in cloud services.\n")

	first, err := eng.ProcessFiling(ctx, path, appleID)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if first.Skipped || first.Counts.Facts != 1 || first.FilingID == 0 {
		t.Fatalf("first = %+v", first)
	}
	e := getEdge(t, eng, microsoftID, relation.Competitor)
	if e == nil || e.FilingID == nil || *e.FilingID != first.FilingID {
		t.Errorf("edge filing id = %+v", e)
	}

	second, err := eng.ProcessFiling(ctx, path, appleID)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if !second.Skipped || second.FilingID != first.FilingID {
		t.Errorf("second = %+v, want skipped", second)
	}

	forced, err := eng.ProcessFiling(ctx, path, appleID, WithForce())
	if err != nil {
		t.Fatalf("forced: %v", err)
	}
	if forced.Skipped || forced.Counts.Facts != 1 {
		t.Errorf("forced = %+v", forced)
	}

	f, err := eng.Store().GetFilingByPath(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if f.Status != store.FilingProcessed || f.CompanyID != appleID {
		t.Errorf("filing = %+v", f)
	}
}

func TestProcessFilingErrors(t *testing.T) {
	eng := newTestEngine(t, testConfig(t))
	ctx := context.Background()
	dir := t.TempDir()

	if _, err := eng.ProcessFiling(ctx, writeFiling(t, dir, "a.txt", "text"), "999"); !errors.Is(err, ErrUnknownCompany) {
		t.Errorf("unknown company: err = %v", err)
	}

	bad := writeFiling(t, dir, "a.docx", "binary")
	if _, err := eng.ProcessFiling(ctx, bad, appleID); !errors.Is(err, ErrParsingFailed) {
		t.Errorf("unsupported format: err = %v", err)
	}
	f, err := eng.Store().GetFilingByPath(ctx, bad)
	if err != nil {
		t.Fatal(err)
	}
	if f.Status != store.FilingFailed {
		t.Errorf("status = %q, want failed", f.Status)
	}
}

func TestProcessFilingsCountsFailures(t *testing.T) {
	cfg := testConfig(t)
	cfg.Concurrency = 2
	eng := newTestEngine(t, cfg, WithScorer(mapScorer{microsoftID: 0.40, tsmcID: 0.60}))
	dir := t.TempDir()

	jobs := []FilingJob{
		{Path: writeFiling(t, dir, "one.txt", "We compete with Microsoft in cloud services.\n"), CompanyID: appleID},
		{Path: writeFiling(t, dir, "two.htm", "<html><body><p>We purchase substantially all of our wafers from Taiwan Semiconductor Manufacturing.</p></body></html>"), CompanyID: appleID},
		{Path: filepath.Join(dir, "missing.txt"), CompanyID: appleID},
	}

	sum, err := eng.ProcessFilings(context.Background(), jobs)
	if err != nil {
		t.Fatalf("ProcessFilings: %v", err)
	}
	if sum.Filings != 3 || sum.Processed != 2 || sum.Failed != 1 || len(sum.Failures) != 1 {
		t.Errorf("summary = %+v", sum)
	}
	if sum.Counts.Facts != 2 {
		t.Errorf("facts = %d, want 2", sum.Counts.Facts)
	}

	again, err := eng.ProcessFilings(context.Background(), jobs[:2])
	if err != nil {
		t.Fatal(err)
	}
	if again.Skipped != 2 || again.Processed != 0 {
		t.Errorf("second batch = %+v", again)
	}
}

func TestProcessFilingsCancelled(t *testing.T) {
	eng := newTestEngine(t, testConfig(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	path := writeFiling(t, t.TempDir(), "one.txt", "We compete with Microsoft.\n")
	if _, err := eng.ProcessFilings(ctx, []FilingJob{{Path: path, CompanyID: appleID}}); err == nil {
		t.Error("expected cancellation error")
	}
}

func TestReconcileAfterThresholdChange(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	eng, err := New(cfg, WithEntities(testEntities), WithScorer(mapScorer{microsoftID: 0.40}))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := eng.ProcessText(ctx, appleID, "We compete with Microsoft in cloud services."); err != nil {
		t.Fatal(err)
	}
	eng.Close()

	// Raise the competitor bar so the stored fact falls into the ambiguous band.
	cfg.Relationships["HAS_COMPETITOR"] = cfg.Relationships["HAS_CUSTOMER"]
	eng2 := newTestEngine(t, cfg)

	rep, err := eng2.Reconcile(ctx, reconcile.Options{})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if rep.Scanned != 1 || rep.Demoted != 1 || !rep.Complete {
		t.Errorf("report = %+v", rep)
	}

	e := getEdge(t, eng2, microsoftID, relation.Competitor)
	if e == nil {
		t.Fatal("edge deleted")
	}
	if e.Kind != "CANDIDATE_COMPETITOR" || e.ConvertedFrom != "HAS_COMPETITOR" || e.ConvertedAt == nil {
		t.Errorf("edge after demotion = %+v", e)
	}

	again, err := eng2.Reconcile(ctx, reconcile.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if again.Mutations() != 0 {
		t.Errorf("second pass = %+v, want no mutations", again)
	}
}

func TestReconcileDeletesOrphans(t *testing.T) {
	eng := newTestEngine(t, testConfig(t))
	ctx := context.Background()

	sim := 0.9
	if _, err := eng.Store().UpsertEdge(ctx, store.Edge{
		SourceID: appleID, TargetID: "0000000", Type: relation.Partner,
		Kind: "HAS_PARTNER", Confidence: relation.High, Similarity: &sim,
	}); err != nil {
		t.Fatal(err)
	}

	rep, err := eng.Reconcile(ctx, reconcile.Options{DryRun: true})
	if err != nil {
		t.Fatal(err)
	}
	if rep.Orphaned != 1 {
		t.Errorf("dry run = %+v", rep)
	}
	if counts, _ := eng.Store().CountEdgesByKind(ctx); counts["HAS_PARTNER"] != 1 {
		t.Errorf("dry run deleted the edge: %v", counts)
	}

	if _, err := eng.Reconcile(ctx, reconcile.Options{}); err != nil {
		t.Fatal(err)
	}
	if counts, _ := eng.Store().CountEdgesByKind(ctx); counts["HAS_PARTNER"] != 0 {
		t.Errorf("orphan survived: %v", counts)
	}
}

func TestImportRegistry(t *testing.T) {
	eng := newTestEngine(t, testConfig(t))
	ctx := context.Background()

	res, err := eng.ImportRegistry(ctx, []registry.Entity{
		{ID: "1018724", Name: "Amazon.com, Inc.", Ticker: "AMZN"},
	}, false)
	if err != nil {
		t.Fatalf("ImportRegistry: %v", err)
	}
	if res.Imported != 1 || res.Total != 4 {
		t.Errorf("result = %+v", res)
	}
	if !eng.Registry().Has("1018724") {
		t.Error("registry snapshot not refreshed")
	}

	if _, err := eng.ImportRegistry(ctx, nil, true); !errors.Is(err, ErrNoEmbedder) {
		t.Errorf("embed without provider: err = %v", err)
	}

	dup := []registry.Entity{{ID: "1", Name: "A"}, {ID: "1", Name: "B"}}
	if _, err := eng.ImportRegistry(ctx, dup, false); !errors.Is(err, registry.ErrDuplicateEntity) {
		t.Errorf("duplicate: err = %v", err)
	}
}

// fakeEmbedder maps every text to a fixed 4-dim vector.
type fakeEmbedder struct {
	fail map[string]bool
}

func (f fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if f.fail[text] {
		return nil, errors.New("provider down")
	}
	return []float32{1, 0, 0, 0}, nil
}

func TestImportRegistryEmbedsDescriptions(t *testing.T) {
	fail := map[string]bool{"Semiconductor foundry.": true}
	eng := newTestEngine(t, testConfig(t), WithEmbedder(fakeEmbedder{fail: fail}))
	ctx := context.Background()

	res, err := eng.ImportRegistry(ctx, testEntities, true)
	if err != nil {
		t.Fatalf("ImportRegistry: %v", err)
	}
	if res.Embedded != 2 || res.Failed != 1 {
		t.Errorf("result = %+v", res)
	}
	if _, ok, _ := eng.Store().EntityVector(ctx, microsoftID); !ok {
		t.Error("microsoft vector missing")
	}
	if _, ok, _ := eng.Store().EntityVector(ctx, tsmcID); ok {
		t.Error("failed embedding stored a vector")
	}
}
