package decision

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brunobiangulo/relgraph/confidence"
	"github.com/brunobiangulo/relgraph/extract"
	"github.com/brunobiangulo/relgraph/relation"
	"github.com/brunobiangulo/relgraph/resolve"
)

func testPolicy(t *testing.T) *confidence.Policy {
	t.Helper()
	p, err := confidence.NewPolicy(confidence.DefaultThresholds())
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	return p
}

func newEngine(t *testing.T, cfg Config, opts ...Option) *Engine {
	t.Helper()
	e, err := New(cfg, testPolicy(t), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func cand(mention, sentence string) extract.Candidate {
	start := strings.Index(sentence, mention)
	return extract.Candidate{Mention: mention, Sentence: sentence, Start: start, End: start + len(mention)}
}

func withSimilarity(v float64) *Signals {
	s := &Signals{}
	s.SetSimilarity(v)
	return s
}

type fakeVerifier struct {
	mu      sync.Mutex
	calls   int
	failFor int
	err     error
	block   bool
	result  Verification
}

func (f *fakeVerifier) Verify(ctx context.Context, _ Request) (Verification, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return Verification{}, ctx.Err()
	}
	if n <= f.failFor {
		return Verification{}, f.err
	}
	return f.result, nil
}

type fakeScorer struct {
	sim float64
	err error
}

func (f fakeScorer) Score(context.Context, string, string) (float64, error) {
	return f.sim, f.err
}

func microsoft() *resolve.Resolved {
	return &resolve.Resolved{EntityID: "789019", Name: "Microsoft Corporation", Method: resolve.MethodNormalized, Similarity: 0.95}
}

func TestResolvedMentionBypassesBlocklist(t *testing.T) {
	e := newEngine(t, DefaultConfig())
	words := append(DefaultGenericWords(), "xy", "q")
	for _, w := range words {
		in := Input{
			Candidate: cand(w, "We compete with "+w+" in several markets."),
			Resolved:  &resolve.Resolved{EntityID: "1", Name: w, Method: resolve.MethodExact, Similarity: 1},
			Type:      relation.Competitor,
			Signals:   &Signals{},
		}
		if d := e.tier1(context.Background(), in); d.Verdict == Reject {
			t.Errorf("tier 1 rejected resolved mention %q: %s", w, d.Reasoning)
		}
	}
}

func TestTier1(t *testing.T) {
	e := newEngine(t, DefaultConfig())
	tests := []struct {
		mention, sentence string
		want              Verdict
	}{
		{"target", "Our target market is small businesses.", Reject},
		{"Target", "We sell to retailers such as Target and Walmart.", Escalate},
		{"Apple", "Customers including Apple rely on our chips.", Escalate},
		{"Google", "Google, Amazon and Meta compete with us.", Escalate},
		{"HP", "We compete with HP in printers.", Escalate},
		{"XY", "We compete with XY in printers.", Reject},
		{"XY", "Competitors include XY, Acme and Globex.", Escalate},
		{"Globex", "We compete with Globex.", Escalate},
		{"  ", "We compete.", Reject},
	}
	for _, tt := range tests {
		d := e.tier1(context.Background(), Input{Candidate: cand(tt.mention, tt.sentence), Type: relation.Competitor, Signals: &Signals{}})
		if d.Verdict != tt.want || d.Tier != 1 {
			t.Errorf("tier1(%q, %q) = %s/%d (%s), want %s", tt.mention, tt.sentence, d.Verdict, d.Tier, d.Reasoning, tt.want)
		}
	}
}

func TestTier2(t *testing.T) {
	e := newEngine(t, DefaultConfig())
	tests := []struct {
		sentence string
		filter   string
	}{
		{"We do not compete with Oracle in databases.", "negation"},
		{"We no longer purchase components from Foxconn.", "negation"},
		{"We formerly partnered with Nokia on handsets.", "negation"},
		{"We terminated our supply agreement with Intel in 2021.", "negation"},
		{"Potential future competitors include Amazon.", "hypothetical"},
		{"Large technology firms such as Google may compete with us.", "hypothetical"},
		{"Mr. Smith previously worked at Goldman Sachs.", "biographical"},
		{"Prior to joining us, she was an executive at Pfizer.", "biographical"},
		{"Ms. Jones serves as a director of Target Corporation.", "biographical"},
		{"Our common stock is listed on the NASDAQ Global Select Market.", "exchange listing"},
		{"Acme Labs is a wholly-owned subsidiary of Globex.", "corporate structure"},
		{"In 2019 we were acquired by Oracle.", "corporate structure"},
		{"Our app is available on the Apple App Store and Google Play.", "platform reference"},
	}
	for _, tt := range tests {
		d := e.tier2(context.Background(), Input{Candidate: cand("X", tt.sentence), Signals: &Signals{}})
		if d.Verdict != Reject || !strings.HasPrefix(d.Reasoning, tt.filter) {
			t.Errorf("tier2(%q) = %s (%s), want REJECT by %s", tt.sentence, d.Verdict, d.Reasoning, tt.filter)
		}
	}

	for _, s := range []string{
		"We compete with Microsoft in cloud services.",
		"Our customers include Walmart and Target.",
		"We purchase substantially all of our wafers from TSMC.",
		"We entered into a strategic partnership with Nvidia.",
	} {
		if d := e.tier2(context.Background(), Input{Candidate: cand("X", s), Signals: &Signals{}}); d.Verdict != Escalate {
			t.Errorf("tier2(%q) = %s (%s), want ESCALATE", s, d.Verdict, d.Reasoning)
		}
	}
}

func TestTier3Boundaries(t *testing.T) {
	e := newEngine(t, DefaultConfig())
	policy := testPolicy(t)
	for _, typ := range relation.All() {
		th, ok := policy.Thresholds(typ)
		if !ok {
			t.Fatalf("no thresholds for %s", typ.Label())
		}
		tests := []struct {
			sim  float64
			want Verdict
		}{
			{th.High, Accept},
			{th.High + 0.01, Accept},
			{th.Medium, Escalate},
			{th.Medium - 0.0001, Reject},
			{-0.5, Reject},
		}
		for _, tt := range tests {
			in := Input{Candidate: cand("Globex", "We compete with Globex."), Resolved: microsoft(), Type: typ, Signals: withSimilarity(tt.sim)}
			if d := e.tier3(context.Background(), in); d.Verdict != tt.want {
				t.Errorf("%s at %v: %s (%s), want %s", typ, tt.sim, d.Verdict, d.Reasoning, tt.want)
			}
		}
	}
}

func TestTier3UnknownTypeRejects(t *testing.T) {
	e := newEngine(t, DefaultConfig())
	in := Input{Candidate: cand("Globex", "We compete with Globex."), Resolved: microsoft(), Type: relation.Type(0), Signals: withSimilarity(0.99)}
	if d := e.tier3(context.Background(), in); d.Verdict != Reject {
		t.Errorf("tier3(unknown type) = %s (%s), want REJECT", d.Verdict, d.Reasoning)
	}
}

func TestFailClosed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tier4 = false
	e := newEngine(t, cfg)

	in := Input{
		Candidate: cand("Microsoft", "We compete with Microsoft in cloud services."),
		Resolved:  microsoft(),
		Type:      relation.Competitor,
		Signals:   withSimilarity(0.30),
	}
	d := e.Decide(context.Background(), in)
	if d.Verdict != Reject || d.Tier != 3 {
		t.Fatalf("Decide = %+v, want tier 3 REJECT", d)
	}
	if !strings.Contains(d.Reasoning, "no tier reached a terminal decision") {
		t.Errorf("reasoning = %q", d.Reasoning)
	}
	if got := e.Metrics().Snapshot().FailClosed; got != 1 {
		t.Errorf("FailClosed = %d, want 1", got)
	}
}

func TestFailClosedWhenVerificationNotRequired(t *testing.T) {
	v := &fakeVerifier{result: Verification{Verified: true, Confidence: 0.9}}
	e := newEngine(t, DefaultConfig(), WithVerifier(v))

	in := Input{
		Candidate: cand("Microsoft", "We compete with Microsoft in cloud services."),
		Resolved:  microsoft(),
		Type:      relation.Competitor,
		Signals:   withSimilarity(0.30),
	}
	d := e.Decide(context.Background(), in)
	if d.Verdict != Reject || d.Tier != 4 {
		t.Fatalf("Decide = %+v, want tier 4 REJECT", d)
	}
	if v.calls != 0 {
		t.Errorf("verifier called %d times for a type that does not require it", v.calls)
	}
}

func TestAllTiersDisabled(t *testing.T) {
	e := newEngine(t, Config{})
	d := e.Decide(context.Background(), Input{Candidate: cand("Globex", "We compete with Globex."), Type: relation.Competitor})
	if d.Verdict != Reject || d.Tier != 1 {
		t.Errorf("Decide = %+v, want tier 1 REJECT", d)
	}
}

func TestMissingSignalEscalates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tier4 = false
	e := newEngine(t, cfg)
	d := e.Decide(context.Background(), Input{
		Candidate: cand("Microsoft", "We compete with Microsoft."),
		Resolved:  microsoft(),
		Type:      relation.Competitor,
	})
	if d.Verdict != Reject {
		t.Fatalf("Decide = %+v", d)
	}
	if got := e.Metrics().Snapshot().EscalatedWithoutSignal; got != 1 {
		t.Errorf("EscalatedWithoutSignal = %d, want 1", got)
	}
}

func TestScorerFillsSignal(t *testing.T) {
	e := newEngine(t, DefaultConfig(), WithScorer(fakeScorer{sim: 0.40}))
	sig := &Signals{}
	d := e.Decide(context.Background(), Input{
		Candidate: cand("Microsoft", "We compete with Microsoft in cloud services."),
		Resolved:  microsoft(),
		Type:      relation.Competitor,
		Signals:   sig,
	})
	if d.Verdict != Accept || d.Tier != 3 {
		t.Fatalf("Decide = %+v, want tier 3 ACCEPT", d)
	}
	if got, ok := sig.Similarity(); !ok || got != 0.40 {
		t.Errorf("similarity = %v, %v", got, ok)
	}
	if got := e.Metrics().Snapshot().Tier3Calls; got != 1 {
		t.Errorf("Tier3Calls = %d", got)
	}
}

func TestScorerFailureEscalatesWithoutSignal(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tier4 = false
	e := newEngine(t, cfg, WithScorer(fakeScorer{err: errors.New("embedding service down")}))
	d := e.Decide(context.Background(), Input{
		Candidate: cand("Microsoft", "We compete with Microsoft."),
		Resolved:  microsoft(),
		Type:      relation.Competitor,
	})
	if d.Verdict != Reject {
		t.Errorf("Decide = %+v, want REJECT", d)
	}
	if got := e.Metrics().Snapshot().EscalatedWithoutSignal; got != 1 {
		t.Errorf("EscalatedWithoutSignal = %d", got)
	}
}

func supplierInput(sim float64) Input {
	return Input{
		Candidate: cand("Intel", "We purchase processors from Intel."),
		Resolved:  &resolve.Resolved{EntityID: "50863", Name: "Intel Corporation", Method: resolve.MethodNormalized, Similarity: 0.95},
		Type:      relation.Supplier,
		Signals:   withSimilarity(sim),
	}
}

func TestTier4(t *testing.T) {
	tests := []struct {
		name     string
		verified bool
		want     Verdict
	}{
		{"verified", true, Accept},
		{"not verified", false, Reject},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := &fakeVerifier{result: Verification{Verified: tt.verified, Confidence: 0.8, Explanation: "supplier of CPUs"}}
			e := newEngine(t, DefaultConfig(), WithVerifier(v))
			in := supplierInput(0.40)
			d := e.Decide(context.Background(), in)
			if d.Verdict != tt.want || d.Tier != 4 {
				t.Fatalf("Decide = %+v, want tier 4 %s", d, tt.want)
			}
			got, ok := in.Signals.Verification()
			if !ok || got.Verified != tt.verified {
				t.Errorf("verification signal = %+v, %v", got, ok)
			}
			if v.calls != 1 {
				t.Errorf("verifier calls = %d", v.calls)
			}
		})
	}
}

func TestTier4SkippedOutsideAmbiguousBand(t *testing.T) {
	v := &fakeVerifier{result: Verification{Verified: true, Confidence: 0.9}}
	e := newEngine(t, DefaultConfig(), WithVerifier(v))
	if d := e.Decide(context.Background(), supplierInput(0.60)); d.Verdict != Accept || d.Tier != 3 {
		t.Errorf("high similarity: %+v", d)
	}
	if d := e.Decide(context.Background(), supplierInput(0.10)); d.Verdict != Reject || d.Tier != 3 {
		t.Errorf("low similarity: %+v", d)
	}
	if v.calls != 0 {
		t.Errorf("verifier called %d times", v.calls)
	}
}

func fastRetryConfig() Config {
	cfg := DefaultConfig()
	cfg.VerifierRPS = 0
	cfg.RetryBaseDelay = time.Millisecond
	cfg.VerifierTimeout = 50 * time.Millisecond
	return cfg
}

func TestTier4RetriesThenSucceeds(t *testing.T) {
	v := &fakeVerifier{failFor: 2, err: errors.New("503 service unavailable"), result: Verification{Verified: true, Confidence: 0.7}}
	e := newEngine(t, fastRetryConfig(), WithVerifier(v))
	d := e.Decide(context.Background(), supplierInput(0.40))
	if d.Verdict != Accept || d.Tier != 4 {
		t.Fatalf("Decide = %+v, want tier 4 ACCEPT", d)
	}
	if v.calls != 3 {
		t.Errorf("verifier calls = %d, want 3", v.calls)
	}
	if s := e.Metrics().Snapshot(); s.Tier4Calls != 3 || s.Tier4Failures != 0 {
		t.Errorf("metrics = %+v", s)
	}
}

func TestTier4TimeoutRejects(t *testing.T) {
	cfg := fastRetryConfig()
	cfg.VerifierRetries = 1
	cfg.VerifierTimeout = 10 * time.Millisecond
	v := &fakeVerifier{block: true}
	e := newEngine(t, cfg, WithVerifier(v))

	d := e.Decide(context.Background(), supplierInput(0.40))
	if d.Verdict != Reject || d.Tier != 4 {
		t.Fatalf("Decide = %+v, want tier 4 REJECT", d)
	}
	if !strings.Contains(d.Reasoning, "verification failed") {
		t.Errorf("reasoning = %q", d.Reasoning)
	}
	if v.calls != 2 {
		t.Errorf("verifier calls = %d, want 2", v.calls)
	}
	if got := e.Metrics().Snapshot().Tier4Failures; got != 1 {
		t.Errorf("Tier4Failures = %d", got)
	}
}

func TestTier4PermanentErrorNotRetried(t *testing.T) {
	v := &fakeVerifier{failFor: 10, err: ErrPermanent}
	e := newEngine(t, fastRetryConfig(), WithVerifier(v))
	if d := e.Decide(context.Background(), supplierInput(0.40)); d.Verdict != Reject {
		t.Fatalf("Decide = %+v", d)
	}
	if v.calls != 1 {
		t.Errorf("verifier calls = %d, want 1", v.calls)
	}
}

func TestSignalsAppendOnly(t *testing.T) {
	var s Signals
	if _, ok := s.Similarity(); ok {
		t.Fatal("empty bundle has similarity")
	}
	if !s.SetSimilarity(0.4) {
		t.Fatal("first SetSimilarity refused")
	}
	if s.SetSimilarity(0.9) {
		t.Error("SetSimilarity overwrote an existing value")
	}
	if got, _ := s.Similarity(); got != 0.4 {
		t.Errorf("similarity = %v", got)
	}

	var fresh Signals
	if fresh.SetSimilarity(1.5) {
		t.Error("accepted similarity outside [-1, 1]")
	}
	if !s.SetVerification(Verification{Verified: true, Confidence: 0.8}) || s.SetVerification(Verification{}) {
		t.Error("verification not write-once")
	}
	if fresh.SetLexical(-0.1) || !fresh.SetLexical(0.9) || fresh.SetLexical(0.1) {
		t.Error("lexical not write-once or range checked")
	}
	if fresh.Lexical() != 0.9 {
		t.Errorf("lexical = %v", fresh.Lexical())
	}
}

func TestMetricsCost(t *testing.T) {
	v := &fakeVerifier{result: Verification{Verified: true, Confidence: 0.8}}
	e := newEngine(t, fastRetryConfig(), WithVerifier(v), WithScorer(fakeScorer{sim: 0.40}))
	ctx := context.Background()

	in := supplierInput(0)
	in.Signals = &Signals{}
	e.Decide(ctx, in)
	e.Decide(ctx, Input{Candidate: cand("target", "Our target market."), Type: relation.Customer})

	s := e.Metrics().Snapshot()
	if s.Tiers[3].Accepted != 1 || s.Tiers[0].Rejected != 1 {
		t.Errorf("tiers = %+v", s.Tiers)
	}
	if s.Decisions() != 2 {
		t.Errorf("Decisions = %d", s.Decisions())
	}
	want := Tier3Cost + Tier4Cost
	if diff := s.Cost() - want; diff > 1e-12 || diff < -1e-12 {
		t.Errorf("Cost = %v, want %v", s.Cost(), want)
	}
}

func TestNewRequiresPolicy(t *testing.T) {
	if _, err := New(DefaultConfig(), nil); !errors.Is(err, ErrNoPolicy) {
		t.Errorf("err = %v, want ErrNoPolicy", err)
	}
}

func TestVerdictText(t *testing.T) {
	for v, want := range map[Verdict]string{Accept: "ACCEPT", Reject: "REJECT", Escalate: "ESCALATE"} {
		b, err := v.MarshalText()
		if err != nil || string(b) != want {
			t.Errorf("%d.MarshalText() = %q, %v; want %q", int(v), b, err, want)
		}
	}
}
