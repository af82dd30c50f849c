package eval

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/brunobiangulo/relgraph"
	"github.com/brunobiangulo/relgraph/decision"
	"github.com/brunobiangulo/relgraph/registry"
	"github.com/brunobiangulo/relgraph/relation"
	"github.com/brunobiangulo/relgraph/resolve"
)

const reviewCSV = `source_ticker,target_ticker,target_name,context,raw_mention,relationship_type,ai_label,notes
AAPL,MSFT,Microsoft Corporation,We compete with Microsoft in cloud services.,Microsoft,HAS_COMPETITOR,correct,
AAPL,TSM,Taiwan Semiconductor,We buy wafers from TSMC.,TSMC,HAS_SUPPLIER,correct,
AAPL,MSFT,Microsoft Corporation,Microsoft Excel files are supported.,Microsoft,HAS_CUSTOMER,incorrect,
AAPL,TGT,Target Corporation,Our target market is growing.,target,HAS_CUSTOMER,incorrect,
AAPL,MSFT,Microsoft Corporation,Not reviewed yet.,Microsoft,HAS_PARTNER,,
`

func approxEqual(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestConfusion(t *testing.T) {
	c := Confusion{TP: 6, FP: 2, TN: 10, FN: 2}
	tests := []struct {
		name      string
		got, want float64
	}{
		{"precision", c.Precision(), 0.75},
		{"recall", c.Recall(), 0.75},
		{"f1", c.F1(), 0.75},
		{"accuracy", c.Accuracy(), 0.8},
		{"baseline", c.Baseline(), 0.4},
		{"empty precision", Confusion{}.Precision(), 0},
		{"empty f1", Confusion{}.F1(), 0},
	}
	for _, tt := range tests {
		if !approxEqual(tt.got, tt.want) {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestReadCSV(t *testing.T) {
	ds, err := ReadCSV(strings.NewReader(reviewCSV))
	if err != nil {
		t.Fatal(err)
	}
	if len(ds.Cases) != 5 {
		t.Fatalf("cases = %d, want 5", len(ds.Cases))
	}
	want := Case{
		SourceTicker: "AAPL", TargetTicker: "TSM", TargetName: "Taiwan Semiconductor",
		Context: "We buy wafers from TSMC.", Mention: "TSMC", Type: "HAS_SUPPLIER", Label: "correct",
	}
	if diff := cmp.Diff(want, ds.Cases[1]); diff != "" {
		t.Errorf("case mismatch (-want +got):\n%s", diff)
	}

	if _, err := ReadCSV(strings.NewReader("a,b\n1,2\n")); err == nil {
		t.Error("expected error for header without known columns")
	}
}

func TestLoadDataset(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "reviewed.csv")
	if err := os.WriteFile(csvPath, []byte(reviewCSV), 0o644); err != nil {
		t.Fatal(err)
	}
	ds, err := LoadDataset(csvPath)
	if err != nil {
		t.Fatal(err)
	}
	if ds.Name != "reviewed" || len(ds.Cases) != 4 {
		t.Errorf("dataset %q with %d cases, want reviewed with 4", ds.Name, len(ds.Cases))
	}
	if correct, incorrect := ds.Counts(); correct != 2 || incorrect != 2 {
		t.Errorf("counts = %d/%d", correct, incorrect)
	}

	yamlPath := filepath.Join(dir, "cases.yaml")
	data := `name: smoke
cases:
  - source_id: "320193"
    context: We compete with Microsoft.
    raw_mention: Microsoft
    relationship_type: competitor
    label: correct
`
	if err := os.WriteFile(yamlPath, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	ds, err = LoadDataset(yamlPath)
	if err != nil {
		t.Fatal(err)
	}
	if ds.Name != "smoke" || len(ds.Cases) != 1 || ds.Cases[0].SourceID != "320193" {
		t.Errorf("yaml dataset = %+v", ds)
	}

	if _, err := LoadDataset(filepath.Join(dir, "cases.parquet")); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestSample(t *testing.T) {
	ds, err := ReadCSV(strings.NewReader(reviewCSV))
	if err != nil {
		t.Fatal(err)
	}
	s := ds.Sample(1)
	if len(s.Cases) != 2 || !s.Cases[0].Correct() || s.Cases[1].Correct() {
		t.Errorf("sample = %+v", s.Cases)
	}
	if got := ds.Sample(0); len(got.Cases) != len(ds.Cases) {
		t.Error("Sample(0) should keep every case")
	}
}

// fakeJudge answers from a table keyed by sentence.
type fakeJudge struct {
	reg     *registry.Registry
	answers map[string]*relgraph.Judgement
	errs    map[string]error

	mu   sync.Mutex
	seen []relgraph.Mention
}

func (f *fakeJudge) Registry() *registry.Registry { return f.reg }

func (f *fakeJudge) Judge(_ context.Context, m relgraph.Mention) (*relgraph.Judgement, error) {
	f.mu.Lock()
	f.seen = append(f.seen, m)
	f.mu.Unlock()
	if err := f.errs[m.Sentence]; err != nil {
		return nil, err
	}
	if j, ok := f.answers[m.Sentence]; ok {
		return j, nil
	}
	return &relgraph.Judgement{}, nil
}

func newFakeJudge(t *testing.T) *fakeJudge {
	t.Helper()
	reg, err := registry.New([]registry.Entity{
		{ID: "320193", Name: "Apple Inc.", Ticker: "AAPL"},
		{ID: "789019", Name: "Microsoft Corporation", Ticker: "MSFT"},
		{ID: "1046179", Name: "Taiwan Semiconductor Manufacturing Company Limited", Ticker: "TSM"},
	})
	if err != nil {
		t.Fatal(err)
	}
	msft := &resolve.Resolved{EntityID: "789019", Name: "Microsoft Corporation"}
	tsmc := &resolve.Resolved{EntityID: "1046179"}
	return &fakeJudge{
		reg: reg,
		answers: map[string]*relgraph.Judgement{
			"We compete with Microsoft in cloud services.": {
				Resolved: msft, Decision: decision.Decision{Tier: 3, Verdict: decision.Accept},
				Confidence: relation.High, Label: "HAS_COMPETITOR",
			},
			"We buy wafers from TSMC.": {
				Resolved: tsmc, Decision: decision.Decision{Tier: 4, Verdict: decision.Accept},
				Confidence: relation.Low,
			},
			"Microsoft Excel files are supported.": {
				Resolved: msft, Decision: decision.Decision{Tier: 2, Verdict: decision.Reject},
			},
		},
	}
}

func TestEvaluatorRun(t *testing.T) {
	ds, err := ReadCSV(strings.NewReader(reviewCSV))
	if err != nil {
		t.Fatal(err)
	}
	ds = ds.Sample(10)
	judge := newFakeJudge(t)

	rep, err := NewEvaluator(judge, 2).Run(context.Background(), ds)
	if err != nil {
		t.Fatal(err)
	}

	if rep.Total != 4 || rep.Errors != 0 {
		t.Fatalf("total = %d, errors = %d", rep.Total, rep.Errors)
	}
	if diff := cmp.Diff(Confusion{TP: 1, FN: 1, TN: 2}, rep.Overall); diff != "" {
		t.Errorf("overall (-want +got):\n%s", diff)
	}
	wantReasons := map[string]int{ReasonBelowMedium: 1, "tier 2": 1, ReasonUnresolved: 1}
	if diff := cmp.Diff(wantReasons, rep.Rejected); diff != "" {
		t.Errorf("rejections (-want +got):\n%s", diff)
	}
	if got := rep.ByType["HAS_CUSTOMER"]; got.TN != 2 {
		t.Errorf("customer confusion = %+v", got)
	}
	if diff := cmp.Diff([]string{"HAS_COMPETITOR", "HAS_CUSTOMER", "HAS_SUPPLIER"}, rep.Types()); diff != "" {
		t.Errorf("types (-want +got):\n%s", diff)
	}
	if !rep.Results[0].Passed() || rep.Results[1].Passed() {
		t.Errorf("results = %+v", rep.Results[:2])
	}

	for _, m := range judge.seen {
		if m.CompanyID != "320193" {
			t.Errorf("source not mapped from ticker: %+v", m)
		}
		if m.Sentence == "Our target market is growing." && m.TargetID != "" {
			t.Errorf("unknown target ticker should fall back to resolution, got %q", m.TargetID)
		}
	}
}

func TestEvaluatorRecordsCaseErrors(t *testing.T) {
	judge := newFakeJudge(t)
	judge.errs = map[string]error{"boom": errors.New("provider down")}
	ds := Dataset{Cases: []Case{
		{SourceTicker: "AAPL", Context: "boom", Mention: "boom", Type: "HAS_PARTNER", Label: "correct"},
		{SourceTicker: "ZZZZ", Context: "x", Mention: "x", Type: "HAS_PARTNER", Label: "correct"},
		{SourceTicker: "AAPL", Context: "x", Mention: "x", Type: "OWNS", Label: "correct"},
	}}
	rep, err := NewEvaluator(judge, 1).Run(context.Background(), ds)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Errors != 3 || rep.Overall.Total() != 0 {
		t.Errorf("errors = %d, overall = %+v", rep.Errors, rep.Overall)
	}
	if !strings.Contains(rep.Results[1].Error, "ZZZZ") {
		t.Errorf("error = %q", rep.Results[1].Error)
	}
}

func TestEvaluatorCancelled(t *testing.T) {
	judge := newFakeJudge(t)
	judge.errs = map[string]error{"x": context.Canceled}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ds := Dataset{Cases: []Case{{SourceTicker: "AAPL", Context: "x", Mention: "x", Type: "HAS_PARTNER", Label: "correct"}}}
	if _, err := NewEvaluator(judge, 1).Run(ctx, ds); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestReasonsOrder(t *testing.T) {
	r := &Report{Rejected: map[string]int{"tier 2": 1, "tier 3": 4, ReasonUnresolved: 4}}
	if diff := cmp.Diff([]string{"tier 3", ReasonUnresolved, "tier 2"}, r.Reasons()); diff != "" {
		t.Errorf("reasons (-want +got):\n%s", diff)
	}
}
