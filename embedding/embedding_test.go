package embedding

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/brunobiangulo/relgraph/chunker"
	"github.com/brunobiangulo/relgraph/llm"
)

// fakeEmbedder maps known strings to vectors and counts calls.
type fakeEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	calls   int
	err     error
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 0, 1}, nil
}

type memCache struct {
	data    map[string][]float32
	failGet bool
	failPut bool
}

func (m *memCache) GetEmbedding(_ context.Context, key string) ([]float32, bool, error) {
	if m.failGet {
		return nil, false, errors.New("cache down")
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) PutEmbedding(_ context.Context, key string, vec []float32) error {
	if m.failPut {
		return errors.New("disk full")
	}
	m.data[key] = vec
	return nil
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
		{"empty", nil, nil, 0},
	}
	for _, tt := range tests {
		if got := Cosine(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("%s: Cosine = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestCachedEmbedder(t *testing.T) {
	inner := &fakeEmbedder{vectors: map[string][]float32{"hello": {1, 0, 0, 0}}}
	cache := &memCache{data: make(map[string][]float32)}
	c := NewCached(inner, cache, "test-model")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		v, err := c.Embed(ctx, "hello")
		if err != nil {
			t.Fatalf("embed: %v", err)
		}
		if v[0] != 1 {
			t.Fatalf("unexpected vector %v", v)
		}
	}
	if inner.calls != 1 {
		t.Errorf("inner called %d times, want 1", inner.calls)
	}
	if _, ok := cache.data[Key("test-model", "hello")]; !ok {
		t.Error("vector not stored under model-scoped key")
	}
	if Key("a", "hello") == Key("b", "hello") {
		t.Error("keys must differ across models")
	}
}

func TestCachedEmbedderCacheFailureFallsThrough(t *testing.T) {
	inner := &fakeEmbedder{}
	c := NewCached(inner, &memCache{data: map[string][]float32{}, failGet: true}, "m")
	if _, err := c.Embed(context.Background(), "x"); err != nil {
		t.Fatalf("embed with failing cache: %v", err)
	}
	if inner.calls != 1 {
		t.Errorf("inner calls = %d, want 1", inner.calls)
	}

	c = NewCached(inner, &memCache{data: map[string][]float32{}, failPut: true}, "m")
	if v, err := c.Embed(context.Background(), "y"); err != nil || len(v) == 0 {
		t.Fatalf("embed with failing cache write = %v, %v", v, err)
	}
}

type vectorMap map[string][]float32

func (m vectorMap) EntityVector(_ context.Context, id string) ([]float32, bool, error) {
	v, ok := m[id]
	return v, ok, nil
}

func TestScorer(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float32{
		"We buy chips from Intel.": {1, 0, 0, 0},
		"Semiconductor maker":      {1, 0, 0, 0},
	}}
	descriptions := func(id string) (string, bool) {
		if id == "intel" {
			return "Semiconductor maker", true
		}
		return "", false
	}
	ctx := context.Background()

	s := NewScorer(emb, vectorMap{"stored": {0, 1, 0, 0}}, descriptions)

	got, err := s.Score(ctx, "We buy chips from Intel.", "intel")
	if err != nil {
		t.Fatalf("score via description: %v", err)
	}
	if math.Abs(got-1) > 1e-9 {
		t.Errorf("score = %v, want 1", got)
	}

	got, err = s.Score(ctx, "We buy chips from Intel.", "stored")
	if err != nil {
		t.Fatalf("score via stored vector: %v", err)
	}
	if got != 0 {
		t.Errorf("score = %v, want 0", got)
	}

	if _, err := s.Score(ctx, "x", "unknown"); !errors.Is(err, ErrNoDescription) {
		t.Errorf("unknown entity: err = %v, want ErrNoDescription", err)
	}
}

func TestScorerDimensionMismatch(t *testing.T) {
	// Stored vectors from an older two-dimensional model.
	s := NewScorer(&fakeEmbedder{}, vectorMap{"old": {1, 0}}, nil)
	if _, err := s.Score(context.Background(), "We buy chips from Intel.", "old"); !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("err = %v, want ErrDimensionMismatch", err)
	}
}

func TestScorerEmbedFailure(t *testing.T) {
	s := NewScorer(&fakeEmbedder{err: errors.New("boom")}, vectorMap{"a": {1}}, nil)
	if _, err := s.Score(context.Background(), "ctx", "a"); err == nil {
		t.Fatal("expected error when the embedder fails")
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("héllo", 2); got != "hé" {
		t.Errorf("Truncate = %q", got)
	}
	long := strings.Repeat("a", 600)
	if got := Truncate(long, DefaultMaxContext); len(got) != DefaultMaxContext {
		t.Errorf("len = %d", len(got))
	}
	if got := Truncate("abc", 0); got != "abc" {
		t.Errorf("Truncate(n=0) = %q", got)
	}
}

type fakeProvider struct {
	vecs [][]float32
}

func (p *fakeProvider) Chat(context.Context, llm.ChatRequest) (*llm.ChatResponse, error) {
	return nil, errors.New("not implemented")
}

func (p *fakeProvider) Embed(context.Context, []string) ([][]float32, error) {
	return p.vecs, nil
}

func TestProviderEmbedder(t *testing.T) {
	e := NewProviderEmbedder(&fakeProvider{vecs: [][]float32{{0.5, 0.5}}}, 100, 1)
	v, err := e.Embed(context.Background(), "text")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(v) != 2 {
		t.Errorf("vector = %v", v)
	}

	empty := NewProviderEmbedder(&fakeProvider{}, 0, 0)
	if _, err := empty.Embed(context.Background(), "text"); !errors.Is(err, ErrEmptyEmbedding) {
		t.Errorf("err = %v, want ErrEmptyEmbedding", err)
	}
}

func TestChunkedEmbedder(t *testing.T) {
	inner := &fakeEmbedder{}
	c := NewChunked(inner, chunker.New(chunker.Config{MaxTokens: 20, Overlap: 2}))

	vec, err := c.Embed(context.Background(), "Apple designs smartphones.")
	if err != nil {
		t.Fatal(err)
	}
	if inner.calls != 1 || len(vec) != 4 {
		t.Fatalf("short text: calls = %d, vec = %v", inner.calls, vec)
	}

	long := strings.Repeat("word ", 60)
	if _, err := c.Embed(context.Background(), long); err != nil {
		t.Fatal(err)
	}
	if inner.calls < 4 {
		t.Errorf("long text embedded in %d calls, want several", inner.calls-1)
	}

	if _, err := c.Embed(context.Background(), "  "); !errors.Is(err, ErrEmptyEmbedding) {
		t.Errorf("blank text err = %v", err)
	}
}

func TestWeightedMean(t *testing.T) {
	got, err := WeightedMean([][]float32{{1, 0}, {0, 1}}, []float64{3, 1})
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(float64(got[0])-0.75) > 1e-6 || math.Abs(float64(got[1])-0.25) > 1e-6 {
		t.Errorf("WeightedMean = %v", got)
	}
	if _, err := WeightedMean([][]float32{{1, 0}, {1}}, []float64{1, 1}); err == nil {
		t.Error("expected dimension error")
	}
}
