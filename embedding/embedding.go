// Package embedding turns text into vectors for semantic similarity signals.
//
// The Embedder is treated as a pure function: the same text always yields the
// same vector, which is what makes the cache-aside wrapper safe.
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"golang.org/x/time/rate"

	"github.com/brunobiangulo/relgraph/llm"
)

// ErrEmptyEmbedding is returned when a provider answers without a vector.
var ErrEmptyEmbedding = errors.New("embedding: provider returned no vector")

// ErrDimensionMismatch is returned when two vectors being compared differ
// in length, usually after the embedding model changed.
var ErrDimensionMismatch = errors.New("embedding: vector dimensions differ")

// Embedder turns text into a fixed-dimensional vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ProviderEmbedder adapts an llm.Provider. Calls are paced by a token bucket
// so batch runs stay under the provider's rate limit.
type ProviderEmbedder struct {
	provider llm.Provider
	limiter  *rate.Limiter
}

// NewProviderEmbedder wraps p. A zero or negative rps disables pacing.
func NewProviderEmbedder(p llm.Provider, rps float64, burst int) *ProviderEmbedder {
	lim := rate.NewLimiter(rate.Inf, 0)
	if rps > 0 {
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return &ProviderEmbedder{provider: p, limiter: lim}
}

func (e *ProviderEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	vecs, err := e.provider.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil, ErrEmptyEmbedding
	}
	return vecs[0], nil
}

// Cache stores vectors by key.
type Cache interface {
	GetEmbedding(ctx context.Context, key string) ([]float32, bool, error)
	PutEmbedding(ctx context.Context, key string, vec []float32) error
}

// Cached is a cache-aside Embedder. Cache failures are not fatal: a failed
// read falls through to the provider and a failed write is dropped.
type Cached struct {
	inner Embedder
	cache Cache
	model string
}

// NewCached wraps inner. model namespaces keys so switching models does not
// return stale vectors.
func NewCached(inner Embedder, cache Cache, model string) *Cached {
	return &Cached{inner: inner, cache: cache, model: model}
}

// Key returns the cache key for text under model.
func Key(model, text string) string {
	h := sha256.Sum256([]byte(model + "\x00" + text))
	return hex.EncodeToString(h[:])
}

func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	key := Key(c.model, text)
	if vec, ok, err := c.cache.GetEmbedding(ctx, key); err == nil && ok {
		return vec, nil
	}
	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := c.cache.PutEmbedding(ctx, key, vec); err != nil {
		slog.Debug("embedding: cache write failed", "model", c.model, "error", err)
	}
	return vec, nil
}

// Cosine returns the cosine similarity of a and b, or 0 when the vectors
// differ in length or either is zero.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
