package embedding

import (
	"context"
	"fmt"

	"github.com/brunobiangulo/relgraph/chunker"
)

// Chunked embeds long text piecewise and combines the piece vectors into a
// token-weighted mean. Text that fits one piece costs a single call.
type Chunked struct {
	inner   Embedder
	chunker *chunker.Chunker
}

// NewChunked wraps inner.
func NewChunked(inner Embedder, c *chunker.Chunker) *Chunked {
	return &Chunked{inner: inner, chunker: c}
}

func (c *Chunked) Embed(ctx context.Context, text string) ([]float32, error) {
	chunks := c.chunker.Split(text)
	switch len(chunks) {
	case 0:
		return nil, ErrEmptyEmbedding
	case 1:
		return c.inner.Embed(ctx, chunks[0].Text)
	}

	vecs := make([][]float32, len(chunks))
	weights := make([]float64, len(chunks))
	for i, ch := range chunks {
		v, err := c.inner.Embed(ctx, ch.Text)
		if err != nil {
			return nil, fmt.Errorf("embedding chunk %d/%d: %w", i+1, len(chunks), err)
		}
		vecs[i], weights[i] = v, float64(max(ch.Tokens, 1))
	}
	return WeightedMean(vecs, weights)
}

// WeightedMean averages vectors of equal dimension.
func WeightedMean(vecs [][]float32, weights []float64) ([]float32, error) {
	if len(vecs) == 0 || len(vecs) != len(weights) {
		return nil, fmt.Errorf("embedding: %d vectors with %d weights", len(vecs), len(weights))
	}
	dim := len(vecs[0])
	sum := make([]float64, dim)
	var total float64
	for i, v := range vecs {
		if len(v) != dim {
			return nil, fmt.Errorf("embedding: inconsistent dimensions %d and %d", dim, len(v))
		}
		for j, x := range v {
			sum[j] += float64(x) * weights[i]
		}
		total += weights[i]
	}
	if total == 0 {
		return nil, fmt.Errorf("embedding: zero total weight")
	}
	out := make([]float32, dim)
	for j := range sum {
		out[j] = float32(sum[j] / total)
	}
	return out, nil
}
