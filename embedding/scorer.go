package embedding

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"
)

// DefaultMaxContext caps the sentence context embedded for scoring, in
// characters.
const DefaultMaxContext = 500

// ErrNoDescription is returned when the target entity has neither a stored
// description vector nor a description to embed.
var ErrNoDescription = errors.New("embedding: entity has no description")

// VectorSource returns precomputed entity description vectors.
type VectorSource interface {
	EntityVector(ctx context.Context, entityID string) ([]float32, bool, error)
}

// DescriptionFunc looks up an entity's business description.
type DescriptionFunc func(entityID string) (string, bool)

// Scorer measures how well a sentence context matches a target company's
// business description. This is the embedding_similarity signal.
type Scorer struct {
	emb          Embedder
	vectors      VectorSource
	descriptions DescriptionFunc
	maxContext   int
}

// NewScorer creates a Scorer. vectors and descriptions may be nil, but at
// least one is needed for Score to succeed.
func NewScorer(emb Embedder, vectors VectorSource, descriptions DescriptionFunc) *Scorer {
	return &Scorer{emb: emb, vectors: vectors, descriptions: descriptions, maxContext: DefaultMaxContext}
}

// Score returns the cosine similarity between the context and the entity's
// description.
func (s *Scorer) Score(ctx context.Context, sentence, entityID string) (float64, error) {
	target, err := s.entityVector(ctx, entityID)
	if err != nil {
		return 0, err
	}
	vec, err := s.emb.Embed(ctx, Truncate(sentence, s.maxContext))
	if err != nil {
		return 0, fmt.Errorf("embedding context: %w", err)
	}
	if len(vec) != len(target) {
		return 0, fmt.Errorf("%w: context %d, entity %s %d", ErrDimensionMismatch, len(vec), entityID, len(target))
	}
	return Cosine(vec, target), nil
}

func (s *Scorer) entityVector(ctx context.Context, entityID string) ([]float32, error) {
	if s.vectors != nil {
		vec, ok, err := s.vectors.EntityVector(ctx, entityID)
		if err != nil {
			return nil, fmt.Errorf("loading entity vector: %w", err)
		}
		if ok {
			return vec, nil
		}
	}
	if s.descriptions != nil {
		if desc, ok := s.descriptions(entityID); ok && desc != "" {
			vec, err := s.emb.Embed(ctx, desc)
			if err != nil {
				return nil, fmt.Errorf("embedding description: %w", err)
			}
			return vec, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoDescription, entityID)
}

// Truncate shortens s to at most n characters without splitting a rune.
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
