package relgraph

import "errors"

var (
	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("relgraph: invalid configuration")

	// ErrUnknownCompany is returned when a filing's company is not in the
	// entity registry.
	ErrUnknownCompany = errors.New("relgraph: filing company not in registry")

	// ErrParsingFailed is returned when a filing cannot be parsed.
	ErrParsingFailed = errors.New("relgraph: parsing failed")

	// ErrEmbeddingFailed is returned when every entity description failed
	// to embed during a registry import.
	ErrEmbeddingFailed = errors.New("relgraph: embedding generation failed")

	// ErrNoEmbedder is returned by operations that need an embedding
	// provider when none is configured.
	ErrNoEmbedder = errors.New("relgraph: embedding provider not configured")
)

// ErrMentionNotFound is returned by Judge when the mention does not occur
// in the sentence.
var ErrMentionNotFound = errors.New("relgraph: mention not found in sentence")
