// Package embedder provides the text embedding providers used for semantic search.
package embedder

import "context"

// Provider turns text into vectors.
//
// Implementations: openai (OpenAI-compatible APIs), mock (deterministic,
// offline). Cached wraps any Provider with an in-process cache.
type Provider interface {
	// Embed converts a text string into a vector embedding.
	Embed(ctx context.Context, text string) ([]float64, error)

	// EmbedBatch converts multiple texts; the result order matches texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)

	// Dimensions returns the dimension of the produced vectors.
	Dimensions() int

	// Close releases resources.
	Close() error
}
