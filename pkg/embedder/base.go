// Package embedder provides interfaces for text embedding providers.
//
// Embeddings are optional in StrataMem: when an embedder is configured,
// ingest stores a vector alongside each record and the reference searcher
// ranks candidates by cosine similarity.
package embedder

import "context"

// Provider defines the interface for embedding providers.
type Provider interface {
	// Embed converts a text string into a vector embedding.
	Embed(ctx context.Context, text string) ([]float64, error)

	// Dimensions returns the dimension of vectors produced by this
	// provider.
	Dimensions() int

	// Close closes the provider and releases resources.
	Close() error
}
