// Package embeddings defines the Provider interface for vector embedding
// backends.
//
// An embeddings provider maps text to dense float32 vectors. The memory layer
// uses these vectors to store distilled session facts and recall the ones most
// relevant to what the learner just said.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider is the abstraction over any text-embedding backend.
//
// All vectors returned by a single Provider instance share the dimensionality
// reported by Dimensions. Vectors from different instances must not be mixed
// in the same similarity computation unless both use the same model.
type Provider interface {
	// Embed computes the embedding vector for a single text string. Returns a
	// float32 slice of length Dimensions() or an error if the request fails
	// or ctx is cancelled.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch computes vectors for all texts in a single provider call.
	// The returned slice has the same length as texts with the i-th element
	// corresponding to texts[i]. On error the entire result is nil; partial
	// results are never returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed length of every vector produced by this
	// provider.
	Dimensions() int
}
