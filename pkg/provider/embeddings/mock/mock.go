// Package mock provides a test double for the embeddings.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/justraw/friction/pkg/provider/embeddings"
)

// Provider is a mock implementation of embeddings.Provider.
//
// When Vector is nil, Embed and EmbedBatch return deterministic vectors of
// length Dims so callers that only need shape-correct output work without
// configuration.
type Provider struct {
	mu sync.Mutex

	// Dims is the dimensionality reported by Dimensions. Defaults to 4 when
	// unset.
	Dims int

	// Vector, if non-nil, is returned for every embedded text.
	Vector []float32

	// Err, if non-nil, is returned as the error from Embed and EmbedBatch.
	Err error

	// EmbedCalls records every text passed to Embed or EmbedBatch, in order.
	EmbedCalls []string
}

// Embed records the call and returns a single vector.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch records the calls and returns one vector per text.
func (p *Provider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = append(p.EmbedCalls, texts...)
	if p.Err != nil {
		return nil, p.Err
	}

	out := make([][]float32, len(texts))
	for i := range texts {
		if p.Vector != nil {
			out[i] = p.Vector
			continue
		}
		vec := make([]float32, p.dims())
		for j := range vec {
			vec[j] = float32(len(texts[i])%7) / 7
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dims()
}

func (p *Provider) dims() int {
	if p.Vector != nil {
		return len(p.Vector)
	}
	if p.Dims > 0 {
		return p.Dims
	}
	return 4
}

// Ensure Provider implements embeddings.Provider at compile time.
var _ embeddings.Provider = (*Provider)(nil)
