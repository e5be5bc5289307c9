// Package mock provides an in-memory test double for the memory.Index
// interface.
package mock

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/justraw/friction/internal/memory"
)

// Index is an in-memory implementation of memory.Index. Recall returns seeded
// facts in insertion order; distance ranking is not simulated.
type Index struct {
	mu    sync.Mutex
	facts []memory.Fact

	// StoreErr, if non-nil, is returned by Store.
	StoreErr error
	// RecallErr, if non-nil, is returned by Recall.
	RecallErr error

	// RecallCalls counts invocations of Recall.
	RecallCalls int
}

// Store implements memory.Index.
func (x *Index) Store(_ context.Context, facts []memory.Fact) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.StoreErr != nil {
		return x.StoreErr
	}
	x.facts = append(x.facts, facts...)
	return nil
}

// Recall implements memory.Index.
func (x *Index) Recall(_ context.Context, userID uuid.UUID, _ []float32, limit int) ([]memory.RecalledFact, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.RecallCalls++
	if x.RecallErr != nil {
		return nil, x.RecallErr
	}

	var out []memory.RecalledFact
	for _, f := range x.facts {
		if f.UserID != userID {
			continue
		}
		out = append(out, memory.RecalledFact{Fact: f})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// Facts returns a copy of every stored fact, in insertion order.
func (x *Index) Facts() []memory.Fact {
	x.mu.Lock()
	defer x.mu.Unlock()
	out := make([]memory.Fact, len(x.facts))
	copy(out, x.facts)
	return out
}

// Ensure Index implements memory.Index at compile time.
var _ memory.Index = (*Index)(nil)
