// Package memory gives the character long-term recall across sessions.
//
// At session end a summariser distills the turn log into short facts about
// the learner ("keeps forgetting to say bonjour", "ordered a croissant
// twice"). Facts are embedded and stored; at the start of each turn the
// index recalls the facts closest to what the learner just said and the
// generator weaves them into the character's context.
package memory

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Fact is one distilled observation about a learner.
type Fact struct {
	// ID is the stable fact key.
	ID uuid.UUID

	// UserID is the learner this fact is about.
	UserID uuid.UUID

	// SessionID is the session the fact was distilled from.
	SessionID uuid.UUID

	// Content is the fact text.
	Content string

	// Embedding is the vector for Content. Populated by the caller before
	// Store; returned filled on Recall.
	Embedding []float32

	// CreatedAt is when the fact was stored.
	CreatedAt time.Time
}

// RecalledFact is a fact plus its cosine distance to the recall query.
// Smaller distance means more relevant.
type RecalledFact struct {
	Fact
	Distance float64
}

// Index is the persistence abstraction for facts.
//
// Implementations must be safe for concurrent use.
type Index interface {
	// Store persists facts. Facts with an existing ID are replaced.
	Store(ctx context.Context, facts []Fact) error

	// Recall returns up to limit facts about userID closest to the query
	// embedding, most relevant first.
	Recall(ctx context.Context, userID uuid.UUID, embedding []float32, limit int) ([]RecalledFact, error)
}
