// Package dossier persists what the system knows about each learner: their
// respect score, how many sessions they have played, and the full turn log.
//
// The respect score is the core progression mechanic. It lives in [0, 100];
// every write path clamps to that range so no caller can push it outside.
package dossier

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	// ScoreMin and ScoreMax bound the respect score.
	ScoreMin = 0
	ScoreMax = 100

	// ScoreDefault is the respect score for a learner we have never seen.
	ScoreDefault = 50

	// DefaultName is the display name for a learner who has not set one.
	DefaultName = "L'élève"
)

// Clamp forces score into [ScoreMin, ScoreMax].
func Clamp(score int) int {
	if score < ScoreMin {
		return ScoreMin
	}
	if score > ScoreMax {
		return ScoreMax
	}
	return score
}

// Dossier is the persistent per-learner record.
type Dossier struct {
	UserID          uuid.UUID
	Name            string
	RespectScore    int
	SessionCount    int
	LastInteraction time.Time
	CommonMistakes  []string
}

// Turn is one logged exchange within a session.
type Turn struct {
	ID                int64
	UserID            uuid.UUID
	SessionID         uuid.UUID
	UserMessage       string
	CharacterResponse string
	RespectDelta      int
	RespectScoreAfter int
	CreatedAt         time.Time
}

// Store is the persistence abstraction for dossiers and turn logs.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the dossier for userID, creating a default record
	// (score 50, zero sessions) if none exists.
	Get(ctx context.Context, userID uuid.UUID) (*Dossier, error)

	// SetScore overwrites the respect score for userID and stamps the last
	// interaction time. The stored value is clamped to [0, 100] regardless of
	// the input.
	SetScore(ctx context.Context, userID uuid.UUID, score int) error

	// IncrementSessions bumps the session counter for userID by one.
	IncrementSessions(ctx context.Context, userID uuid.UUID) error

	// SetCommonMistakes replaces the recurring-mistake list distilled at
	// session end.
	SetCommonMistakes(ctx context.Context, userID uuid.UUID, mistakes []string) error

	// AppendTurn logs one completed exchange.
	AppendTurn(ctx context.Context, turn *Turn) error

	// TurnsBySession returns all turns of one session in chronological order.
	TurnsBySession(ctx context.Context, sessionID uuid.UUID) ([]Turn, error)

	// RecentTurns returns the most recent limit turns for userID, newest
	// first.
	RecentTurns(ctx context.Context, userID uuid.UUID, limit int) ([]Turn, error)
}
