// Package mock provides an in-memory test double for the dossier.Store
// interface. It applies the same clamping rules as the Postgres store so
// orchestrator tests see realistic score behaviour.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/justraw/friction/internal/dossier"
)

// Store is an in-memory implementation of dossier.Store.
//
// Set the Err fields to inject failures on specific operations. All methods
// are safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	dossiers map[uuid.UUID]*dossier.Dossier
	turns    []dossier.Turn
	nextID   int64

	// GetErr, if non-nil, is returned by Get.
	GetErr error
	// SetScoreErr, if non-nil, is returned by SetScore.
	SetScoreErr error
	// AppendTurnErr, if non-nil, is returned by AppendTurn.
	AppendTurnErr error

	// SetScoreCalls records every score passed to SetScore, in order.
	SetScoreCalls []int
	// MistakesCalls records every list passed to SetCommonMistakes.
	MistakesCalls [][]string
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{dossiers: make(map[uuid.UUID]*dossier.Dossier)}
}

// Seed installs a dossier without going through Get's default-creation path.
func (s *Store) Seed(d *dossier.Dossier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.dossiers[d.UserID] = &cp
}

// Get implements dossier.Store.
func (s *Store) Get(_ context.Context, userID uuid.UUID) (*dossier.Dossier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.GetErr != nil {
		return nil, s.GetErr
	}

	d, ok := s.dossiers[userID]
	if !ok {
		d = &dossier.Dossier{
			UserID:          userID,
			Name:            dossier.DefaultName,
			RespectScore:    dossier.ScoreDefault,
			LastInteraction: time.Now(),
		}
		s.dossiers[userID] = d
	}
	cp := *d
	return &cp, nil
}

// SetScore implements dossier.Store.
func (s *Store) SetScore(_ context.Context, userID uuid.UUID, score int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SetScoreCalls = append(s.SetScoreCalls, score)
	if s.SetScoreErr != nil {
		return s.SetScoreErr
	}
	if d, ok := s.dossiers[userID]; ok {
		d.RespectScore = dossier.Clamp(score)
		d.LastInteraction = time.Now()
	}
	return nil
}

// IncrementSessions implements dossier.Store.
func (s *Store) IncrementSessions(_ context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.dossiers[userID]; ok {
		d.SessionCount++
	}
	return nil
}

// SetCommonMistakes implements dossier.Store.
func (s *Store) SetCommonMistakes(_ context.Context, userID uuid.UUID, mistakes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.MistakesCalls = append(s.MistakesCalls, mistakes)
	if d, ok := s.dossiers[userID]; ok {
		d.CommonMistakes = mistakes
	}
	return nil
}

// AppendTurn implements dossier.Store.
func (s *Store) AppendTurn(_ context.Context, turn *dossier.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AppendTurnErr != nil {
		return s.AppendTurnErr
	}
	s.nextID++
	turn.ID = s.nextID
	turn.RespectScoreAfter = dossier.Clamp(turn.RespectScoreAfter)
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	s.turns = append(s.turns, *turn)
	return nil
}

// TurnsBySession implements dossier.Store.
func (s *Store) TurnsBySession(_ context.Context, sessionID uuid.UUID) ([]dossier.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []dossier.Turn
	for _, t := range s.turns {
		if t.SessionID == sessionID {
			out = append(out, t)
		}
	}
	return out, nil
}

// RecentTurns implements dossier.Store.
func (s *Store) RecentTurns(_ context.Context, userID uuid.UUID, limit int) ([]dossier.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []dossier.Turn
	for i := len(s.turns) - 1; i >= 0 && len(out) < limit; i-- {
		if s.turns[i].UserID == userID {
			out = append(out, s.turns[i])
		}
	}
	return out, nil
}

// Turns returns a copy of every logged turn, in append order.
func (s *Store) Turns() []dossier.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]dossier.Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Ensure Store implements dossier.Store at compile time.
var _ dossier.Store = (*Store)(nil)
