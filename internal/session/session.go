// Package session orchestrates one live role-play conversation.
//
// A [Session] is owned by exactly one connection. The [Orchestrator] drives it
// through its lifecycle: Handshake loads the learner's dossier and opens the
// scene, Turn processes one utterance end to end, Close flushes state and
// distills the conversation into long-term memory.
//
// Turns are strictly sequential per session. A turn arriving while another is
// in flight is dropped, never queued. Every pipeline stage except the
// character generator degrades on failure; a session only aborts before READY
// when the generator itself is unavailable.
package session

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/justraw/friction/internal/character"
	"github.com/justraw/friction/internal/dossier"
	"github.com/justraw/friction/internal/scenario"
)

// State is a session lifecycle phase.
type State int32

const (
	// StateAwaitingHandshake is the initial state after accept.
	StateAwaitingHandshake State = iota

	// StateReady means the session can accept a turn.
	StateReady

	// StateProcessingTurn means a turn is in flight.
	StateProcessingTurn

	// StateClosed is terminal.
	StateClosed
)

// String returns the state name for logs.
func (s State) String() string {
	switch s {
	case StateAwaitingHandshake:
		return "awaiting_handshake"
	case StateReady:
		return "ready"
	case StateProcessingTurn:
		return "processing_turn"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Session is the per-connection conversation state. Create one with
// [NewSession] and drive it exclusively through an [Orchestrator].
type Session struct {
	// ID identifies this session in logs and turn rows.
	ID uuid.UUID

	// UserID is the learner the session belongs to.
	UserID uuid.UUID

	state atomic.Int32
	busy  atomic.Bool

	mu       sync.Mutex
	scen     scenario.Scenario
	chat     *character.Chat
	dos      dossier.Dossier
	lastMood character.Mood
	turns    []dossier.Turn
}

// NewSession creates a session in StateAwaitingHandshake.
func NewSession(userID uuid.UUID) *Session {
	return &Session{
		ID:     uuid.New(),
		UserID: userID,
	}
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Score returns the current respect score. Valid after Handshake.
func (s *Session) Score() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dos.RespectScore
}

// Scenario returns the resolved scenario. Valid after Handshake.
func (s *Session) Scenario() scenario.Scenario {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scen
}

// setState transitions unconditionally.
func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// casState transitions from old to new and reports whether it applied.
func (s *Session) casState(old, new State) bool {
	return s.state.CompareAndSwap(int32(old), int32(new))
}

// snapshotDossier returns a copy of the live dossier for prompt building.
func (s *Session) snapshotDossier() dossier.Dossier {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.dos
	d.CommonMistakes = append([]string(nil), s.dos.CommonMistakes...)
	return d
}

// applyDelta adds delta to the score, clamps it, updates the mood tier, and
// reports the new score plus whether the tier changed.
func (s *Session) applyDelta(delta int) (score int, moodChanged bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dos.RespectScore = dossier.Clamp(s.dos.RespectScore + delta)
	mood := character.MoodFor(s.dos.RespectScore)
	moodChanged = mood != s.lastMood
	s.lastMood = mood
	return s.dos.RespectScore, moodChanged
}

// recordTurn appends to the session's rolling turn log.
func (s *Session) recordTurn(t dossier.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, t)
}

// takeTurns returns the turn log. Called once, at close.
func (s *Session) takeTurns() []dossier.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	turns := s.turns
	s.turns = nil
	return turns
}
