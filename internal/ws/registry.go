package ws

import (
	"sync"

	"github.com/google/uuid"
)

// Registry enforces at most one active session per user. Score writes are
// single-writer by construction only when this holds, so a second connection
// for the same user is refused at accept time rather than raced.
type Registry struct {
	mu     sync.Mutex
	active map[uuid.UUID]uuid.UUID // userID -> sessionID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{active: make(map[uuid.UUID]uuid.UUID)}
}

// Acquire claims the user slot for sessionID. It reports false when another
// session already holds it.
func (r *Registry) Acquire(userID, sessionID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.active[userID]; taken {
		return false
	}
	r.active[userID] = sessionID
	return true
}

// Release frees the user slot, but only if sessionID still holds it. A stale
// release from a connection that lost the slot is a no-op.
func (r *Registry) Release(userID, sessionID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active[userID] == sessionID {
		delete(r.active, userID)
	}
}

// Len returns the number of active sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}
