package store

import (
	"sync"

	"github.com/google/uuid"

	"ledger-reconciliation-engine/internal/models"
	"ledger-reconciliation-engine/pkg/errors"
)

// MemoryStore is an in-memory SessionStore. It hands out deep copies in
// both directions, so a session being mutated by the engine never aliases
// the stored aggregate and a failed operation leaves the stored state
// untouched.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*models.Session
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[uuid.UUID]*models.Session),
	}
}

// Get loads a deep copy of the session.
func (ms *MemoryStore) Get(id uuid.UUID) (*models.Session, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	session, ok := ms.sessions[id]
	if !ok {
		return nil, errors.SessionNotFoundError(id.String())
	}
	return session.Clone(), nil
}

// Save stores a deep copy of the session aggregate.
func (ms *MemoryStore) Save(session *models.Session) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.sessions[session.ID] = session.Clone()
	return nil
}

// Delete removes the session and everything it owns.
func (ms *MemoryStore) Delete(id uuid.UUID) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, ok := ms.sessions[id]; !ok {
		return errors.SessionNotFoundError(id.String())
	}
	delete(ms.sessions, id)
	return nil
}

// Len returns the number of stored sessions.
func (ms *MemoryStore) Len() int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return len(ms.sessions)
}
