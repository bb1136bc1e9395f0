package engine

import (
	"sync"

	"github.com/google/uuid"

	"ledger-reconciliation-engine/pkg/errors"
)

// sessionLocks serializes mutating operations per session. Contention is
// surfaced as ConcurrentModificationError rather than blocking, so callers
// retry with backoff on their side.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{
		locks: make(map[uuid.UUID]*sync.Mutex),
	}
}

// acquire takes the lock for a session without blocking. The returned
// function releases it.
func (sl *sessionLocks) acquire(sessionID uuid.UUID) (func(), error) {
	sl.mu.Lock()
	lock, ok := sl.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		sl.locks[sessionID] = lock
	}
	sl.mu.Unlock()

	if !lock.TryLock() {
		return nil, errors.ConcurrentModificationError(sessionID.String())
	}
	return lock.Unlock, nil
}
