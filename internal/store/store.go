// Package store defines the persistence boundary for reconciliation
// sessions. The engine is storage-agnostic: it loads a session aggregate,
// mutates it in memory and saves it back as a unit.
package store

import (
	"github.com/google/uuid"

	"ledger-reconciliation-engine/internal/models"
)

// SessionStore is the load-and-save contract for session aggregates. A
// session owns its records, matches and exceptions; Delete cascades to all
// of them.
type SessionStore interface {
	// Get loads a session by ID. Implementations return copies so callers
	// can mutate freely before saving.
	Get(id uuid.UUID) (*models.Session, error)

	// Save persists the session aggregate as a whole.
	Save(session *models.Session) error

	// Delete removes the session and everything it owns.
	Delete(id uuid.UUID) error
}
