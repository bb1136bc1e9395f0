// Package engine orchestrates reconciliation sessions: it owns the session
// lifecycle, runs matching passes and applies human resolution decisions.
//
// Every mutating operation follows the same shape: acquire the session
// lock, load a private copy of the aggregate from the store, mutate it,
// re-validate the coverage invariants and save. Failures before the save
// leave the stored session untouched, so each operation is all-or-nothing.
// Sessions are independent; there are no cross-session locks.
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"ledger-reconciliation-engine/internal/classifier"
	"ledger-reconciliation-engine/internal/matcher"
	"ledger-reconciliation-engine/internal/models"
	"ledger-reconciliation-engine/internal/normalize"
	"ledger-reconciliation-engine/internal/store"
	"ledger-reconciliation-engine/pkg/errors"
	"ledger-reconciliation-engine/pkg/logger"
)

// Engine is the entry point consumed by the web/API layer and the task
// dispatcher.
type Engine struct {
	store store.SessionStore
	locks *sessionLocks
	log   logger.Logger
	now   func() time.Time
}

// NewEngine creates an engine backed by the given session store.
func NewEngine(sessionStore store.SessionStore) *Engine {
	return &Engine{
		store: sessionStore,
		locks: newSessionLocks(),
		log:   logger.WithComponent("engine"),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// CreateRequest describes a new session: its metadata, tolerances and the
// raw rows from the upstream file parsers.
type CreateRequest struct {
	Name        string
	Description string
	Tolerances  models.Tolerances
	LedgerRows  []normalize.RawRow
	BankRows    []normalize.RawRow

	// AllowMalformedRows proceeds with the parseable subset instead of
	// aborting when rows fail normalization. Malformed rows are reported
	// either way.
	AllowMalformedRows bool
}

// CreateResult reports the created session along with any malformed rows
// that were skipped.
type CreateResult struct {
	Session         *models.Session
	MalformedLedger []*errors.EngineError
	MalformedBank   []*errors.EngineError
}

// CreateSession normalizes the raw rows and persists a new session in the
// Created state.
func (e *Engine) CreateSession(req CreateRequest) (*CreateResult, error) {
	if err := req.Tolerances.Validate(); err != nil {
		return nil, err
	}

	ledger := normalize.Normalize(req.LedgerRows, models.SourceLedger)
	bank := normalize.Normalize(req.BankRows, models.SourceBank)

	malformed := append(append([]*errors.EngineError{}, ledger.Malformed...), bank.Malformed...)
	if len(malformed) > 0 && !req.AllowMalformedRows {
		return nil, errors.NewRowErrors(malformed)
	}

	session := models.NewSession(req.Name, req.Description, req.Tolerances)
	session.LedgerRecords = ledger.Records
	session.BankRecords = bank.Records

	if err := e.store.Save(session); err != nil {
		return nil, err
	}

	e.log.WithFields(logger.Fields{
		"session_id":     session.ID,
		"ledger_records": len(session.LedgerRecords),
		"bank_records":   len(session.BankRecords),
		"malformed_rows": len(malformed),
	}).Info("Session created")

	return &CreateResult{
		Session:         session,
		MalformedLedger: ledger.Malformed,
		MalformedBank:   bank.Malformed,
	}, nil
}

// Start moves a session from Created to Matching with the given
// tolerances. Fails if either record set is empty.
func (e *Engine) Start(sessionID uuid.UUID, tolerances models.Tolerances) (*models.Session, error) {
	return e.mutate(sessionID, func(session *models.Session) error {
		if err := tolerances.Validate(); err != nil {
			return err
		}
		session.Tolerances = tolerances
		return session.StartMatching()
	})
}

// RunMatching executes one matching pass for a session in the Matching
// state and moves it to Review.
//
// The operation is idempotent and safe to retry: a session already in
// Review is returned unchanged, and a cancelled pass publishes nothing and
// leaves the session in Matching.
func (e *Engine) RunMatching(ctx context.Context, sessionID uuid.UUID) (*models.Session, error) {
	unlock, err := e.locks.acquire(sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	session, err := e.store.Get(sessionID)
	if err != nil {
		return nil, err
	}

	if session.Status == models.SessionReview {
		// Retry after a successful pass: nothing to redo.
		return session, nil
	}
	if session.Status != models.SessionMatching {
		return nil, errors.InvalidTransitionError("session", session.Status.String(), models.SessionReview.String())
	}

	engine := matcher.NewEngine(matcher.NewConfig(session.Tolerances))
	result, err := engine.Match(ctx, session.LedgerRecords, session.BankRecords)
	if err != nil {
		if errors.IsCode(err, errors.CodeCancelled) {
			// Cancellation is retryable; the session stays in Matching.
			return nil, err
		}
		if failErr := session.MarkFailed(); failErr == nil {
			if saveErr := e.store.Save(session); saveErr != nil {
				e.log.WithError(saveErr).Error("Failed to persist failed session")
			}
		}
		return nil, err
	}

	exceptions := classifier.Classify(result.UnmatchedLedger, result.UnmatchedBank, result.NearMisses)

	if err := session.EnterReview(result.Matches, exceptions, e.now()); err != nil {
		// EnterReview has already marked the session Failed on invariant
		// breakage; persist that terminal state.
		if saveErr := e.store.Save(session); saveErr != nil {
			e.log.WithError(saveErr).Error("Failed to persist failed session")
		}
		return nil, err
	}

	if err := e.store.Save(session); err != nil {
		return nil, err
	}

	e.log.WithFields(logger.Fields{
		"session_id": session.ID,
		"matches":    len(session.Matches),
		"exceptions": len(session.Exceptions),
	}).Info("Matching pass complete")

	return session, nil
}

// Rematch moves a session from Review back to Matching for a re-run with
// adjusted tolerances. Rejected with IrreversibleStateError once any match
// has been confirmed.
func (e *Engine) Rematch(sessionID uuid.UUID, tolerances models.Tolerances) (*models.Session, error) {
	return e.mutate(sessionID, func(session *models.Session) error {
		return session.Rematch(tolerances)
	})
}

// Complete moves a session from Review to the terminal Completed state.
// Fails with IncompleteReconciliationError while any record lacks a
// confirmed match or resolved exception.
func (e *Engine) Complete(sessionID uuid.UUID) (*models.Session, error) {
	return e.mutate(sessionID, func(session *models.Session) error {
		return session.Complete()
	})
}

// DeleteSession removes a session and cascades to everything it owns.
func (e *Engine) DeleteSession(sessionID uuid.UUID) error {
	unlock, err := e.locks.acquire(sessionID)
	if err != nil {
		return err
	}
	defer unlock()
	return e.store.Delete(sessionID)
}

// GetSession loads a copy of the session aggregate.
func (e *Engine) GetSession(sessionID uuid.UUID) (*models.Session, error) {
	return e.store.Get(sessionID)
}

// mutate runs fn against a private copy of the session under its lock and
// persists the result only if fn and the coverage re-validation succeed.
func (e *Engine) mutate(sessionID uuid.UUID, fn func(*models.Session) error) (*models.Session, error) {
	unlock, err := e.locks.acquire(sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	session, err := e.store.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if err := fn(session); err != nil {
		return nil, err
	}
	if err := e.store.Save(session); err != nil {
		return nil, err
	}
	return session, nil
}
