package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"ledger-reconciliation-engine/pkg/errors"
)

// SessionStatus is the lifecycle state of a reconciliation session.
type SessionStatus string

const (
	// SessionCreated means records are loaded but matching has not started.
	SessionCreated SessionStatus = "CREATED"
	// SessionMatching means a matching pass is pending or in flight.
	SessionMatching SessionStatus = "MATCHING"
	// SessionReview means matches and exceptions are populated and awaiting
	// human decisions.
	SessionReview SessionStatus = "REVIEW"
	// SessionCompleted is terminal: every record is covered by a confirmed
	// match or a resolved exception.
	SessionCompleted SessionStatus = "COMPLETED"
	// SessionFailed is terminal and reachable from Matching on
	// normalization or invariant failure.
	SessionFailed SessionStatus = "FAILED"
)

// String returns the string representation of SessionStatus.
func (ss SessionStatus) String() string {
	return string(ss)
}

// IsTerminal reports whether the status permits no further transitions.
func (ss SessionStatus) IsTerminal() bool {
	return ss == SessionCompleted || ss == SessionFailed
}

// Tolerances holds the matching tolerances configured for a session.
type Tolerances struct {
	// DateToleranceDays is the allowed calendar-day distance between a
	// ledger and a bank date.
	DateToleranceDays int `json:"date_tolerance_days"`
	// AmountTolerance is the allowed absolute amount distance in minor
	// units.
	AmountTolerance int64 `json:"amount_tolerance"`
}

// Validate checks the tolerances for validity.
func (t Tolerances) Validate() error {
	if t.DateToleranceDays < 0 {
		return errors.ConfigurationError("date_tolerance_days", t.DateToleranceDays, nil).
			WithSuggestion("date tolerance must be zero or positive")
	}
	if t.AmountTolerance < 0 {
		return errors.ConfigurationError("amount_tolerance", t.AmountTolerance, nil).
			WithSuggestion("amount tolerance must be zero or positive")
	}
	return nil
}

// Session is one reconciliation run over a ledger/bank record pair. It owns
// every record, match and exception created within it; deleting a session
// cascades to all of them.
type Session struct {
	ID          uuid.UUID     `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Status      SessionStatus `json:"status"`
	Tolerances  Tolerances    `json:"tolerances"`

	LedgerRecords []*Record    `json:"ledger_records"`
	BankRecords   []*Record    `json:"bank_records"`
	Matches       []*Match     `json:"matches"`
	Exceptions    []*Exception `json:"exceptions"`

	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// NewSession creates a session in the Created state.
func NewSession(name, description string, tolerances Tolerances) *Session {
	return &Session{
		ID:          uuid.New(),
		Name:        name,
		Description: description,
		Status:      SessionCreated,
		Tolerances:  tolerances,
		CreatedAt:   time.Now().UTC(),
	}
}

// Record lookup helpers

// RecordByID finds a record on either side by its identity.
func (s *Session) RecordByID(id uuid.UUID) (*Record, bool) {
	for _, r := range s.LedgerRecords {
		if r.ID == id {
			return r, true
		}
	}
	for _, r := range s.BankRecords {
		if r.ID == id {
			return r, true
		}
	}
	return nil, false
}

// MatchByID finds a match by identity.
func (s *Session) MatchByID(id uuid.UUID) (*Match, bool) {
	for _, m := range s.Matches {
		if m.ID == id {
			return m, true
		}
	}
	return nil, false
}

// ExceptionByID finds an exception by identity.
func (s *Session) ExceptionByID(id uuid.UUID) (*Exception, bool) {
	for _, e := range s.Exceptions {
		if e.ID == id {
			return e, true
		}
	}
	return nil, false
}

// ActiveMatchFor returns the non-rejected match referencing the record, if
// one exists.
func (s *Session) ActiveMatchFor(recordID uuid.UUID) (*Match, bool) {
	for _, m := range s.Matches {
		if m.IsActive() && m.References(recordID) {
			return m, true
		}
	}
	return nil, false
}

// OpenExceptionFor returns the open exception for the record, if one exists.
func (s *Session) OpenExceptionFor(recordID uuid.UUID) (*Exception, bool) {
	for _, e := range s.Exceptions {
		if e.Status == ExceptionOpen && e.RecordID == recordID {
			return e, true
		}
	}
	return nil, false
}

// ConfirmedMatchCount counts matches in the Confirmed state.
func (s *Session) ConfirmedMatchCount() int {
	count := 0
	for _, m := range s.Matches {
		if m.Status == MatchConfirmed {
			count++
		}
	}
	return count
}

// allRecords iterates both sides.
func (s *Session) allRecords() []*Record {
	records := make([]*Record, 0, len(s.LedgerRecords)+len(s.BankRecords))
	records = append(records, s.LedgerRecords...)
	records = append(records, s.BankRecords...)
	return records
}

// TotalRecords returns the number of records across both sides.
func (s *Session) TotalRecords() int {
	return len(s.LedgerRecords) + len(s.BankRecords)
}

// IsFullyResolved reports whether the record is covered by a confirmed
// match or a resolved exception.
func (s *Session) IsFullyResolved(recordID uuid.UUID) bool {
	if m, ok := s.ActiveMatchFor(recordID); ok && m.Status == MatchConfirmed {
		return true
	}
	for _, e := range s.Exceptions {
		if e.RecordID == recordID && e.Status == ExceptionResolved {
			// A resolved exception only counts while no open exception
			// supersedes it (a rejected match reopens the record).
			if _, open := s.OpenExceptionFor(recordID); !open {
				return true
			}
		}
	}
	return false
}

// UnresolvedRecordCount counts records that still lack a confirmed match or
// resolved exception.
func (s *Session) UnresolvedRecordCount() int {
	count := 0
	for _, r := range s.allRecords() {
		if !s.IsFullyResolved(r.ID) {
			count++
		}
	}
	return count
}

// ValidateCoverage enforces the structural invariants that hold once a
// matching pass has run:
//   - no record is referenced by two simultaneously non-rejected matches
//   - no record has more than one open exception
//   - no record has both a non-rejected match and an open exception
//   - every record has a disposition: a non-rejected match or an exception
func (s *Session) ValidateCoverage() error {
	activeMatches := make(map[uuid.UUID]int)
	openExceptions := make(map[uuid.UUID]int)
	anyException := make(map[uuid.UUID]bool)

	for _, m := range s.Matches {
		if m.IsActive() {
			activeMatches[m.LedgerRecordID]++
			activeMatches[m.BankRecordID]++
		}
	}
	for _, e := range s.Exceptions {
		anyException[e.RecordID] = true
		if e.Status == ExceptionOpen {
			openExceptions[e.RecordID]++
		}
	}

	for _, r := range s.allRecords() {
		if activeMatches[r.ID] > 1 {
			return errors.ResolutionError(errors.CodeInvariantBroken,
				fmt.Sprintf("record %s is referenced by %d non-rejected matches", r.ID, activeMatches[r.ID]))
		}
		if openExceptions[r.ID] > 1 {
			return errors.ResolutionError(errors.CodeInvariantBroken,
				fmt.Sprintf("record %s has %d open exceptions", r.ID, openExceptions[r.ID]))
		}
		if activeMatches[r.ID] > 0 && openExceptions[r.ID] > 0 {
			return errors.ResolutionError(errors.CodeInvariantBroken,
				fmt.Sprintf("record %s has both an active match and an open exception", r.ID))
		}
		if activeMatches[r.ID] == 0 && !anyException[r.ID] {
			return errors.ResolutionError(errors.CodeInvariantBroken,
				fmt.Sprintf("record %s has no match and no exception", r.ID))
		}
	}
	return nil
}

// State transitions

// StartMatching moves the session from Created to Matching. Both record
// sets must be non-empty.
func (s *Session) StartMatching() error {
	if s.Status != SessionCreated {
		return errors.InvalidTransitionError("session", s.Status.String(), SessionMatching.String())
	}
	if len(s.LedgerRecords) == 0 {
		return errors.EmptyRecordSetError("ledger")
	}
	if len(s.BankRecords) == 0 {
		return errors.EmptyRecordSetError("bank")
	}
	s.Status = SessionMatching
	return nil
}

// Rematch moves the session back from Review to Matching for a re-run with
// adjusted tolerances. Rejected-match records rejoin the unmatched pool;
// once any match is confirmed the session can no longer be re-matched.
func (s *Session) Rematch(tolerances Tolerances) error {
	if s.Status != SessionReview {
		return errors.InvalidTransitionError("session", s.Status.String(), SessionMatching.String())
	}
	if confirmed := s.ConfirmedMatchCount(); confirmed > 0 {
		return errors.IrreversibleStateError(s.ID.String(), confirmed)
	}
	if err := tolerances.Validate(); err != nil {
		return err
	}
	s.Tolerances = tolerances
	s.Status = SessionMatching
	return nil
}

// EnterReview moves the session from Matching to Review with the results
// of a completed matching pass. The prior match and exception sets are
// replaced wholesale, which keeps re-runs idempotent.
func (s *Session) EnterReview(matches []*Match, exceptions []*Exception, at time.Time) error {
	if s.Status != SessionMatching {
		return errors.InvalidTransitionError("session", s.Status.String(), SessionReview.String())
	}
	s.Matches = matches
	s.Exceptions = exceptions
	if err := s.ValidateCoverage(); err != nil {
		s.Status = SessionFailed
		return err
	}
	processedAt := at.UTC()
	s.ProcessedAt = &processedAt
	s.Status = SessionReview
	return nil
}

// Complete moves the session from Review to Completed. Every record must be
// covered by a confirmed match or a resolved exception.
func (s *Session) Complete() error {
	if s.Status != SessionReview {
		return errors.InvalidTransitionError("session", s.Status.String(), SessionCompleted.String())
	}
	if uncovered := s.UnresolvedRecordCount(); uncovered > 0 {
		return errors.IncompleteReconciliationError(s.ID.String(), uncovered)
	}
	s.Status = SessionCompleted
	return nil
}

// MarkFailed moves the session from Matching to the terminal Failed state.
func (s *Session) MarkFailed() error {
	if s.Status != SessionMatching {
		return errors.InvalidTransitionError("session", s.Status.String(), SessionFailed.String())
	}
	s.Status = SessionFailed
	return nil
}

// Clone returns a deep copy of the session and everything it owns.
func (s *Session) Clone() *Session {
	clone := *s
	if s.ProcessedAt != nil {
		processedAt := *s.ProcessedAt
		clone.ProcessedAt = &processedAt
	}
	clone.LedgerRecords = make([]*Record, len(s.LedgerRecords))
	for i, r := range s.LedgerRecords {
		clone.LedgerRecords[i] = r.Clone()
	}
	clone.BankRecords = make([]*Record, len(s.BankRecords))
	for i, r := range s.BankRecords {
		clone.BankRecords[i] = r.Clone()
	}
	clone.Matches = make([]*Match, len(s.Matches))
	for i, m := range s.Matches {
		clone.Matches[i] = m.Clone()
	}
	clone.Exceptions = make([]*Exception, len(s.Exceptions))
	for i, e := range s.Exceptions {
		clone.Exceptions[i] = e.Clone()
	}
	return &clone
}
