// Package models defines the entities owned by a reconciliation session:
// records, matches, exceptions and the session aggregate itself, together
// with the session lifecycle rules.
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ledger-reconciliation-engine/pkg/errors"
)

// Source identifies which side of the reconciliation a record came from.
type Source string

const (
	// SourceLedger marks records originating from the internal ledger.
	SourceLedger Source = "LEDGER"
	// SourceBank marks records originating from the external bank statement.
	SourceBank Source = "BANK"
)

// String returns the string representation of Source.
func (s Source) String() string {
	return string(s)
}

// IsValid checks if the source is valid.
func (s Source) IsValid() bool {
	return s == SourceLedger || s == SourceBank
}

// Record is a canonical, immutable ledger or bank entry. Amounts are held
// as signed minor-unit integers and dates as UTC midnight, so comparisons
// never involve floating point or time-of-day noise.
type Record struct {
	ID          uuid.UUID `json:"id"`
	Source      Source    `json:"source"`
	Date        time.Time `json:"date"`
	Amount      int64     `json:"amount"`
	Description string    `json:"description"`
	Reference   string    `json:"reference,omitempty"`
	RowNumber   int       `json:"row_number"`
}

// NewRecord creates a Record with a fresh identity. The date is normalized
// to UTC midnight regardless of the time component passed in.
func NewRecord(source Source, date time.Time, amount int64, description, reference string, rowNumber int) *Record {
	return &Record{
		ID:          uuid.New(),
		Source:      source,
		Date:        NormalizeDate(date),
		Amount:      amount,
		Description: description,
		Reference:   reference,
		RowNumber:   rowNumber,
	}
}

// Validate performs basic validation on the Record.
func (r *Record) Validate() error {
	if !r.Source.IsValid() {
		return fmt.Errorf("invalid record source: %s", r.Source)
	}
	if r.Date.IsZero() {
		return fmt.Errorf("record date cannot be zero")
	}
	if strings.TrimSpace(r.Description) == "" {
		return fmt.Errorf("record description cannot be empty")
	}
	return nil
}

// AmountDecimal returns the amount as a decimal in major units.
func (r *Record) AmountDecimal() decimal.Decimal {
	return decimal.New(r.Amount, -2)
}

// String returns a string representation of the Record.
func (r *Record) String() string {
	return fmt.Sprintf("Record{ID: %s, Source: %s, Date: %s, Amount: %d, Description: %q}",
		r.ID, r.Source, r.Date.Format("2006-01-02"), r.Amount, r.Description)
}

// Clone returns a copy of the record.
func (r *Record) Clone() *Record {
	clone := *r
	return &clone
}

// NormalizeDate truncates a time to its UTC calendar date at midnight.
func NormalizeDate(t time.Time) time.Time {
	year, month, day := t.UTC().Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the absolute distance in calendar days between two
// normalized dates.
func DaysBetween(a, b time.Time) int {
	diff := NormalizeDate(a).Sub(NormalizeDate(b))
	if diff < 0 {
		diff = -diff
	}
	return int(diff / (24 * time.Hour))
}

// AbsAmountDiff returns the absolute difference between two minor-unit
// amounts.
func AbsAmountDiff(a, b int64) int64 {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff
}

// MatchStatus is the review state of a proposed pairing.
type MatchStatus string

const (
	// MatchProposed is the initial state produced by the matcher.
	MatchProposed MatchStatus = "PROPOSED"
	// MatchConfirmed marks a pairing accepted by a reviewer.
	MatchConfirmed MatchStatus = "CONFIRMED"
	// MatchRejected marks a pairing discarded by a reviewer; both records
	// return to the unmatched pool.
	MatchRejected MatchStatus = "REJECTED"
)

// String returns the string representation of MatchStatus.
func (ms MatchStatus) String() string {
	return string(ms)
}

// Match pairs one ledger record with one bank record. A record is referenced
// by at most one non-rejected match at a time.
type Match struct {
	ID             uuid.UUID   `json:"id"`
	LedgerRecordID uuid.UUID   `json:"ledger_record_id"`
	BankRecordID   uuid.UUID   `json:"bank_record_id"`
	Score          float64     `json:"score"`
	DateDiffDays   int         `json:"date_diff_days"`
	AmountDiff     int64       `json:"amount_diff"`
	Status         MatchStatus `json:"status"`
	Manual         bool        `json:"manual"`
	ConfirmedBy    string      `json:"confirmed_by,omitempty"`
	ConfirmedAt    *time.Time  `json:"confirmed_at,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// NewMatch creates a proposed match between a ledger and a bank record.
func NewMatch(ledgerID, bankID uuid.UUID, score float64, dateDiffDays int, amountDiff int64) *Match {
	return &Match{
		ID:             uuid.New(),
		LedgerRecordID: ledgerID,
		BankRecordID:   bankID,
		Score:          score,
		DateDiffDays:   dateDiffDays,
		AmountDiff:     amountDiff,
		Status:         MatchProposed,
		CreatedAt:      time.Now().UTC(),
	}
}

// References reports whether the match references the given record.
func (m *Match) References(recordID uuid.UUID) bool {
	return m.LedgerRecordID == recordID || m.BankRecordID == recordID
}

// IsActive reports whether the match is still binding its records, i.e. it
// has not been rejected.
func (m *Match) IsActive() bool {
	return m.Status != MatchRejected
}

// Confirm transitions the match from Proposed to Confirmed.
func (m *Match) Confirm(by string, at time.Time) error {
	if m.Status != MatchProposed {
		return errors.InvalidTransitionError("match", m.Status.String(), MatchConfirmed.String())
	}
	m.Status = MatchConfirmed
	m.ConfirmedBy = by
	confirmedAt := at.UTC()
	m.ConfirmedAt = &confirmedAt
	return nil
}

// Reject transitions the match to Rejected from either Proposed or
// Confirmed.
func (m *Match) Reject() error {
	if m.Status == MatchRejected {
		return errors.InvalidTransitionError("match", m.Status.String(), MatchRejected.String())
	}
	m.Status = MatchRejected
	m.ConfirmedBy = ""
	m.ConfirmedAt = nil
	return nil
}

// Clone returns a copy of the match.
func (m *Match) Clone() *Match {
	clone := *m
	if m.ConfirmedAt != nil {
		confirmedAt := *m.ConfirmedAt
		clone.ConfirmedAt = &confirmedAt
	}
	return &clone
}

// ExceptionKind classifies why a record failed to reconcile automatically.
type ExceptionKind string

const (
	// ExceptionUnmatchedLedger marks a ledger record with no candidate at all.
	ExceptionUnmatchedLedger ExceptionKind = "UNMATCHED_LEDGER"
	// ExceptionUnmatchedBank marks a bank record with no candidate at all.
	ExceptionUnmatchedBank ExceptionKind = "UNMATCHED_BANK"
	// ExceptionAmountMismatch marks a record whose best candidate failed
	// exactly one tolerance; the exception references that near-miss.
	ExceptionAmountMismatch ExceptionKind = "AMOUNT_MISMATCH"
	// ExceptionDuplicateCandidate marks same-side records sharing an
	// identical (date, amount) pair, signaling likely double entry.
	ExceptionDuplicateCandidate ExceptionKind = "DUPLICATE_CANDIDATE"
)

// String returns the string representation of ExceptionKind.
func (ek ExceptionKind) String() string {
	return string(ek)
}

// RequiresResolutionNote reports whether resolving this kind demands a
// non-empty note for auditability.
func (ek ExceptionKind) RequiresResolutionNote() bool {
	return ek == ExceptionAmountMismatch || ek == ExceptionDuplicateCandidate
}

// ExceptionStatus is the review state of an exception.
type ExceptionStatus string

const (
	ExceptionOpen     ExceptionStatus = "OPEN"
	ExceptionResolved ExceptionStatus = "RESOLVED"
)

// String returns the string representation of ExceptionStatus.
func (es ExceptionStatus) String() string {
	return string(es)
}

// Exception records an uncovered record awaiting human attention. A record
// has at most one open exception.
type Exception struct {
	ID       uuid.UUID       `json:"id"`
	RecordID uuid.UUID       `json:"record_id"`
	Kind     ExceptionKind   `json:"kind"`
	Status   ExceptionStatus `json:"status"`

	// Best near-miss, populated for AmountMismatch: the other-side record
	// that satisfied one tolerance and missed the other by the smallest
	// margin.
	CandidateRecordID   *uuid.UUID `json:"candidate_record_id,omitempty"`
	CandidateDateDiff   int        `json:"candidate_date_diff_days,omitempty"`
	CandidateAmountDiff int64      `json:"candidate_amount_diff,omitempty"`

	ResolutionNote string     `json:"resolution_note,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// NewException creates an open exception for a record.
func NewException(recordID uuid.UUID, kind ExceptionKind) *Exception {
	return &Exception{
		ID:        uuid.New(),
		RecordID:  recordID,
		Kind:      kind,
		Status:    ExceptionOpen,
		CreatedAt: time.Now().UTC(),
	}
}

// WithCandidate attaches the best near-miss reference to the exception.
func (e *Exception) WithCandidate(candidateID uuid.UUID, dateDiffDays int, amountDiff int64) *Exception {
	id := candidateID
	e.CandidateRecordID = &id
	e.CandidateDateDiff = dateDiffDays
	e.CandidateAmountDiff = amountDiff
	return e
}

// Resolve transitions the exception from Open to Resolved. Kinds that
// require a note reject an empty one.
func (e *Exception) Resolve(note string, at time.Time) error {
	if e.Status != ExceptionOpen {
		return errors.InvalidTransitionError("exception", e.Status.String(), ExceptionResolved.String())
	}
	if e.Kind.RequiresResolutionNote() && strings.TrimSpace(note) == "" {
		return errors.ResolutionError(errors.CodeMissingNote,
			fmt.Sprintf("resolving a %s exception requires a non-empty note", e.Kind))
	}
	e.Status = ExceptionResolved
	e.ResolutionNote = note
	resolvedAt := at.UTC()
	e.ResolvedAt = &resolvedAt
	return nil
}

// Clone returns a copy of the exception.
func (e *Exception) Clone() *Exception {
	clone := *e
	if e.CandidateRecordID != nil {
		id := *e.CandidateRecordID
		clone.CandidateRecordID = &id
	}
	if e.ResolvedAt != nil {
		resolvedAt := *e.ResolvedAt
		clone.ResolvedAt = &resolvedAt
	}
	return &clone
}
