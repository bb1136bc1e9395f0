package engine

import (
	"fmt"

	"github.com/google/uuid"

	"ledger-reconciliation-engine/internal/classifier"
	"ledger-reconciliation-engine/internal/models"
	"ledger-reconciliation-engine/pkg/errors"
)

// Resolution operations apply human decisions to a session under review.
// Each is atomic with respect to the session's aggregate state and
// re-validates the coverage invariants before anything is persisted.

// ConfirmMatch transitions a proposed match to Confirmed.
func (e *Engine) ConfirmMatch(sessionID, matchID uuid.UUID, confirmedBy string) (*models.Session, error) {
	return e.mutate(sessionID, func(session *models.Session) error {
		if err := requireReview(session); err != nil {
			return err
		}
		match, ok := session.MatchByID(matchID)
		if !ok {
			return errors.ResolutionError(errors.CodeUnknownEntity,
				fmt.Sprintf("match %s not found in session %s", matchID, sessionID))
		}
		if err := match.Confirm(confirmedBy, e.now()); err != nil {
			return err
		}
		return session.ValidateCoverage()
	})
}

// RejectMatch transitions a proposed or confirmed match to Rejected. Both
// referenced records return to the unmatched pool and receive fresh open
// exceptions; they are never silently dropped.
func (e *Engine) RejectMatch(sessionID, matchID uuid.UUID) (*models.Session, error) {
	return e.mutate(sessionID, func(session *models.Session) error {
		if err := requireReview(session); err != nil {
			return err
		}
		match, ok := session.MatchByID(matchID)
		if !ok {
			return errors.ResolutionError(errors.CodeUnknownEntity,
				fmt.Sprintf("match %s not found in session %s", matchID, sessionID))
		}
		if err := match.Reject(); err != nil {
			return err
		}

		for _, recordID := range []uuid.UUID{match.LedgerRecordID, match.BankRecordID} {
			record, ok := session.RecordByID(recordID)
			if !ok {
				return errors.ResolutionError(errors.CodeUnknownEntity,
					fmt.Sprintf("record %s not found in session %s", recordID, sessionID))
			}
			exception := classifier.ClassifyReleased(record, uncoveredOnSide(session, record.Source))
			session.Exceptions = append(session.Exceptions, exception)
		}
		return session.ValidateCoverage()
	})
}

// ResolveException transitions an open exception to Resolved. AmountMismatch
// and DuplicateCandidate kinds require a non-empty note.
func (e *Engine) ResolveException(sessionID, exceptionID uuid.UUID, note string) (*models.Session, error) {
	return e.mutate(sessionID, func(session *models.Session) error {
		if err := requireReview(session); err != nil {
			return err
		}
		exception, ok := session.ExceptionByID(exceptionID)
		if !ok {
			return errors.ResolutionError(errors.CodeUnknownEntity,
				fmt.Sprintf("exception %s not found in session %s", exceptionID, sessionID))
		}
		return exception.Resolve(note, e.now())
	})
}

// ManualLink creates a Confirmed match directly between two records that
// currently hold open exceptions, bypassing scoring. Their exceptions are
// resolved as superseded. Fails if either record is already covered by a
// non-rejected match.
func (e *Engine) ManualLink(sessionID, ledgerRecordID, bankRecordID uuid.UUID, linkedBy string) (*models.Session, error) {
	return e.mutate(sessionID, func(session *models.Session) error {
		if err := requireReview(session); err != nil {
			return err
		}

		ledger, err := requireRecord(session, ledgerRecordID, models.SourceLedger)
		if err != nil {
			return err
		}
		bank, err := requireRecord(session, bankRecordID, models.SourceBank)
		if err != nil {
			return err
		}

		exceptions := make([]*models.Exception, 0, 2)
		for _, record := range []*models.Record{ledger, bank} {
			if _, covered := session.ActiveMatchFor(record.ID); covered {
				return errors.ResolutionError(errors.CodeRecordCovered,
					fmt.Sprintf("record %s is already covered by a non-rejected match", record.ID))
			}
			exception, open := session.OpenExceptionFor(record.ID)
			if !open {
				return errors.ResolutionError(errors.CodeUnknownEntity,
					fmt.Sprintf("record %s has no open exception to link from", record.ID))
			}
			exceptions = append(exceptions, exception)
		}

		match := models.NewMatch(ledger.ID, bank.ID, 0,
			models.DaysBetween(ledger.Date, bank.Date),
			models.AbsAmountDiff(ledger.Amount, bank.Amount))
		match.Manual = true
		if err := match.Confirm(linkedBy, e.now()); err != nil {
			return err
		}
		session.Matches = append(session.Matches, match)

		for _, exception := range exceptions {
			if err := exception.Resolve(fmt.Sprintf("superseded by manual link %s", match.ID), e.now()); err != nil {
				return err
			}
		}
		return session.ValidateCoverage()
	})
}

// requireReview guards resolution operations to the Review stage.
func requireReview(session *models.Session) error {
	if session.Status != models.SessionReview {
		return errors.InvalidTransitionError("session", session.Status.String(), models.SessionReview.String())
	}
	return nil
}

// requireRecord finds a record and checks it belongs to the expected side.
func requireRecord(session *models.Session, recordID uuid.UUID, source models.Source) (*models.Record, error) {
	record, ok := session.RecordByID(recordID)
	if !ok {
		return nil, errors.ResolutionError(errors.CodeUnknownEntity,
			fmt.Sprintf("record %s not found in session %s", recordID, session.ID))
	}
	if record.Source != source {
		return nil, errors.ResolutionError(errors.CodeUnknownEntity,
			fmt.Sprintf("record %s is a %s record, expected %s", recordID, record.Source, source))
	}
	return record, nil
}

// uncoveredOnSide lists the records on one side that currently lack a
// non-rejected match, i.e. the unmatched pool used for duplicate detection.
func uncoveredOnSide(session *models.Session, source models.Source) []*models.Record {
	records := session.LedgerRecords
	if source == models.SourceBank {
		records = session.BankRecords
	}

	uncovered := make([]*models.Record, 0)
	for _, r := range records {
		if _, covered := session.ActiveMatchFor(r.ID); !covered {
			uncovered = append(uncovered, r)
		}
	}
	return uncovered
}
