package engine

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledger-reconciliation-engine/internal/models"
	"ledger-reconciliation-engine/internal/normalize"
	"ledger-reconciliation-engine/internal/store"
	"ledger-reconciliation-engine/pkg/errors"
)

func row(date, amount, description string) normalize.RawRow {
	return normalize.RawRow{Date: date, Amount: amount, Description: description}
}

func newTestEngine() *Engine {
	return NewEngine(store.NewMemoryStore())
}

// createSession builds a Created session from raw rows, failing the test on
// any malformed input.
func createSession(t *testing.T, e *Engine, tolerances models.Tolerances, ledger, bank []normalize.RawRow) *models.Session {
	t.Helper()
	result, err := e.CreateSession(CreateRequest{
		Name:       "test session",
		Tolerances: tolerances,
		LedgerRows: ledger,
		BankRows:   bank,
	})
	require.NoError(t, err)
	return result.Session
}

// reviewSession runs a session through Start and RunMatching into Review.
func reviewSession(t *testing.T, e *Engine, tolerances models.Tolerances, ledger, bank []normalize.RawRow) *models.Session {
	t.Helper()
	session := createSession(t, e, tolerances, ledger, bank)
	_, err := e.Start(session.ID, tolerances)
	require.NoError(t, err)
	session, err = e.RunMatching(context.Background(), session.ID)
	require.NoError(t, err)
	require.Equal(t, models.SessionReview, session.Status)
	return session
}

func TestCreateSession_MalformedRowsAbort(t *testing.T) {
	e := newTestEngine()

	_, err := e.CreateSession(CreateRequest{
		Name:       "strict",
		Tolerances: models.Tolerances{},
		LedgerRows: []normalize.RawRow{
			row("2024-01-05", "100.00", "ok"),
			row("not a date", "100.00", "bad"),
		},
		BankRows: []normalize.RawRow{row("2024-01-05", "100.00", "ok")},
	})

	require.Error(t, err)
	var rowErrs *errors.RowErrors
	require.ErrorAs(t, err, &rowErrs)
	assert.Equal(t, 1, rowErrs.Len())
}

func TestCreateSession_AllowMalformedRows(t *testing.T) {
	e := newTestEngine()

	result, err := e.CreateSession(CreateRequest{
		Name:       "lenient",
		Tolerances: models.Tolerances{},
		LedgerRows: []normalize.RawRow{
			row("2024-01-05", "100.00", "ok"),
			row("not a date", "100.00", "bad"),
		},
		BankRows:           []normalize.RawRow{row("2024-01-05", "100.00", "ok")},
		AllowMalformedRows: true,
	})

	require.NoError(t, err)
	assert.Len(t, result.Session.LedgerRecords, 1)
	assert.Len(t, result.MalformedLedger, 1)
	assert.Empty(t, result.MalformedBank)
	assert.Equal(t, models.SessionCreated, result.Session.Status)
}

func TestStart_EmptySide(t *testing.T) {
	e := newTestEngine()
	session := createSession(t, e, models.Tolerances{},
		[]normalize.RawRow{row("2024-01-05", "100.00", "only ledger")}, nil)

	_, err := e.Start(session.ID, models.Tolerances{})
	assert.True(t, errors.IsCode(err, errors.CodeEmptyRecordSet))

	// Nothing was persisted: the session is still Created.
	loaded, getErr := e.GetSession(session.ID)
	require.NoError(t, getErr)
	assert.Equal(t, models.SessionCreated, loaded.Status)
}

func TestRunMatching_BeforeStart(t *testing.T) {
	e := newTestEngine()
	session := createSession(t, e, models.Tolerances{},
		[]normalize.RawRow{row("2024-01-05", "100.00", "a")},
		[]normalize.RawRow{row("2024-01-05", "100.00", "a")})

	_, err := e.RunMatching(context.Background(), session.ID)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidTransition))
}

func TestLifecycle_HappyPath(t *testing.T) {
	e := newTestEngine()
	tolerances := models.Tolerances{DateToleranceDays: 3}
	session := reviewSession(t, e, tolerances,
		[]normalize.RawRow{
			row("2024-01-05", "100.00", "acme payment"),
			row("2024-01-10", "250.00", "payroll run"),
		},
		[]normalize.RawRow{
			row("2024-01-07", "100.00", "acme payment"),
			row("2024-01-10", "250.00", "payroll"),
		})

	require.Len(t, session.Matches, 2)
	require.Empty(t, session.Exceptions)

	for _, m := range session.Matches {
		_, err := e.ConfirmMatch(session.ID, m.ID, "reviewer")
		require.NoError(t, err)
	}

	session, err := e.Complete(session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, session.Status)

	summary, err := e.Summary(session.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.MatchedCount)
	assert.Equal(t, 2, summary.ConfirmedCount)
	assert.Equal(t, 0, summary.OpenExceptions)
	assert.Equal(t, 1.0, summary.CoverageRatio)
	assert.True(t, summary.MatchedAmount.Equal(decimal.NewFromInt(350)))
}

func TestRunMatching_AmountMismatchExceptions(t *testing.T) {
	e := newTestEngine()
	session := reviewSession(t, e, models.Tolerances{DateToleranceDays: 3},
		[]normalize.RawRow{row("2024-01-05", "100.00", "acme payment")},
		[]normalize.RawRow{row("2024-01-05", "100.50", "acme payment")})

	assert.Empty(t, session.Matches)
	require.Len(t, session.Exceptions, 2)
	for _, exc := range session.Exceptions {
		assert.Equal(t, models.ExceptionAmountMismatch, exc.Kind)
		require.NotNil(t, exc.CandidateRecordID)
		assert.Equal(t, int64(50), exc.CandidateAmountDiff)
	}
}

func TestRunMatching_DuplicateCandidates(t *testing.T) {
	// Two identical ledger rows and one unrelated bank row: the ledger
	// rows classify as duplicate candidates, the bank row as unmatched.
	e := newTestEngine()
	session := reviewSession(t, e, models.Tolerances{DateToleranceDays: 1},
		[]normalize.RawRow{
			row("2024-01-05", "100.00", "subscription"),
			row("2024-01-05", "100.00", "subscription"),
		},
		[]normalize.RawRow{row("2024-03-20", "999.00", "unrelated")})

	assert.Empty(t, session.Matches)
	require.Len(t, session.Exceptions, 3)

	kinds := make(map[models.ExceptionKind]int)
	for _, exc := range session.Exceptions {
		kinds[exc.Kind]++
	}
	assert.Equal(t, 2, kinds[models.ExceptionDuplicateCandidate])
	assert.Equal(t, 1, kinds[models.ExceptionUnmatchedBank])
}

func TestRunMatching_Idempotent(t *testing.T) {
	e := newTestEngine()
	session := reviewSession(t, e, models.Tolerances{},
		[]normalize.RawRow{row("2024-01-05", "100.00", "a")},
		[]normalize.RawRow{row("2024-01-05", "100.00", "a")})
	require.Len(t, session.Matches, 1)
	firstMatchID := session.Matches[0].ID

	// A retry against a session already in Review changes nothing.
	again, err := e.RunMatching(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionReview, again.Status)
	require.Len(t, again.Matches, 1)
	assert.Equal(t, firstMatchID, again.Matches[0].ID)
}

func TestRunMatching_Cancelled(t *testing.T) {
	e := newTestEngine()
	session := createSession(t, e, models.Tolerances{},
		[]normalize.RawRow{row("2024-01-05", "100.00", "a")},
		[]normalize.RawRow{row("2024-01-05", "100.00", "a")})
	_, err := e.Start(session.ID, models.Tolerances{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.RunMatching(ctx, session.ID)
	assert.True(t, errors.IsCode(err, errors.CodeCancelled))

	// Nothing was published and the pass is retryable.
	loaded, err := e.GetSession(session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionMatching, loaded.Status)
	assert.Empty(t, loaded.Matches)

	retried, err := e.RunMatching(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionReview, retried.Status)
	assert.Len(t, retried.Matches, 1)
}

func TestConfirmMatch_UnknownMatch(t *testing.T) {
	e := newTestEngine()
	session := reviewSession(t, e, models.Tolerances{},
		[]normalize.RawRow{row("2024-01-05", "100.00", "a")},
		[]normalize.RawRow{row("2024-01-05", "100.00", "a")})

	_, err := e.ConfirmMatch(session.ID, uuid.New(), "reviewer")
	assert.True(t, errors.IsCode(err, errors.CodeUnknownEntity))
}

func TestRejectMatch_ReturnsRecordsToPool(t *testing.T) {
	e := newTestEngine()
	session := reviewSession(t, e, models.Tolerances{},
		[]normalize.RawRow{row("2024-01-05", "100.00", "a")},
		[]normalize.RawRow{row("2024-01-05", "100.00", "a")})
	require.Len(t, session.Matches, 1)

	session, err := e.RejectMatch(session.ID, session.Matches[0].ID)
	require.NoError(t, err)

	assert.Equal(t, models.MatchRejected, session.Matches[0].Status)
	require.Len(t, session.Exceptions, 2)
	for _, exc := range session.Exceptions {
		assert.Equal(t, models.ExceptionOpen, exc.Status)
	}

	// Both records are uncovered again, so completion is blocked.
	_, err = e.Complete(session.ID)
	assert.True(t, errors.IsCode(err, errors.CodeIncompleteReconciliation))

	// But a re-run with wider tolerances is still allowed.
	_, err = e.Rematch(session.ID, models.Tolerances{DateToleranceDays: 5})
	require.NoError(t, err)
	session, err = e.RunMatching(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionReview, session.Status)
	assert.Len(t, session.Matches, 1)
}

func TestRejectMatch_AfterConfirm(t *testing.T) {
	// Confirmation is not final: a confirmed match can still be rejected,
	// which reopens both records.
	e := newTestEngine()
	session := reviewSession(t, e, models.Tolerances{},
		[]normalize.RawRow{row("2024-01-05", "100.00", "a")},
		[]normalize.RawRow{row("2024-01-05", "100.00", "a")})
	matchID := session.Matches[0].ID

	_, err := e.ConfirmMatch(session.ID, matchID, "reviewer")
	require.NoError(t, err)

	session, err = e.RejectMatch(session.ID, matchID)
	require.NoError(t, err)
	assert.Equal(t, models.MatchRejected, session.Matches[0].Status)
	assert.Empty(t, session.Matches[0].ConfirmedBy)
	assert.Len(t, session.Exceptions, 2)
}

func TestRematch_IrreversibleAfterConfirm(t *testing.T) {
	e := newTestEngine()
	session := reviewSession(t, e, models.Tolerances{},
		[]normalize.RawRow{row("2024-01-05", "100.00", "a")},
		[]normalize.RawRow{row("2024-01-05", "100.00", "a")})

	_, err := e.ConfirmMatch(session.ID, session.Matches[0].ID, "reviewer")
	require.NoError(t, err)

	_, err = e.Rematch(session.ID, models.Tolerances{DateToleranceDays: 5})
	assert.True(t, errors.IsCode(err, errors.CodeIrreversibleState))
}

func TestResolveException(t *testing.T) {
	e := newTestEngine()
	session := reviewSession(t, e, models.Tolerances{DateToleranceDays: 3},
		[]normalize.RawRow{row("2024-01-05", "100.00", "acme payment")},
		[]normalize.RawRow{row("2024-01-05", "100.50", "acme payment")})
	require.Len(t, session.Exceptions, 2)

	// AmountMismatch requires a note.
	_, err := e.ResolveException(session.ID, session.Exceptions[0].ID, "")
	assert.True(t, errors.IsCode(err, errors.CodeMissingNote))

	for _, exc := range session.Exceptions {
		_, err := e.ResolveException(session.ID, exc.ID, "bank fee accounts for the difference")
		require.NoError(t, err)
	}

	session, err = e.Complete(session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, session.Status)
}

func TestResolveException_RequiresReview(t *testing.T) {
	e := newTestEngine()
	session := createSession(t, e, models.Tolerances{},
		[]normalize.RawRow{row("2024-01-05", "100.00", "a")},
		[]normalize.RawRow{row("2024-01-05", "100.00", "a")})

	_, err := e.ResolveException(session.ID, uuid.New(), "note")
	assert.True(t, errors.IsCode(err, errors.CodeInvalidTransition))
}

func TestManualLink(t *testing.T) {
	e := newTestEngine()
	session := reviewSession(t, e, models.Tolerances{DateToleranceDays: 3},
		[]normalize.RawRow{row("2024-01-05", "100.00", "acme payment")},
		[]normalize.RawRow{row("2024-01-05", "100.50", "acme payment")})
	require.Empty(t, session.Matches)

	ledgerID := session.LedgerRecords[0].ID
	bankID := session.BankRecords[0].ID

	session, err := e.ManualLink(session.ID, ledgerID, bankID, "reviewer")
	require.NoError(t, err)

	require.Len(t, session.Matches, 1)
	link := session.Matches[0]
	assert.True(t, link.Manual)
	assert.Equal(t, models.MatchConfirmed, link.Status)
	assert.Equal(t, "reviewer", link.ConfirmedBy)
	assert.Equal(t, int64(50), link.AmountDiff)

	for _, exc := range session.Exceptions {
		assert.Equal(t, models.ExceptionResolved, exc.Status)
		assert.Contains(t, exc.ResolutionNote, link.ID.String())
	}

	session, err = e.Complete(session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, session.Status)
}

func TestManualLink_CoveredRecord(t *testing.T) {
	// One ledger row matched, one left over: linking the leftover bank-side
	// record to the already-matched ledger record must fail.
	e := newTestEngine()
	session := reviewSession(t, e, models.Tolerances{},
		[]normalize.RawRow{row("2024-01-05", "100.00", "a")},
		[]normalize.RawRow{
			row("2024-01-05", "100.00", "a"),
			row("2024-01-05", "555.00", "stray"),
		})
	require.Len(t, session.Matches, 1)
	require.Len(t, session.Exceptions, 1)

	matchedLedger := session.Matches[0].LedgerRecordID
	strayBank := session.Exceptions[0].RecordID

	_, err := e.ManualLink(session.ID, matchedLedger, strayBank, "reviewer")
	assert.True(t, errors.IsCode(err, errors.CodeRecordCovered))
}

func TestManualLink_WrongSide(t *testing.T) {
	e := newTestEngine()
	session := reviewSession(t, e, models.Tolerances{DateToleranceDays: 3},
		[]normalize.RawRow{row("2024-01-05", "100.00", "a")},
		[]normalize.RawRow{row("2024-01-05", "100.50", "a")})

	// Swapped arguments: the bank record is not a ledger record.
	_, err := e.ManualLink(session.ID, session.BankRecords[0].ID, session.LedgerRecords[0].ID, "reviewer")
	assert.True(t, errors.IsCode(err, errors.CodeUnknownEntity))
}

func TestComplete_WithOnlyProposedMatches(t *testing.T) {
	e := newTestEngine()
	session := reviewSession(t, e, models.Tolerances{},
		[]normalize.RawRow{row("2024-01-05", "100.00", "a")},
		[]normalize.RawRow{row("2024-01-05", "100.00", "a")})
	require.Len(t, session.Matches, 1)

	_, err := e.Complete(session.ID)
	assert.True(t, errors.IsCode(err, errors.CodeIncompleteReconciliation))

	loaded, err := e.GetSession(session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionReview, loaded.Status)
}

func TestDeleteSession_Cascades(t *testing.T) {
	e := newTestEngine()
	session := reviewSession(t, e, models.Tolerances{},
		[]normalize.RawRow{row("2024-01-05", "100.00", "a")},
		[]normalize.RawRow{row("2024-01-05", "100.00", "a")})

	require.NoError(t, e.DeleteSession(session.ID))

	_, err := e.GetSession(session.ID)
	assert.True(t, errors.IsCode(err, errors.CodeSessionNotFound))
}

func TestSummary_MixedState(t *testing.T) {
	e := newTestEngine()
	session := reviewSession(t, e, models.Tolerances{DateToleranceDays: 3},
		[]normalize.RawRow{
			row("2024-01-05", "100.00", "acme payment"),
			row("2024-01-20", "42.00", "stray ledger entry"),
		},
		[]normalize.RawRow{row("2024-01-05", "100.00", "acme payment")})
	require.Len(t, session.Matches, 1)
	require.Len(t, session.Exceptions, 1)

	_, err := e.ConfirmMatch(session.ID, session.Matches[0].ID, "reviewer")
	require.NoError(t, err)

	summary, err := e.Summary(session.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.TotalLedgerRecords)
	assert.Equal(t, 1, summary.TotalBankRecords)
	assert.Equal(t, 1, summary.MatchedCount)
	assert.Equal(t, 1, summary.ConfirmedCount)
	assert.Equal(t, 1, summary.OpenExceptions)
	assert.Equal(t, 1, summary.ExceptionsByKind[models.ExceptionUnmatchedLedger])
	// 2 of 3 records resolved: the confirmed pair.
	assert.InDelta(t, 2.0/3.0, summary.CoverageRatio, 1e-9)
	assert.True(t, summary.MatchedAmount.Equal(decimal.NewFromInt(100)))
}
