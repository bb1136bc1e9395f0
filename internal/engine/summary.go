package engine

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ledger-reconciliation-engine/internal/models"
)

// Summary is the aggregate view of a session exposed to the API layer.
type Summary struct {
	SessionID uuid.UUID            `json:"session_id"`
	Status    models.SessionStatus `json:"status"`

	TotalLedgerRecords int `json:"total_ledger_records"`
	TotalBankRecords   int `json:"total_bank_records"`

	// MatchedCount counts non-rejected matches.
	MatchedCount   int `json:"matched_count"`
	ConfirmedCount int `json:"confirmed_count"`
	RejectedCount  int `json:"rejected_count"`

	OpenExceptions     int                          `json:"open_exceptions"`
	ResolvedExceptions int                          `json:"resolved_exceptions"`
	ExceptionsByKind   map[models.ExceptionKind]int `json:"exceptions_by_kind"`

	// CoverageRatio is the share of records covered by a confirmed match
	// or a resolved exception. 1.0 means the session may complete.
	CoverageRatio float64 `json:"coverage_ratio"`

	// MatchedAmount is the total ledger-side amount bound by non-rejected
	// matches, in major units.
	MatchedAmount decimal.Decimal `json:"matched_amount"`
}

// Summary computes the aggregate counters for a session.
func (e *Engine) Summary(sessionID uuid.UUID) (*Summary, error) {
	session, err := e.store.Get(sessionID)
	if err != nil {
		return nil, err
	}
	return buildSummary(session), nil
}

func buildSummary(session *models.Session) *Summary {
	summary := &Summary{
		SessionID:          session.ID,
		Status:             session.Status,
		TotalLedgerRecords: len(session.LedgerRecords),
		TotalBankRecords:   len(session.BankRecords),
		ExceptionsByKind:   make(map[models.ExceptionKind]int),
		MatchedAmount:      decimal.Zero,
	}

	for _, m := range session.Matches {
		switch m.Status {
		case models.MatchRejected:
			summary.RejectedCount++
			continue
		case models.MatchConfirmed:
			summary.ConfirmedCount++
		}
		summary.MatchedCount++
		if record, ok := session.RecordByID(m.LedgerRecordID); ok {
			summary.MatchedAmount = summary.MatchedAmount.Add(record.AmountDecimal().Abs())
		}
	}

	for _, ex := range session.Exceptions {
		if ex.Status == models.ExceptionOpen {
			summary.OpenExceptions++
			summary.ExceptionsByKind[ex.Kind]++
		} else {
			summary.ResolvedExceptions++
		}
	}

	if total := session.TotalRecords(); total > 0 {
		resolved := total - session.UnresolvedRecordCount()
		summary.CoverageRatio = float64(resolved) / float64(total)
	}

	return summary
}
