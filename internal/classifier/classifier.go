// Package classifier turns the matcher's leftovers into typed exceptions.
//
// Classification precedence per record:
//  1. DuplicateCandidate: another record on the same side shares an
//     identical (date, amount) pair, signaling likely double entry.
//  2. AmountMismatch: the record had a near-miss candidate that satisfied
//     exactly one tolerance; the exception references the closest one.
//  3. UnmatchedLedger / UnmatchedBank: no candidate at all.
//
// Exactly one exception is produced per uncovered record.
package classifier

import (
	"fmt"

	"github.com/google/uuid"

	"ledger-reconciliation-engine/internal/matcher"
	"ledger-reconciliation-engine/internal/models"
)

// Classify produces one open exception for every unmatched record.
func Classify(unmatchedLedger, unmatchedBank []*models.Record, nearMisses map[uuid.UUID]matcher.NearMiss) []*models.Exception {
	exceptions := make([]*models.Exception, 0, len(unmatchedLedger)+len(unmatchedBank))
	exceptions = append(exceptions, classifySide(unmatchedLedger, models.ExceptionUnmatchedLedger, nearMisses)...)
	exceptions = append(exceptions, classifySide(unmatchedBank, models.ExceptionUnmatchedBank, nearMisses)...)
	return exceptions
}

// classifySide classifies the unmatched records of one side. unmatchedKind
// is the fallback kind for records with no candidate at all.
func classifySide(records []*models.Record, unmatchedKind models.ExceptionKind, nearMisses map[uuid.UUID]matcher.NearMiss) []*models.Exception {
	duplicates := duplicateKeys(records)

	exceptions := make([]*models.Exception, 0, len(records))
	for _, r := range records {
		switch {
		case duplicates[identityKey(r)]:
			exceptions = append(exceptions, models.NewException(r.ID, models.ExceptionDuplicateCandidate))
		case hasNearMiss(r.ID, nearMisses):
			nm := nearMisses[r.ID]
			exceptions = append(exceptions,
				models.NewException(r.ID, models.ExceptionAmountMismatch).
					WithCandidate(nm.CandidateID, nm.DateDiff, nm.AmountDiff))
		default:
			exceptions = append(exceptions, models.NewException(r.ID, unmatchedKind))
		}
	}
	return exceptions
}

// ClassifyReleased builds a fresh exception for a record returned to the
// unmatched pool by a rejected match. sameSideUncovered holds the other
// records on the same side that currently lack an active match, for
// duplicate detection.
func ClassifyReleased(record *models.Record, sameSideUncovered []*models.Record) *models.Exception {
	key := identityKey(record)
	for _, other := range sameSideUncovered {
		if other.ID != record.ID && identityKey(other) == key {
			return models.NewException(record.ID, models.ExceptionDuplicateCandidate)
		}
	}

	kind := models.ExceptionUnmatchedLedger
	if record.Source == models.SourceBank {
		kind = models.ExceptionUnmatchedBank
	}
	return models.NewException(record.ID, kind)
}

// hasNearMiss reports whether the record has a tracked near-miss.
func hasNearMiss(recordID uuid.UUID, nearMisses map[uuid.UUID]matcher.NearMiss) bool {
	if nearMisses == nil {
		return false
	}
	_, ok := nearMisses[recordID]
	return ok
}

// identityKey is the (date, amount) pair used for duplicate detection.
func identityKey(r *models.Record) string {
	return fmt.Sprintf("%s|%d", r.Date.Format("2006-01-02"), r.Amount)
}

// duplicateKeys returns the identity keys shared by two or more records.
func duplicateKeys(records []*models.Record) map[string]bool {
	counts := make(map[string]int)
	for _, r := range records {
		counts[identityKey(r)]++
	}

	duplicates := make(map[string]bool)
	for key, count := range counts {
		if count > 1 {
			duplicates[key] = true
		}
	}
	return duplicates
}
