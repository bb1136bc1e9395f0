package matcher

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"ledger-reconciliation-engine/internal/models"
	"ledger-reconciliation-engine/pkg/errors"
	"ledger-reconciliation-engine/pkg/logger"
)

// candidate is a (ledger, bank) pair that satisfies both tolerances.
type candidate struct {
	ledger     *models.Record
	bank       *models.Record
	score      float64
	dateDiff   int
	amountDiff int64
}

// NearMiss is the best candidate pair for a record that satisfied exactly
// one tolerance and missed the other by the smallest margin.
type NearMiss struct {
	CandidateID uuid.UUID `json:"candidate_id"`
	DateDiff    int       `json:"date_diff_days"`
	AmountDiff  int64     `json:"amount_diff"`

	// margin is the normalized overshoot in the violated dimension, used
	// only to keep the closest near-miss per record.
	margin float64
}

// Result is the outcome of one matching pass. Every input record appears in
// matches or in exactly one of the unmatched slices.
type Result struct {
	Matches         []*models.Match
	UnmatchedLedger []*models.Record
	UnmatchedBank   []*models.Record

	// NearMisses maps unmatched record IDs to their closest near-miss.
	NearMisses map[uuid.UUID]NearMiss
}

// Engine generates candidates and resolves them into a deterministic match
// set.
type Engine struct {
	config *Config
	log    logger.Logger
}

// NewEngine creates a matching engine with the given configuration.
func NewEngine(config *Config) *Engine {
	if config == nil {
		config = NewConfig(models.Tolerances{})
	}
	return &Engine{
		config: config,
		log:    logger.WithComponent("matcher"),
	}
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() *Config {
	return e.config.Clone()
}

// Match pairs ledger records with bank records. The pass is pure over its
// inputs: running it twice on identical record sets with identical
// tolerances yields an identical match set with identical scores.
//
// The context is checked between candidate generation and assignment; on
// cancellation no partial result is returned.
func (e *Engine) Match(ctx context.Context, ledger, bank []*models.Record) (*Result, error) {
	if err := e.config.Validate(); err != nil {
		return nil, err
	}

	candidates, nearMisses := e.generateCandidates(ledger, bank)

	e.log.WithFields(logger.Fields{
		"ledger_records": len(ledger),
		"bank_records":   len(bank),
		"candidates":     len(candidates),
	}).Debug("Candidate generation complete")

	select {
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), errors.CategoryConcurrency, errors.CodeCancelled,
			"matching pass cancelled before assignment")
	default:
	}

	return e.assign(ledger, bank, candidates, nearMisses), nil
}

// generateCandidates produces every pair within both tolerances, scored,
// plus the best near-miss per record. Complexity is O(n*m).
func (e *Engine) generateCandidates(ledger, bank []*models.Record) ([]candidate, map[uuid.UUID]NearMiss) {
	tol := e.config.Tolerances
	candidates := make([]candidate, 0)
	nearMisses := make(map[uuid.UUID]NearMiss)

	for _, l := range ledger {
		for _, b := range bank {
			dateDiff := models.DaysBetween(l.Date, b.Date)
			amountDiff := models.AbsAmountDiff(l.Amount, b.Amount)
			dateOK := dateDiff <= tol.DateToleranceDays
			amountOK := amountDiff <= tol.AmountTolerance

			switch {
			case dateOK && amountOK:
				candidates = append(candidates, candidate{
					ledger:     l,
					bank:       b,
					score:      e.score(l, b, dateDiff, amountDiff),
					dateDiff:   dateDiff,
					amountDiff: amountDiff,
				})
			case dateOK != amountOK:
				// Exactly one tolerance satisfied: a near-miss for both
				// records of the pair.
				margin := e.nearMissMargin(dateOK, dateDiff, amountDiff)
				e.recordNearMiss(nearMisses, l.ID, b.ID, dateDiff, amountDiff, margin)
				e.recordNearMiss(nearMisses, b.ID, l.ID, dateDiff, amountDiff, margin)
			}
		}
	}

	return candidates, nearMisses
}

// nearMissMargin normalizes the overshoot in the violated dimension so
// margins from the two failure modes are comparable per record.
func (e *Engine) nearMissMargin(dateOK bool, dateDiff int, amountDiff int64) float64 {
	tol := e.config.Tolerances
	if dateOK {
		over := amountDiff - tol.AmountTolerance
		return float64(over) / float64(tol.AmountTolerance+1)
	}
	over := dateDiff - tol.DateToleranceDays
	return float64(over) / float64(tol.DateToleranceDays+1)
}

// recordNearMiss keeps the closest near-miss per record, with deterministic
// tie-breaking on date distance, amount distance, then candidate ID.
func (e *Engine) recordNearMiss(nearMisses map[uuid.UUID]NearMiss, recordID, candidateID uuid.UUID, dateDiff int, amountDiff int64, margin float64) {
	next := NearMiss{
		CandidateID: candidateID,
		DateDiff:    dateDiff,
		AmountDiff:  amountDiff,
		margin:      margin,
	}
	current, exists := nearMisses[recordID]
	if !exists || nearMissLess(next, current) {
		nearMisses[recordID] = next
	}
}

// nearMissLess orders near-misses: smallest margin first, then closest
// date, closest amount, lowest candidate ID.
func nearMissLess(a, b NearMiss) bool {
	if a.margin != b.margin {
		return a.margin < b.margin
	}
	if a.DateDiff != b.DateDiff {
		return a.DateDiff < b.DateDiff
	}
	if a.AmountDiff != b.AmountDiff {
		return a.AmountDiff < b.AmountDiff
	}
	return a.CandidateID.String() < b.CandidateID.String()
}

// score computes the weighted candidate score from inverse date distance,
// inverse amount distance and description token overlap. All components are
// in [0, 1].
func (e *Engine) score(l, b *models.Record, dateDiff int, amountDiff int64) float64 {
	tol := e.config.Tolerances
	weights := e.config.Weights

	amountScore := 1.0
	if amountDiff > 0 {
		amountScore = 1.0 - float64(amountDiff)/float64(tol.AmountTolerance+1)
	}

	dateScore := 1.0
	if dateDiff > 0 {
		dateScore = 1.0 - float64(dateDiff)/float64(tol.DateToleranceDays+1)
	}

	descScore := DescriptionSimilarity(l.Description, b.Description)

	return weights.Amount*amountScore + weights.Date*dateScore + weights.Description*descScore
}

// assign resolves candidates via greedy bipartite assignment in descending
// score order and collects the leftovers. The sort is a strict total order,
// which is what makes the pass deterministic. O(k log k) over k candidates.
func (e *Engine) assign(ledger, bank []*models.Record, candidates []candidate, nearMisses map[uuid.UUID]NearMiss) *Result {
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.dateDiff != b.dateDiff {
			return a.dateDiff < b.dateDiff
		}
		if a.amountDiff != b.amountDiff {
			return a.amountDiff < b.amountDiff
		}
		if a.ledger.ID != b.ledger.ID {
			return a.ledger.ID.String() < b.ledger.ID.String()
		}
		return a.bank.ID.String() < b.bank.ID.String()
	})

	assigned := make(map[uuid.UUID]bool)
	matches := make([]*models.Match, 0, len(candidates))
	for _, c := range candidates {
		if assigned[c.ledger.ID] || assigned[c.bank.ID] {
			continue
		}
		assigned[c.ledger.ID] = true
		assigned[c.bank.ID] = true
		matches = append(matches, models.NewMatch(c.ledger.ID, c.bank.ID, c.score, c.dateDiff, c.amountDiff))
	}

	result := &Result{
		Matches:    matches,
		NearMisses: make(map[uuid.UUID]NearMiss),
	}
	for _, l := range ledger {
		if !assigned[l.ID] {
			result.UnmatchedLedger = append(result.UnmatchedLedger, l)
			if nm, ok := nearMisses[l.ID]; ok {
				result.NearMisses[l.ID] = nm
			}
		}
	}
	for _, b := range bank {
		if !assigned[b.ID] {
			result.UnmatchedBank = append(result.UnmatchedBank, b)
			if nm, ok := nearMisses[b.ID]; ok {
				result.NearMisses[b.ID] = nm
			}
		}
	}

	e.log.WithFields(logger.Fields{
		"matches":          len(result.Matches),
		"unmatched_ledger": len(result.UnmatchedLedger),
		"unmatched_bank":   len(result.UnmatchedBank),
	}).Debug("Assignment complete")

	return result
}
