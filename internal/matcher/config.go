// Package matcher pairs ledger records with bank records under configurable
// date and amount tolerances.
//
// The algorithm has two phases:
//  1. Candidate generation: every (ledger, bank) pair whose date distance
//     and amount distance both fall within tolerance becomes a scored
//     candidate. Pairs that satisfy exactly one tolerance are tracked as
//     near-misses for exception classification.
//  2. Greedy assignment: candidates are taken in descending score order;
//     each assignment removes both records from further candidacy. Exact
//     ties break on closest date, then closest amount, then lower ledger
//     record ID, so identical input always produces an identical match set.
package matcher

import (
	"ledger-reconciliation-engine/internal/models"
	"ledger-reconciliation-engine/pkg/errors"
)

// Weights defines the relative importance of the scoring criteria. The
// three weights should sum to approximately 1.0.
type Weights struct {
	Amount      float64 `json:"amount_weight"`
	Date        float64 `json:"date_weight"`
	Description float64 `json:"description_weight"`
}

// Validate checks if the weights are valid.
func (w Weights) Validate() error {
	for setting, value := range map[string]float64{
		"amount_weight":      w.Amount,
		"date_weight":        w.Date,
		"description_weight": w.Description,
	} {
		if value < 0.0 || value > 1.0 {
			return errors.ConfigurationError(setting, value, nil).
				WithSuggestion("weights must be between 0.0 and 1.0")
		}
	}
	total := w.Amount + w.Date + w.Description
	if total < 0.9 || total > 1.1 {
		return errors.ConfigurationError("weights", total, nil).
			WithSuggestion("weights should sum to approximately 1.0")
	}
	return nil
}

// Config holds the matcher configuration: the session tolerances plus the
// scoring weights.
type Config struct {
	Tolerances models.Tolerances `json:"tolerances"`
	Weights    Weights           `json:"weights"`
}

// DefaultWeights returns the standard scoring weights: amount proximity
// dominates, date proximity and description similarity share the rest.
func DefaultWeights() Weights {
	return Weights{
		Amount:      0.4,
		Date:        0.3,
		Description: 0.3,
	}
}

// NewConfig builds a matcher configuration from session tolerances with the
// default weights.
func NewConfig(tolerances models.Tolerances) *Config {
	return &Config{
		Tolerances: tolerances,
		Weights:    DefaultWeights(),
	}
}

// Validate checks if the matcher configuration is valid.
func (c *Config) Validate() error {
	if err := c.Tolerances.Validate(); err != nil {
		return err
	}
	return c.Weights.Validate()
}

// Clone creates a copy of the configuration.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}
