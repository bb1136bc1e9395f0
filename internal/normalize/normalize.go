// Package normalize converts raw parsed rows into canonical records.
//
// This package is the only point of contact with the loosely-typed row
// shape produced by upstream file parsers. Amounts become fixed-point
// minor-unit integers (never floating point) and dates become UTC midnight
// calendar dates before anything downstream compares them. Rows lacking a
// parseable date or amount are collected and reported, not silently
// dropped; the caller decides whether to abort or proceed with the valid
// subset.
package normalize

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ledger-reconciliation-engine/internal/models"
	"ledger-reconciliation-engine/pkg/errors"
)

// RawRow is the row shape produced by upstream CSV/Excel parsers.
type RawRow struct {
	Date        string `json:"date"`
	Amount      string `json:"amount"`
	Description string `json:"description"`
	Reference   string `json:"reference,omitempty"`
}

// Result holds the outcome of one normalization pass.
type Result struct {
	Records   []*models.Record
	Malformed []*errors.EngineError
}

// Err returns the malformed rows as an aggregate error, or nil when every
// row parsed.
func (r *Result) Err() error {
	agg := errors.NewRowErrors(r.Malformed)
	if agg == nil {
		return nil
	}
	return agg
}

// dateFormats lists the calendar formats accepted from source files, tried
// in order.
var dateFormats = []string{
	"2006-01-02",
	"01/02/2006",
	"02/01/2006",
	"01-02-2006",
	"02-01-2006",
	"2006/01/02",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"2 Jan 2006",
	time.RFC3339,
	"2006-01-02 15:04:05",
}

// Normalize converts raw rows from the given source into canonical records.
// Row numbers in reported errors are 1-based to match source files.
func Normalize(rows []RawRow, source models.Source) *Result {
	result := &Result{
		Records: make([]*models.Record, 0, len(rows)),
	}

	for i, row := range rows {
		rowNumber := i + 1

		date, err := ParseDate(row.Date)
		if err != nil {
			result.Malformed = append(result.Malformed,
				errors.MalformedRowError(source.String(), rowNumber, "date", row.Date, err))
			continue
		}

		amount, err := ParseAmount(row.Amount)
		if err != nil {
			result.Malformed = append(result.Malformed,
				errors.MalformedRowError(source.String(), rowNumber, "amount", row.Amount, err))
			continue
		}

		description := strings.TrimSpace(row.Description)
		reference := strings.TrimSpace(row.Reference)
		result.Records = append(result.Records,
			models.NewRecord(source, date, amount, description, reference, rowNumber))
	}

	return result
}

// ParseDate parses a calendar date from the accepted formats and normalizes
// it to UTC midnight.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New(errors.CategoryNormalization, errors.CodeMalformedRow,
			"date string cannot be empty")
	}

	var lastErr error
	for _, format := range dateFormats {
		if t, err := time.Parse(format, s); err == nil {
			return models.NormalizeDate(t), nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, errors.Wrap(lastErr, errors.CategoryNormalization, errors.CodeMalformedRow,
		"unable to parse date '"+s+"'")
}

// currencyNoise lists characters stripped before decimal parsing.
var currencyNoise = strings.NewReplacer(
	"$", "", "£", "", "€", "", "¥", "",
	",", "", " ", "", " ", "",
)

// ParseAmount parses a signed amount string into minor units. It accepts
// currency symbols, thousand separators and parenthesized negatives, and
// rejects values with sub-minor-unit precision rather than rounding them.
func ParseAmount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New(errors.CategoryNormalization, errors.CodeMalformedRow,
			"amount string cannot be empty")
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	s = currencyNoise.Replace(s)

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, errors.Wrap(err, errors.CategoryNormalization, errors.CodeMalformedRow,
			"invalid amount format '"+s+"'")
	}
	if negative {
		d = d.Neg()
	}

	minor := d.Shift(2)
	if !minor.IsInteger() {
		return 0, errors.New(errors.CategoryNormalization, errors.CodeMalformedRow,
			"amount '"+s+"' has more than two decimal places")
	}
	return minor.IntPart(), nil
}
