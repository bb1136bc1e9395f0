package cmd

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"

	"ledger-reconciliation-engine/internal/normalize"
)

// columnAliases maps common CSV header names onto the canonical raw-row
// fields.
var columnAliases = map[string]string{
	"date":             "date",
	"transaction_date": "date",
	"trans_date":       "date",
	"posting_date":     "date",
	"effective_date":   "date",
	"value_date":       "date",

	"amount":             "amount",
	"transaction_amount": "amount",
	"value":              "amount",
	"amt":                "amount",

	"description":             "description",
	"desc":                    "description",
	"transaction_description": "description",
	"details":                 "description",
	"memo":                    "description",
	"payee":                   "description",

	"reference":           "reference",
	"ref":                 "reference",
	"transaction_id":      "reference",
	"transaction_ref":     "reference",
	"confirmation_number": "reference",
	"check_number":        "reference",
}

// loadRows reads a CSV file into raw rows, resolving header aliases. This
// is the stand-in for the external file-parser collaborator; the engine
// itself only ever sees raw rows.
func loadRows(path string) ([]normalize.RawRow, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("file %s has no data rows", path)
	}

	// Resolve the header into canonical field positions.
	fields := make(map[string]int)
	for i, header := range records[0] {
		key := strings.ToLower(strings.TrimSpace(header))
		if canonical, ok := columnAliases[key]; ok {
			if _, taken := fields[canonical]; !taken {
				fields[canonical] = i
			}
		}
	}
	for _, required := range []string{"date", "amount", "description"} {
		if _, ok := fields[required]; !ok {
			return nil, fmt.Errorf("file %s is missing a recognizable %q column", path, required)
		}
	}

	rows := make([]normalize.RawRow, 0, len(records)-1)
	for _, record := range records[1:] {
		rows = append(rows, normalize.RawRow{
			Date:        cell(record, fields, "date"),
			Amount:      cell(record, fields, "amount"),
			Description: cell(record, fields, "description"),
			Reference:   cell(record, fields, "reference"),
		})
	}
	return rows, nil
}

func cell(record []string, fields map[string]int, name string) string {
	index, ok := fields[name]
	if !ok || index >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[index])
}
