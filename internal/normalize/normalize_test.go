package normalize

import (
	"testing"
	"time"

	"ledger-reconciliation-engine/internal/models"
	"ledger-reconciliation-engine/pkg/errors"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int64
		wantErr bool
	}{
		{"plain decimal", "100.50", 10050, false},
		{"integer", "250", 25000, false},
		{"negative", "-42.01", -4201, false},
		{"currency symbol", "$1,234.56", 123456, false},
		{"pound symbol", "£99.99", 9999, false},
		{"parenthesized negative", "(1,234.56)", -123456, false},
		{"zero", "0.00", 0, false},
		{"empty", "", 0, true},
		{"garbage", "abc", 0, true},
		{"sub minor unit precision", "12.345", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAmount(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseAmount(%q) expected error, got %d", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAmount(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseAmount(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Time
		wantErr bool
	}{
		{"iso", "2024-01-05", time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), false},
		{"us slash", "01/05/2024", time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), false},
		{"long month", "January 5, 2024", time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), false},
		{"timestamp truncated to date", "2024-01-05 13:45:00", time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), false},
		{"empty", "", time.Time{}, true},
		{"garbage", "not-a-date", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDate(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseDate(%q) expected error, got %v", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDate(%q) unexpected error: %v", tt.input, err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("ParseDate(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	rows := []RawRow{
		{Date: "2024-01-05", Amount: "100.00", Description: "ACME invoice", Reference: "INV-1"},
		{Date: "bad-date", Amount: "100.00", Description: "broken row"},
		{Date: "2024-01-06", Amount: "not-money", Description: "broken row"},
		{Date: "2024-01-07", Amount: "(25.00)", Description: "refund"},
	}

	result := Normalize(rows, models.SourceLedger)

	if len(result.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(result.Records))
	}
	if len(result.Malformed) != 2 {
		t.Fatalf("expected 2 malformed rows, got %d", len(result.Malformed))
	}

	first := result.Records[0]
	if first.Source != models.SourceLedger {
		t.Errorf("expected ledger source, got %s", first.Source)
	}
	if first.Amount != 10000 {
		t.Errorf("expected amount 10000, got %d", first.Amount)
	}
	if first.RowNumber != 1 {
		t.Errorf("expected row number 1, got %d", first.RowNumber)
	}
	if !first.Date.Equal(time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("expected UTC midnight date, got %v", first.Date)
	}

	second := result.Records[1]
	if second.Amount != -2500 {
		t.Errorf("expected amount -2500, got %d", second.Amount)
	}
	if second.RowNumber != 4 {
		t.Errorf("expected row number 4, got %d", second.RowNumber)
	}

	// Malformed rows carry their source row numbers.
	for i, want := range []int{2, 3} {
		rowErr := result.Malformed[i]
		if rowErr.Code != errors.CodeMalformedRow {
			t.Errorf("expected malformed_row code, got %s", rowErr.Code)
		}
		if got := rowErr.Context["row_number"]; got != want {
			t.Errorf("expected row_number %d, got %v", want, got)
		}
	}

	if result.Err() == nil {
		t.Error("expected aggregate error for malformed rows")
	}
}

func TestNormalize_AllValid(t *testing.T) {
	rows := []RawRow{
		{Date: "2024-01-05", Amount: "10.00", Description: "ok"},
	}
	result := Normalize(rows, models.SourceBank)

	if len(result.Records) != 1 || len(result.Malformed) != 0 {
		t.Fatalf("expected clean result, got %d records %d malformed",
			len(result.Records), len(result.Malformed))
	}
	if result.Err() != nil {
		t.Errorf("expected nil aggregate error, got %v", result.Err())
	}
	if result.Records[0].Source != models.SourceBank {
		t.Errorf("expected bank source, got %s", result.Records[0].Source)
	}
}

func TestNormalize_EmptyInput(t *testing.T) {
	result := Normalize(nil, models.SourceLedger)
	if len(result.Records) != 0 || len(result.Malformed) != 0 {
		t.Fatalf("expected empty result, got %+v", result)
	}
}
