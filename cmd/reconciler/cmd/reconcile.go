package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ledger-reconciliation-engine/internal/engine"
	"ledger-reconciliation-engine/internal/models"
	"ledger-reconciliation-engine/internal/normalize"
	"ledger-reconciliation-engine/internal/store"
	"ledger-reconciliation-engine/pkg/logger"
)

// Flags for the reconcile command
var (
	ledgerFile      string
	bankFile        string
	sessionName     string
	dateTolerance   int
	amountTolerance string
	allowMalformed  bool
	outputFormat    string
)

// reconcileCmd represents the reconcile command
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile a ledger file against a bank statement file",
	Long: `Reconcile runs one complete session over two CSV files: rows are
normalized into canonical records, matched under the configured tolerances,
and the leftovers are classified as exceptions.

Examples:
  # Exact matching
  reconciler reconcile --ledger-file ledger.csv --bank-file statement.csv

  # Allow 3 days of date drift and 0.50 of amount drift
  reconciler reconcile --ledger-file ledger.csv --bank-file statement.csv \
    --date-tolerance 3 --amount-tolerance 0.50

  # Skip malformed rows instead of aborting
  reconciler reconcile --ledger-file ledger.csv --bank-file statement.csv \
    --allow-malformed`,

	RunE: runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	reconcileCmd.Flags().StringVarP(&ledgerFile, "ledger-file", "l", "", "path to ledger CSV file (required)")
	reconcileCmd.Flags().StringVarP(&bankFile, "bank-file", "b", "", "path to bank statement CSV file (required)")
	reconcileCmd.Flags().StringVar(&sessionName, "name", "", "session name (default: derived from file names)")
	reconcileCmd.Flags().IntVarP(&dateTolerance, "date-tolerance", "d", 0, "date matching tolerance in days")
	reconcileCmd.Flags().StringVarP(&amountTolerance, "amount-tolerance", "a", "0", "amount matching tolerance in major units (e.g. 0.50)")
	reconcileCmd.Flags().BoolVar(&allowMalformed, "allow-malformed", false, "proceed with parseable rows when some rows are malformed")
	reconcileCmd.Flags().StringVarP(&outputFormat, "output-format", "f", "console", "output format: console, json")

	reconcileCmd.MarkFlagRequired("ledger-file")
	reconcileCmd.MarkFlagRequired("bank-file")

	viper.BindPFlag("date-tolerance", reconcileCmd.Flags().Lookup("date-tolerance"))
	viper.BindPFlag("amount-tolerance", reconcileCmd.Flags().Lookup("amount-tolerance"))
	viper.BindPFlag("output-format", reconcileCmd.Flags().Lookup("output-format"))
}

func runReconcile(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("cli")

	tolerances, err := buildTolerances()
	if err != nil {
		return err
	}

	ledgerRows, err := loadRows(ledgerFile)
	if err != nil {
		return fmt.Errorf("loading ledger file: %w", err)
	}
	bankRows, err := loadRows(bankFile)
	if err != nil {
		return fmt.Errorf("loading bank statement file: %w", err)
	}

	name := sessionName
	if name == "" {
		name = fmt.Sprintf("%s vs %s", filepath.Base(ledgerFile), filepath.Base(bankFile))
	}

	eng := engine.NewEngine(store.NewMemoryStore())
	created, err := eng.CreateSession(engine.CreateRequest{
		Name:               name,
		Tolerances:         tolerances,
		LedgerRows:         ledgerRows,
		BankRows:           bankRows,
		AllowMalformedRows: allowMalformed,
	})
	if err != nil {
		return err
	}
	for _, rowErr := range append(created.MalformedLedger, created.MalformedBank...) {
		log.Warn(rowErr.Message)
	}

	sessionID := created.Session.ID
	if _, err := eng.Start(sessionID, tolerances); err != nil {
		return err
	}
	session, err := eng.RunMatching(context.Background(), sessionID)
	if err != nil {
		return err
	}
	summary, err := eng.Summary(sessionID)
	if err != nil {
		return err
	}

	switch outputFormat {
	case "json":
		return printJSON(session, summary)
	default:
		printConsole(session, summary)
		return nil
	}
}

func buildTolerances() (models.Tolerances, error) {
	amount, err := normalize.ParseAmount(amountTolerance)
	if err != nil {
		return models.Tolerances{}, fmt.Errorf("invalid --amount-tolerance: %w", err)
	}
	return models.Tolerances{
		DateToleranceDays: dateTolerance,
		AmountTolerance:   amount,
	}, nil
}

func printJSON(session *models.Session, summary *engine.Summary) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(struct {
		Summary    *engine.Summary     `json:"summary"`
		Matches    []*models.Match     `json:"matches"`
		Exceptions []*models.Exception `json:"exceptions"`
	}{
		Summary:    summary,
		Matches:    session.Matches,
		Exceptions: session.Exceptions,
	})
}

func printConsole(session *models.Session, summary *engine.Summary) {
	fmt.Printf("Session %s (%s)\n", summary.SessionID, summary.Status)
	fmt.Printf("  Ledger records:  %d\n", summary.TotalLedgerRecords)
	fmt.Printf("  Bank records:    %d\n", summary.TotalBankRecords)
	fmt.Printf("  Matches:         %d (amount %s)\n", summary.MatchedCount, summary.MatchedAmount.StringFixed(2))
	fmt.Printf("  Open exceptions: %d\n", summary.OpenExceptions)
	for kind, count := range summary.ExceptionsByKind {
		fmt.Printf("    %-20s %d\n", kind, count)
	}
	fmt.Printf("  Coverage:        %.1f%%\n", summary.CoverageRatio*100)

	if len(session.Matches) > 0 {
		fmt.Println("\nProposed matches:")
		for _, m := range session.Matches {
			ledger, _ := session.RecordByID(m.LedgerRecordID)
			bank, _ := session.RecordByID(m.BankRecordID)
			fmt.Printf("  %.3f  %s  ~  %s\n", m.Score, describeRecord(ledger), describeRecord(bank))
		}
	}
}

func describeRecord(r *models.Record) string {
	if r == nil {
		return "<missing>"
	}
	return fmt.Sprintf("%s %s %q", r.Date.Format("2006-01-02"), r.AmountDecimal().StringFixed(2), r.Description)
}
