package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ledger-reconciliation-engine/pkg/logger"
)

var (
	cfgFile string
	verbose bool
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "reconciler",
	Short: "Ledger/bank transaction reconciliation engine",
	Long: `Reconciler matches an internal ledger against an external bank
statement under configurable date and amount tolerances, classifies
everything it cannot match as exceptions, and reports the result.

Examples:
  reconciler reconcile --ledger-file ledger.csv --bank-file statement.csv
  reconciler reconcile --ledger-file ledger.csv --bank-file statement.csv \
    --date-tolerance 3 --amount-tolerance 0.50 --output-format json`,
	Version: getVersionString(),
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// initConfig reads in config file and ENV variables.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "Error reading config file: %s\n", err)
			os.Exit(1)
		}
	}

	viper.SetEnvPrefix("RECONCILER")
	viper.AutomaticEnv()

	level := logger.InfoLevel
	if viper.GetBool("verbose") {
		level = logger.DebugLevel
	}
	log, err := logger.NewLogger(&logger.Config{
		Level:  level,
		Format: logger.TextFormat,
		Output: os.Stderr,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %s\n", err)
		os.Exit(1)
	}
	logger.SetGlobalLogger(log)
}

// SetVersionInfo sets the version information for the CLI.
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}
