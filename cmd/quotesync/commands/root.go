package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	envFile string
	verbose bool

	// exitCode carries the run's worst-case status out to main.
	exitCode int
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "quotesync",
	Short: "Reconcile external quote feeds into a personal-finance ledger store",
	Long: `quotesync ingests security price and exchange-rate quotes from local
feed files and reconciles them into the ledger store: validating rows
against the schema catalog, updating current-state records, and appending
new time-series records.

Examples:
  quotesync update --file quotes.csv
  quotesync update --file quotes.json --schedule "0 18 * * MON-FRI"`,
	SilenceUsage: true,
}

// Execute runs the CLI and returns the process exit code: 0 when every row
// reconciled cleanly, 1 on warnings, 2 on errors or run failures.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		return 2
	}
	return exitCode
}

// raiseExit records a run's exit code, keeping the worst across runs.
func raiseExit(code int) {
	if code > exitCode {
		exitCode = code
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "config", "", "env file (default is .env)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
