package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"offer-attribution/internal/database"
	"offer-attribution/internal/pipeline"
)

var showFormat string

var showCmd = &cobra.Command{
	Use:   "show <run_id>",
	Short: "Export the tables of a stored run",
	Long: `Export the attributed transactions and completion table of a run
persisted with --db.

Examples:
  attribution show 0b7c... --db runs.db --format csv > run.csv`,
	Args: cobra.ExactArgs(1),
	RunE: runShow,
}

func init() {
	showCmd.Flags().StringVarP(&showFormat, "format", "f", "csv", "output format (csv or json)")
	rootCmd.AddCommand(showCmd)
}

func runShow(cmd *cobra.Command, args []string) error {
	runID := args[0]

	if showFormat != "csv" && showFormat != "json" {
		return fmt.Errorf("invalid format: must be 'csv' or 'json'")
	}

	return withStore(func(db *database.DB) error {
		ctx := cmd.Context()

		summary, err := db.GetRun(ctx, runID)
		if err != nil {
			if errors.Is(err, database.ErrRunNotFound) {
				return fmt.Errorf("run '%s' not found", runID)
			}
			return fmt.Errorf("failed to get run: %w", err)
		}

		txns, err := db.GetTransactions(ctx, runID, "")
		if err != nil {
			return fmt.Errorf("failed to get transactions: %w", err)
		}

		table, err := db.GetCompletions(ctx, runID)
		if err != nil {
			return fmt.Errorf("failed to get completions: %w", err)
		}

		return writeStdout(cmd.OutOrStdout(), showFormat, summary, pipeline.Result{
			Transactions: txns,
			Completions:  table,
		})
	})
}

// withStore opens the database, executes the function, and handles cleanup.
func withStore(fn func(*database.DB) error) error {
	if dbPath == "" {
		return fmt.Errorf("--db is required")
	}

	db, err := database.NewDB(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	return fn(db)
}
