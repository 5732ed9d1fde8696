package cli

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"offer-attribution/internal/config"
	"offer-attribution/internal/database"
	"offer-attribution/internal/features"
	"offer-attribution/internal/ingest"
	"offer-attribution/internal/service"
)

var (
	transcriptPath string
	portfolioPath  string
	outDir         string
	outFormat      string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the attribution pipeline over a transcript and portfolio",
	Long: `Run the attribution pipeline and write the attributed transactions and
the completion table.

Examples:
  attribution run --transcript transcript.json --portfolio portfolio.json
  attribution run --transcript transcript.json --portfolio portfolio.json --out results --format json
  attribution run --transcript transcript.json --portfolio portfolio.json --db runs.db`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&transcriptPath, "transcript", "t", "", "transcript file (JSON array or JSON lines)")
	runCmd.Flags().StringVarP(&portfolioPath, "portfolio", "p", "", "portfolio file (JSON array or JSON lines)")
	runCmd.Flags().StringVarP(&outDir, "out", "o", "", "output directory (stdout when empty)")
	runCmd.Flags().StringVarP(&outFormat, "format", "f", "csv", "output format (csv or json)")
	runCmd.MarkFlagRequired("transcript")
	runCmd.MarkFlagRequired("portfolio")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	if outFormat != "csv" && outFormat != "json" {
		return fmt.Errorf("invalid format: must be 'csv' or 'json'")
	}

	events, offers, err := ingest.LoadFiles(transcriptPath, portfolioPath)
	if err != nil {
		return err
	}

	opts := service.Options{}
	if dbPath != "" {
		db, err := database.NewDB(dbPath)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()

		opts.Store = db
		opts.Features = features.NewManagerFromConfig(config.FeaturesConfig{PersistResults: true})
	}

	svc := service.NewService(opts)
	summary, result, err := svc.Run(cmd.Context(), events, offers)
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"run_id":       summary.RunID,
		"events":       summary.Events,
		"transactions": summary.Transactions,
		"attributed":   summary.AttributedToOffer,
		"customers":    summary.Customers,
		"persisted":    dbPath != "",
	}).Info("Attribution run finished")

	if outDir == "" {
		return writeStdout(cmd.OutOrStdout(), outFormat, summary, result)
	}
	return writeDir(outDir, outFormat, result)
}
