package cli

import (
	"os"

	"github.com/spf13/cobra"

	"offer-attribution/internal/config"
	"offer-attribution/internal/logging"
)

var (
	dbPath    string
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "attribution",
	Short: "Offer attribution - batch analytics over customer event logs",
	Long: `Offer attribution joins a customer event transcript with the offer
portfolio, counts completed offers per customer and offer type, and tags
every purchase with the offer type that influenced it.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Setup(config.LoggingConfig{Level: logLevel, Format: logFormat})
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", getEnvOrDefault("ATTRIBUTION_DB_PATH", ""), "database path (results are only persisted when set)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", getEnvOrDefault("LOG_LEVEL", "info"), "log level")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", getEnvOrDefault("LOG_FORMAT", "text"), "log format (text or json)")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
