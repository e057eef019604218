package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/splitlock/splitlock/internal/config"
)

var (
	cfg      config.Config
	dbPath   string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "splitlock",
	Short: "Splitlock - exactly-once side effects and persistent A/B bucketing",
	Long: `Splitlock is the correctness core for a customization/commerce platform:
an idempotency ledger that guards non-idempotent side effects against
duplicate execution, and a deterministic experiment engine that buckets
users into weighted variants and keeps them there.

Single Go binary, embedded SQLite, no external dependencies.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	rootCmd.PersistentFlags().StringVar(&dbPath, "db", cfg.DBPath, "database path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
}
