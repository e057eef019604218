package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/splitlock/splitlock/internal/store"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all experiments",
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	return withStore(func(s *store.SQLiteStore) error {
		ctx := context.Background()

		experiments, err := s.ListExperiments(ctx)
		if err != nil {
			return fmt.Errorf("failed to list experiments: %w", err)
		}

		if len(experiments) == 0 {
			fmt.Println("No experiments yet. Create one with: splitlock create <name> --variants \"A,B\"")
			return nil
		}

		fmt.Println("NAME                  STATUS      VARIANTS  CREATED")
		for _, exp := range experiments {
			fmt.Printf("%-20s  %-10s  %-8d  %s\n",
				truncate(exp.Name, 20),
				exp.Status,
				len(exp.Variants),
				exp.CreatedAt.Format("2006-01-02"),
			)
		}

		return nil
	})
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
