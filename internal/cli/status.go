package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/splitlock/splitlock/internal/experiment"
	"github.com/splitlock/splitlock/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status <name> <draft|running|paused|completed>",
	Short: "Update an experiment's status",
	Long: `Update an experiment's status. Transitioning into running stamps the
start date. Only running experiments accept new assignments; conversions
are recorded regardless of status.`,
	Args: cobra.ExactArgs(2),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	name := args[0]
	status := store.ExperimentStatus(args[1])

	return withStore(func(s *store.SQLiteStore) error {
		ctx := context.Background()

		exp, err := s.GetExperimentByName(ctx, name)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("experiment '%s' not found", name)
			}
			return fmt.Errorf("failed to get experiment: %w", err)
		}

		engine := experiment.NewEngine(s, nil)
		updated, err := engine.UpdateStatus(ctx, exp.ID, status)
		if err != nil {
			return fmt.Errorf("failed to update status: %w", err)
		}

		fmt.Printf("Experiment '%s' is now %s\n", updated.Name, updated.Status)
		if updated.Status == store.StatusRunning && updated.StartDate != nil {
			fmt.Printf("Started at %s\n", updated.StartDate.Format("2006-01-02 15:04:05"))
		}

		return nil
	})
}
