package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/splitlock/splitlock/internal/experiment"
	"github.com/splitlock/splitlock/internal/store"
)

func init() {
	rootCmd.AddCommand(newAssignCmd(), newConvertCmd())
}

func newAssignCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "assign <experiment> <user>",
		Short: "Get or create a user's variant assignment",
		Long: `Return the user's variant for a running experiment, bucketing them on
first call. Repeat calls always return the same variant.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			experimentName, userID := args[0], args[1]

			return withStore(func(s *store.SQLiteStore) error {
				ctx := context.Background()
				engine := experiment.NewEngine(s, nil)

				a, err := engine.GetOrCreateAssignment(ctx, userID, experimentName)
				if err != nil {
					if errors.Is(err, experiment.ErrNotRunning) {
						return fmt.Errorf("experiment '%s' is not running", experimentName)
					}
					if errors.Is(err, store.ErrNotFound) {
						return fmt.Errorf("experiment '%s' not found", experimentName)
					}
					return err
				}

				exp, err := s.GetExperimentByName(ctx, experimentName)
				if err != nil {
					return err
				}

				name := a.VariantID
				for _, v := range exp.Variants {
					if v.ID == a.VariantID {
						name = v.Name
						break
					}
				}

				fmt.Printf("%s -> %s\n", userID, name)
				return nil
			})
		},
	}
}

func newConvertCmd() *cobra.Command {
	var (
		eventType string
		sessionID string
		value     float64
	)

	cmd := &cobra.Command{
		Use:   "convert <experiment> <user>",
		Short: "Record a conversion for a user",
		Long: `Record a conversion, attributed to the user's assigned variant when
one exists. Works regardless of experiment status.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			experimentName, userID := args[0], args[1]

			return withStore(func(s *store.SQLiteStore) error {
				ctx := context.Background()
				engine := experiment.NewEngine(s, nil)

				opts := experiment.ConversionOptions{
					EventType: eventType,
					SessionID: sessionID,
				}
				if cmd.Flags().Changed("value") {
					opts.Value = &value
				}

				conv, err := engine.RecordConversion(ctx, userID, experimentName, opts)
				if err != nil {
					if errors.Is(err, store.ErrNotFound) {
						return fmt.Errorf("experiment '%s' not found", experimentName)
					}
					return err
				}

				if conv.VariantID != nil {
					fmt.Printf("Recorded %s for %s (variant %s)\n", conv.EventType, userID, *conv.VariantID)
				} else {
					fmt.Printf("Recorded %s for %s (unattributed)\n", conv.EventType, userID)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&eventType, "event", "e", "", "event type (default \"conversion\")")
	cmd.Flags().StringVar(&sessionID, "session", "", "session id (default derived from user)")
	cmd.Flags().Float64Var(&value, "value", 0, "numeric value attached to the conversion")

	return cmd
}
