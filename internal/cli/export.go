package cli

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/splitlock/splitlock/internal/store"
)

func init() {
	rootCmd.AddCommand(newExportCmd())
}

func newExportCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "export <name>",
		Short: "Export an experiment's conversions as CSV",
		Long: `Export every conversion row for an experiment as CSV for offline
analysis. Writes to stdout unless --out is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]

			return withStore(func(s *store.SQLiteStore) error {
				ctx := context.Background()

				exp, err := s.GetExperimentByName(ctx, name)
				if err != nil {
					if errors.Is(err, store.ErrNotFound) {
						return fmt.Errorf("experiment '%s' not found", name)
					}
					return fmt.Errorf("failed to get experiment: %w", err)
				}

				conversions, err := s.ListConversions(ctx, exp.ID)
				if err != nil {
					return fmt.Errorf("failed to list conversions: %w", err)
				}

				w := os.Stdout
				if out != "" {
					f, err := os.Create(out)
					if err != nil {
						return fmt.Errorf("failed to create output file: %w", err)
					}
					defer f.Close()
					w = f
				}

				cw := csv.NewWriter(w)
				if err := cw.Write([]string{"id", "user_id", "session_id", "variant_id", "event_type", "value", "created_at"}); err != nil {
					return err
				}

				// Variant names read better than ids in a spreadsheet.
				variantNames := make(map[string]string, len(exp.Variants))
				for _, v := range exp.Variants {
					variantNames[v.ID] = v.Name
				}

				for _, c := range conversions {
					variant := ""
					if c.VariantID != nil {
						variant = variantNames[*c.VariantID]
						if variant == "" {
							variant = *c.VariantID
						}
					}
					value := ""
					if c.Value != nil {
						value = strconv.FormatFloat(*c.Value, 'f', -1, 64)
					}

					record := []string{
						c.ID,
						c.UserID,
						c.SessionID,
						variant,
						c.EventType,
						value,
						c.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
					}
					if err := cw.Write(record); err != nil {
						return err
					}
				}

				cw.Flush()
				if err := cw.Error(); err != nil {
					return fmt.Errorf("failed to write csv: %w", err)
				}

				if out != "" {
					fmt.Fprintf(os.Stderr, "Exported %d conversions to %s\n", len(conversions), out)
				}

				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")

	return cmd
}
