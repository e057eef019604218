package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/splitlock/splitlock/internal/experiment"
	"github.com/splitlock/splitlock/internal/store"
)

var resultsCmd = &cobra.Command{
	Use:   "results <name>",
	Short: "Show detailed results for an experiment",
	Long:  `Show per-variant assignments, conversions, rates and confidence intervals.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runResults,
}

func init() {
	rootCmd.AddCommand(resultsCmd)
}

func runResults(cmd *cobra.Command, args []string) error {
	name := args[0]

	return withStore(func(s *store.SQLiteStore) error {
		ctx := context.Background()
		engine := experiment.NewEngine(s, nil)

		results, err := engine.Results(ctx, name)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("experiment '%s' not found", name)
			}
			return fmt.Errorf("failed to get results: %w", err)
		}

		exp := results.Experiment

		fmt.Printf("EXPERIMENT: %s\n", exp.Name)
		fmt.Printf("STATUS: %s\n", exp.Status)
		if exp.Description != "" {
			fmt.Printf("DESCRIPTION: %s\n", exp.Description)
		}
		if exp.StartDate != nil {
			fmt.Printf("STARTED: %s\n", exp.StartDate.Format("2006-01-02"))
		}
		fmt.Println()

		fmt.Println("VARIANT           ASSIGNED  CONVERSIONS  RATE     VALUE     95% CI")
		fmt.Println(strings.Repeat("─", 72))

		for i, v := range results.Variants {
			indicator := ""
			if i == results.LeadingVariant && len(results.Variants) > 1 {
				indicator = " ← LEADING"
			}

			ciStr := fmt.Sprintf("[%.1f%%, %.1f%%]", v.CILower*100, v.CIUpper*100)
			if v.Assignments == 0 {
				ciStr = "N/A"
			}

			fmt.Printf("%-16s  %-8d  %-11d  %-7s  %-8.2f  %s%s\n",
				truncate(v.Name, 16),
				v.Assignments,
				v.Conversions,
				formatPercent(v.ConversionRate),
				v.TotalValue,
				ciStr,
				indicator,
			)
		}

		fmt.Println()

		if len(results.Variants) > 1 {
			leadingName := results.Variants[results.LeadingVariant].Name
			confPct := results.ConfidenceLevel * 100

			if results.Confident {
				fmt.Printf("Statistical significance: %.1f%% confident \"%s\" is the winner\n", confPct, leadingName)
			} else if confPct >= 90 {
				fmt.Printf("Statistical significance: %.1f%% confident \"%s\" leads (not yet significant)\n", confPct, leadingName)
			} else {
				fmt.Println("Statistical significance: Not enough data to determine a winner")
			}
		}

		return nil
	})
}
