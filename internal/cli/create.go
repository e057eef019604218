package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/splitlock/splitlock/internal/experiment"
	"github.com/splitlock/splitlock/internal/store"
)

func init() {
	rootCmd.AddCommand(newCreateCmd())
}

func newCreateCmd() *cobra.Command {
	var (
		variants    string
		description string
		expType     string
	)

	cmd := &cobra.Command{
		Use:   "create [name]",
		Short: "Create a new experiment",
		Long: `Create a new experiment with the specified name and variants.
Weights are normalized so they sum to 1; omit them for an equal split.
The experiment starts in draft; use 'splitlock status <name> running' to open
it for assignments.

Run without arguments for an interactive wizard.

Examples:
  splitlock create checkout-cta --variants "control=0.5,bold=0.5"
  splitlock create hero --variants "A,B,C"
  splitlock create pricing --variants "monthly=0.7,annual=0.3" --description "Pricing page test"`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var name string
			var specs []experiment.VariantSpec
			var err error

			if len(args) == 0 && variants == "" {
				name, specs, err = promptExperiment()
				if err != nil {
					return err
				}
			} else {
				if len(args) == 0 {
					return fmt.Errorf("experiment name is required. Example: splitlock create hero --variants \"A,B\"")
				}
				name = args[0]

				specs, err = parseVariantSpecs(variants)
				if err != nil {
					return err
				}
				if len(specs) < 2 {
					return fmt.Errorf("need at least 2 variants. Example: --variants \"A=0.5,B=0.5\"")
				}
			}

			return withStore(func(s *store.SQLiteStore) error {
				ctx := context.Background()
				engine := experiment.NewEngine(s, nil)

				exp, err := engine.CreateExperiment(ctx, name, specs, experiment.CreateOptions{
					Description: description,
					Type:        expType,
				})
				if err != nil {
					return fmt.Errorf("failed to create experiment: %w", err)
				}

				fmt.Printf("Created experiment '%s' (%s) with %d variants:\n", exp.Name, exp.Status, len(exp.Variants))
				for _, v := range exp.Variants {
					fmt.Printf("  %-16s weight %.4f\n", v.Name, v.Weight)
				}
				fmt.Printf("\nStart it with: splitlock status %s running\n", exp.Name)

				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&variants, "variants", "v", "", "comma-separated variants, optional =weight per variant")
	cmd.Flags().StringVarP(&description, "description", "d", "", "experiment description (optional)")
	cmd.Flags().StringVarP(&expType, "type", "t", "", "experiment type label (optional)")

	return cmd
}

func promptExperiment() (string, []experiment.VariantSpec, error) {
	namePrompt := promptui.Prompt{
		Label: "Experiment name",
		Validate: func(input string) error {
			if strings.TrimSpace(input) == "" {
				return fmt.Errorf("name is required")
			}
			return nil
		},
	}
	name, err := namePrompt.Run()
	if err != nil {
		if err == promptui.ErrInterrupt {
			os.Exit(0)
		}
		return "", nil, err
	}

	countPrompt := promptui.Prompt{
		Label:   "Number of variants",
		Default: "2",
		Validate: func(input string) error {
			n, err := strconv.Atoi(input)
			if err != nil || n < 2 {
				return fmt.Errorf("need a number >= 2")
			}
			return nil
		},
	}
	countStr, err := countPrompt.Run()
	if err != nil {
		if err == promptui.ErrInterrupt {
			os.Exit(0)
		}
		return "", nil, err
	}
	count, _ := strconv.Atoi(countStr)

	specs := make([]experiment.VariantSpec, 0, count)
	for i := 0; i < count; i++ {
		variantPrompt := promptui.Prompt{
			Label: fmt.Sprintf("Variant %d (name or name=weight)", i+1),
			Validate: func(input string) error {
				if strings.TrimSpace(input) == "" {
					return fmt.Errorf("variant is required")
				}
				return nil
			},
		}
		raw, err := variantPrompt.Run()
		if err != nil {
			if err == promptui.ErrInterrupt {
				os.Exit(0)
			}
			return "", nil, err
		}

		parsed, err := parseVariantSpecs(raw)
		if err != nil || len(parsed) != 1 {
			return "", nil, fmt.Errorf("invalid variant %q", raw)
		}
		specs = append(specs, parsed[0])
	}

	return strings.TrimSpace(name), specs, nil
}
