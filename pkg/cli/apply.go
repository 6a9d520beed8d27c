package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Recipe is a YAML-described sequence of commands applied to one table.
type Recipe struct {
	Table string       `yaml:"table"`
	Steps []RecipeStep `yaml:"steps"`
}

// RecipeStep is one command of a recipe.
type RecipeStep struct {
	Type   string         `yaml:"type"`
	Label  string         `yaml:"label,omitempty"`
	Params map[string]any `yaml:"params,omitempty"`
}

// LoadRecipe reads and validates a recipe file.
func LoadRecipe(path string) (*Recipe, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		return nil, fmt.Errorf("read recipe: %w", err)
	}
	var r Recipe
	if err := yaml.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("parse recipe: %w", err)
	}
	if r.Table == "" {
		return nil, fmt.Errorf("recipe has no table")
	}
	if len(r.Steps) == 0 {
		return nil, fmt.Errorf("recipe has no steps")
	}
	for i, s := range r.Steps {
		if s.Type == "" {
			return nil, fmt.Errorf("step %d has no type", i+1)
		}
	}
	return &r, nil
}

func newApplyCmd(opts *rootOptions) *cobra.Command {
	var undoOnFailure bool
	cmd := &cobra.Command{
		Use:   "apply <recipe.yaml>",
		Short: "Apply a YAML recipe of commands to a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recipe, err := LoadRecipe(args[0])
			if err != nil {
				return err
			}
			client := opts.client()

			for i, step := range recipe.Steps {
				params := step.Params
				if params == nil {
					params = map[string]any{}
				}
				res, err := client.ExecuteCommand(cmd.Context(), recipe.Table, step.Type, step.Label, params)
				if err != nil {
					if undoOnFailure {
						for j := i - 1; j >= 0; j-- {
							if _, uerr := client.Undo(cmd.Context(), recipe.Table); uerr != nil {
								return fmt.Errorf("step %d (%s) failed: %w (rollback stopped at step %d: %v)",
									i+1, step.Type, err, j+1, uerr)
							}
						}
						return fmt.Errorf("step %d (%s) failed, earlier steps undone: %w", i+1, step.Type, err)
					}
					return fmt.Errorf("step %d (%s) failed: %w", i+1, step.Type, err)
				}
				if opts.output != "json" {
					fmt.Fprintf(cmd.OutOrStdout(), "step %d/%d OK: %s (command %s)\n",
						i+1, len(recipe.Steps), step.Type, res.CommandID)
				}
			}
			if opts.output == "json" {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"table": recipe.Table,
					"steps": len(recipe.Steps),
				})
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&undoOnFailure, "undo-on-failure", false, "Undo completed steps when a later step fails")
	return cmd
}
