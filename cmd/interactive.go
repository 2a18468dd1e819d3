package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/ethpandaops/tortillas/internal/actions"
	"github.com/ethpandaops/tortillas/internal/config"
	"github.com/ethpandaops/tortillas/internal/testing/testdef"
	"github.com/ethpandaops/tortillas/pkg/interactive"
	"github.com/spf13/cobra"
)

var interactiveCmd = &cobra.Command{
	Use:   "interactive",
	Short: "Launch interactive mode",
	Long:  `Pick categories, tags and tests from a menu, then run them.`,
	RunE: func(_ *cobra.Command, _ []string) error {
		return runInteractive()
	},
}

func init() {
	addRunFlags(interactiveCmd)

	rootCmd.AddCommand(interactiveCmd)
}

func runInteractive() error {
	fmt.Println("tortillas - Interactive Mode")
	fmt.Println("============================")
	fmt.Println()

	for {
		options := []interactive.MenuOption{
			{
				Name:        "Run tests",
				Description: "Select tests by category, tag or name and run them",
				Action: func() error {
					if err := runSelected(); err != nil && !errors.Is(err, interactive.ErrExit) {
						fmt.Printf("\n❌ Error: %v\n", err)
					}

					interactive.PauseForEnter()

					return nil
				},
			},
			{
				Name:        "Show Config",
				Description: "Display the tortillas configuration",
				Action: func() error {
					if err := actions.ShowConfig(os.Stdout, configPath, swebPath); err != nil {
						fmt.Printf("\n❌ Error: %v\n", err)
					}

					interactive.PauseForEnter()

					return nil
				},
			},
			{
				Name:        "Catalog",
				Description: "Regenerate " + config.CatalogFile,
				Action: func() error {
					opts := actions.CatalogOptions{SwebPath: swebPath, File: config.CatalogFile}
					if err := actions.Catalog(Logger, os.Stdout, opts); err != nil {
						fmt.Printf("\n❌ Error: %v\n", err)
					}

					interactive.PauseForEnter()

					return nil
				},
			},
		}

		if err := interactive.ShowMainMenu(options); err != nil {
			if errors.Is(err, interactive.ErrExit) {
				fmt.Println("Goodbye!")

				return nil
			}

			return err
		}

		fmt.Println()
	}
}

// runSelected narrows the discovered tests step by step and runs the result
// after confirmation.
func runSelected() error {
	specs, err := testdef.NewLoader(Logger, swebPath).Discover(runOpts.Glob)
	if err != nil {
		return err
	}

	categories, err := interactive.SelectMany("Categories (none selects all):", categoriesOf(specs))
	if err != nil {
		return err
	}

	specs = testdef.Filter(specs, categories, nil)

	tags, err := interactive.SelectMany("Tags (none selects all):", tagsOf(specs))
	if err != nil {
		return err
	}

	specs = testdef.Filter(specs, nil, tags)

	names := make([]string, 0, len(specs))
	for _, spec := range specs {
		names = append(names, spec.Name)
	}

	tests, err := interactive.SelectMany("Tests (none selects all):", names)
	if err != nil {
		return err
	}

	if len(tests) == 0 {
		tests = names
	}

	if len(tests) == 0 {
		return actions.ErrNoTests
	}

	if !interactive.Confirm(fmt.Sprintf("Run %d test(s) on %s?", len(tests), runOpts.Arch)) {
		fmt.Println("Run canceled.")

		return nil
	}

	ctx, stop := notifyInterrupt(context.Background(), Logger)
	defer stop()

	opts := runOpts
	opts.SwebPath = swebPath
	opts.ConfigPath = configPath
	opts.Progress = !noProgress
	opts.Categories = nil
	opts.Tags = nil
	opts.Tests = tests

	return actions.RunTests(ctx, Logger, os.Stdout, &opts)
}

func categoriesOf(specs []*testdef.Spec) []string {
	seen := make(map[string]bool)

	var categories []string

	for _, spec := range specs {
		if !seen[spec.Category] {
			seen[spec.Category] = true
			categories = append(categories, spec.Category)
		}
	}

	sort.Strings(categories)

	return categories
}

func tagsOf(specs []*testdef.Spec) []string {
	seen := make(map[string]bool)

	var tags []string

	for _, spec := range specs {
		for _, tag := range spec.Tags {
			if !seen[tag] {
				seen[tag] = true
				tags = append(tags, tag)
			}
		}
	}

	sort.Strings(tags)

	return tags
}
