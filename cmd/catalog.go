package cmd

import (
	"os"

	"github.com/ethpandaops/tortillas/internal/actions"
	"github.com/ethpandaops/tortillas/internal/config"
	"github.com/spf13/cobra"
)

var catalogOpts actions.CatalogOptions

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Generate the markdown catalog of all tests",
	Long: `Reads the header of every userspace test of the SWEB tree and writes a markdown
catalog grouped by category.

Tests without a category or description are listed with defaults, but make the
command fail so they get documented.

Example:
  tortillas catalog --file salsa_summary.md
  tortillas catalog --check`,
	RunE: func(_ *cobra.Command, _ []string) error {
		opts := catalogOpts
		opts.SwebPath = swebPath

		return actions.Catalog(Logger, os.Stdout, opts)
	},
}

func init() {
	catalogCmd.Flags().StringVarP(&catalogOpts.File, "file", "f", config.CatalogFile, "Catalog file to write")
	catalogCmd.Flags().BoolVar(&catalogOpts.Check, "check", false, "Fail with a diff instead of writing when the catalog is out of date")

	rootCmd.AddCommand(catalogCmd)
}
