package cmd

import (
	"fmt"
	"os"

	"github.com/ethpandaops/tortillas/internal/actions"
	"github.com/spf13/cobra"
)

var showConfigCmd = &cobra.Command{
	Use:   "show-config",
	Short: "Display the tortillas configuration",
	Long:  `Shows the tortillas config of the SWEB tree after applying TORTILLAS_* environment overrides.`,
	RunE: func(_ *cobra.Command, _ []string) error {
		if err := actions.ShowConfig(os.Stdout, configPath, swebPath); err != nil {
			return fmt.Errorf("failed to show config: %w", err)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(showConfigCmd)
}
