// Package actions contains the operations behind the tortillas commands
package actions

import (
	"fmt"
	"io"

	"github.com/ethpandaops/tortillas/internal/config"
)

// ShowConfig loads the tortillas config of a SWEB tree and prints it
func ShowConfig(w io.Writer, configPath, swebPath string) error {
	path := config.ResolvePath(configPath, swebPath)

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fmt.Fprintf(w, "Config file:               %s\n", path)
	fmt.Fprintf(w, "Timeout factor:            %.2f\n\n", config.TimeoutFactor())
	fmt.Fprintln(w, cfg.String())

	return nil
}
