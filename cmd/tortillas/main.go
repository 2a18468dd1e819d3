// Package main is the entry point for the tortillas application
package main

import (
	"github.com/ethpandaops/tortillas/cmd"
)

func main() {
	cmd.Execute()
}
