// Package cmd contains CLI command definitions
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ethpandaops/tortillas/internal/actions"
	"github.com/ethpandaops/tortillas/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const (
	exitFailure     = 1
	exitInterrupted = 130 // 128 + SIGINT(2)
)

var (
	// Logger is the shared logger instance for all commands
	Logger *logrus.Logger

	envFile    string
	verbose    bool
	swebPath   string
	configPath string

	runOpts = actions.RunOptions{
		BuildDir:    config.DefaultBuildDir,
		SummaryFile: config.SummaryFile,
	}
	noProgress bool

	rootCmd = &cobra.Command{
		Use:   "tortillas",
		Short: "tortillas - SWEB userspace test system",
		Long: `tortillas builds SWEB, boots it once in QEMU, snapshots the booted machine
and runs every userspace test on machines restored from that snapshot.

Run without a subcommand to execute the tests of the SWEB tree.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setup,
		RunE:              runTests,
	}
)

// Execute runs the root command and exits with the run's status
func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}

	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "test run interrupted")
		os.Exit(exitInterrupted)
	}

	fmt.Fprintln(os.Stderr, err)
	os.Exit(exitFailure)
}

func init() {
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}

	rootCmd.PersistentFlags().StringVar(&envFile, "env", "", "Env file with TORTILLAS_* overrides (default .env)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Verbose output")
	rootCmd.PersistentFlags().StringVarP(&swebPath, "sweb-path", "S", wd, "Path to the SWEB source tree")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config-path", "C", "",
		"Path to the tortillas config, "+config.SwebPathPlaceholder+" expands to the SWEB path (default <sweb-path>/"+config.DefaultConfigFile+")")

	addRunFlags(rootCmd)
}

// addRunFlags registers the flags that control building and running tests.
func addRunFlags(cmd *cobra.Command) {
	flags := cmd.Flags()

	flags.StringVar(&runOpts.Arch, "arch", config.ArchX8664, "Architecture to build and emulate (x86_64, x86_32)")
	flags.StringVarP(&runOpts.Glob, "test-glob", "g", "", "Run tests whose file name starts with this prefix, e.g. test_pthread")
	flags.StringSliceVarP(&runOpts.Categories, "category", "c", nil, "Only run tests of these categories")
	flags.StringSliceVarP(&runOpts.Tags, "tag", "t", nil, "Only run tests carrying any of these tags")
	flags.IntVarP(&runOpts.Repeat, "repeat", "r", 1, "Run every selected test this many times")
	flags.BoolVarP(&runOpts.SkipSetup, "skip-setup", "a", false, "Skip configuring the build tree for the architecture")
	flags.BoolVarP(&runOpts.SkipBuild, "skip-build", "s", false, "Skip building SWEB")
	flags.BoolVar(&noProgress, "no-progress", false, "Do not print a line per finished test")
	flags.StringVar(&runOpts.BuildDir, "build-dir", config.DefaultBuildDir, "SWEB build directory")
	flags.StringVar(&runOpts.SummaryFile, "summary-file", config.SummaryFile, "Markdown summary written after the run")
	flags.StringVar(&runOpts.MetricsFile, "metrics-file", "", "Write prometheus metrics of the run to this textfile")
}

// setup loads the env file and initializes the shared logger
func setup(_ *cobra.Command, _ []string) error {
	if err := config.LoadEnv(envFile); err != nil {
		return err
	}

	Logger = newLogger(verbose)

	return nil
}

func runTests(_ *cobra.Command, _ []string) error {
	if runOpts.Arch != config.ArchX8664 && runOpts.Arch != config.ArchX8632 {
		return fmt.Errorf("unsupported architecture %q", runOpts.Arch)
	}

	ctx, stop := notifyInterrupt(context.Background(), Logger)
	defer stop()

	opts := runOpts
	opts.SwebPath = swebPath
	opts.ConfigPath = configPath
	opts.Progress = !noProgress

	Logger.Info("Starting tortillas test system")

	return actions.RunTests(ctx, Logger, os.Stdout, &opts)
}
