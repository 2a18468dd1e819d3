package actions

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ethpandaops/tortillas/internal/config"
	"github.com/ethpandaops/tortillas/internal/testing"
	"github.com/ethpandaops/tortillas/internal/testing/classifier"
	"github.com/ethpandaops/tortillas/internal/testing/machine"
	"github.com/ethpandaops/tortillas/internal/testing/metrics"
	"github.com/ethpandaops/tortillas/internal/testing/output"
	"github.com/ethpandaops/tortillas/internal/testing/report"
	"github.com/ethpandaops/tortillas/internal/testing/result"
	"github.com/ethpandaops/tortillas/internal/testing/table"
	"github.com/ethpandaops/tortillas/internal/testing/testdef"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNoTests is returned when discovery and filtering leave nothing to run.
	ErrNoTests = errors.New("no tests were found")
	// ErrTestsFailed is returned when at least one test did not pass.
	ErrTestsFailed = errors.New("some tests failed")
)

// RunOptions selects and configures a test run.
type RunOptions struct {
	SwebPath   string
	ConfigPath string
	BuildDir   string
	Arch       string

	Glob       string
	Categories []string
	Tags       []string
	// Tests restricts the run to these spec names when non-empty.
	Tests  []string
	Repeat int

	SkipSetup bool
	SkipBuild bool

	Progress    bool
	SummaryFile string
	MetricsFile string

	// Builder and Launcher default to cmake and QEMU.
	Builder  Builder
	Launcher machine.Launcher
}

// Selection is the outcome of discovery and filtering.
type Selection struct {
	Runs     []*testdef.TestRun
	Disabled []*testdef.Spec
}

// SelectTests discovers the tests of a SWEB tree and applies the filters of
// opts.
func SelectTests(log logrus.FieldLogger, opts *RunOptions) (*Selection, error) {
	specs, err := testdef.NewLoader(log, opts.SwebPath).Discover(opts.Glob)
	if err != nil {
		return nil, err
	}

	specs = testdef.Filter(specs, opts.Categories, opts.Tags)

	if len(opts.Tests) > 0 {
		specs = byName(specs, opts.Tests)
	}

	runs, disabled := testdef.ExpandRuns(specs, opts.Repeat)
	if len(runs) == 0 && len(disabled) == 0 {
		return nil, ErrNoTests
	}

	return &Selection{Runs: runs, Disabled: disabled}, nil
}

func byName(specs []*testdef.Spec, names []string) []*testdef.Spec {
	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[name] = true
	}

	filtered := make([]*testdef.Spec, 0, len(names))

	for _, spec := range specs {
		if wanted[spec.Name] {
			filtered = append(filtered, spec)
		}
	}

	return filtered
}

// RunTests builds SWEB, runs the selected tests and writes the run outputs.
// It returns ErrTestsFailed when any non-disabled test did not succeed.
func RunTests(ctx context.Context, log logrus.FieldLogger, w io.Writer, opts *RunOptions) error {
	runID := uuid.NewString()
	log = log.WithField("run_id", runID)

	cfg, err := config.Load(config.ResolvePath(opts.ConfigPath, opts.SwebPath))
	if err != nil {
		return err
	}

	rules, err := classifier.Compile(cfg.Analyze)
	if err != nil {
		return err
	}

	selection, err := SelectTests(log, opts)
	if err != nil {
		return err
	}

	collector := metrics.NewCollector(log, runID)
	if err := collector.Start(ctx); err != nil {
		return fmt.Errorf("starting metrics collector: %w", err)
	}

	defer func() {
		if err := collector.Stop(); err != nil {
			log.WithError(err).Warn("failed to stop metrics collector")
		}
	}()

	formatter := newFormatter(log, w, opts.Progress, collector)

	formatter.PrintPhase("Registered tests")

	for _, run := range selection.Runs {
		fmt.Fprintf(w, "- %s\n", run.Name())
	}

	for _, spec := range selection.Disabled {
		fmt.Fprintf(w, "- %s (disabled)\n", spec.Name)
	}

	builder := opts.Builder
	if builder == nil {
		builder = NewBuilder(log)
	}

	if !opts.SkipBuild {
		formatter.PrintPhase("Building SWEB")
	}

	buildStart := time.Now()

	if err := builder.Build(ctx, BuildOptions{
		SwebPath:  opts.SwebPath,
		BuildDir:  opts.BuildDir,
		Arch:      opts.Arch,
		SkipSetup: opts.SkipSetup,
		SkipBuild: opts.SkipBuild,
	}); err != nil {
		return err
	}

	if !opts.SkipBuild {
		formatter.PrintProgress("SWEB built", time.Since(buildStart))
	}

	runDir := filepath.Join(opts.BuildDir, config.RunDirName, runID)

	testCfg := testConfigFor(cfg)
	testCfg.LogDir = filepath.Join(runDir, "logs")

	if err := os.MkdirAll(testCfg.LogDir, 0o755); err != nil { //nolint:gosec // G301: run directory is inspected by the operator
		return fmt.Errorf("creating run directory: %w", err)
	}

	launcher := opts.Launcher
	if launcher == nil {
		launcher, err = machine.NewQEMULauncher(log, machine.QEMUConfig{
			Arch:            opts.Arch,
			BaseImage:       filepath.Join(opts.BuildDir, config.BaseImageName),
			RunDir:          runDir,
			SnapshotTag:     config.SnapshotTag,
			KeystrokeDelay:  testCfg.KeystrokeDelay,
			ShutdownTimeout: testCfg.ShutdownTimeout,
		})
		if err != nil {
			return fmt.Errorf("creating machine launcher: %w", err)
		}
	}

	scheduler := testing.NewScheduler(&testing.SchedulerConfig{
		Logger:      log,
		Launcher:    launcher,
		Classifier:  classifier.New(rules),
		TestConfig:  testCfg,
		Signals:     testing.SignalsFor(cfg, opts.Arch),
		Concurrency: cfg.Threads,
		Metrics:     collector,
		OnVerdict:   formatter.PrintVerdict,
	})

	formatter.PrintPhase("Running tests")

	verdicts, runErr := scheduler.Run(ctx, selection.Runs, selection.Disabled)

	formatter.PrintMachineSummary()
	formatter.PrintTestResults(verdicts)
	formatter.PrintSummary()

	if err := writeOutputs(log, opts, collector, verdicts); err != nil {
		return err
	}

	if runErr != nil {
		return fmt.Errorf("running tests: %w", runErr)
	}

	if !result.AllPassed(verdicts) {
		return ErrTestsFailed
	}

	formatter.PrintSuccess("All tests passed")

	return nil
}

func writeOutputs(log logrus.FieldLogger, opts *RunOptions, collector metrics.Collector, verdicts []*result.Verdict) error {
	summaryFile := opts.SummaryFile
	if summaryFile == "" {
		summaryFile = config.SummaryFile
	}

	if err := report.WriteSummary(summaryFile, verdicts); err != nil {
		return err
	}

	log.WithField("file", summaryFile).Info("wrote test summary")

	if opts.MetricsFile == "" {
		return nil
	}

	if err := collector.WriteTextfile(opts.MetricsFile); err != nil {
		return err
	}

	log.WithField("file", opts.MetricsFile).Info("wrote metrics")

	return nil
}

func newFormatter(log logrus.FieldLogger, w io.Writer, progress bool, collector metrics.Collector) output.Formatter {
	renderer := table.NewRenderer(log)

	return output.NewFormatter(
		w,
		progress,
		collector,
		table.NewMachineFormatter(log, renderer),
		table.NewResultsFormatter(log, renderer),
		table.NewSummaryFormatter(log, renderer),
	)
}

// testConfigFor applies the timeouts and retry bound of cfg to the default
// execution parameters.
func testConfigFor(cfg *config.Config) *testing.TestConfig {
	testCfg := testing.DefaultTestConfig()
	testCfg.BootupTimeout = time.Duration(cfg.BootupTimeoutSecs) * time.Second
	testCfg.DefaultTestTimeout = time.Duration(cfg.DefaultTestTimeoutSecs) * time.Second
	testCfg.TimeoutFactor = config.TimeoutFactor()
	testCfg.MaxRetries = cfg.Retries()

	return testCfg
}
