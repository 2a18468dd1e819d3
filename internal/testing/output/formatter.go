// Package output prints run progress and result tables to the console.
package output

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ethpandaops/tortillas/internal/testing/format"
	"github.com/ethpandaops/tortillas/internal/testing/metrics"
	"github.com/ethpandaops/tortillas/internal/testing/result"
	"github.com/ethpandaops/tortillas/internal/testing/table"
	"github.com/fatih/color"
)

// Formatter provides clean, human-friendly output
type Formatter interface {
	PrintPhase(phase string)
	PrintProgress(message string, duration time.Duration)
	PrintSuccess(message string)
	PrintError(message string, err error)
	// PrintVerdict prints one progress line per finished test. It is safe
	// for concurrent use.
	PrintVerdict(done, total int, verdict *result.Verdict)
	PrintMachineSummary()
	PrintTestResults(verdicts []*result.Verdict)
	PrintSummary()
}

type formatter struct {
	writer   io.Writer
	progress bool
	mu       sync.Mutex

	metrics          metrics.Collector
	machineFormatter table.MachineFormatter
	resultsFormatter table.ResultsFormatter
	summaryFormatter table.SummaryFormatter

	green  *color.Color
	red    *color.Color
	yellow *color.Color
	blue   *color.Color
	gray   *color.Color
}

// NewFormatter creates a new output formatter. With progress disabled,
// PrintVerdict prints nothing.
func NewFormatter(
	writer io.Writer,
	progress bool,
	metricsCollector metrics.Collector,
	machineFormatter table.MachineFormatter,
	resultsFormatter table.ResultsFormatter,
	summaryFormatter table.SummaryFormatter,
) Formatter {
	return &formatter{
		writer:           writer,
		progress:         progress,
		metrics:          metricsCollector,
		machineFormatter: machineFormatter,
		resultsFormatter: resultsFormatter,
		summaryFormatter: summaryFormatter,
		green:            color.New(color.FgGreen),
		red:              color.New(color.FgRed),
		yellow:           color.New(color.FgYellow),
		blue:             color.New(color.FgBlue),
		gray:             color.New(color.FgHiBlack),
	}
}

// PrintPhase prints phase separator
func (f *formatter) PrintPhase(phase string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.blue.Fprintf(f.writer, "\n▸ %s\n", phase)
}

// PrintProgress prints a message with optional timing
func (f *formatter) PrintProgress(message string, duration time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if duration > 0 {
		f.gray.Fprintf(f.writer, "%s (%s)\n", message, format.Duration(duration))

		return
	}

	fmt.Fprintf(f.writer, "%s\n", message)
}

// PrintSuccess prints a green message
func (f *formatter) PrintSuccess(message string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.green.Fprintf(f.writer, "%s\n", message)
}

// PrintError prints a red message with error details
func (f *formatter) PrintError(message string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.red.Fprintf(f.writer, "%s", message)

	if err != nil {
		f.red.Fprintf(f.writer, ": %v", err)
	}

	fmt.Fprintf(f.writer, "\n")
}

func (f *formatter) PrintVerdict(done, total int, verdict *result.Verdict) {
	if !f.progress {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	c := f.red

	switch verdict.Status {
	case result.StatusSuccess:
		c = f.green
	case result.StatusDisabled:
		c = f.gray
	case result.StatusTimeout:
		c = f.yellow
	}

	width := len(fmt.Sprintf("%d", total))

	fmt.Fprintf(f.writer, "[%*d/%d] %s ", width, done, total, verdict.Test)
	c.Fprint(f.writer, verdict.Status.String())
	f.gray.Fprintf(f.writer, " %s\n", format.Duration(verdict.Duration))
}

// PrintMachineSummary prints a table of machine boot, snapshot and restore timings
func (f *formatter) PrintMachineSummary() {
	output := f.machineFormatter.Format(f.metrics.MachineMetrics())

	f.mu.Lock()
	defer f.mu.Unlock()

	fmt.Fprintln(f.writer, output)
}

// PrintTestResults prints a table of test results
func (f *formatter) PrintTestResults(verdicts []*result.Verdict) {
	output := f.resultsFormatter.Format(verdicts)

	f.mu.Lock()
	defer f.mu.Unlock()

	fmt.Fprintln(f.writer, output)
}

// PrintSummary prints a summary table with aggregate statistics
func (f *formatter) PrintSummary() {
	output := f.summaryFormatter.Format(f.metrics.Summary())

	f.mu.Lock()
	defer f.mu.Unlock()

	fmt.Fprintln(f.writer, output)
}
