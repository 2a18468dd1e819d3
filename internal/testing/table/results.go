// Package table provides table formatting for test verdicts and run metrics.
package table

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethpandaops/tortillas/internal/testing/format"
	"github.com/ethpandaops/tortillas/internal/testing/result"
	"github.com/sirupsen/logrus"
)

const detailWidth = 60

// ResultsFormatter formats verdicts as a table followed by the errors of every
// failed test.
type ResultsFormatter interface {
	Format(verdicts []*result.Verdict) string
}

type resultsFormatter struct {
	log      logrus.FieldLogger
	renderer Renderer
	colors   *ColorHelper
}

// NewResultsFormatter creates a new results table formatter.
func NewResultsFormatter(log logrus.FieldLogger, renderer Renderer) ResultsFormatter {
	return &resultsFormatter{
		log:      log.WithField("component", "results_formatter"),
		renderer: renderer,
		colors:   NewColorHelper(),
	}
}

func (f *resultsFormatter) Format(verdicts []*result.Verdict) string {
	if len(verdicts) == 0 {
		return "No tests executed"
	}

	var (
		headers = []string{"Test", "Category", "Status", "Retries", "Duration", "Details"}
		rows    = make([][]string, 0, len(verdicts))
		failed  = make([]*result.Verdict, 0)
		retried int
		elapsed time.Duration
	)

	for _, v := range verdicts {
		var details string

		retried += v.Retries
		elapsed += v.Duration

		if !v.Passed() {
			failed = append(failed, v)

			if len(v.Errors) > 0 {
				details = f.colors.Muted(format.Truncate(format.FirstLine(v.Errors[0]), detailWidth))
			}
		}

		retries := "-"
		if v.Retries > 0 {
			retries = f.colors.Warning(fmt.Sprintf("%d", v.Retries))
		}

		rows = append(rows, []string{
			v.Test,
			v.Category,
			f.colors.FormatStatus(v.Status),
			retries,
			format.Duration(v.Duration),
			details,
		})
	}

	passed := len(verdicts) - len(failed)
	table := f.renderer.Render(headers, rows,
		WithNumericColumns(3, 4),
		WithTotals(
			fmt.Sprintf("%d tests", len(verdicts)),
			"",
			fmt.Sprintf("%d passed", passed),
			fmt.Sprintf("%d", retried),
			format.Duration(elapsed),
		),
	)

	output := "\n" + f.colors.Header("▸ Test Results") + "\n\n" + table

	if len(failed) > 0 {
		output += f.formatFailureDetails(failed)
	}

	return output
}

// formatFailureDetails lists every error entry of the failed verdicts
func (f *resultsFormatter) formatFailureDetails(failed []*result.Verdict) string {
	var builder strings.Builder

	builder.WriteString("\n" + f.colors.Header("▸ Failed Test Details") + "\n")

	for _, v := range failed {
		fmt.Fprintf(&builder, "\n%s %s (%s)\n", f.colors.FormatStatus(v.Status), f.colors.Bold(v.Test), format.Duration(v.Duration))

		if len(v.Errors) == 0 {
			fmt.Fprintf(&builder, "  %s: no details available\n", f.colors.Failure("Error"))
		}

		for _, entry := range v.Errors {
			for _, line := range strings.Split(strings.TrimRight(entry, "\n"), "\n") {
				fmt.Fprintf(&builder, "  %s\n", line)
			}
		}

		if v.LogPath != "" {
			fmt.Fprintf(&builder, "  %s: %s\n", f.colors.Muted("Log"), v.LogPath)
		}
	}

	return builder.String()
}

// Compile-time interface compliance check
var _ ResultsFormatter = (*resultsFormatter)(nil)
