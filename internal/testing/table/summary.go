package table

import (
	"fmt"

	"github.com/ethpandaops/tortillas/internal/testing/format"
	"github.com/ethpandaops/tortillas/internal/testing/metrics"
	"github.com/ethpandaops/tortillas/internal/testing/result"
	"github.com/sirupsen/logrus"
)

// SummaryFormatter formats aggregate run statistics as a table.
type SummaryFormatter interface {
	Format(summary metrics.SummaryMetric) string
}

type summaryFormatter struct {
	log      logrus.FieldLogger
	renderer Renderer
	colors   *ColorHelper
}

// NewSummaryFormatter creates a new summary table formatter.
func NewSummaryFormatter(log logrus.FieldLogger, renderer Renderer) SummaryFormatter {
	return &summaryFormatter{
		log:      log.WithField("component", "summary_formatter"),
		renderer: renderer,
		colors:   NewColorHelper(),
	}
}

func (f *summaryFormatter) Format(summary metrics.SummaryMetric) string {
	executed := summary.TotalTests - summary.DisabledTests
	passRate := format.Percent(summary.PassedTests, executed)

	passedValue := fmt.Sprintf("%d (%s)", summary.PassedTests, f.colors.FormatPercentage(passRate))
	if summary.PassedTests == executed {
		passedValue = f.colors.Success(fmt.Sprintf("%d (%.1f%%)", summary.PassedTests, passRate))
	}

	rows := [][]string{
		{"Total Tests", f.colors.Bold(fmt.Sprintf("%d", summary.TotalTests))},
		{"Passed", passedValue},
		{"Failed", f.colors.FormatCount(summary.FailedTests)},
	}

	for _, status := range result.Statuses() {
		if status == result.StatusSuccess {
			continue
		}

		if n := summary.ByStatus[status]; n > 0 {
			rows = append(rows, []string{"  " + status.String(), fmt.Sprintf("%d", n)})
		}
	}

	rows = append(rows,
		[]string{"Retries", fmt.Sprintf("%d", summary.Retries)},
		[]string{"Machine Restores", fmt.Sprintf("%d", summary.Restores)},
		[]string{"Base Boot", format.Duration(summary.BootDuration)},
		[]string{"Test Time", format.Duration(summary.TestDuration)},
		[]string{"Total Duration", format.Duration(summary.TotalDuration)},
	)

	return "\n" + f.colors.Header("▸ Summary") + "\n\n" + f.renderer.Render([]string{"Metric", "Value"}, rows)
}

// Compile-time interface compliance check
var _ SummaryFormatter = (*summaryFormatter)(nil)
