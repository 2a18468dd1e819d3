package table

import (
	"github.com/ethpandaops/tortillas/internal/testing/format"
	"github.com/ethpandaops/tortillas/internal/testing/metrics"
	"github.com/sirupsen/logrus"
)

// MachineFormatter formats machine lifecycle timings as a table
type MachineFormatter interface {
	Format(machineMetrics []metrics.MachineMetric) string
}

type machineFormatter struct {
	log      logrus.FieldLogger
	renderer Renderer
	colors   *ColorHelper
}

// NewMachineFormatter creates a new machine table formatter
func NewMachineFormatter(log logrus.FieldLogger, renderer Renderer) MachineFormatter {
	return &machineFormatter{
		log:      log.WithField("component", "machine_formatter"),
		renderer: renderer,
		colors:   NewColorHelper(),
	}
}

func (f *machineFormatter) Format(machineMetrics []metrics.MachineMetric) string {
	if len(machineMetrics) == 0 {
		return "No machines started"
	}

	headers := []string{"Machine", "Operation", "Result", "Duration"}
	rows := make([][]string, 0, len(machineMetrics))

	for _, metric := range machineMetrics {
		outcome := f.colors.Success("ok")
		if !metric.Success {
			outcome = f.colors.Failure("failed")
		}

		rows = append(rows, []string{
			metric.Machine,
			string(metric.Operation),
			outcome,
			format.Duration(metric.Duration),
		})
	}

	return "\n" + f.colors.Header("▸ Machines") + "\n\n" + f.renderer.Render(headers, rows, WithNumericColumns(3))
}

// Compile-time interface compliance check
var _ MachineFormatter = (*machineFormatter)(nil)
