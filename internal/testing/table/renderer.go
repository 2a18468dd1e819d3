package table

import (
	"bytes"

	"github.com/olekukonko/tablewriter"
	"github.com/sirupsen/logrus"
)

// Renderer draws verdict and metric tables for the terminal.
type Renderer interface {
	Render(headers []string, rows [][]string, opts ...Option) string
}

type renderer struct {
	log logrus.FieldLogger
}

// NewRenderer creates a new table renderer
func NewRenderer(log logrus.FieldLogger) Renderer {
	return &renderer{
		log: log.WithField("component", "table_renderer"),
	}
}

// layout collects the per-table settings applied on top of the house style.
type layout struct {
	alignments []int
	totals     []string
}

// Option adjusts the layout of a single table.
type Option func(l *layout, columns int)

// WithNumericColumns right-aligns the given column indexes, e.g. durations and
// retry counts.
func WithNumericColumns(indexes ...int) Option {
	return func(l *layout, columns int) {
		if l.alignments == nil {
			l.alignments = make([]int, columns)
			for i := range l.alignments {
				l.alignments[i] = tablewriter.ALIGN_LEFT
			}
		}

		for _, i := range indexes {
			if i >= 0 && i < columns {
				l.alignments[i] = tablewriter.ALIGN_RIGHT
			}
		}
	}
}

// WithTotals appends a totals row below the table. Missing cells are left
// blank.
func WithTotals(cells ...string) Option {
	return func(l *layout, columns int) {
		l.totals = make([]string, columns)
		copy(l.totals, cells)
	}
}

func (r *renderer) Render(headers []string, rows [][]string, opts ...Option) string {
	var l layout
	for _, opt := range opts {
		opt(&l, len(headers))
	}

	buf := &bytes.Buffer{}

	table := tablewriter.NewWriter(buf)
	table.SetHeader(headers)

	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("│")
	table.SetRowSeparator("─")
	table.SetHeaderLine(true)
	table.SetBorder(true)
	table.SetTablePadding(" ")

	if l.alignments != nil {
		table.SetColumnAlignment(l.alignments)
	}

	if l.totals != nil {
		table.SetFooter(l.totals)
		table.SetFooterAlignment(tablewriter.ALIGN_LEFT)
	}

	table.AppendBulk(rows)
	table.Render()

	r.log.WithFields(logrus.Fields{
		"rows":   len(rows),
		"totals": l.totals != nil,
	}).Debug("rendered table")

	return buf.String()
}

// Compile-time interface compliance check
var _ Renderer = (*renderer)(nil)
