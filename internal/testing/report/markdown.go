// Package report renders the markdown run summary and the test catalog.
package report

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/ethpandaops/tortillas/internal/testing/result"
)

const backtraceMarker = "=== Begin of backtrace"

// summaryWidths are the minimum column widths of the summary table.
var summaryWidths = []int{40, 20}

// Summary renders the markdown summary of a run: a table of every test with
// its status, followed by the errors of failed tests.
func Summary(verdicts []*result.Verdict) string {
	var (
		disabled []*result.Verdict
		ran      []*result.Verdict
	)

	for _, v := range verdicts {
		if v.Status == result.StatusDisabled {
			disabled = append(disabled, v)

			continue
		}

		ran = append(ran, v)
	}

	sort.SliceStable(ran, func(i, j int) bool {
		return ran[i].Status.String() < ran[j].Status.String()
	})

	ordered := append(disabled, ran...)

	rows := make([][]string, 0, len(ordered)+1)
	rows = append(rows, []string{"Test run", "Result"})

	for _, v := range ordered {
		rows = append(rows, []string{v.Test, v.Status.String()})
	}

	widths := columnWidths(rows, summaryWidths)

	var b strings.Builder

	b.WriteString(tableRow(rows[0], widths))
	b.WriteString(tableDelimiter(widths))

	for _, row := range rows[1:] {
		b.WriteString(tableRow(row, widths))
	}

	if result.AllPassed(verdicts) {
		return b.String()
	}

	b.WriteString("\n\n## Errors\n\n")

	for _, v := range ran {
		if v.Passed() {
			continue
		}

		if v.LogPath != "" {
			fmt.Fprintf(&b, "### %s - %s\n\n", v.Test, v.LogPath)
		} else {
			fmt.Fprintf(&b, "### %s\n\n", v.Test)
		}

		for _, entry := range v.Errors {
			b.WriteString(errorEntry(entry))
		}

		b.WriteString("\n")
	}

	return b.String()
}

// WriteSummary renders the summary into path.
func WriteSummary(path string, verdicts []*result.Verdict) error {
	if err := os.WriteFile(path, []byte(Summary(verdicts)), 0o644); err != nil { //nolint:gosec // G306: report is read by the operator
		return fmt.Errorf("writing summary %s: %w", path, err)
	}

	return nil
}

// errorEntry formats one error as a list item. Backtraces and entries that
// already are code blocks are emitted fenced.
func errorEntry(entry string) string {
	if entry == "" {
		return ""
	}

	if !strings.HasSuffix(entry, "\n") && !strings.HasSuffix(entry, "\r") {
		entry += "\n"
	}

	if strings.HasSuffix(entry, "\n\n") {
		entry = entry[:len(entry)-1]
	}

	switch {
	case strings.HasPrefix(entry, "```"):
		return entry
	case strings.Contains(entry, backtraceMarker):
		return "```\n" + entry + "```\n"
	default:
		return "- " + entry
	}
}

// columnWidths widens the minimum widths so every cell fits with its padding.
func columnWidths(rows [][]string, minimum []int) []int {
	widths := make([]int, len(minimum))
	copy(widths, minimum)

	for _, row := range rows {
		for i, cell := range row {
			if need := len(cell) + 3; need > widths[i] {
				widths[i] = need
			}
		}
	}

	return widths
}

func tableRow(cells []string, widths []int) string {
	var b strings.Builder

	b.WriteString("|")

	for i, cell := range cells {
		fmt.Fprintf(&b, " %s%s|", cell, strings.Repeat(" ", widths[i]-len(cell)-2))
	}

	b.WriteString("\n")

	return b.String()
}

func tableDelimiter(widths []int) string {
	var b strings.Builder

	b.WriteString("|")

	for _, w := range widths {
		fmt.Fprintf(&b, " %s |", strings.Repeat("-", w-3))
	}

	b.WriteString("\n")

	return b.String()
}
