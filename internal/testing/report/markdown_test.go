package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethpandaops/tortillas/internal/testing/result"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func row(name string, nameWidth int, status string, statusWidth int) string {
	return "| " + name + strings.Repeat(" ", nameWidth-len(name)-2) +
		"| " + status + strings.Repeat(" ", statusWidth-len(status)-2) + "|\n"
}

func delimiter(widths ...int) string {
	out := "|"
	for _, w := range widths {
		out += " " + strings.Repeat("-", w-3) + " |"
	}

	return out + "\n"
}

func TestSummary_TableAndErrors(t *testing.T) {
	t.Parallel()

	verdicts := []*result.Verdict{
		{Test: "test_b", Status: result.StatusSuccess},
		{
			Test:    "test_a",
			Status:  result.StatusFailed,
			Errors:  []string{"Unexpected exit code 7", "=== Begin of backtrace\nframe 1\n"},
			LogPath: "/tmp/sweb/tortillas/test_a.log",
		},
		{Test: "test_off", Status: result.StatusDisabled},
		{Test: "test_c", Status: result.StatusPanic, Errors: []string{"```\nKERNEL PANIC\n```\n"}},
	}

	expected := row("Test run", 40, "Result", 20) +
		delimiter(40, 20) +
		row("test_off", 40, "DISABLED", 20) +
		row("test_a", 40, "FAILED", 20) +
		row("test_c", 40, "PANIC", 20) +
		row("test_b", 40, "SUCCESS", 20) +
		"\n\n## Errors\n\n" +
		"### test_a - /tmp/sweb/tortillas/test_a.log\n\n" +
		"- Unexpected exit code 7\n" +
		"```\n=== Begin of backtrace\nframe 1\n```\n" +
		"\n" +
		"### test_c\n\n" +
		"```\nKERNEL PANIC\n```\n" +
		"\n"

	assert.Equal(t, expected, Summary(verdicts))
}

func TestSummary_AllPassedHasNoErrors(t *testing.T) {
	t.Parallel()

	out := Summary([]*result.Verdict{
		{Test: "test_a", Status: result.StatusSuccess},
		{Test: "test_off", Status: result.StatusDisabled},
	})

	assert.NotContains(t, out, "## Errors")
	assert.Equal(t, 4, strings.Count(out, "\n"))
}

func TestSummary_WidensLongNames(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 50) + " Run 10"
	out := Summary([]*result.Verdict{{Test: long, Status: result.StatusTimeout}})

	lines := strings.Split(out, "\n")
	require.GreaterOrEqual(t, len(lines), 3)

	assert.Equal(t, len(lines[0]), len(lines[1]))
	assert.Equal(t, len(lines[0]), len(lines[2]))
	assert.Contains(t, lines[2], "| "+long+" |")
}

func TestErrorEntry(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in       string
		expected string
	}{
		{"plain", "- plain\n"},
		{"with newline\n", "- with newline\n"},
		{"double\n\n", "- double\n"},
		{"=== Begin of backtrace\nmain\n", "```\n=== Begin of backtrace\nmain\n```\n"},
		{"```\nfenced\n```\n", "```\nfenced\n```\n"},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, errorEntry(tt.in), "entry %q", tt.in)
	}
}

func TestWriteSummary(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tortillas_summary.md")
	verdicts := []*result.Verdict{{Test: "test_a", Status: result.StatusSuccess}}

	require.NoError(t, WriteSummary(path, verdicts))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, Summary(verdicts), string(data))
}
