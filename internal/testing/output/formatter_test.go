package output

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/ethpandaops/tortillas/internal/testing/metrics"
	"github.com/ethpandaops/tortillas/internal/testing/result"
	"github.com/ethpandaops/tortillas/internal/testing/table"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFormatter(t *testing.T, buf *bytes.Buffer, progress bool) (Formatter, metrics.Collector) {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	collector := metrics.NewCollector(log, "output-test")
	renderer := table.NewRenderer(log)

	return NewFormatter(
		buf,
		progress,
		collector,
		table.NewMachineFormatter(log, renderer),
		table.NewResultsFormatter(log, renderer),
		table.NewSummaryFormatter(log, renderer),
	), collector
}

func TestFormatter_PrintVerdict(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	f, _ := newTestFormatter(t, &buf, true)
	f.PrintVerdict(3, 12, &result.Verdict{Test: "test_fork", Status: result.StatusPanic, Duration: 1500 * time.Millisecond})

	out := buf.String()
	assert.Contains(t, out, "[ 3/12] test_fork ")
	assert.Contains(t, out, "PANIC")
	assert.Contains(t, out, "1.5s")
}

func TestFormatter_NoProgress(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	f, _ := newTestFormatter(t, &buf, false)
	f.PrintVerdict(1, 1, &result.Verdict{Test: "quiet", Status: result.StatusSuccess})

	assert.Empty(t, buf.String())
}

func TestFormatter_ConcurrentVerdictLines(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	f, _ := newTestFormatter(t, &buf, true)

	var wg sync.WaitGroup

	for i := 1; i <= 20; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			f.PrintVerdict(i, 20, &result.Verdict{Test: fmt.Sprintf("t%02d", i), Status: result.StatusSuccess})
		}(i)
	}

	wg.Wait()

	lines := bytes.Split(bytes.TrimRight(buf.Bytes(), "\n"), []byte("\n"))
	require.Len(t, lines, 20)

	for _, line := range lines {
		assert.True(t, bytes.HasPrefix(line, []byte("[")))
	}
}

func TestFormatter_Tables(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	f, collector := newTestFormatter(t, &buf, true)

	verdict := &result.Verdict{Test: "test_exec", Category: "exec", Status: result.StatusSuccess, Duration: time.Second}
	collector.RecordVerdict(verdict)
	collector.RecordMachine(metrics.MachineMetric{Machine: "base", Operation: metrics.OperationBoot, Success: true, Duration: time.Second})

	f.PrintMachineSummary()
	f.PrintTestResults([]*result.Verdict{verdict})
	f.PrintSummary()

	out := buf.String()
	assert.Contains(t, out, "Machines")
	assert.Contains(t, out, "test_exec")
	assert.Contains(t, out, "Summary")
	assert.Contains(t, out, "Total Tests")
}
