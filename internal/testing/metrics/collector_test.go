package metrics

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethpandaops/tortillas/internal/testing/result"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCollector(t *testing.T) Collector {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	c := NewCollector(log, "test-run")
	require.NoError(t, c.Start(context.Background()))

	t.Cleanup(func() {
		require.NoError(t, c.Stop())
	})

	return c
}

func TestCollector_ConcurrentVerdicts(t *testing.T) {
	t.Parallel()

	c := newTestCollector(t)

	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			status := result.StatusSuccess
			if i%5 == 0 {
				status = result.StatusFailed
			}

			c.RecordVerdict(&result.Verdict{
				Test:     fmt.Sprintf("test_%02d", i),
				Category: "misc",
				Status:   status,
				Duration: time.Second,
			})
		}(i)
	}

	wg.Wait()

	summary := c.Summary()
	assert.Equal(t, 50, summary.TotalTests)
	assert.Equal(t, 40, summary.PassedTests)
	assert.Equal(t, 10, summary.FailedTests)
	assert.Equal(t, 10, summary.ByStatus[result.StatusFailed])
	assert.Equal(t, 50*time.Second, summary.TestDuration)
	assert.Len(t, c.Verdicts(), 50)
}

func TestCollector_VerdictsAreCopies(t *testing.T) {
	t.Parallel()

	c := newTestCollector(t)

	original := &result.Verdict{Test: "a", Status: result.StatusSuccess}
	c.RecordVerdict(original)
	original.Status = result.StatusPanic

	verdicts := c.Verdicts()
	require.Len(t, verdicts, 1)
	assert.Equal(t, result.StatusSuccess, verdicts[0].Status)

	verdicts[0].Status = result.StatusError
	assert.Equal(t, result.StatusSuccess, c.Verdicts()[0].Status)
}

func TestCollector_SummaryCountsMachinesAndRetries(t *testing.T) {
	t.Parallel()

	c := newTestCollector(t)

	c.RecordMachine(MachineMetric{Machine: "base", Operation: OperationBoot, Duration: 3 * time.Second, Success: true})
	c.RecordMachine(MachineMetric{Machine: "base", Operation: OperationSnapshot, Duration: time.Second, Success: true})
	c.RecordMachine(MachineMetric{Machine: "worker-0", Operation: OperationRestore, Duration: time.Second, Success: true})
	c.RecordMachine(MachineMetric{Machine: "worker-1", Operation: OperationRestore, Duration: time.Second, Success: false})
	c.RecordRetry("flaky")
	c.RecordVerdict(&result.Verdict{Test: "off", Status: result.StatusDisabled})

	summary := c.Summary()
	assert.Equal(t, 3*time.Second, summary.BootDuration)
	assert.Equal(t, 2, summary.Restores)
	assert.Equal(t, 1, summary.Retries)
	assert.Equal(t, 1, summary.DisabledTests)
	assert.Zero(t, summary.PassedTests)
	assert.Len(t, c.MachineMetrics(), 4)
}

func TestCollector_WriteTextfile(t *testing.T) {
	t.Parallel()

	c := newTestCollector(t)

	c.RecordVerdict(&result.Verdict{Test: "t", Category: "fork", Status: result.StatusTimeout, Duration: 2 * time.Second})
	c.RecordRetry("t")
	c.RecordMachine(MachineMetric{Operation: OperationBoot, Duration: time.Second, Success: true})

	path := filepath.Join(t.TempDir(), "tortillas.prom")
	require.NoError(t, c.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	text := string(data)
	assert.Contains(t, text, `tortillas_tests_total{category="fork",run_id="test-run",status="TIMEOUT"} 1`)
	assert.Contains(t, text, `tortillas_test_retries_total{run_id="test-run"} 1`)
	assert.Contains(t, text, `tortillas_machine_operations_total{operation="boot",run_id="test-run",success="true"} 1`)
	assert.Contains(t, text, "tortillas_test_duration_seconds_bucket")
}

func TestCollector_WriteTextfileBadPath(t *testing.T) {
	t.Parallel()

	c := newTestCollector(t)

	err := c.WriteTextfile(filepath.Join(t.TempDir(), "missing", "dir", "out.prom"))
	require.Error(t, err)
}
