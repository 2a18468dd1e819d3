// Package metrics collects verdicts and machine timings of a test run and
// exposes them as Prometheus metrics.
package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/ethpandaops/tortillas/internal/testing/result"
	"github.com/sirupsen/logrus"
)

// Collector accumulates run results. All methods are safe for concurrent use.
type Collector interface {
	Start(ctx context.Context) error
	Stop() error
	RecordVerdict(verdict *result.Verdict)
	RecordRetry(test string)
	RecordMachine(metric MachineMetric)
	Verdicts() []*result.Verdict
	MachineMetrics() []MachineMetric
	Summary() SummaryMetric
	WriteTextfile(path string) error
}

// collector implements Collector interface
type collector struct {
	log      logrus.FieldLogger
	prom     *promMetrics
	mu       sync.RWMutex
	verdicts []*result.Verdict
	machines []MachineMetric
	retries  int

	startTime time.Time
}

// NewCollector creates a new metrics collector. runID labels every series.
func NewCollector(log logrus.FieldLogger, runID string) Collector {
	return &collector{
		log:      log.WithField("component", "metrics_collector"),
		prom:     newPromMetrics(runID),
		verdicts: make([]*result.Verdict, 0, 64),
		machines: make([]MachineMetric, 0, 16),
	}
}

func (c *collector) Start(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startTime = time.Now()

	c.log.Debug("metrics collector started")

	return nil
}

func (c *collector) Stop() error {
	c.log.Debug("metrics collector stopped")

	return nil
}

func (c *collector) RecordVerdict(verdict *result.Verdict) {
	v := *verdict

	c.mu.Lock()
	c.verdicts = append(c.verdicts, &v)
	c.mu.Unlock()

	c.prom.observeVerdict(&v)
}

func (c *collector) RecordRetry(test string) {
	c.mu.Lock()
	c.retries++
	c.mu.Unlock()

	c.prom.retries.Inc()
	c.log.WithField("test", test).Debug("retry recorded")
}

func (c *collector) RecordMachine(metric MachineMetric) {
	c.mu.Lock()
	c.machines = append(c.machines, metric)
	c.mu.Unlock()

	c.prom.observeMachine(metric)
}

func (c *collector) Verdicts() []*result.Verdict {
	c.mu.RLock()
	defer c.mu.RUnlock()

	verdicts := make([]*result.Verdict, len(c.verdicts))
	for i, v := range c.verdicts {
		clone := *v
		verdicts[i] = &clone
	}

	return verdicts
}

func (c *collector) MachineMetrics() []MachineMetric {
	c.mu.RLock()
	defer c.mu.RUnlock()

	metrics := make([]MachineMetric, len(c.machines))
	copy(metrics, c.machines)

	return metrics
}

func (c *collector) Summary() SummaryMetric {
	c.mu.RLock()
	defer c.mu.RUnlock()

	summary := SummaryMetric{
		TotalTests: len(c.verdicts),
		ByStatus:   make(map[result.Status]int, len(result.Statuses())),
		Retries:    c.retries,
	}

	if !c.startTime.IsZero() {
		summary.TotalDuration = time.Since(c.startTime)
	}

	for _, v := range c.verdicts {
		summary.ByStatus[v.Status]++
		summary.TestDuration += v.Duration

		switch {
		case v.Status == result.StatusDisabled:
			summary.DisabledTests++
		case v.Passed():
			summary.PassedTests++
		default:
			summary.FailedTests++
		}
	}

	for _, m := range c.machines {
		switch m.Operation {
		case OperationBoot:
			summary.BootDuration += m.Duration
		case OperationRestore:
			summary.Restores++
		case OperationSnapshot:
		}
	}

	return summary
}

func (c *collector) WriteTextfile(path string) error {
	return c.prom.writeTextfile(path)
}

// Compile-time interface compliance check
var _ Collector = (*collector)(nil)
