package metrics

import (
	"fmt"
	"strconv"

	"github.com/ethpandaops/tortillas/internal/testing/result"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tortillas"

// promMetrics holds the series of one run on a private registry, so several
// runs in one process never collide.
type promMetrics struct {
	registry *prometheus.Registry

	tests            *prometheus.CounterVec
	testDuration     *prometheus.HistogramVec
	retries          prometheus.Counter
	machineOps       *prometheus.CounterVec
	machineDurations *prometheus.HistogramVec
}

func newPromMetrics(runID string) *promMetrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(prometheus.WrapRegistererWith(prometheus.Labels{"run_id": runID}, registry))

	return &promMetrics{
		registry: registry,
		tests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tests_total",
			Help:      "Count of test verdicts by status",
		}, []string{"status", "category"}),
		testDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "test_duration_seconds",
			Help:      "Wall-clock duration of tests",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
		}, []string{"status"}),
		retries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "test_retries_total",
			Help:      "Count of discarded test attempts",
		}),
		machineOps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "machine_operations_total",
			Help:      "Count of machine lifecycle operations",
		}, []string{"operation", "success"}),
		machineDurations: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "machine_operation_duration_seconds",
			Help:      "Duration of machine lifecycle operations",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"operation"}),
	}
}

func (p *promMetrics) observeVerdict(v *result.Verdict) {
	status := v.Status.String()

	p.tests.WithLabelValues(status, v.Category).Inc()

	if v.Status != result.StatusDisabled {
		p.testDuration.WithLabelValues(status).Observe(v.Duration.Seconds())
	}
}

func (p *promMetrics) observeMachine(m MachineMetric) {
	p.machineOps.WithLabelValues(string(m.Operation), strconv.FormatBool(m.Success)).Inc()
	p.machineDurations.WithLabelValues(string(m.Operation)).Observe(m.Duration.Seconds())
}

// writeTextfile writes every series in the node exporter textfile format.
func (p *promMetrics) writeTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, p.registry); err != nil {
		return fmt.Errorf("writing metrics textfile %s: %w", path, err)
	}

	return nil
}
