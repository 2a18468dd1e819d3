package metrics

import (
	"time"

	"github.com/ethpandaops/tortillas/internal/testing/result"
)

// SummaryMetric provides aggregate statistics across a run
type SummaryMetric struct {
	TotalDuration time.Duration
	TestDuration  time.Duration // sum over all tests
	BootDuration  time.Duration
	TotalTests    int
	PassedTests   int
	FailedTests   int
	DisabledTests int
	Retries       int
	Restores      int
	ByStatus      map[result.Status]int
}
