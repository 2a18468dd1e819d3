package testdef

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ethpandaops/tortillas/internal/config"
)

// TestRun is one scheduled execution of a spec.
type TestRun struct {
	Spec *Spec
	// Number is the 1-based repetition, or 0 when the spec runs once.
	Number int
}

// Name identifies the run, e.g. "test_pthread Run 2".
func (r *TestRun) Name() string {
	if r.Number == 0 {
		return r.Spec.Name
	}

	return fmt.Sprintf("%s Run %d", r.Spec.Name, r.Number)
}

// Slug is the run name usable as a file name.
func (r *TestRun) Slug() string {
	return strings.ToLower(strings.ReplaceAll(r.Name(), " ", "-"))
}

// Invocation is the shell input that starts the test inside the guest.
func (r *TestRun) Invocation() string {
	return r.Spec.Name + config.InvocationSuffix + "\n"
}

// Timeout is the spec timeout, or fallback when the spec sets none.
func (r *TestRun) Timeout(fallback time.Duration) time.Duration {
	if r.Spec.TimeoutSecs <= 0 {
		return fallback
	}

	return time.Duration(r.Spec.TimeoutSecs) * time.Second
}

// ExpandRuns creates repeat runs per enabled spec and returns them together
// with the disabled specs. Runs are ordered by timeout so quick tests finish
// first, then by name.
func ExpandRuns(specs []*Spec, repeat int) (runs []*TestRun, disabled []*Spec) {
	if repeat < 1 {
		repeat = 1
	}

	for _, spec := range specs {
		if spec.Disabled {
			disabled = append(disabled, spec)

			continue
		}

		if repeat == 1 {
			runs = append(runs, &TestRun{Spec: spec})

			continue
		}

		for i := 1; i <= repeat; i++ {
			runs = append(runs, &TestRun{Spec: spec, Number: i})
		}
	}

	sort.SliceStable(runs, func(i, j int) bool {
		if runs[i].Spec.TimeoutSecs != runs[j].Spec.TimeoutSecs {
			return runs[i].Spec.TimeoutSecs < runs[j].Spec.TimeoutSecs
		}

		return runs[i].Name() < runs[j].Name()
	})

	return runs, disabled
}
