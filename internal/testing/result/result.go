// Package result defines the verdict produced for every test run.
package result

import (
	"time"
)

// Status is the final outcome of a test run.
type Status int

const (
	// StatusSuccess means the run passed every check.
	StatusSuccess Status = iota
	// StatusFailed means a check or a FAILED rule rejected the run.
	StatusFailed
	// StatusPanic means the kernel panicked.
	StatusPanic
	// StatusTimeout means the run did not complete in time.
	StatusTimeout
	// StatusError means the harness could not produce a verdict for the run.
	StatusError
	// StatusDisabled means the test is disabled and was never started.
	StatusDisabled
)

var statusNames = map[Status]string{
	StatusSuccess:  "SUCCESS",
	StatusFailed:   "FAILED",
	StatusPanic:    "PANIC",
	StatusTimeout:  "TIMEOUT",
	StatusError:    "ERROR",
	StatusDisabled: "DISABLED",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}

	return "UNKNOWN"
}

// Statuses lists every status in display order.
func Statuses() []Status {
	return []Status{StatusSuccess, StatusFailed, StatusPanic, StatusTimeout, StatusError, StatusDisabled}
}

// Verdict is the immutable result of one test's attempt sequence.
type Verdict struct {
	Test      string
	Category  string
	Status    Status
	Errors    []string
	ExitCodes []int
	Duration  time.Duration
	Retries   int
	LogPath   string
}

// Passed reports whether the verdict counts as a pass for the run's exit status.
func (v *Verdict) Passed() bool {
	return v.Status == StatusSuccess || v.Status == StatusDisabled
}

// AllPassed reports whether every non-disabled verdict is SUCCESS.
func AllPassed(verdicts []*Verdict) bool {
	for _, v := range verdicts {
		if !v.Passed() {
			return false
		}
	}

	return true
}
