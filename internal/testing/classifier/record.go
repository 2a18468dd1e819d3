package classifier

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/ethpandaops/tortillas/internal/config"
)

// ExpectPrefix marks a guest line announcing output the test expects to see.
const ExpectPrefix = "TORTILLAS EXPECT: "

var errUnknownMode = errors.New("unknown analyze mode")

// Record accumulates the classified events of one test attempt. It is owned by
// a single runner and is not safe for concurrent use.
type Record struct {
	rules []Rule

	entries        []string
	joins          map[string][]string
	lasts          map[string]string
	exitCodes      []int
	exitCodeErrors []string
	stdout         []string

	retry          bool
	override       config.StatusOverride
	exitOverride   config.StatusOverride
	stdoutOverride config.StatusOverride
}

// NewRecord creates an empty record for the given rules.
func NewRecord(rules []Rule) *Record {
	return &Record{
		rules: rules,
		joins: make(map[string][]string),
		lasts: make(map[string]string),
	}
}

// Apply folds one event into the record.
func (r *Record) Apply(ev Event) error {
	switch ev.Mode {
	case config.ModeAddAsError:
		r.entries = append(r.entries, ev.Capture)
		r.raise(ev.SetStatus)
	case config.ModeAddAsErrorJoin:
		r.joins[ev.Rule] = append(r.joins[ev.Rule], ev.Capture)
		r.raise(ev.SetStatus)
	case config.ModeAddAsErrorLast:
		r.lasts[ev.Rule] = ev.Capture
		r.raise(ev.SetStatus)
	case config.ModeRetry:
		r.retry = true
		r.raise(ev.SetStatus)
	case config.ModeExitCodes:
		code, err := strconv.Atoi(strings.TrimSpace(ev.Capture))
		if err != nil {
			r.exitCodeErrors = append(r.exitCodeErrors, "Failed to parse exit code "+ev.Capture)
			r.retry = true

			return nil
		}

		r.exitCodes = append(r.exitCodes, code)
		r.exitOverride = higher(r.exitOverride, ev.SetStatus)
	case config.ModeExpectStdout:
		r.stdout = append(r.stdout, ev.Capture)
		r.stdoutOverride = higher(r.stdoutOverride, ev.SetStatus)
	default:
		return fmt.Errorf("%w: %q", errUnknownMode, ev.Mode)
	}

	return nil
}

// Retry reports whether a retry was requested.
func (r *Record) Retry() bool {
	return r.retry
}

// Override returns the strongest unconditional status override seen so far.
func (r *Record) Override() config.StatusOverride {
	return r.override
}

// ExitCodes returns the observed exit codes in arrival order.
func (r *Record) ExitCodes() []int {
	return slices.Clone(r.exitCodes)
}

func (r *Record) raise(status config.StatusOverride) {
	r.override = higher(r.override, status)
}

func higher(a, b config.StatusOverride) config.StatusOverride {
	if b.Rank() > a.Rank() {
		return b
	}

	return a
}

// Findings is the finalized view of a record.
type Findings struct {
	Errors           []string
	ExitCodes        []int
	Override         config.StatusOverride
	ExitCodeMismatch bool
	StdoutMismatch   bool
	Retry            bool
}

// FinalizeOptions selects which completion checks run.
type FinalizeOptions struct {
	ExpectedExitCodes []int
	CheckExitCodes    bool
	CheckStdout       bool
}

// Finalize flushes join and last buffers in rule order and runs the exit code
// and expected-output checks. Check-driven overrides only apply on mismatch.
func (r *Record) Finalize(opts FinalizeOptions) Findings {
	findings := Findings{
		ExitCodes: slices.Clone(r.exitCodes),
		Override:  r.override,
		Retry:     r.retry,
	}

	findings.Errors = append(findings.Errors, r.entries...)
	findings.Errors = append(findings.Errors, r.exitCodeErrors...)

	for i := range r.rules {
		rule := &r.rules[i]

		switch rule.Mode {
		case config.ModeAddAsErrorJoin:
			if captures := r.joins[rule.Name]; len(captures) > 0 {
				findings.Errors = append(findings.Errors, "```\n"+strings.Join(captures, "")+"```\n")
			}
		case config.ModeAddAsErrorLast:
			if last, ok := r.lasts[rule.Name]; ok {
				findings.Errors = append(findings.Errors, last)
			}
		}
	}

	if opts.CheckExitCodes && len(r.exitCodeErrors) == 0 {
		if ok, errs := CheckExitCodes(r.exitCodes, opts.ExpectedExitCodes); !ok {
			findings.ExitCodeMismatch = true
			findings.Errors = append(findings.Errors, errs...)
			findings.Override = higher(findings.Override, r.exitOverride)
		}
	}

	if opts.CheckStdout {
		if ok, errs := CheckExpectedOutput(r.stdout); !ok {
			findings.StdoutMismatch = true
			findings.Errors = append(findings.Errors, errs...)
			findings.Override = higher(findings.Override, r.stdoutOverride)
		}
	}

	return findings
}

// CheckExitCodes compares observed and expected exit codes as sets.
func CheckExitCodes(observed, expected []int) (bool, []string) {
	if len(observed) == 0 {
		return false, []string{"Missing exit code!"}
	}

	var (
		errs        []string
		mismatch    bool
		observedSet = make(map[int]bool, len(observed))
		expectedSet = make(map[int]bool, len(expected))
	)

	for _, code := range expected {
		expectedSet[code] = true
	}

	for _, code := range observed {
		observedSet[code] = true

		if !expectedSet[code] {
			errs = append(errs, fmt.Sprintf("Unexpected exit code %d", code))
			mismatch = true
		}
	}

	for _, code := range expected {
		if !observedSet[code] {
			errs = append(errs, fmt.Sprintf("Missing exit code %d", code))
			mismatch = true
		}
	}

	if !mismatch {
		return true, nil
	}

	codes := make([]string, 0, len(expected))
	for _, code := range expected {
		codes = append(codes, strconv.Itoa(code))
	}

	errs = append(errs, "Expected exit code(s): "+strings.Join(codes, ", "))

	return false, errs
}

// CheckExpectedOutput verifies that every expect marker in captured guest
// output appears in at least one non-marker line. Multi-line captures are
// checked line by line.
func CheckExpectedOutput(captures []string) (bool, []string) {
	var (
		markers []string
		stdout  []string
	)

	for _, capture := range captures {
		for _, line := range strings.SplitAfter(capture, "\n") {
			if line == "" {
				continue
			}

			trimmed := strings.TrimLeft(line, " \t")
			if strings.HasPrefix(trimmed, ExpectPrefix) {
				markers = append(markers, strings.TrimSpace(strings.TrimPrefix(trimmed, ExpectPrefix)))

				continue
			}

			stdout = append(stdout, line)
		}
	}

	var errs []string

	for _, marker := range markers {
		found := false

		for _, line := range stdout {
			if strings.Contains(line, marker) {
				found = true

				break
			}
		}

		if !found {
			errs = append(errs, "Expected output: "+marker)
		}
	}

	if len(errs) == 0 {
		return true, nil
	}

	errs = append(errs, "Actual output:\n```\n"+strings.Join(stdout, "")+"\n```")

	return false, errs
}
