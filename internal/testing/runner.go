package testing

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ethpandaops/tortillas/internal/config"
	"github.com/ethpandaops/tortillas/internal/testing/classifier"
	"github.com/ethpandaops/tortillas/internal/testing/interrupt"
	"github.com/ethpandaops/tortillas/internal/testing/machine"
	"github.com/ethpandaops/tortillas/internal/testing/result"
	"github.com/ethpandaops/tortillas/internal/testing/testdef"
	"github.com/sirupsen/logrus"
)

const (
	errExecutionTimeout = "Test execution timeout"
	errQuiescence       = "Test killed, because no more interrupts were coming"
)

// State is a step of the per-test state machine.
type State int

const (
	StateIdle State = iota
	StateBooted
	StateRunning
	StateAwaitingCompletion
	StateCompleted
	StatePanicked
	StateTimedOut
	StateCrashed
	StateVerdicted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBooted:
		return "booted"
	case StateRunning:
		return "running"
	case StateAwaitingCompletion:
		return "awaiting_completion"
	case StateCompleted:
		return "completed"
	case StatePanicked:
		return "panicked"
	case StateTimedOut:
		return "timed_out"
	case StateCrashed:
		return "crashed"
	case StateVerdicted:
		return "verdicted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Attempt is the outcome of running a test once.
type Attempt struct {
	// Verdict is nil when the attempt asked for a retry.
	Verdict *result.Verdict
	Retry   bool
	// Recycle means the machine must be restored before the next test.
	Recycle bool
	// Errors holds the findings of a discarded attempt for logging.
	Errors []string
}

// Runner drives one test at a time through the state machine on a session.
// A Runner holds no per-test state and may be shared by workers.
type Runner struct {
	log        logrus.FieldLogger
	cfg        *TestConfig
	classifier *classifier.Classifier
}

// NewRunner creates a test runner.
func NewRunner(log logrus.FieldLogger, cfg *TestConfig, c *classifier.Classifier) *Runner {
	if cfg == nil {
		cfg = DefaultTestConfig()
	}

	return &Runner{
		log:        log.WithField("component", "test_runner"),
		cfg:        cfg,
		classifier: c,
	}
}

// attempt is the mutable context of one test execution.
type attempt struct {
	log     logrus.FieldLogger
	run     *testdef.TestRun
	sess    *session
	record  *classifier.Record
	state   State
	started time.Time
	crash   error
}

func (a *attempt) transition(to State) {
	a.log.WithFields(logrus.Fields{
		"from": a.state,
		"to":   to,
	}).Debug("state transition")

	a.state = to
}

// Run executes run once on sess. The returned error is non-nil only when ctx
// ends; every test failure is reported through the attempt.
func (r *Runner) Run(ctx context.Context, sess *session, run *testdef.TestRun, log logrus.FieldLogger) (*Attempt, error) {
	a := &attempt{
		log:     log,
		run:     run,
		sess:    sess,
		record:  classifier.NewRecord(r.classifier.Rules()),
		state:   StateIdle,
		started: time.Now(),
	}

	if !machine.Alive(sess.machine) {
		a.crash = sess.machine.Err()
		a.transition(StateCrashed)

		return r.finish(a), nil
	}

	a.transition(StateBooted)

	if err := sess.reset(); err != nil {
		a.crash = err
		a.transition(StateCrashed)

		return r.finish(a), nil
	}

	a.transition(StateRunning)

	if err := sess.machine.SendGuestInput(ctx, run.Invocation()); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		a.crash = err
		a.transition(StateCrashed)

		return r.finish(a), nil
	}

	a.transition(StateAwaitingCompletion)

	timeout := r.cfg.Scale(run.Timeout(r.cfg.DefaultTestTimeout))

	outcome, err := sess.monitor.AwaitCompletion(ctx, timeout, interrupt.OnPoll(func() bool {
		r.consume(a)

		return a.record.Retry() ||
			a.record.Override() == config.OverridePanic ||
			!machine.Alive(sess.machine)
	}))
	if err != nil {
		return nil, err
	}

	switch outcome {
	case interrupt.OutcomeCompleted:
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.cfg.SettleDelay):
		}

		a.transition(StateCompleted)
	case interrupt.OutcomePanicDetected:
		a.transition(StatePanicked)
	case interrupt.OutcomeTimeout:
		a.transition(StateTimedOut)
	case interrupt.OutcomeStopped:
		switch {
		case a.record.Override() == config.OverridePanic:
			a.transition(StatePanicked)
		case a.record.Retry():
			a.transition(StateCompleted)
		default:
			a.crash = sess.machine.Err()
			a.transition(StateCrashed)
		}
	}

	r.consume(a)
	r.apply(a, sess.debug.flush())

	return r.finish(a), nil
}

// consume classifies every debug message available right now.
func (r *Runner) consume(a *attempt) {
	messages, err := a.sess.debug.pump()
	if err != nil {
		a.log.WithError(err).Warn("failed to read debug log")
	}

	r.apply(a, messages)
}

func (r *Runner) apply(a *attempt, messages []classifier.Message) {
	for _, msg := range messages {
		for _, ev := range r.classifier.Classify(msg.Text, msg.Scope) {
			if err := a.record.Apply(ev); err != nil {
				a.log.WithError(err).WithField("rule", ev.Rule).Warn("failed to apply event")
			}
		}
	}
}

// finish turns the terminal state and the record into a verdict.
func (r *Runner) finish(a *attempt) *Attempt {
	spec := a.run.Spec
	terminal := a.state
	completed := terminal == StateCompleted

	findings := a.record.Finalize(classifier.FinalizeOptions{
		ExpectedExitCodes: spec.ExitCodes(),
		CheckExitCodes:    completed && r.classifier.HasMode(config.ModeExitCodes),
		CheckStdout:       completed && r.classifier.HasMode(config.ModeExpectStdout),
	})

	logPath := r.writeLog(a)

	if findings.Retry {
		a.log.WithField("errors", len(findings.Errors)).Info("retry requested")

		return &Attempt{Retry: true, Recycle: true, Errors: findings.Errors}
	}

	status := DeriveStatus(a.state, findings, spec.ExpectTimeout)

	var errs []string

	switch {
	case terminal == StateTimedOut && !spec.ExpectTimeout:
		errs = append(errs, errExecutionTimeout)
	case terminal == StatePanicked && findings.Override != config.OverridePanic:
		errs = append(errs, errQuiescence)
	case terminal == StateCrashed:
		errs = append(errs, fmt.Sprintf("Machine failure: %v", a.crash))
	}

	errs = append(errs, findings.Errors...)

	a.transition(StateVerdicted)

	verdict := &result.Verdict{
		Test:      a.run.Name(),
		Category:  spec.Category,
		Status:    status,
		Errors:    errs,
		ExitCodes: findings.ExitCodes,
		Duration:  time.Since(a.started),
		LogPath:   logPath,
	}

	a.log.WithFields(logrus.Fields{
		"status":   status,
		"duration": verdict.Duration,
	}).Info("test finished")

	recycle := terminal != StateCompleted ||
		status == result.StatusPanic ||
		!machine.Alive(a.sess.machine)

	return &Attempt{Verdict: verdict, Recycle: recycle}
}

func (r *Runner) writeLog(a *attempt) string {
	if r.cfg.LogDir == "" {
		return a.sess.machine.DebugLogPath()
	}

	path := filepath.Join(r.cfg.LogDir, a.run.Slug()+".log")

	if err := os.WriteFile(path, a.sess.debug.captured(), 0o644); err != nil { //nolint:gosec // G306: logs are read by the operator
		a.log.WithError(err).Warn("failed to write test log")

		return a.sess.machine.DebugLogPath()
	}

	return path
}

// DeriveStatus applies the verdict priority: panic, forced failure, timeout,
// machine failure, exit code mismatch, expected output mismatch, success.
func DeriveStatus(state State, findings classifier.Findings, expectTimeout bool) result.Status {
	switch {
	case state == StatePanicked || findings.Override == config.OverridePanic:
		return result.StatusPanic
	case findings.Override == config.OverrideFailed:
		return result.StatusFailed
	case state == StateTimedOut:
		if expectTimeout {
			return result.StatusSuccess
		}

		return result.StatusTimeout
	case state == StateCrashed:
		return result.StatusError
	case findings.ExitCodeMismatch, findings.StdoutMismatch:
		return result.StatusFailed
	default:
		return result.StatusSuccess
	}
}
