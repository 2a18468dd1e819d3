package interrupt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultPollInterval    = 500 * time.Millisecond
	defaultQuiescencePolls = 10
	readChunkSize          = 32 * 1024
)

// ErrBootTimeout is returned when the bootup signal never arrives.
var ErrBootTimeout = errors.New("bootup signal not observed before timeout")

// Outcome is the result of waiting for test completion.
type Outcome int

const (
	// OutcomeCompleted means the completion signal was observed.
	OutcomeCompleted Outcome = iota
	// OutcomePanicDetected means the trace went quiet for the quiescence window.
	OutcomePanicDetected
	// OutcomeTimeout means the deadline elapsed first.
	OutcomeTimeout
	// OutcomeStopped means a poll hook ended the wait early.
	OutcomeStopped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomePanicDetected:
		return "panic_detected"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeStopped:
		return "stopped"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Monitor watches a machine's interrupt trace.
type Monitor interface {
	// AwaitBootup blocks until the bootup signal is seen or timeout elapses.
	AwaitBootup(ctx context.Context, timeout time.Duration) error
	// AwaitCompletion blocks until the completion signal, quiescence, the
	// timeout or a stop request from a poll hook.
	AwaitCompletion(ctx context.Context, timeout time.Duration, opts ...WaitOption) (Outcome, error)
	// Discard drops everything traced so far.
	Discard() error
}

// Config configures a monitor.
type Config struct {
	Bootup          Signal
	Completion      Signal
	PollInterval    time.Duration
	QuiescencePolls int
}

// WaitOption customises a single AwaitCompletion call.
type WaitOption func(*waitOptions)

type waitOptions struct {
	onPoll func() bool
}

// OnPoll registers a hook run after every poll. Returning true stops the wait
// with OutcomeStopped.
func OnPoll(hook func() bool) WaitOption {
	return func(o *waitOptions) {
		o.onPoll = hook
	}
}

type monitor struct {
	log    logrus.FieldLogger
	trace  io.Reader
	cfg    Config
	parser *Parser
	buf    []byte
}

var _ Monitor = (*monitor)(nil)

// NewMonitor creates a monitor over a trace reader. The reader is polled: an
// io.EOF means no new data yet, not the end of the trace.
func NewMonitor(log logrus.FieldLogger, trace io.Reader, cfg Config) Monitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}

	if cfg.QuiescencePolls <= 0 {
		cfg.QuiescencePolls = defaultQuiescencePolls
	}

	return &monitor{
		log:    log.WithField("component", "interrupt_monitor"),
		trace:  trace,
		cfg:    cfg,
		parser: NewParser(),
		buf:    make([]byte, readChunkSize),
	}
}

func (m *monitor) AwaitBootup(ctx context.Context, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			m.log.WithField("timeout", timeout).Error("bootup signal not observed")

			return fmt.Errorf("%w (%s)", ErrBootTimeout, timeout)
		case <-ticker.C:
			_, found, err := m.poll(m.cfg.Bootup)
			if err != nil {
				return err
			}

			if found {
				m.log.Debug("bootup signal observed")

				return nil
			}
		}
	}
}

func (m *monitor) AwaitCompletion(ctx context.Context, timeout time.Duration, opts ...WaitOption) (Outcome, error) {
	var options waitOptions
	for _, opt := range opts {
		opt(&options)
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	unchanged := 0

	for {
		select {
		case <-ctx.Done():
			return OutcomeStopped, ctx.Err()
		case <-deadline.C:
			m.log.WithField("timeout", timeout).Debug("completion signal not observed before timeout")

			return OutcomeTimeout, nil
		case <-ticker.C:
			n, found, err := m.poll(m.cfg.Completion)
			if err != nil {
				return OutcomeStopped, err
			}

			if found {
				return OutcomeCompleted, nil
			}

			if options.onPoll != nil && options.onPoll() {
				return OutcomeStopped, nil
			}

			if n > 0 {
				unchanged = 0

				continue
			}

			unchanged++
			if unchanged > m.cfg.QuiescencePolls {
				m.log.WithField("polls", unchanged).Warn("interrupts stopped, assuming kernel panic")

				return OutcomePanicDetected, nil
			}
		}
	}
}

func (m *monitor) Discard() error {
	for {
		n, err := m.trace.Read(m.buf)
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("discarding interrupt trace: %w", err)
		}

		if n == 0 || err != nil {
			break
		}
	}

	m.parser.Reset()

	return nil
}

// poll reads everything currently available and reports how many bytes were
// read and whether signal appeared in a completed or pending block.
func (m *monitor) poll(signal Signal) (int, bool, error) {
	total := 0
	found := false

	for {
		n, err := m.trace.Read(m.buf)
		if n > 0 {
			total += n

			for _, in := range m.parser.Feed(m.buf[:n]) {
				if signal.Matches(in) {
					found = true
				}
			}
		}

		if errors.Is(err, io.EOF) || (n == 0 && err == nil) {
			break
		}

		if err != nil {
			return total, false, fmt.Errorf("reading interrupt trace: %w", err)
		}
	}

	if found {
		m.parser.Reset()

		return total, true, nil
	}

	if pending, ok := m.parser.Pending(); ok && signal.Matches(pending) {
		m.parser.Reset()

		return total, true, nil
	}

	return total, false, nil
}
