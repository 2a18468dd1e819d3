package testing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethpandaops/tortillas/internal/config"
	"github.com/ethpandaops/tortillas/internal/testing/classifier"
	"github.com/ethpandaops/tortillas/internal/testing/machine"
	"github.com/ethpandaops/tortillas/internal/testing/testdef"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

const (
	bootupSyscall   = 69
	finishedSyscall = 420
)

var (
	errGuestCrashed = errors.New("guest crashed")
	errRestore      = errors.New("restore failed")
)

// behaviour scripts how the fake guest reacts to one test invocation.
type behaviour struct {
	debug string
	// complete raises the finished syscall after debug output.
	complete bool
	// busy keeps timer interrupts flowing without completing.
	busy bool
	// crash makes the emulator exit.
	crash bool
}

// script picks a behaviour for a test; attempt counts invocations of that
// test across all machines, starting at 1.
type script func(test string, attempt int) behaviour

// stream is a growing byte stream: reads past the end return io.EOF until
// more data arrives. A busy stream yields a timer interrupt on every other
// read once drained.
type stream struct {
	mu   sync.Mutex
	buf  bytes.Buffer
	busy bool
	tick bool
}

func (s *stream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.buf.Len() > 0 {
		return s.buf.Read(p)
	}

	if s.busy {
		s.tick = !s.tick
		if s.tick {
			return copy(p, interruptBlock(0x20, 0)), nil
		}
	}

	return 0, io.EOF
}

func (s *stream) write(data string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf.WriteString(data)
}

func (s *stream) setBusy(busy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.busy = busy
}

func interruptBlock(vector int, rax uint64) string {
	return fmt.Sprintf("0: v=%02x e=0000 i=1 cpl=3 IP=0008:0000000000401000\nRAX=%016x RBX=0000000000000000\n", vector, rax)
}

type fakeMachine struct {
	name     string
	launcher *fakeLauncher
	trace    *stream
	debug    *stream

	once sync.Once
	done chan struct{}
	err  error
}

var _ machine.Machine = (*fakeMachine)(nil)

func newFakeMachine(name string, l *fakeLauncher) *fakeMachine {
	return &fakeMachine{
		name:     name,
		launcher: l,
		trace:    &stream{},
		debug:    &stream{},
		done:     make(chan struct{}),
	}
}

func (m *fakeMachine) Name() string { return m.name }

func (m *fakeMachine) InterruptTrace() io.Reader { return m.trace }

func (m *fakeMachine) DebugLog() io.Reader { return m.debug }

func (m *fakeMachine) DebugLogPath() string { return "/fake/" + m.name + "/out.log" }

func (m *fakeMachine) Done() <-chan struct{} { return m.done }

func (m *fakeMachine) Terminate() error {
	m.exit(machine.ErrExited)

	return nil
}

func (m *fakeMachine) Err() error {
	select {
	case <-m.done:
		return m.err
	default:
		return nil
	}
}

func (m *fakeMachine) exit(err error) {
	m.once.Do(func() {
		m.err = err
		close(m.done)
	})
}

func (m *fakeMachine) SendGuestInput(_ context.Context, input string) error {
	if !machine.Alive(m) {
		return machine.ErrExited
	}

	test := strings.TrimSuffix(strings.TrimSpace(input), config.InvocationSuffix)
	b := m.launcher.behaviourFor(test)

	m.trace.setBusy(b.busy)

	if b.crash {
		m.exit(errGuestCrashed)

		return nil
	}

	m.debug.write(b.debug)

	if b.complete {
		m.trace.write(interruptBlock(config.DefaultInterruptVector, finishedSyscall))
	}

	return nil
}

func (m *fakeMachine) Snapshot(_ context.Context) (*machine.Snapshot, error) {
	m.exit(nil)

	return &machine.Snapshot{Tag: config.SnapshotTag}, nil
}

type fakeLauncher struct {
	script script
	// silentBoot never raises the bootup syscall.
	silentBoot bool
	// failRestores fails that many restores before succeeding.
	failRestores atomic.Int64

	mu       sync.Mutex
	machines []*fakeMachine
	attempts map[string]int
	boots    int
	restores int
}

var _ machine.Launcher = (*fakeLauncher)(nil)

func newFakeLauncher(s script) *fakeLauncher {
	return &fakeLauncher{
		script:   s,
		attempts: make(map[string]int),
	}
}

func (l *fakeLauncher) Boot(_ context.Context, name string) (machine.Machine, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.boots++

	m := newFakeMachine(name, l)
	if !l.silentBoot {
		m.trace.write(interruptBlock(0x20, 0) + interruptBlock(config.DefaultInterruptVector, bootupSyscall))
	}

	l.machines = append(l.machines, m)

	return m, nil
}

func (l *fakeLauncher) RestoreFrom(_ context.Context, _ *machine.Snapshot, name string) (machine.Machine, error) {
	if l.failRestores.Load() > 0 {
		l.failRestores.Add(-1)

		return nil, errRestore
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.restores++

	m := newFakeMachine(name, l)
	l.machines = append(l.machines, m)

	return m, nil
}

func (l *fakeLauncher) behaviourFor(test string) behaviour {
	l.mu.Lock()
	l.attempts[test]++
	attempt := l.attempts[test]
	l.mu.Unlock()

	return l.script(test, attempt)
}

func (l *fakeLauncher) attemptsOf(test string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.attempts[test]
}

func (l *fakeLauncher) counts() (boots, restores int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.boots, l.restores
}

func (l *fakeLauncher) allTerminated() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, m := range l.machines {
		if machine.Alive(m) {
			return false
		}
	}

	return true
}

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)

	return log
}

func fastTestConfig() *TestConfig {
	return &TestConfig{
		PollInterval:       2 * time.Millisecond,
		QuiescencePolls:    5,
		BootupTimeout:      10 * time.Second,
		DefaultTestTimeout: 10 * time.Second,
		TimeoutFactor:      0.02,
		MaxRetries:         2,
	}
}

func testRules(t *testing.T) *classifier.Classifier {
	t.Helper()

	rules, err := classifier.Compile([]config.AnalyzeRule{
		{Name: "exit_codes", Scope: "SYSCALL", Pattern: `EXIT: exit_code: (-?\d+)`, Mode: config.ModeExitCodes},
		{Name: "kernel_panic", Scope: "KERNEL PANIC", Pattern: `(.*)`, Mode: config.ModeAddAsErrorJoin, SetStatus: config.OverridePanic},
		{Name: "retry", Scope: config.ScopeAll, Pattern: `(RETRY ME)`, Mode: config.ModeRetry},
	})
	require.NoError(t, err)

	return classifier.New(rules)
}

func testSignals() Signals {
	return SignalsFor(&config.Config{
		InterruptVector:     config.DefaultInterruptVector,
		ScTortillasBootup:   bootupSyscall,
		ScTortillasFinished: finishedSyscall,
	}, config.ArchX8664)
}

func newTestScheduler(t *testing.T, l *fakeLauncher, concurrency int) *Scheduler {
	t.Helper()

	return NewScheduler(&SchedulerConfig{
		Logger:      quietLogger(),
		Launcher:    l,
		Classifier:  testRules(t),
		TestConfig:  fastTestConfig(),
		Signals:     testSignals(),
		Concurrency: concurrency,
	})
}

func exitLog(code int) string {
	return fmt.Sprintf("[SYSCALL   ]EXIT: exit_code: %d\n", code)
}

func spec(name string, exitCodes ...int) *testdef.Spec {
	return &testdef.Spec{
		Name:            name,
		Category:        "misc",
		Description:     "test " + name,
		ExpectExitCodes: exitCodes,
	}
}

func runsOf(specs ...*testdef.Spec) []*testdef.TestRun {
	runs, _ := testdef.ExpandRuns(specs, 1)

	return runs
}
