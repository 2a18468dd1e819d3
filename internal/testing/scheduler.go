package testing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethpandaops/tortillas/internal/config"
	"github.com/ethpandaops/tortillas/internal/testing/classifier"
	"github.com/ethpandaops/tortillas/internal/testing/interrupt"
	"github.com/ethpandaops/tortillas/internal/testing/machine"
	"github.com/ethpandaops/tortillas/internal/testing/metrics"
	"github.com/ethpandaops/tortillas/internal/testing/result"
	"github.com/ethpandaops/tortillas/internal/testing/testdef"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	baseMachineName = "base"
	errRetryLimit   = "Test retried too often"
)

// Signals are the interrupts a SWEB guest raises at bootup and after a test.
type Signals struct {
	Bootup     interrupt.Signal
	Completion interrupt.Signal
}

// SignalsFor derives the tortillas syscall signals from cfg. The syscall
// number travels in RAX on x86_64 and in EAX on x86_32.
func SignalsFor(cfg *config.Config, arch string) Signals {
	register := "RAX"
	if arch == config.ArchX8632 {
		register = "EAX"
	}

	return Signals{
		Bootup: interrupt.Signal{
			Vector:   cfg.InterruptVector,
			Register: register,
			Value:    cfg.ScTortillasBootup,
		},
		Completion: interrupt.Signal{
			Vector:   cfg.InterruptVector,
			Register: register,
			Value:    cfg.ScTortillasFinished,
		},
	}
}

// SchedulerConfig contains configuration for a test run.
type SchedulerConfig struct {
	Logger      logrus.FieldLogger
	Launcher    machine.Launcher
	Classifier  *classifier.Classifier
	TestConfig  *TestConfig
	Signals     Signals
	Concurrency int
	Metrics     metrics.Collector
	// OnVerdict is called once per final verdict, serialized.
	OnVerdict func(done, total int, verdict *result.Verdict)
}

// Scheduler boots the base machine once, snapshots it and runs every test on
// a pool of machines restored from that snapshot.
type Scheduler struct {
	log         logrus.FieldLogger
	launcher    machine.Launcher
	runner      *Runner
	cfg         *TestConfig
	signals     Signals
	concurrency int
	metrics     metrics.Collector
	onVerdict   func(done, total int, verdict *result.Verdict)

	mu       sync.Mutex
	verdicts []*result.Verdict
	total    int
}

// job is a test run waiting in the queue together with its attempt history.
type job struct {
	run      *testdef.TestRun
	attempts int
	elapsed  time.Duration
}

// NewScheduler creates a scheduler.
func NewScheduler(cfg *SchedulerConfig) *Scheduler {
	testCfg := cfg.TestConfig
	if testCfg == nil {
		testCfg = DefaultTestConfig()
	}

	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	collector := cfg.Metrics
	if collector == nil {
		collector = metrics.NewCollector(cfg.Logger, "")
	}

	return &Scheduler{
		log:         cfg.Logger.WithField("component", "scheduler"),
		launcher:    cfg.Launcher,
		runner:      NewRunner(cfg.Logger, testCfg, cfg.Classifier),
		cfg:         testCfg,
		signals:     cfg.Signals,
		concurrency: concurrency,
		metrics:     collector,
		onVerdict:   cfg.OnVerdict,
	}
}

// Run executes runs and reports disabled specs without starting them. The
// returned verdicts are sorted by test name. A boot or snapshot failure marks
// every run ERROR and is returned; a cancelled ctx returns the verdicts
// reached so far together with ctx.Err().
func (s *Scheduler) Run(ctx context.Context, runs []*testdef.TestRun, disabled []*testdef.Spec) ([]*result.Verdict, error) {
	s.mu.Lock()
	s.verdicts = make([]*result.Verdict, 0, len(runs)+len(disabled))
	s.total = len(runs) + len(disabled)
	s.mu.Unlock()

	for _, spec := range disabled {
		s.complete(&result.Verdict{
			Test:     spec.Name,
			Category: spec.Category,
			Status:   result.StatusDisabled,
		})
	}

	if len(runs) == 0 {
		return s.results(), nil
	}

	s.log.WithFields(logrus.Fields{
		"tests":    len(runs),
		"disabled": len(disabled),
		"workers":  min(s.concurrency, len(runs)),
	}).Info("starting test run")

	snap, err := s.prepareBase(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return s.results(), ctx.Err()
		}

		for _, run := range runs {
			s.complete(&result.Verdict{
				Test:     run.Name(),
				Category: run.Spec.Category,
				Status:   result.StatusError,
				Errors:   []string{fmt.Sprintf("Machine failure: %v", err)},
			})
		}

		return s.results(), err
	}

	defer func() {
		if err := snap.Release(); err != nil {
			s.log.WithError(err).Warn("failed to release base snapshot")
		}
	}()

	queue := make(chan *job, len(runs))
	for _, run := range runs {
		queue <- &job{run: run}
	}

	var remaining atomic.Int64

	remaining.Store(int64(len(runs)))

	finish := func(v *result.Verdict) {
		s.complete(v)

		if remaining.Add(-1) == 0 {
			close(queue)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < min(s.concurrency, len(runs)); i++ {
		name := fmt.Sprintf("worker-%d", i)

		g.Go(func() error {
			return s.work(gctx, name, snap, queue, finish)
		})
	}

	if err := g.Wait(); err != nil {
		s.log.WithError(err).Warn("test run aborted")

		return s.results(), err
	}

	return s.results(), nil
}

// prepareBase boots the build image, waits for the bootup signal and saves
// the machine as the snapshot every worker restores.
func (s *Scheduler) prepareBase(ctx context.Context) (*machine.Snapshot, error) {
	start := time.Now()

	base, err := s.launcher.Boot(ctx, baseMachineName)
	if err != nil {
		s.recordMachine(baseMachineName, metrics.OperationBoot, start, false)

		return nil, fmt.Errorf("%w: %w", ErrBootFailure, err)
	}

	mon := interrupt.NewMonitor(s.log, base.InterruptTrace(), s.monitorConfig())

	if err := mon.AwaitBootup(ctx, s.cfg.Scale(s.cfg.BootupTimeout)); err != nil {
		s.recordMachine(baseMachineName, metrics.OperationBoot, start, false)
		s.terminate(base)

		return nil, fmt.Errorf("%w: %w", ErrBootFailure, err)
	}

	s.recordMachine(baseMachineName, metrics.OperationBoot, start, true)
	s.log.WithField("duration", time.Since(start)).Info("base machine booted")

	select {
	case <-ctx.Done():
		s.terminate(base)

		return nil, ctx.Err()
	case <-time.After(s.cfg.BootSettleDelay):
	}

	start = time.Now()

	snap, err := base.Snapshot(ctx)
	if err != nil {
		s.recordMachine(baseMachineName, metrics.OperationSnapshot, start, false)
		s.terminate(base)

		return nil, fmt.Errorf("%w: %w", ErrSnapshotFailure, err)
	}

	s.recordMachine(baseMachineName, metrics.OperationSnapshot, start, true)
	s.log.WithField("image", snap.Image).Debug("base snapshot created")

	return snap, nil
}

// work pulls jobs until the queue closes. A worker keeps its machine across
// tests and restores a fresh one only when an attempt left it unusable.
func (s *Scheduler) work(
	ctx context.Context,
	name string,
	snap *machine.Snapshot,
	queue chan *job,
	finish func(*result.Verdict),
) error {
	log := s.log.WithField("worker", name)

	var sess *session

	defer func() {
		if sess != nil {
			s.terminate(sess.machine)
		}
	}()

	for {
		var (
			j  *job
			ok bool
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case j, ok = <-queue:
			if !ok {
				return nil
			}
		}

		testLog := log.WithField("test", j.run.Name())

		if sess != nil && !machine.Alive(sess.machine) {
			testLog.Warn("machine exited while idle, restoring a fresh one")
			s.terminate(sess.machine)
			sess = nil
		}

		j.attempts++

		if sess == nil {
			m, err := s.restore(ctx, snap, name)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}

				testLog.WithError(err).Warn("failed to restore machine")
				s.retry(j, []string{fmt.Sprintf("Machine failure: %v", err)}, queue, finish)

				continue
			}

			sess = newSession(log, m, s.monitorConfig())
		}

		start := time.Now()

		attempt, err := s.runner.Run(ctx, sess, j.run, testLog)
		j.elapsed += time.Since(start)

		if err != nil {
			return err
		}

		if attempt.Recycle {
			s.terminate(sess.machine)
			sess = nil
		}

		if attempt.Retry {
			s.retry(j, attempt.Errors, queue, finish)

			continue
		}

		verdict := attempt.Verdict
		verdict.Retries = j.attempts - 1
		verdict.Duration = j.elapsed

		finish(verdict)
	}
}

// retry re-queues j, or gives up with ERROR once the retry bound is used.
func (s *Scheduler) retry(j *job, errs []string, queue chan<- *job, finish func(*result.Verdict)) {
	s.metrics.RecordRetry(j.run.Name())

	if j.attempts > s.cfg.MaxRetries {
		s.log.WithFields(logrus.Fields{
			"test":     j.run.Name(),
			"attempts": j.attempts,
		}).Warn("retry limit reached")

		finish(&result.Verdict{
			Test:     j.run.Name(),
			Category: j.run.Spec.Category,
			Status:   result.StatusError,
			Errors:   append([]string{errRetryLimit}, errs...),
			Duration: j.elapsed,
			Retries:  j.attempts - 1,
		})

		return
	}

	if len(errs) > 0 {
		s.log.WithField("test", j.run.Name()).Infof("restarting test, because of %s", strings.Join(errs, ""))
	}

	queue <- j
}

func (s *Scheduler) restore(ctx context.Context, snap *machine.Snapshot, name string) (machine.Machine, error) {
	start := time.Now()

	m, err := s.launcher.RestoreFrom(ctx, snap, name)
	s.recordMachine(name, metrics.OperationRestore, start, err == nil)

	if err != nil {
		return nil, err
	}

	return m, nil
}

func (s *Scheduler) terminate(m machine.Machine) {
	if err := m.Terminate(); err != nil && !errors.Is(err, machine.ErrExited) {
		s.log.WithError(err).WithField("machine", m.Name()).Warn("failed to terminate machine")
	}
}

func (s *Scheduler) monitorConfig() interrupt.Config {
	return interrupt.Config{
		Bootup:          s.signals.Bootup,
		Completion:      s.signals.Completion,
		PollInterval:    s.cfg.PollInterval,
		QuiescencePolls: s.cfg.QuiescencePolls,
	}
}

func (s *Scheduler) recordMachine(name string, op metrics.Operation, start time.Time, success bool) {
	s.metrics.RecordMachine(metrics.MachineMetric{
		Machine:   name,
		Operation: op,
		Duration:  time.Since(start),
		Success:   success,
		Timestamp: start,
	})
}

// complete stores a final verdict and reports progress.
func (s *Scheduler) complete(v *result.Verdict) {
	s.metrics.RecordVerdict(v)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.verdicts = append(s.verdicts, v)

	if s.onVerdict != nil {
		s.onVerdict(len(s.verdicts), s.total, v)
	}
}

func (s *Scheduler) results() []*result.Verdict {
	s.mu.Lock()
	defer s.mu.Unlock()

	verdicts := make([]*result.Verdict, len(s.verdicts))
	copy(verdicts, s.verdicts)

	sort.SliceStable(verdicts, func(i, j int) bool {
		return verdicts[i].Test < verdicts[j].Test
	})

	return verdicts
}
