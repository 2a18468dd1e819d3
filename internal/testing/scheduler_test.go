package testing

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ethpandaops/tortillas/internal/config"
	"github.com/ethpandaops/tortillas/internal/testing/interrupt"
	"github.com/ethpandaops/tortillas/internal/testing/metrics"
	"github.com/ethpandaops/tortillas/internal/testing/result"
	"github.com/ethpandaops/tortillas/internal/testing/testdef"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statusesOf(verdicts []*result.Verdict) map[string]result.Status {
	statuses := make(map[string]result.Status, len(verdicts))
	for _, v := range verdicts {
		statuses[v.Test] = v.Status
	}

	return statuses
}

func succeed(string, int) behaviour {
	return behaviour{debug: exitLog(0), complete: true}
}

func TestSignalsFor(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{InterruptVector: 0x80, ScTortillasBootup: 1, ScTortillasFinished: 2}

	signals := SignalsFor(cfg, config.ArchX8664)
	assert.Equal(t, interrupt.Signal{Vector: 0x80, Register: "RAX", Value: 1}, signals.Bootup)
	assert.Equal(t, interrupt.Signal{Vector: 0x80, Register: "RAX", Value: 2}, signals.Completion)

	signals = SignalsFor(cfg, config.ArchX8632)
	assert.Equal(t, "EAX", signals.Bootup.Register)
	assert.Equal(t, "EAX", signals.Completion.Register)
}

func TestScheduler_ExitCodeScenario(t *testing.T) {
	t.Parallel()

	l := newFakeLauncher(func(test string, _ int) behaviour {
		if test == "exit_ok" {
			return behaviour{debug: exitLog(42), complete: true}
		}

		return behaviour{debug: exitLog(7), complete: true}
	})

	verdicts, err := newTestScheduler(t, l, 2).Run(context.Background(), runsOf(spec("exit_ok", 42), spec("exit_wrong", 42)), nil)
	require.NoError(t, err)
	require.Len(t, verdicts, 2)

	assert.Equal(t, "exit_ok", verdicts[0].Test)
	assert.Equal(t, result.StatusSuccess, verdicts[0].Status)
	assert.Equal(t, "exit_wrong", verdicts[1].Test)
	assert.Equal(t, result.StatusFailed, verdicts[1].Status)
	assert.Contains(t, verdicts[1].Errors, "Unexpected exit code 7")

	boots, _ := l.counts()
	assert.Equal(t, 1, boots)
	assert.True(t, l.allTerminated())
}

func TestScheduler_DisabledNeverStartsMachine(t *testing.T) {
	t.Parallel()

	l := newFakeLauncher(succeed)

	off := spec("off")
	off.Disabled = true

	verdicts, err := newTestScheduler(t, l, 4).Run(context.Background(), nil, []*testdef.Spec{off})
	require.NoError(t, err)
	require.Len(t, verdicts, 1)
	assert.Equal(t, result.StatusDisabled, verdicts[0].Status)

	boots, restores := l.counts()
	assert.Zero(t, boots)
	assert.Zero(t, restores)
}

func TestScheduler_BootFailureFailsEveryTest(t *testing.T) {
	t.Parallel()

	l := newFakeLauncher(succeed)
	l.silentBoot = true

	verdicts, err := newTestScheduler(t, l, 2).Run(context.Background(), runsOf(spec("a"), spec("b")), nil)
	require.ErrorIs(t, err, ErrBootFailure)
	require.ErrorIs(t, err, interrupt.ErrBootTimeout)
	require.Len(t, verdicts, 2)

	for _, v := range verdicts {
		assert.Equal(t, result.StatusError, v.Status)
		require.NotEmpty(t, v.Errors)
		assert.Contains(t, v.Errors[0], "Machine failure")
	}

	_, restores := l.counts()
	assert.Zero(t, restores)
	assert.True(t, l.allTerminated())
}

func TestScheduler_RetryBound(t *testing.T) {
	t.Parallel()

	l := newFakeLauncher(func(string, int) behaviour {
		return behaviour{debug: "[TEST      ]RETRY ME\n", complete: true}
	})

	collector := metrics.NewCollector(quietLogger(), "retry")
	s := NewScheduler(&SchedulerConfig{
		Logger:      quietLogger(),
		Launcher:    l,
		Classifier:  testRules(t),
		TestConfig:  fastTestConfig(),
		Signals:     testSignals(),
		Concurrency: 1,
		Metrics:     collector,
	})

	verdicts, err := s.Run(context.Background(), runsOf(spec("flaky")), nil)
	require.NoError(t, err)
	require.Len(t, verdicts, 1)

	v := verdicts[0]
	assert.Equal(t, result.StatusError, v.Status)
	require.NotEmpty(t, v.Errors)
	assert.Equal(t, errRetryLimit, v.Errors[0])
	assert.Equal(t, 2, v.Retries)
	assert.Equal(t, 3, l.attemptsOf("flaky"))
	assert.Equal(t, 3, collector.Summary().Retries)
}

func TestScheduler_RetryThenSuccess(t *testing.T) {
	t.Parallel()

	l := newFakeLauncher(func(_ string, attempt int) behaviour {
		if attempt == 1 {
			return behaviour{debug: "[TEST      ]RETRY ME\n", complete: true}
		}

		return behaviour{debug: exitLog(0), complete: true}
	})

	verdicts, err := newTestScheduler(t, l, 1).Run(context.Background(), runsOf(spec("flaky")), nil)
	require.NoError(t, err)
	require.Len(t, verdicts, 1)
	assert.Equal(t, result.StatusSuccess, verdicts[0].Status)
	assert.Equal(t, 1, verdicts[0].Retries)

	_, restores := l.counts()
	assert.Equal(t, 2, restores)
}

func TestScheduler_RestoreFailureIsRetried(t *testing.T) {
	t.Parallel()

	l := newFakeLauncher(succeed)
	l.failRestores.Store(1)

	verdicts, err := newTestScheduler(t, l, 1).Run(context.Background(), runsOf(spec("a")), nil)
	require.NoError(t, err)
	require.Len(t, verdicts, 1)
	assert.Equal(t, result.StatusSuccess, verdicts[0].Status)
	assert.Equal(t, 1, verdicts[0].Retries)
}

func TestScheduler_MachineReuseAndRecycle(t *testing.T) {
	t.Parallel()

	t.Run("healthy machine is reused", func(t *testing.T) {
		t.Parallel()

		l := newFakeLauncher(succeed)

		verdicts, err := newTestScheduler(t, l, 1).Run(context.Background(), runsOf(spec("a"), spec("b"), spec("c")), nil)
		require.NoError(t, err)
		assert.True(t, result.AllPassed(verdicts))

		_, restores := l.counts()
		assert.Equal(t, 1, restores)
	})

	t.Run("crashed machine is replaced", func(t *testing.T) {
		t.Parallel()

		l := newFakeLauncher(func(test string, _ int) behaviour {
			if test == "a" {
				return behaviour{crash: true}
			}

			return behaviour{debug: exitLog(0), complete: true}
		})

		verdicts, err := newTestScheduler(t, l, 1).Run(context.Background(), runsOf(spec("a"), spec("b")), nil)
		require.NoError(t, err)

		statuses := statusesOf(verdicts)
		assert.Equal(t, result.StatusError, statuses["a"])
		assert.Equal(t, result.StatusSuccess, statuses["b"])

		_, restores := l.counts()
		assert.Equal(t, 2, restores)
		assert.True(t, l.allTerminated())
	})
}

func TestScheduler_IdleMachineExitIsReplaced(t *testing.T) {
	t.Parallel()

	l := newFakeLauncher(succeed)

	s := NewScheduler(&SchedulerConfig{
		Logger:      quietLogger(),
		Launcher:    l,
		Classifier:  testRules(t),
		TestConfig:  fastTestConfig(),
		Signals:     testSignals(),
		Concurrency: 1,
		OnVerdict: func(_, _ int, v *result.Verdict) {
			if v.Test != "a" {
				return
			}

			l.mu.Lock()
			defer l.mu.Unlock()

			for _, m := range l.machines {
				m.exit(errGuestCrashed)
			}
		},
	})

	verdicts, err := s.Run(context.Background(), runsOf(spec("a"), spec("b")), nil)
	require.NoError(t, err)
	require.Len(t, verdicts, 2)

	statuses := statusesOf(verdicts)
	assert.Equal(t, result.StatusSuccess, statuses["a"])
	assert.Equal(t, result.StatusSuccess, statuses["b"])

	for _, v := range verdicts {
		assert.Zero(t, v.Retries, v.Test)
	}

	_, restores := l.counts()
	assert.Equal(t, 2, restores)
	assert.Equal(t, 1, l.attemptsOf("b"))
	assert.True(t, l.allTerminated())
}

func TestScheduler_RepeatedRuns(t *testing.T) {
	t.Parallel()

	l := newFakeLauncher(succeed)
	runs, _ := testdef.ExpandRuns([]*testdef.Spec{spec("again")}, 3)

	verdicts, err := newTestScheduler(t, l, 2).Run(context.Background(), runs, nil)
	require.NoError(t, err)
	require.Len(t, verdicts, 3)

	for i, v := range verdicts {
		assert.Equal(t, fmt.Sprintf("again Run %d", i+1), v.Test)
		assert.Equal(t, result.StatusSuccess, v.Status)
	}

	assert.Equal(t, 3, l.attemptsOf("again"))
}

func TestScheduler_ProgressCallback(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		dones []int
		total int
	)

	off := spec("off")
	off.Disabled = true

	s := NewScheduler(&SchedulerConfig{
		Logger:      quietLogger(),
		Launcher:    newFakeLauncher(succeed),
		Classifier:  testRules(t),
		TestConfig:  fastTestConfig(),
		Signals:     testSignals(),
		Concurrency: 2,
		OnVerdict: func(done, n int, _ *result.Verdict) {
			mu.Lock()
			defer mu.Unlock()

			dones = append(dones, done)
			total = n
		},
	})

	_, err := s.Run(context.Background(), runsOf(spec("a"), spec("b")), []*testdef.Spec{off})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, []int{1, 2, 3}, dones)
	assert.Equal(t, 3, total)
}

func TestScheduler_CancellationTerminatesMachines(t *testing.T) {
	t.Parallel()

	cfg := fastTestConfig()
	cfg.TimeoutFactor = 1

	l := newFakeLauncher(func(string, int) behaviour {
		return behaviour{busy: true}
	})

	s := NewScheduler(&SchedulerConfig{
		Logger:      quietLogger(),
		Launcher:    l,
		Classifier:  testRules(t),
		TestConfig:  cfg,
		Signals:     testSignals(),
		Concurrency: 2,
	})

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	verdicts, err := s.Run(ctx, runsOf(spec("a"), spec("b"), spec("c")), nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, verdicts)
	assert.True(t, l.allTerminated())
}

func TestScheduler_VerdictsIndependentOfConcurrency(t *testing.T) {
	t.Parallel()

	behaviours := []behaviour{
		{debug: exitLog(0), complete: true},
		{debug: exitLog(3), complete: true},
		{},
		{crash: true},
	}
	expected := []result.Status{
		result.StatusSuccess,
		result.StatusFailed,
		result.StatusPanic,
		result.StatusError,
	}

	run := func(kinds []int, concurrency int) map[string]result.Status {
		l := newFakeLauncher(func(test string, _ int) behaviour {
			var idx int
			_, _ = fmt.Sscanf(test, "t%02d", &idx)

			return behaviours[kinds[idx]]
		})

		specs := make([]*testdef.Spec, len(kinds))
		for i := range kinds {
			specs[i] = spec(fmt.Sprintf("t%02d", i))
		}

		verdicts, err := newTestScheduler(t, l, concurrency).Run(context.Background(), runsOf(specs...), nil)
		if err != nil {
			return nil
		}

		return statusesOf(verdicts)
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 8
	parameters.MaxSize = 6

	properties := gopter.NewProperties(parameters)

	properties.Property("verdicts do not depend on worker count", prop.ForAll(
		func(kinds []int) bool {
			serial := run(kinds, 1)
			parallel := run(kinds, 3)

			if len(serial) != len(kinds) || len(parallel) != len(kinds) {
				return false
			}

			for i, kind := range kinds {
				name := fmt.Sprintf("t%02d", i)
				if serial[name] != expected[kind] || parallel[name] != expected[kind] {
					return false
				}
			}

			return true
		},
		gen.SliceOf(gen.IntRange(0, len(behaviours)-1)),
	))

	properties.TestingRun(t)
}
