package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/erp/sfagent/internal/domain/integration"
)

// ---------------------------------------------------------------------------
// Test Helpers
// ---------------------------------------------------------------------------

// blockingRunner blocks every cycle until release is closed
type blockingRunner struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}

	mu     sync.Mutex
	ctxErr []error
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{
		started: make(chan struct{}, 256),
		release: make(chan struct{}),
	}
}

func (r *blockingRunner) RunCycle(ctx context.Context) (*integration.CycleSummary, error) {
	r.calls.Add(1)
	r.started <- struct{}{}
	<-r.release

	r.mu.Lock()
	r.ctxErr = append(r.ctxErr, ctx.Err())
	r.mu.Unlock()

	s := integration.NewCycleSummary(time.Now())
	s.Finish(time.Now())
	return s, nil
}

// funcRunner adapts a function to CycleRunner
type funcRunner func(ctx context.Context) (*integration.CycleSummary, error)

func (f funcRunner) RunCycle(ctx context.Context) (*integration.CycleSummary, error) {
	return f(ctx)
}

type failingLock struct{}

func (failingLock) TryAcquire(ctx context.Context) (string, bool, error) {
	return "", false, errors.New("dial tcp: connection refused")
}

func (failingLock) Release(ctx context.Context, token string) error { return nil }

func newScheduler(t *testing.T, cfg OrderSyncSchedulerConfig, runner CycleRunner, lock CycleLock) *OrderSyncScheduler {
	t.Helper()
	s, err := NewOrderSyncScheduler(cfg, runner, lock, zaptest.NewLogger(t))
	require.NoError(t, err)
	return s
}

func waitStarted(t *testing.T, r *blockingRunner) {
	t.Helper()
	select {
	case <-r.started:
	case <-time.After(2 * time.Second):
		t.Fatal("cycle did not start")
	}
}

// ---------------------------------------------------------------------------
// Config Tests
// ---------------------------------------------------------------------------

func TestOrderSyncSchedulerConfig_Validate(t *testing.T) {
	cfg := DefaultOrderSyncSchedulerConfig()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 5*time.Minute, cfg.Interval)
	assert.True(t, cfg.RunOnStart)

	cfg.Interval = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = DefaultOrderSyncSchedulerConfig()
	cfg.MaxHistory = -1
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = DefaultOrderSyncSchedulerConfig()
	cfg.MaxHistory = 2
	cfg.FailureAlertThreshold = 3
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestNewOrderSyncScheduler_NilRunner(t *testing.T) {
	_, err := NewOrderSyncScheduler(DefaultOrderSyncSchedulerConfig(), nil, nil, nil)
	assert.ErrorIs(t, err, ErrRunnerNil)
}

// ---------------------------------------------------------------------------
// Lifecycle Tests
// ---------------------------------------------------------------------------

func TestScheduler_RunsImmediatelyOnStart(t *testing.T) {
	runner := newBlockingRunner()
	s := newScheduler(t, OrderSyncSchedulerConfig{Interval: time.Hour, RunOnStart: true, MaxHistory: 10}, runner, nil)

	require.NoError(t, s.Start(context.Background()))
	waitStarted(t, runner)
	close(runner.release)

	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, int32(1), runner.calls.Load())

	last := s.LastRun()
	require.NotNil(t, last)
	assert.Equal(t, TriggerStartup, last.Trigger)
	assert.Equal(t, integration.CycleStatusSuccess, last.Status)
}

func TestScheduler_NoStartupRunWhenDisabled(t *testing.T) {
	var calls atomic.Int32
	runner := funcRunner(func(ctx context.Context) (*integration.CycleSummary, error) {
		calls.Add(1)
		return integration.NewCycleSummary(time.Now()), nil
	})
	s := newScheduler(t, OrderSyncSchedulerConfig{Interval: time.Hour, RunOnStart: false, MaxHistory: 10}, runner, nil)

	require.NoError(t, s.Start(context.Background()))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, int32(0), calls.Load())
}

func TestScheduler_TicksOnInterval(t *testing.T) {
	var calls atomic.Int32
	runner := funcRunner(func(ctx context.Context) (*integration.CycleSummary, error) {
		calls.Add(1)
		return integration.NewCycleSummary(time.Now()), nil
	})
	s := newScheduler(t, OrderSyncSchedulerConfig{Interval: 10 * time.Millisecond, MaxHistory: 100}, runner, nil)

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))

	for _, run := range s.GetRunHistory(0) {
		assert.Equal(t, TriggerInterval, run.Trigger)
	}
}

func TestScheduler_StartIsIdempotent(t *testing.T) {
	runner := funcRunner(func(ctx context.Context) (*integration.CycleSummary, error) {
		return integration.NewCycleSummary(time.Now()), nil
	})
	s := newScheduler(t, OrderSyncSchedulerConfig{Interval: time.Hour, MaxHistory: 1}, runner, nil)

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop(context.Background()))
	require.NoError(t, s.Stop(context.Background()))
}

func TestScheduler_SkipsTickWhileBusy(t *testing.T) {
	runner := newBlockingRunner()
	core, logs := observer.New(zapcore.InfoLevel)
	s, err := NewOrderSyncScheduler(OrderSyncSchedulerConfig{Interval: 10 * time.Millisecond, RunOnStart: true, MaxHistory: 100}, runner, nil, zap.New(core))
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	waitStarted(t, runner)

	assert.Eventually(t, func() bool {
		return logs.FilterMessage("cycle skipped: previous cycle still running").Len() >= 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), runner.calls.Load())

	close(runner.release)
	require.NoError(t, s.Stop(context.Background()))

	var skipped, succeeded int
	for _, run := range s.GetRunHistory(0) {
		switch run.Status {
		case integration.CycleStatusSkipped:
			skipped++
			assert.Nil(t, run.Summary)
		case integration.CycleStatusSuccess:
			succeeded++
		}
	}
	assert.GreaterOrEqual(t, skipped, 2)
	assert.GreaterOrEqual(t, succeeded, 1)
}

func TestScheduler_StopDoesNotAbortInFlightCycle(t *testing.T) {
	runner := newBlockingRunner()
	s := newScheduler(t, OrderSyncSchedulerConfig{Interval: time.Hour, RunOnStart: true, MaxHistory: 10}, runner, nil)

	require.NoError(t, s.Start(context.Background()))
	waitStarted(t, runner)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Stop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(runner.release)
	assert.Eventually(t, func() bool { return s.LastRun() != nil }, 2*time.Second, 5*time.Millisecond)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	require.Len(t, runner.ctxErr, 1)
	assert.NoError(t, runner.ctxErr[0])
}

func TestScheduler_StopWaitsForInFlightCycle(t *testing.T) {
	runner := newBlockingRunner()
	s := newScheduler(t, OrderSyncSchedulerConfig{Interval: time.Hour, RunOnStart: true, MaxHistory: 10}, runner, nil)

	require.NoError(t, s.Start(context.Background()))
	waitStarted(t, runner)

	go func() {
		time.Sleep(30 * time.Millisecond)
		close(runner.release)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.NotNil(t, s.LastRun())
	assert.Equal(t, integration.CycleStatusSuccess, s.LastRun().Status)
}

// ---------------------------------------------------------------------------
// runCycle Tests
// ---------------------------------------------------------------------------

func TestScheduler_RunCycle_Failure(t *testing.T) {
	runner := funcRunner(func(ctx context.Context) (*integration.CycleSummary, error) {
		return integration.NewCycleSummary(time.Now()), errors.New("ordersync: token unavailable")
	})
	s := newScheduler(t, DefaultOrderSyncSchedulerConfig(), runner, nil)

	s.runCycle(context.Background(), TriggerInterval)

	last := s.LastRun()
	require.NotNil(t, last)
	assert.Equal(t, integration.CycleStatusFailed, last.Status)
	assert.Equal(t, "ordersync: token unavailable", last.Error)
	assert.NotNil(t, last.Summary)
}

func TestScheduler_RunCycle_Partial(t *testing.T) {
	runner := funcRunner(func(ctx context.Context) (*integration.CycleSummary, error) {
		s := integration.NewCycleSummary(time.Now())
		s.Record(integration.OutcomeInsert)
		s.RecordFailure("1001")
		return s, nil
	})
	s := newScheduler(t, DefaultOrderSyncSchedulerConfig(), runner, nil)

	s.runCycle(context.Background(), TriggerInterval)
	assert.Equal(t, integration.CycleStatusPartial, s.LastRun().Status)
}

func TestScheduler_RunCycle_LockError(t *testing.T) {
	var calls atomic.Int32
	runner := funcRunner(func(ctx context.Context) (*integration.CycleSummary, error) {
		calls.Add(1)
		return nil, nil
	})
	core, logs := observer.New(zapcore.WarnLevel)
	s, err := NewOrderSyncScheduler(DefaultOrderSyncSchedulerConfig(), runner, failingLock{}, zap.New(core))
	require.NoError(t, err)

	s.runCycle(context.Background(), TriggerInterval)

	assert.Equal(t, int32(0), calls.Load())
	assert.Equal(t, integration.CycleStatusSkipped, s.LastRun().Status)
	assert.Equal(t, 1, logs.FilterMessage("cycle skipped: lock unavailable").Len())
}

func TestScheduler_RunCycle_ReleasesLock(t *testing.T) {
	lock := NewMemoryCycleLock()
	runner := funcRunner(func(ctx context.Context) (*integration.CycleSummary, error) {
		return integration.NewCycleSummary(time.Now()), nil
	})
	s := newScheduler(t, DefaultOrderSyncSchedulerConfig(), runner, lock)

	s.runCycle(context.Background(), TriggerInterval)
	s.runCycle(context.Background(), TriggerInterval)

	history := s.GetRunHistory(0)
	require.Len(t, history, 2)
	for _, run := range history {
		assert.Equal(t, integration.CycleStatusSuccess, run.Status)
	}
	_, ok, err := lock.TryAcquire(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestScheduler_RunCycle_RunnerPanicIsRecovered(t *testing.T) {
	lock := NewMemoryCycleLock()
	runner := funcRunner(func(ctx context.Context) (*integration.CycleSummary, error) {
		panic("cycle blew up")
	})
	core, logs := observer.New(zapcore.ErrorLevel)
	s, err := NewOrderSyncScheduler(DefaultOrderSyncSchedulerConfig(), runner, lock, zap.New(core))
	require.NoError(t, err)

	require.NotPanics(t, func() {
		s.runCycle(context.Background(), TriggerInterval)
	})

	last := s.LastRun()
	require.NotNil(t, last)
	assert.Equal(t, integration.CycleStatusFailed, last.Status)
	assert.Contains(t, last.Error, "cycle blew up")
	assert.Nil(t, last.Summary)
	assert.Equal(t, 1, logs.FilterMessage("Order sync cycle failed").Len())

	_, ok, err := lock.TryAcquire(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestScheduler_PanickingCycleDoesNotStopTicks(t *testing.T) {
	var calls atomic.Int32
	runner := funcRunner(func(ctx context.Context) (*integration.CycleSummary, error) {
		if calls.Add(1) == 1 {
			panic("cycle blew up")
		}
		return integration.NewCycleSummary(time.Now()), nil
	})
	s := newScheduler(t, OrderSyncSchedulerConfig{Interval: 10 * time.Millisecond, RunOnStart: true, MaxHistory: 100}, runner, nil)

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))

	history := s.GetRunHistory(0)
	require.NotEmpty(t, history)
	assert.Equal(t, integration.CycleStatusFailed, history[len(history)-1].Status)
	assert.Equal(t, TriggerStartup, history[len(history)-1].Trigger)
}

func TestScheduler_WarnsOnRepeatedFailures(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	runner := funcRunner(func(ctx context.Context) (*integration.CycleSummary, error) {
		if fail.Load() {
			return nil, errors.New("ordersync: order source unavailable")
		}
		return integration.NewCycleSummary(time.Now()), nil
	})
	core, logs := observer.New(zapcore.WarnLevel)
	cfg := OrderSyncSchedulerConfig{Interval: time.Minute, MaxHistory: 10, FailureAlertThreshold: 3}
	s, err := NewOrderSyncScheduler(cfg, runner, nil, zap.New(core))
	require.NoError(t, err)

	s.runCycle(context.Background(), TriggerInterval)
	s.runCycle(context.Background(), TriggerInterval)
	assert.Equal(t, 0, logs.FilterMessage("Order sync failing repeatedly").Len())

	s.runCycle(context.Background(), TriggerInterval)
	warnings := logs.FilterMessage("Order sync failing repeatedly").All()
	require.Len(t, warnings, 1)
	assert.Equal(t, int64(3), warnings[0].ContextMap()["consecutive_failures"])
	assert.Equal(t, "ordersync: order source unavailable", warnings[0].ContextMap()["last_error"])

	fail.Store(false)
	s.runCycle(context.Background(), TriggerInterval)
	fail.Store(true)
	s.runCycle(context.Background(), TriggerInterval)
	assert.Equal(t, 1, logs.FilterMessage("Order sync failing repeatedly").Len())
}

func TestRunFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	log := zap.New(core)

	log.Info("service stopped", RunFields(nil)...)

	summary := integration.NewCycleSummary(time.Now())
	summary.Total = 3
	summary.Record(integration.OutcomeInsert)
	summary.Record(integration.OutcomeUpdate)
	summary.RecordFailure("1001")
	run := newCycleRun(TriggerInterval, time.Now())
	run.Complete(summary, nil, time.Now())
	log.Info("service stopped", RunFields(run)...)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "none", entries[0].ContextMap()["last_run"])

	fields := entries[1].ContextMap()
	assert.Equal(t, run.ID.String(), fields["last_run"])
	assert.Equal(t, "PARTIAL", fields["last_run_status"])
	assert.Equal(t, "interval", fields["last_run_trigger"])
	assert.Equal(t, int64(1), fields["inserted"])
	assert.Equal(t, int64(1), fields["errors"])
	assert.Equal(t, int64(3), fields["total"])
	assert.NotContains(t, fields, "last_run_error")
}

func TestScheduler_HistoryIsBounded(t *testing.T) {
	runner := funcRunner(func(ctx context.Context) (*integration.CycleSummary, error) {
		return integration.NewCycleSummary(time.Now()), nil
	})
	s := newScheduler(t, OrderSyncSchedulerConfig{Interval: time.Minute, MaxHistory: 3}, runner, nil)

	for i := 0; i < 5; i++ {
		s.runCycle(context.Background(), TriggerInterval)
	}
	assert.Len(t, s.GetRunHistory(0), 3)
	assert.Len(t, s.GetRunHistory(2), 2)
}

func TestScheduler_NoHistory(t *testing.T) {
	runner := funcRunner(func(ctx context.Context) (*integration.CycleSummary, error) {
		return integration.NewCycleSummary(time.Now()), nil
	})
	s := newScheduler(t, OrderSyncSchedulerConfig{Interval: time.Minute, MaxHistory: 0}, runner, nil)

	s.runCycle(context.Background(), TriggerInterval)
	assert.Nil(t, s.LastRun())
}

// ---------------------------------------------------------------------------
// Lock Tests
// ---------------------------------------------------------------------------

func TestMemoryCycleLock(t *testing.T) {
	lock := NewMemoryCycleLock()
	ctx := context.Background()

	token, ok, err := lock.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotEmpty(t, token)

	_, ok, err = lock.TryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, lock.Release(ctx, token))
	_, ok, err = lock.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryCycleLock_StaleReleaseKeepsNewHolder(t *testing.T) {
	lock := NewMemoryCycleLock()
	ctx := context.Background()

	first, ok, err := lock.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, lock.Release(ctx, first))

	second, ok, err := lock.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEqual(t, first, second)

	// the first holder releasing again must not free the second acquisition
	require.NoError(t, lock.Release(ctx, first))
	_, ok, err = lock.TryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, lock.Release(ctx, second))
	_, ok, err = lock.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryCycleLock_Concurrent(t *testing.T) {
	lock := NewMemoryCycleLock()
	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, _ := lock.TryAcquire(context.Background()); ok {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), winners.Load())
}
