package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/erp/sfagent/internal/domain/integration"
)

// ---------------------------------------------------------------------------
// Cycle Run Types
// ---------------------------------------------------------------------------

// Trigger tells what started a cycle
type Trigger string

const (
	TriggerStartup  Trigger = "startup"
	TriggerInterval Trigger = "interval"
)

// CycleRun records one scheduled cycle attempt
type CycleRun struct {
	ID          uuid.UUID
	Trigger     Trigger
	Status      integration.CycleStatus
	StartedAt   time.Time
	CompletedAt time.Time
	Error       string

	// Summary is nil for skipped runs
	Summary *integration.CycleSummary
}

// newCycleRun creates a run started at now
func newCycleRun(trigger Trigger, now time.Time) *CycleRun {
	return &CycleRun{
		ID:        uuid.New(),
		Trigger:   trigger,
		StartedAt: now,
	}
}

// Complete records the runner result
func (r *CycleRun) Complete(summary *integration.CycleSummary, err error, now time.Time) {
	r.Summary = summary
	r.CompletedAt = now
	switch {
	case err != nil:
		r.Status = integration.CycleStatusFailed
		r.Error = err.Error()
	case summary != nil:
		r.Status = summary.Status()
	default:
		r.Status = integration.CycleStatusSuccess
	}
}

// Skip marks the run as skipped
func (r *CycleRun) Skip(reason string, now time.Time) {
	r.Status = integration.CycleStatusSkipped
	r.CompletedAt = now
	r.Error = reason
}

// RunFields describes a run as log fields; a nil run yields a single "last_run" marker
func RunFields(r *CycleRun) []zap.Field {
	if r == nil {
		return []zap.Field{zap.String("last_run", "none")}
	}
	fields := []zap.Field{
		zap.String("last_run", r.ID.String()),
		zap.String("last_run_trigger", string(r.Trigger)),
		zap.String("last_run_status", r.Status.String()),
		zap.Time("last_run_completed_at", r.CompletedAt),
	}
	if r.Error != "" {
		fields = append(fields, zap.String("last_run_error", r.Error))
	}
	if r.Summary != nil {
		fields = append(fields,
			zap.Int("inserted", r.Summary.Inserted),
			zap.Int("updated", r.Summary.Updated),
			zap.Int("errors", r.Summary.Errors),
			zap.Int("total", r.Summary.Total),
		)
	}
	return fields
}

// ---------------------------------------------------------------------------
// CycleRunner Interface
// ---------------------------------------------------------------------------

// CycleRunner executes one sync cycle
type CycleRunner interface {
	RunCycle(ctx context.Context) (*integration.CycleSummary, error)
}

// ---------------------------------------------------------------------------
// OrderSyncSchedulerConfig
// ---------------------------------------------------------------------------

// OrderSyncSchedulerConfig holds configuration for the order sync scheduler
type OrderSyncSchedulerConfig struct {
	// Interval is the time between two ticks
	Interval time.Duration
	// RunOnStart runs one cycle immediately when the scheduler starts
	RunOnStart bool
	// MaxHistory bounds the in-memory run history
	MaxHistory int
	// FailureAlertThreshold is the number of consecutive FAILED runs that triggers a warning; 0 disables it
	FailureAlertThreshold int
}

// DefaultOrderSyncSchedulerConfig returns default configuration
func DefaultOrderSyncSchedulerConfig() OrderSyncSchedulerConfig {
	return OrderSyncSchedulerConfig{
		Interval:              5 * time.Minute,
		RunOnStart:            true,
		MaxHistory:            100,
		FailureAlertThreshold: 3,
	}
}

// Validate validates the configuration
func (c *OrderSyncSchedulerConfig) Validate() error {
	if c.Interval <= 0 {
		return ErrInvalidConfig
	}
	if c.MaxHistory < 0 || c.FailureAlertThreshold < 0 {
		return ErrInvalidConfig
	}
	if c.FailureAlertThreshold > c.MaxHistory {
		return ErrInvalidConfig
	}
	return nil
}

// ---------------------------------------------------------------------------
// OrderSyncScheduler
// ---------------------------------------------------------------------------

// OrderSyncScheduler runs the sync cycle at startup and then on a fixed interval.
// A tick that fires while a cycle is still running is skipped, never queued.
type OrderSyncScheduler struct {
	config OrderSyncSchedulerConfig
	runner CycleRunner
	lock   CycleLock
	logger *zap.Logger
	now    func() time.Time

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool

	// Run history for monitoring (in-memory, limited size)
	historyMu sync.RWMutex
	history   []*CycleRun
}

// NewOrderSyncScheduler creates a new order sync scheduler. A nil lock defaults to a MemoryCycleLock.
func NewOrderSyncScheduler(config OrderSyncSchedulerConfig, runner CycleRunner, lock CycleLock, logger *zap.Logger) (*OrderSyncScheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if runner == nil {
		return nil, ErrRunnerNil
	}
	if lock == nil {
		lock = NewMemoryCycleLock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &OrderSyncScheduler{
		config:  config,
		runner:  runner,
		lock:    lock,
		logger:  logger,
		now:     time.Now,
		history: make([]*CycleRun, 0, config.MaxHistory),
	}, nil
}

// Start starts the scheduler and returns without waiting for the first cycle
func (s *OrderSyncScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	go s.loop(ctx)

	s.logger.Info("Order sync scheduler started",
		zap.Duration("interval", s.config.Interval),
		zap.Bool("run_on_start", s.config.RunOnStart),
	)
	return nil
}

// Stop stops the ticker and waits for an in-flight cycle until ctx is done.
// The in-flight cycle itself is never cancelled.
func (s *OrderSyncScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Order sync scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Order sync scheduler stop timed out, cycle still running")
		return ctx.Err()
	}
}

// loop drives the ticker until ctx is cancelled
func (s *OrderSyncScheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	if s.config.RunOnStart {
		s.dispatch(ctx, TriggerStartup)
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("Order sync scheduler loop stopping")
			return
		case <-ticker.C:
			s.dispatch(ctx, TriggerInterval)
		}
	}
}

// dispatch runs a cycle in the background on a context detached from the stop signal
func (s *OrderSyncScheduler) dispatch(ctx context.Context, trigger Trigger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runCycle(context.WithoutCancel(ctx), trigger)
	}()
}

// runCycle runs one cycle unless another one holds the lock
func (s *OrderSyncScheduler) runCycle(ctx context.Context, trigger Trigger) {
	run := newCycleRun(trigger, s.now())

	token, acquired, err := s.lock.TryAcquire(ctx)
	if err != nil {
		run.Skip(err.Error(), s.now())
		s.logger.Warn("cycle skipped: lock unavailable",
			zap.String("trigger", string(trigger)),
			zap.Error(err),
		)
		s.addToHistory(run)
		return
	}
	if !acquired {
		run.Skip("previous cycle still running", s.now())
		s.logger.Info("cycle skipped: previous cycle still running",
			zap.String("trigger", string(trigger)),
		)
		s.addToHistory(run)
		return
	}
	defer func() {
		if err := s.lock.Release(ctx, token); err != nil {
			s.logger.Warn("Failed to release cycle lock", zap.Error(err))
		}
	}()

	summary, err := s.invoke(ctx)
	run.Complete(summary, err, s.now())

	if err != nil {
		s.logger.Error("Order sync cycle failed",
			zap.String("run_id", run.ID.String()),
			zap.String("trigger", string(trigger)),
			zap.Error(err),
		)
	} else {
		s.logger.Debug("Order sync cycle completed",
			zap.String("run_id", run.ID.String()),
			zap.String("trigger", string(trigger)),
			zap.String("status", run.Status.String()),
		)
	}

	s.addToHistory(run)
	s.warnOnRepeatedFailures()
}

// invoke calls the runner and turns a panic into an error
func (s *OrderSyncScheduler) invoke(ctx context.Context) (summary *integration.CycleSummary, err error) {
	defer func() {
		if r := recover(); r != nil {
			summary = nil
			err = fmt.Errorf("%w: %v", ErrCyclePanicked, r)
		}
	}()
	return s.runner.RunCycle(ctx)
}

// warnOnRepeatedFailures warns once the latest runs are all FAILED
func (s *OrderSyncScheduler) warnOnRepeatedFailures() {
	if s.config.FailureAlertThreshold <= 0 {
		return
	}

	failed := 0
	for _, run := range s.GetRunHistory(s.config.FailureAlertThreshold) {
		if run.Status != integration.CycleStatusFailed {
			break
		}
		failed++
	}
	if failed < s.config.FailureAlertThreshold {
		return
	}

	last := s.LastRun()
	s.logger.Warn("Order sync failing repeatedly",
		zap.Int("consecutive_failures", failed),
		zap.String("last_error", last.Error),
	)
}

// addToHistory adds a finished run to history
func (s *OrderSyncScheduler) addToHistory(run *CycleRun) {
	if s.config.MaxHistory == 0 {
		return
	}

	s.historyMu.Lock()
	defer s.historyMu.Unlock()

	// Add to front
	s.history = append([]*CycleRun{run}, s.history...)

	// Trim if over limit
	if len(s.history) > s.config.MaxHistory {
		s.history = s.history[:s.config.MaxHistory]
	}
}

// GetRunHistory returns recent runs, newest first
func (s *OrderSyncScheduler) GetRunHistory(limit int) []*CycleRun {
	s.historyMu.RLock()
	defer s.historyMu.RUnlock()

	if limit <= 0 || limit > len(s.history) {
		limit = len(s.history)
	}

	result := make([]*CycleRun, limit)
	copy(result, s.history[:limit])
	return result
}

// LastRun returns the most recent run, or nil
func (s *OrderSyncScheduler) LastRun() *CycleRun {
	s.historyMu.RLock()
	defer s.historyMu.RUnlock()

	if len(s.history) == 0 {
		return nil
	}
	return s.history[0]
}
