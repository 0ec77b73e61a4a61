package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"leadgen-outreach-go/internal/config"
	"leadgen-outreach-go/internal/metrics"
	"leadgen-outreach-go/internal/model"
	"leadgen-outreach-go/internal/repository"
)

// Executor delivers one claimed message
type Executor interface {
	Execute(ctx context.Context, msg *model.OutreachMessage) (model.Outcome, error)
}

// TickResult summarizes one delivery tick
type TickResult struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Claimed   int           `json:"claimed"`
	Sent      int           `json:"sent"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Errors    int           `json:"errors"`
	Paused    bool          `json:"paused,omitempty"`
}

// Scheduler runs the periodic delivery tick
type Scheduler struct {
	cron       *cron.Cron
	entryID    cron.EntryID
	config     *config.SchedulerConfig
	store      repository.OutreachStore
	executor   Executor
	metrics    *metrics.Metrics
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	isRunning  bool
	mu         sync.RWMutex
	lifecycle  sync.Mutex
	tickMu     sync.Mutex
	resultMu   sync.Mutex
	lastResult *TickResult
	now        func() time.Time
	disabled   atomic.Bool
}

// NewScheduler creates a new scheduler
func NewScheduler(cfg *config.SchedulerConfig, store repository.OutreachStore, executor Executor, m *metrics.Metrics) *Scheduler {
	logger := cron.PrintfLogger(logrus.StandardLogger())
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		config:   cfg,
		store:    store,
		executor: executor,
		metrics:  m,
		now:      time.Now,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("scheduler is already running")
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())

	schedule := fmt.Sprintf("@every %s", s.config.Interval)
	entryID, err := s.cron.AddFunc(schedule, s.processDue)
	if err != nil {
		s.cancel()
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.entryID = entryID
	s.cron.Start()
	s.isRunning = true

	logrus.Infof("Scheduler started with interval: %s, batch size: %d", s.config.Interval, s.config.BatchSize)
	return nil
}

// Stop stops the scheduler. An in-flight tick finishes its current message;
// messages it claimed but did not reach are reclaimed after the lease.
func (s *Scheduler) Stop() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	cancel, entryID := s.cancel, s.entryID
	s.mu.Unlock()

	cancel()
	s.cron.Remove(entryID)
	ctx := s.cron.Stop()

	select {
	case <-ctx.Done():
		logrus.Info("Scheduler stopped gracefully")
	case <-time.After(30 * time.Second):
		logrus.Warn("Scheduler stop timeout, forcing shutdown")
	}
	return nil
}

// SetSendingEnabled pauses or resumes claiming. A paused tick leaves due messages scheduled.
func (s *Scheduler) SetSendingEnabled(enabled bool) {
	s.disabled.Store(!enabled)
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

func (s *Scheduler) processDue() {
	s.wg.Add(1)
	defer s.wg.Done()

	s.mu.RLock()
	if !s.isRunning {
		s.mu.RUnlock()
		logrus.Info("Scheduler not running, skipping delivery tick")
		return
	}
	ctx := s.ctx
	s.mu.RUnlock()

	if _, err := s.tick(ctx); err != nil {
		logrus.Errorf("Delivery tick failed: %v", err)
	}
}

// RunOnce runs one delivery tick synchronously
func (s *Scheduler) RunOnce(ctx context.Context) (TickResult, error) {
	s.wg.Add(1)
	defer s.wg.Done()

	logrus.Info("Running delivery tick once")
	return s.tick(ctx)
}

func (s *Scheduler) tick(ctx context.Context) (TickResult, error) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	result := TickResult{StartedAt: s.now()}
	defer func() {
		result.Duration = time.Since(result.StartedAt)
		if s.metrics != nil {
			s.metrics.TickDuration.Observe(result.Duration.Seconds())
		}
		s.resultMu.Lock()
		r := result
		s.lastResult = &r
		s.resultMu.Unlock()
	}()

	if s.disabled.Load() {
		result.Paused = true
		logrus.Info("Email sending disabled, leaving due messages scheduled")
		return result, nil
	}

	claimed, err := s.store.ClaimDue(ctx, s.now(), s.config.BatchSize, s.config.ClaimLease)
	if err != nil {
		return result, fmt.Errorf("failed to claim due messages: %w", err)
	}
	result.Claimed = len(claimed)
	if len(claimed) == 0 {
		logrus.Debug("No outreach messages due")
		return result, nil
	}
	if s.metrics != nil {
		s.metrics.Claimed.Add(float64(len(claimed)))
	}
	logrus.Infof("Claimed %d due outreach messages", len(claimed))

	for i, msg := range claimed {
		if ctx.Err() != nil {
			logrus.Warnf("Tick cancelled, %d claimed messages left for lease recovery", len(claimed)-i)
			break
		}
		outcome, err := s.executor.Execute(ctx, msg)
		if err != nil {
			result.Errors++
			logrus.WithField("outreach_id", msg.ID).Errorf("Failed to deliver outreach message: %v", err)
			continue
		}
		switch outcome.Status {
		case model.StatusSent:
			result.Sent++
		case model.StatusFailed:
			result.Failed++
		case model.StatusSkipped:
			result.Skipped++
		}
	}

	logrus.Infof("Delivery tick completed in %v: sent=%d failed=%d skipped=%d errors=%d",
		time.Since(result.StartedAt), result.Sent, result.Failed, result.Skipped, result.Errors)
	return result, nil
}

// GetNextRun returns the time of the next scheduled run
func (s *Scheduler) GetNextRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.isRunning {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// GetLastRun returns the time of the last run
func (s *Scheduler) GetLastRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.isRunning {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Prev
}

// LastResult returns the summary of the most recent tick, if any
func (s *Scheduler) LastResult() *TickResult {
	s.resultMu.Lock()
	defer s.resultMu.Unlock()
	if s.lastResult == nil {
		return nil
	}
	r := *s.lastResult
	return &r
}

// Interval returns the configured tick interval
func (s *Scheduler) Interval() time.Duration {
	return s.config.Interval
}

// Wait waits for running ticks to finish
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
