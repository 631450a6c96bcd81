package services

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"car-watchdog/metrics"
	"car-watchdog/models"
	"car-watchdog/utils"
)

// CycleRunner runs one ingestion cycle for a source.
type CycleRunner interface {
	RunCycle(ctx context.Context, source models.Source) CycleResult
}

// Scheduler polls every configured source on its own interval. A cycle is
// always followed by the next one, whatever its outcome.
type Scheduler struct {
	runner    CycleRunner
	intervals map[models.Source]time.Duration
	logger    *utils.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	loops   sync.WaitGroup
	cycles  sync.WaitGroup
	started bool
}

// NewScheduler creates a Scheduler. Sources without a positive interval are
// not polled.
func NewScheduler(runner CycleRunner, intervals map[models.Source]time.Duration, logger *utils.Logger) *Scheduler {
	return &Scheduler{
		runner:    runner,
		intervals: intervals,
		logger:    logger.Named("scheduler"),
	}
}

// Start launches one polling loop per source. The first cycle runs
// immediately. Calling Start twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)

	for _, source := range models.Sources {
		interval, ok := s.intervals[source]
		if !ok || interval <= 0 {
			continue
		}
		s.loops.Add(1)
		go s.loop(s.ctx, source, interval)
		s.logger.Info("Polling %s every %v", source, interval)
	}
}

// Stop cancels scheduling and waits for in-flight cycles to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.mu.Unlock()

	s.loops.Wait()
	s.cycles.Wait()
	s.logger.Info("Stopped")
}

// TriggerNow starts an extra cycle for source outside its schedule. It may
// overlap a scheduled cycle of the same source.
func (s *Scheduler) TriggerNow(source models.Source) error {
	if !source.Valid() {
		return fmt.Errorf("scheduler: unknown source %q", source)
	}

	s.mu.Lock()
	if s.started && s.ctx.Err() != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler: stopped")
	}
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	s.cycles.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.cycles.Done()
		s.runCycle(ctx, source)
	}()
	return nil
}

func (s *Scheduler) loop(ctx context.Context, source models.Source, interval time.Duration) {
	defer s.loops.Done()

	for {
		s.cycles.Add(1)
		s.runCycle(ctx, source)
		s.cycles.Done()

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// runCycle runs one cycle to completion even if ctx is cancelled meanwhile,
// and turns a panic into a logged failure.
func (s *Scheduler) runCycle(ctx context.Context, source models.Source) {
	defer func() {
		if r := recover(); r != nil {
			metrics.CycleTotal.WithLabelValues(string(source), "panic").Inc()
			s.logger.Error("%s cycle panicked: %v\n%s", source, r, debug.Stack())
		}
	}()

	s.runner.RunCycle(context.WithoutCancel(ctx), source)
}
