// Package application contains the test gate: settings derivation, build
// triggering, job aggregation, request orchestration and their scheduling.
package application

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// PassRunner runs one orchestrator pass.
type PassRunner interface {
	RunPass(ctx context.Context) (PassSummary, error)
}

// runRequest represents a manual pass trigger.
type runRequest struct {
	done chan runResult
}

type runResult struct {
	summary PassSummary
	err     error
}

// Scheduler re-invokes the orchestrator: passes never block on test results,
// they end and get run again later. Only one pass runs at a time.
type Scheduler struct {
	runner   PassRunner
	interval time.Duration
	runCh    chan runRequest
	now      func() time.Time

	mu      sync.RWMutex
	last    *PassSummary
	lastErr error
	next    time.Time
}

// NewScheduler creates a Scheduler that runs passes every interval while
// idle and more often while results are awaited.
func NewScheduler(runner PassRunner, interval time.Duration) *Scheduler {
	return &Scheduler{
		runner:   runner,
		interval: interval,
		runCh:    make(chan runRequest),
		now:      time.Now,
	}
}

// Start runs an immediate pass, then keeps running passes at the adaptive
// cadence. It also serves manual RunNow requests. Start blocks until the
// context is canceled.
func (s *Scheduler) Start(ctx context.Context) {
	timer := time.NewTimer(s.runOnce(ctx))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-timer.C:
			timer.Reset(s.runOnce(ctx))
		case req := <-s.runCh:
			wait := s.runOnce(ctx)
			s.mu.RLock()
			req.done <- runResult{summary: *s.last, err: s.lastErr}
			s.mu.RUnlock()
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(wait)
		}
	}
}

// RunNow runs a pass outside the cadence and returns its summary. It blocks
// until the pass completes or the context is canceled.
func (s *Scheduler) RunNow(ctx context.Context) (PassSummary, error) {
	req := runRequest{done: make(chan runResult, 1)}

	select {
	case s.runCh <- req:
	case <-ctx.Done():
		return PassSummary{}, ctx.Err()
	}

	select {
	case res := <-req.done:
		return res.summary, res.err
	case <-ctx.Done():
		return PassSummary{}, ctx.Err()
	}
}

// Last returns the summary of the most recent pass, if any. Aborted passes
// carry their error in PassSummary.Err.
func (s *Scheduler) Last() (PassSummary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return PassSummary{}, false
	}
	return *s.last, true
}

// NextRun returns when the next scheduled pass starts.
func (s *Scheduler) NextRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.next
}

// runOnce runs a pass and returns the wait until the next one.
func (s *Scheduler) runOnce(ctx context.Context) time.Duration {
	summary, err := s.runner.RunPass(ctx)
	if err != nil {
		slog.Error("pass failed", "pass", summary.ID, "error", err)
	}

	cadence := classifyPass(summary, err)
	wait := cadenceInterval(cadence, s.interval)

	s.mu.Lock()
	s.last = &summary
	s.lastErr = err
	s.next = s.now().Add(wait)
	s.mu.Unlock()

	slog.Debug("next pass scheduled", "cadence", cadence, "in", wait)
	return wait
}
