// Package scheduler owns job execution: it polls the job store and hands the
// oldest queued job to the executor, one at a time.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/suPer8Hu/intelliavatar/internal/job"
)

const DefaultInterval = 5 * time.Second

// Executor runs one job to a terminal state. It returns false when the job
// could not be started.
type Executor interface {
	Execute(ctx context.Context, j *job.Job) bool
}

// Outcome is what a single poll did.
type Outcome int

const (
	Idle    Outcome = iota // queue empty
	Waiting                // another job is IN_PROGRESS
	Ran                    // one job executed to a terminal state
	Errored                // the store could not be read or the job not started
)

// Scheduler runs jobs synchronously so that at most one is ever in flight.
// Only one Scheduler may run against a given store.
type Scheduler struct {
	jobs     job.Store
	exec     Executor
	interval time.Duration
	logger   *slog.Logger

	// waiting is set while polls keep finding an IN_PROGRESS job; log lines
	// are emitted only when it flips.
	waiting bool

	sleep func(ctx context.Context, d time.Duration) bool
}

func New(jobs job.Store, exec Executor, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		jobs:     jobs,
		exec:     exec,
		interval: interval,
		logger:   logger,
		sleep:    sleepCtx,
	}
}

// Run polls until ctx is cancelled. Cancellation is only observed between
// polls; a running job is never interrupted by the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.interval)
	for {
		if s.Step(ctx) == Ran && ctx.Err() == nil {
			continue
		}
		if !s.sleep(ctx, s.interval) {
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		}
	}
}

// Step performs one poll.
func (s *Scheduler) Step(ctx context.Context) Outcome {
	busy, err := s.jobs.HasInProgress(ctx)
	if err != nil {
		s.logger.Error("poll: in-progress check failed", "err", err)
		return Errored
	}
	if busy {
		if !s.waiting {
			s.waiting = true
			s.logger.Info("a job is in progress, waiting")
		}
		return Waiting
	}
	if s.waiting {
		s.waiting = false
		s.logger.Info("in-progress job finished, resuming")
	}

	j, err := s.jobs.FetchOldestQueued(ctx)
	if err != nil {
		s.logger.Error("poll: fetch queued job failed", "err", err)
		return Errored
	}
	if j == nil {
		return Idle
	}

	s.logger.Info("dispatching job", "job_id", j.ID, "feature", j.Feature)
	// a job runs to completion even after shutdown is requested
	if !s.exec.Execute(context.WithoutCancel(ctx), j) {
		return Errored
	}
	return Ran
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
