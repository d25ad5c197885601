// Package jobs runs the scheduled maintenance work: auto-release of
// expired holds, release reminders, and daily reconciliation.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrUnknownJob = errors.New("unknown job")

	// ErrJobRunning rejects a trigger for a job that already has an
	// active run; each job runs at most once at a time.
	ErrJobRunning = errors.New("job already running")
)

// Job is a unit of scheduled work. Run returns a job-specific report
// for logging and the admin API.
type Job interface {
	Name() string
	Run(ctx context.Context) (interface{}, error)
}

// entry tracks one job's daily schedule.
type entry struct {
	job     Job
	at      string // "15:04" UTC
	nextRun time.Time
}

// Scheduler runs each registered job once per day at its configured
// UTC time.
type Scheduler struct {
	mu       sync.Mutex
	entries  []*entry
	inflight map[string]bool
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewScheduler creates an empty scheduler.
func NewScheduler(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		inflight: make(map[string]bool),
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Add registers a job to run daily at the given UTC wall time ("15:04").
func (s *Scheduler) Add(job Job, at string) error {
	if _, err := time.Parse("15:04", at); err != nil {
		return fmt.Errorf("invalid schedule %q for job %s: %w", at, job.Name(), err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, &entry{
		job:     job,
		at:      at,
		nextRun: nextOccurrence(time.Now().UTC(), at),
	})
	return nil
}

// Running reports whether the scheduler loop is actively running.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Start begins the scheduling loop. Call in a goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	s.running.Store(true)
	defer s.running.Store(false)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// Stop signals the scheduler to stop.
func (s *Scheduler) Stop() {
	select {
	case s.stop <- struct{}{}:
	default:
	}
}

// RunNow triggers a job immediately, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) (interface{}, error) {
	s.mu.Lock()
	var target Job
	for _, e := range s.entries {
		if e.job.Name() == name {
			target = e.job
			break
		}
	}
	s.mu.Unlock()

	if target == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.safeRun(ctx, target)
}

// Names lists registered job names.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.entries))
	for i, e := range s.entries {
		names[i] = e.job.Name()
	}
	return names
}

func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now().UTC()

	s.mu.Lock()
	var due []*entry
	for _, e := range s.entries {
		if !now.Before(e.nextRun) {
			due = append(due, e)
			e.nextRun = nextOccurrence(now, e.at)
		}
	}
	s.mu.Unlock()

	for _, e := range due {
		if _, err := s.safeRun(ctx, e.job); err != nil {
			s.logger.Warn("scheduled job failed", "job", e.job.Name(), "error", err)
		}
	}
}

func (s *Scheduler) safeRun(ctx context.Context, job Job) (report interface{}, err error) {
	// One active run per job: a manual trigger that lands while the
	// scheduled run is still going is rejected, not queued.
	s.mu.Lock()
	if s.inflight[job.Name()] {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrJobRunning, job.Name())
	}
	s.inflight[job.Name()] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.inflight, job.Name())
		s.mu.Unlock()
	}()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in job %s: %v", job.Name(), r)
			s.logger.Error("panic in scheduled job", "job", job.Name(), "panic", fmt.Sprint(r))
		}
	}()

	start := time.Now()
	report, err = job.Run(ctx)
	jobDuration.WithLabelValues(job.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		jobFailures.WithLabelValues(job.Name()).Inc()
		return report, err
	}
	jobRuns.WithLabelValues(job.Name()).Inc()
	s.logger.Info("scheduled job completed", "job", job.Name(), "duration", time.Since(start))
	return report, nil
}

// nextOccurrence returns the next UTC instant after now matching the
// "15:04" wall time.
func nextOccurrence(now time.Time, at string) time.Time {
	t, _ := time.Parse("15:04", at)
	next := time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, time.UTC)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
