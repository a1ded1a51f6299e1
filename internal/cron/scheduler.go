// Package cron runs the recurring jobs of `bujo serve` (auto-sync, task
// rollover, database snapshots) on standard 5-field cron expressions.
package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/basket/bujo/internal/persistence"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// Job is a named unit of recurring work. An empty Schedule disables it.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context, now time.Time) error
}

// Config holds the dependencies for the scheduler.
type Config struct {
	Store    *persistence.Store
	Logger   *slog.Logger
	Interval time.Duration // tick interval; defaults to 1 minute if zero
	Clock    func() time.Time
	Jobs     []Job
}

type entry struct {
	job   Job
	sched cronlib.Schedule
	next  time.Time
}

// Scheduler ticks at a fixed interval and runs every job whose next run
// time has passed. Last runs are kept in the store's KV table so a restart
// catches up a missed run once instead of replaying every missed slot.
type Scheduler struct {
	store    *persistence.Store
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex
	entries []*entry

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler validates every enabled job's expression.
func NewScheduler(cfg Config) (*Scheduler, error) {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 1 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	s := &Scheduler{
		store:    cfg.Store,
		logger:   logger,
		interval: interval,
		now:      now,
	}
	for _, job := range cfg.Jobs {
		if job.Schedule == "" {
			logger.Info("cron: job disabled", "job", job.Name)
			continue
		}
		sched, err := cronParser.Parse(job.Schedule)
		if err != nil {
			return nil, fmt.Errorf("cron: job %s: parse %q: %w", job.Name, job.Schedule, err)
		}
		s.entries = append(s.entries, &entry{job: job, sched: sched})
	}
	return s, nil
}

// Jobs returns the names of the enabled jobs.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.job.Name)
	}
	return out
}

// Start begins the scheduler loop. It runs in a background goroutine
// and respects the provided context for shutdown.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("cron scheduler started", "interval", s.interval, "jobs", s.Jobs())
}

// Stop cancels the scheduler loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("cron scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.RunDue(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunDue(ctx)
		}
	}
}

// RunDue runs every job that is due at the scheduler's current time and
// returns the names of the jobs it ran. A failing job is logged and
// rescheduled like a successful one.
func (s *Scheduler) RunDue(ctx context.Context) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var fired []string
	for _, e := range s.entries {
		if e.next.IsZero() {
			e.next = s.initialNext(ctx, e, now)
		}
		if now.Before(e.next) {
			continue
		}
		s.fire(ctx, e, now)
		fired = append(fired, e.job.Name)
	}
	return fired
}

func (s *Scheduler) initialNext(ctx context.Context, e *entry, now time.Time) time.Time {
	if s.store != nil {
		raw, err := s.store.KVGet(ctx, lastRunKey(e.job.Name))
		if err != nil {
			s.logger.Warn("cron: read last run failed", "job", e.job.Name, "error", err)
		} else if last, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			return e.sched.Next(last)
		}
	}
	return e.sched.Next(now)
}

func (s *Scheduler) fire(ctx context.Context, e *entry, now time.Time) {
	start := time.Now()
	err := e.job.Run(ctx, now)
	e.next = e.sched.Next(now)

	if s.store != nil {
		if kvErr := s.store.KVSet(ctx, lastRunKey(e.job.Name), now.UTC().Format(time.RFC3339Nano)); kvErr != nil {
			s.logger.Warn("cron: record last run failed", "job", e.job.Name, "error", kvErr)
		}
	}

	if err != nil {
		s.logger.Error("cron: job failed",
			"job", e.job.Name,
			"duration_ms", time.Since(start).Milliseconds(),
			"next_run_at", e.next,
			"error", err,
		)
		return
	}
	s.logger.Info("cron: job completed",
		"job", e.job.Name,
		"duration_ms", time.Since(start).Milliseconds(),
		"next_run_at", e.next,
	)
}

func lastRunKey(name string) string {
	return "cron:last:" + name
}

// NextRunTime parses the cron expression and returns the next run time after the given time.
func NextRunTime(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}
