// Package maintenance runs the orchestrator's periodic background jobs:
// registry health sweeps, idempotency record expiry, and rate-limiter
// bucket eviction. Schedules are standard 5-field cron expressions,
// adapted from the upstream scheduler's use of robfig/cron for computing
// next-run times.
package maintenance

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// Job is a named unit of periodic work.
type Job struct {
	Name     string
	CronExpr string
	Run      func(ctx context.Context) error
}

// Config holds the scheduler's dependencies.
type Config struct {
	Jobs   []Job
	Logger *slog.Logger
	// PollInterval controls how often the scheduler checks whether any
	// job is due; it does not need to be finer than a second.
	PollInterval time.Duration
}

// Scheduler fires each configured Job when its cron expression is due.
type Scheduler struct {
	jobs     []scheduledJob
	logger   *slog.Logger
	interval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type scheduledJob struct {
	Job
	schedule cronlib.Schedule
	nextRun  time.Time
}

// New builds a Scheduler from cfg. Jobs with an unparseable CronExpr are
// dropped with a log error rather than failing construction.
func New(cfg Config) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = time.Second
	}

	now := time.Now()
	jobs := make([]scheduledJob, 0, len(cfg.Jobs))
	for _, j := range cfg.Jobs {
		sched, err := cronParser.Parse(j.CronExpr)
		if err != nil {
			logger.Error("maintenance: invalid cron expression, dropping job", "job", j.Name, "expr", j.CronExpr, "error", err)
			continue
		}
		jobs = append(jobs, scheduledJob{Job: j, schedule: sched, nextRun: sched.Next(now)})
	}

	return &Scheduler{jobs: jobs, logger: logger, interval: interval}
}

// Start runs the scheduler loop in a background goroutine until ctx is
// cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("maintenance scheduler started", "jobs", len(s.jobs))
}

// Stop cancels the scheduler loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now()
	for i := range s.jobs {
		j := &s.jobs[i]
		if now.Before(j.nextRun) {
			continue
		}
		if err := j.Run(ctx); err != nil {
			s.logger.Error("maintenance: job failed", "job", j.Name, "error", err)
		}
		j.nextRun = j.schedule.Next(now)
	}
}
