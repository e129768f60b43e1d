// Package jobs runs the periodic maintenance work: expiry sweeps, idle
// detection, session cleanup and storage health checks.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
)

// Job is one periodic task
type Job struct {
	Name     string
	Interval time.Duration
	// Timeout bounds a single run; zero means the interval
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// Scheduler runs jobs on their intervals. A run that overlaps the previous
// one is skipped rather than queued.
type Scheduler struct {
	sched  gocron.Scheduler
	logger *slog.Logger
}

// New registers the jobs on a scheduler driven by clk. Jobs with a zero
// interval are left out.
func New(clk clockwork.Clock, jobs []Job, logger *slog.Logger) (*Scheduler, error) {
	logger = logger.With(slog.String("component", "jobs"))

	sched, err := gocron.NewScheduler(
		gocron.WithClock(clk),
		gocron.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	s := &Scheduler{sched: sched, logger: logger}
	for _, job := range jobs {
		if job.Interval <= 0 {
			logger.Info("job disabled", slog.String("job", job.Name))
			continue
		}
		if _, err := sched.NewJob(
			gocron.DurationJob(job.Interval),
			gocron.NewTask(s.wrap(job)),
			gocron.WithName(job.Name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		); err != nil {
			_ = sched.Shutdown()
			return nil, fmt.Errorf("register job %s: %w", job.Name, err)
		}
	}
	return s, nil
}

func (s *Scheduler) wrap(job Job) func() {
	timeout := job.Timeout
	if timeout <= 0 {
		timeout = job.Interval
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		start := time.Now()
		if err := job.Run(ctx); err != nil {
			s.logger.Error("job failed",
				slog.String("job", job.Name),
				slog.String("error", err.Error()),
				slog.Duration("elapsed", time.Since(start)))
			return
		}
		s.logger.Debug("job finished",
			slog.String("job", job.Name),
			slog.Duration("elapsed", time.Since(start)))
	}
}

// JobNames returns the names of the registered jobs
func (s *Scheduler) JobNames() []string {
	jobs := s.sched.Jobs()
	names := make([]string, 0, len(jobs))
	for _, j := range jobs {
		names = append(names, j.Name())
	}
	return names
}

// Start begins running jobs
func (s *Scheduler) Start() {
	s.sched.Start()
	s.logger.Info("scheduler started", slog.Int("jobs", len(s.sched.Jobs())))
}

// Shutdown stops the scheduler and waits for running jobs to finish
func (s *Scheduler) Shutdown() error {
	return s.sched.Shutdown()
}
