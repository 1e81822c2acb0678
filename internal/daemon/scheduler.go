package daemon

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/pagebaker/internal/bake"
	"git.home.luguber.info/inful/pagebaker/internal/logfields"
)

// Scheduler wraps gocron for periodic full rebuilds.
type Scheduler struct {
	scheduler gocron.Scheduler
	build     func(ctx context.Context, trigger bake.Trigger, views []string) (*bake.Report, error)
}

// NewScheduler creates a scheduler that calls build on each tick.
func NewScheduler(build func(ctx context.Context, trigger bake.Trigger, views []string) (*bake.Report, error)) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	return &Scheduler{scheduler: s, build: build}, nil
}

// Start begins the scheduler.
func (s *Scheduler) Start(ctx context.Context) {
	slog.InfoContext(ctx, "Starting scheduler")
	s.scheduler.Start()
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	slog.InfoContext(ctx, "Stopping scheduler")
	return s.scheduler.Shutdown()
}

// ScheduleRebuild registers a full rebuild of the configured views on a
// five-field cron expression and returns the job id.
func (s *Scheduler) ScheduleRebuild(ctx context.Context, cron string) (string, error) {
	job, err := s.scheduler.NewJob(
		gocron.CronJob(cron, false),
		gocron.NewTask(s.executeRebuild, ctx),
		gocron.WithName("full-rebuild"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create rebuild job: %w", err)
	}
	return job.ID().String(), nil
}

// Jobs returns the number of registered jobs.
func (s *Scheduler) Jobs() int { return len(s.scheduler.Jobs()) }

func (s *Scheduler) executeRebuild(ctx context.Context) {
	report, err := s.build(ctx, bake.TriggerSchedule, nil)
	if err != nil {
		slog.ErrorContext(ctx, "Scheduled rebuild failed", logfields.Error(err))
		return
	}
	slog.InfoContext(ctx, "Scheduled rebuild complete",
		logfields.RunID(report.RunID),
		slog.Int("built", report.Built),
		slog.Int("skipped", report.Skipped))
}
