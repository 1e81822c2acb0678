package config

import (
	"errors"
	"time"

	"github.com/go-co-op/gocron/v2"

	ferrors "git.home.luguber.info/inful/pagebaker/internal/foundation/errors"
)

// Validate checks a normalized, defaulted configuration. All problems are
// reported together.
func Validate(cfg *Config) error {
	var errs []error
	add := func(field, msg string, value any) {
		errs = append(errs, ferrors.ConfigError(msg).WithContext("field", field).WithContext("value", value).Build())
	}

	if len(cfg.Bakery.Views) == 0 {
		add("bakery.views", "at least one buildable view is required", cfg.Bakery.Views)
	}
	switch cfg.Queue.Mode {
	case QueueModeSync, QueueModeLocal, QueueModeNATS:
	default:
		add("queue.mode", "queue mode must be sync, local or nats", cfg.Queue.Mode)
	}
	for _, d := range []struct{ field, raw string }{
		{"queue.retry.initial_delay", cfg.Queue.Retry.InitialDelay},
		{"queue.retry.max_delay", cfg.Queue.Retry.MaxDelay},
		{"queue.nats.ack_wait", cfg.Queue.NATS.AckWait},
	} {
		if v, err := time.ParseDuration(d.raw); err != nil || v <= 0 {
			add(d.field, "must be a positive duration", d.raw)
		}
	}
	if cfg.Daemon.RebuildSchedule != "" {
		if err := validateCron(cfg.Daemon.RebuildSchedule); err != nil {
			add("daemon.rebuild_schedule", "invalid cron expression", cfg.Daemon.RebuildSchedule)
		}
	}
	if cfg.Daemon.JournalRetention < 0 {
		add("daemon.journal_retention", "must not be negative", cfg.Daemon.JournalRetention)
	}
	names := make(map[string]bool)
	defaults := 0
	for _, s := range cfg.Site.Sites {
		if s.Hostname == "" {
			add("site.sites.hostname", "site hostname is required", s.Name)
		}
		if names[s.Name] {
			add("site.sites.name", "duplicate site name", s.Name)
		}
		names[s.Name] = true
		if s.Default {
			defaults++
		}
	}
	if defaults > 1 {
		add("site.sites.default", "only one site can be the default", defaults)
	}
	return errors.Join(errs...)
}

// validateCron parses expr the way the daemon scheduler will.
func validateCron(expr string) error {
	s, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	defer func() { _ = s.Shutdown() }()
	_, err = s.NewJob(gocron.CronJob(expr, false), gocron.NewTask(func() {}))
	return err
}

// Durations returns the parsed retry and ack durations. Validate has already
// checked them.
func (q QueueConfig) Durations() (initial, maxDelay, ackWait time.Duration) {
	initial, _ = time.ParseDuration(q.Retry.InitialDelay)
	maxDelay, _ = time.ParseDuration(q.Retry.MaxDelay)
	ackWait, _ = time.ParseDuration(q.NATS.AckWait)
	return initial, maxDelay, ackWait
}
