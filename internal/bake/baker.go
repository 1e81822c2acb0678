package bake

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/pagebaker/internal/content"
	"git.home.luguber.info/inful/pagebaker/internal/logfields"
	"git.home.luguber.info/inful/pagebaker/internal/metrics"
	"git.home.luguber.info/inful/pagebaker/internal/observability"
)

// Action is a page lifecycle event.
type Action string

const (
	ActionPublish   Action = "publish"
	ActionUnpublish Action = "unpublish"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	return a == ActionPublish || a == ActionUnpublish
}

// Baker drives one run per event: load the page, bind it, and hand it to the
// Listener. Synchronous dispatch and queue workers share it.
type Baker struct {
	loader   Loader
	binder   *Binder
	listener *Listener
	journal  Journal
	recorder metrics.Recorder
}

// NewBaker wires a Baker. journal and recorder may be nil.
func NewBaker(loader Loader, binder *Binder, listener *Listener, journal Journal, recorder metrics.Recorder) *Baker {
	if journal == nil {
		journal = nopJournal{}
	}
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &Baker{loader: loader, binder: binder, listener: listener, journal: journal, recorder: recorder}
}

// Binder returns the binder used for every run.
func (b *Baker) Binder() *Binder { return b.binder }

// Handle reloads key and runs the publish or unpublish sequence in a fresh run.
func (b *Baker) Handle(ctx context.Context, action Action, key content.Key) (*Run, error) {
	if !action.Valid() {
		return nil, fmt.Errorf("unknown action %q", action)
	}
	trigger := TriggerPublish
	if action == ActionUnpublish {
		trigger = TriggerUnpublish
	}
	run := NewRun(trigger)
	ctx = observability.WithRun(ctx, run.ID, string(trigger))
	b.start(ctx, run, key)

	node, err := b.loader.Load(ctx, key)
	if err != nil {
		b.finish(ctx, run, err)
		return run, err
	}
	bound := b.binder.Bind(node)
	if action == ActionPublish {
		err = b.listener.OnPublish(ctx, run, bound)
	} else {
		err = b.listener.OnUnpublish(ctx, run, bound)
	}
	b.finish(ctx, run, err)
	return run, err
}

// Build runs a full build of views in a fresh run.
func (b *Baker) Build(ctx context.Context, trigger Trigger, views []string) (*Report, error) {
	if len(views) == 0 {
		views = b.binder.Views()
	}
	run := NewRun(trigger)
	ctx = observability.WithRun(ctx, run.ID, string(trigger))
	b.start(ctx, run, content.Key{})
	report, err := FullBuild(ctx, run, b.loader, b.binder, views)
	b.finish(ctx, run, err)
	if err == nil {
		slog.InfoContext(ctx, "Full build complete",
			logfields.RunID(run.ID),
			slog.Int("pages", report.Pages),
			slog.Int("built", report.Built),
			slog.Int("skipped", report.Skipped),
			logfields.DurationMS(float64(report.Duration.Microseconds())/1000))
	}
	return report, err
}

func (b *Baker) start(ctx context.Context, run *Run, key content.Key) {
	if err := b.journal.Record(ctx, run, Entry{Kind: EntryRunStarted, Key: key}); err != nil {
		slog.WarnContext(ctx, "Failed to record run start", logfields.RunID(run.ID), logfields.Error(err))
	}
	slog.DebugContext(ctx, "Run started", logfields.RunID(run.ID), logfields.Trigger(string(run.Trigger)))
}

func (b *Baker) finish(ctx context.Context, run *Run, runErr error) {
	e := Entry{Kind: EntryRunCompleted, Duration: time.Since(run.Started)}
	outcome := metrics.OutcomeSuccess
	if runErr != nil {
		e.Kind = EntryRunFailed
		e.Error = runErr.Error()
		outcome = metrics.OutcomeFailed
	}
	b.recorder.IncRun(string(run.Trigger), outcome)
	if err := b.journal.Record(ctx, run, e); err != nil {
		slog.WarnContext(ctx, "Failed to record run result", logfields.RunID(run.ID), logfields.Error(err))
	}
}
