package daemon

import (
	"context"
	"errors"
	"log/slog"

	"git.home.luguber.info/inful/pagebaker/internal/artifact"
	"git.home.luguber.info/inful/pagebaker/internal/bake"
	"git.home.luguber.info/inful/pagebaker/internal/config"
	"git.home.luguber.info/inful/pagebaker/internal/dispatch"
	"git.home.luguber.info/inful/pagebaker/internal/events"
	"git.home.luguber.info/inful/pagebaker/internal/eventstore"
	"git.home.luguber.info/inful/pagebaker/internal/logfields"
	"git.home.luguber.info/inful/pagebaker/internal/metrics"
	"git.home.luguber.info/inful/pagebaker/internal/render"
	"git.home.luguber.info/inful/pagebaker/internal/site"
	"git.home.luguber.info/inful/pagebaker/internal/store"
)

// runHistorySize bounds the in-memory run projection.
const runHistorySize = 100

// journalPruneEvery is how many finished runs pass between journal prunes.
const journalPruneEvery = 50

// Pipeline is the baking stack shared by the daemon and the CLI commands.
// Events published on Bus are dispatched synchronously until a queue is
// attached to Dispatcher.
type Pipeline struct {
	Config     *config.Config
	Store      *store.Store
	Writer     *artifact.Writer
	Binder     *bake.Binder
	Baker      *bake.Baker
	Bus        *events.Bus
	Dispatcher *dispatch.Dispatcher
	Events     *eventstore.SQLiteStore
	Runs       *eventstore.RunHistoryProjection
	Recorder   metrics.Recorder
}

// NewPipeline opens the page store and event journal and wires the bake
// sequence behind an event bus. recorder may be nil.
func NewPipeline(ctx context.Context, cfg *config.Config, recorder metrics.Recorder) (*Pipeline, error) {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	p := &Pipeline{Config: cfg, Store: st, Recorder: recorder}

	server, err := site.NewServer(st, cfg.Site.Template)
	if err != nil {
		p.Close()
		return nil, err
	}
	adapter := render.NewAdapter(site.NewResolver(Sites(cfg)), server, render.Options{
		Host:            cfg.Site.Host,
		RelativizeLinks: cfg.Bakery.RelativizeLinks,
		Recorder:        recorder,
	})

	p.Writer, err = artifact.NewWriter(cfg.Output.Directory, cfg.Output.StateDir)
	if err != nil {
		p.Close()
		return nil, err
	}

	p.Events, err = eventstore.NewSQLiteStore(cfg.Daemon.EventStorePath)
	if err != nil {
		p.Close()
		return nil, err
	}
	if keep := cfg.Daemon.JournalRetention; keep > 0 {
		if n, err := p.Events.Prune(ctx, keep); err != nil {
			slog.WarnContext(ctx, "Failed to prune journal", logfields.Error(err))
		} else if n > 0 {
			slog.InfoContext(ctx, "Pruned journal", "keep_runs", keep, "removed", n)
		}
	}
	p.Runs = eventstore.NewRunHistoryProjection(p.Events, runHistorySize)
	if err := p.Runs.Rebuild(ctx); err != nil {
		// Non-fatal: history starts empty.
		slog.WarnContext(ctx, "Failed to rebuild run history", logfields.Error(err))
	}
	journal := eventstore.NewJournal(p.Events, p.Runs,
		eventstore.WithRetention(cfg.Daemon.JournalRetention, journalPruneEvery))

	p.Binder = bake.NewBinder(cfg.Bakery.Views, adapter, p.Writer,
		bake.WithJournal(journal),
		bake.WithRecorder(recorder))
	listener := bake.NewListener(bake.NewPropagator(recorder))
	p.Baker = bake.NewBaker(st, p.Binder, listener, journal, recorder)

	p.Bus = events.NewBus()
	p.Dispatcher = dispatch.New(p.Baker, nil)
	p.Dispatcher.Register(p.Bus)
	return p, nil
}

// Sites converts the configured site entries.
func Sites(cfg *config.Config) []site.Site {
	out := make([]site.Site, 0, len(cfg.Site.Sites))
	for _, s := range cfg.Site.Sites {
		out = append(out, site.Site{Name: s.Name, Hostname: s.Hostname, Title: s.Title, Default: s.Default})
	}
	return out
}

// Close releases the bus and both databases.
func (p *Pipeline) Close() error {
	if p.Dispatcher != nil {
		p.Dispatcher.Close()
	}
	if p.Bus != nil {
		p.Bus.Close()
	}
	var errs []error
	if p.Events != nil {
		errs = append(errs, p.Events.Close())
	}
	if p.Store != nil {
		errs = append(errs, p.Store.Close())
	}
	return errors.Join(errs...)
}
