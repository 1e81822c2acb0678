package bake

import (
	"context"
	"log/slog"

	"git.home.luguber.info/inful/pagebaker/internal/content"
	"git.home.luguber.info/inful/pagebaker/internal/logfields"
)

// Listener reacts to publish and unpublish events.
type Listener struct {
	propagator *Propagator
}

// NewListener returns a Listener that propagates through p.
func NewListener(p *Propagator) *Listener {
	if p == nil {
		p = NewPropagator(nil)
	}
	return &Listener{propagator: p}
}

// OnPublish builds node, removes the output left at the previous slug when the
// latest publication renamed it, and rebuilds the ancestors.
func (l *Listener) OnPublish(ctx context.Context, run *Run, node content.Node) error {
	if b, ok := node.(Buildable); ok {
		if err := b.Build(ctx, run); err != nil {
			return err
		}
		if err := l.unbuildRenamed(ctx, run, b); err != nil {
			return err
		}
	}
	return l.propagator.Propagate(ctx, run, node)
}

// OnUnpublish removes node's output and rebuilds the ancestors.
func (l *Listener) OnUnpublish(ctx context.Context, run *Run, node content.Node) error {
	if b, ok := node.(Buildable); ok {
		if err := b.Unbuild(ctx, run); err != nil {
			return err
		}
	}
	return l.propagator.Propagate(ctx, run, node)
}

// unbuildRenamed compares only the immediately prior revision.
func (l *Listener) unbuildRenamed(ctx context.Context, run *Run, b Buildable) error {
	revs := b.Revisions()
	if len(revs) < 2 || b.IsRoot() {
		return nil
	}
	prior := revs[1]
	if prior.Slug == b.Slug() {
		return nil
	}
	rv, ok := b.(RevisionViewer)
	if !ok {
		return nil
	}
	old, ok := rv.AsRevision(prior).(Buildable)
	if !ok {
		return nil
	}
	slog.InfoContext(ctx, "Slug changed, removing previous output",
		logfields.RunID(run.ID),
		logfields.Page(b.Key().String()),
		logfields.URL(old.OutputURL()),
		slog.String("new_slug", b.Slug()))
	return old.Unbuild(ctx, run)
}
