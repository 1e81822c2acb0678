package bake

import (
	"context"
	"log/slog"

	"git.home.luguber.info/inful/pagebaker/internal/content"
	"git.home.luguber.info/inful/pagebaker/internal/logfields"
	"git.home.luguber.info/inful/pagebaker/internal/metrics"
)

// Propagator rebuilds the ancestors of a changed page.
type Propagator struct {
	recorder metrics.Recorder
}

// NewPropagator returns a Propagator reporting to recorder (nil for none).
func NewPropagator(recorder metrics.Recorder) *Propagator {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &Propagator{recorder: recorder}
}

// Propagate walks from node's parent upward and builds every live, non-root
// ancestor that is Buildable. Ancestors without the capability are passed over.
// The walk stops at the first draft ancestor or at the root, which is never
// visited. A Build error ends the walk and is returned as is.
func (p *Propagator) Propagate(ctx context.Context, run *Run, node content.Node) error {
	depth := 0
	defer func() { p.recorder.ObservePropagationDepth(depth) }()

	for current := node.Parent(); current != nil && current.Live() && !current.IsRoot(); current = current.Parent() {
		depth++
		b, ok := current.(Buildable)
		if !ok {
			slog.DebugContext(ctx, "Ancestor not buildable, passing over",
				logfields.RunID(run.ID), logfields.Page(current.Key().String()))
			continue
		}
		if err := b.Build(ctx, run); err != nil {
			return err
		}
	}
	return nil
}
