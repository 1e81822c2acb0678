// Package dispatch connects page lifecycle events to the bake sequence.
//
// In synchronous mode an event is baked on the goroutine that published it and
// errors flow back to the publisher. In queued mode the event becomes a
// queue.Message and Handle runs the same sequence on a worker.
package dispatch

import (
	"context"
	"log/slog"

	"git.home.luguber.info/inful/pagebaker/internal/bake"
	"git.home.luguber.info/inful/pagebaker/internal/content"
	"git.home.luguber.info/inful/pagebaker/internal/events"
	"git.home.luguber.info/inful/pagebaker/internal/logfields"
	"git.home.luguber.info/inful/pagebaker/internal/queue"
)

// Dispatcher routes page events.
type Dispatcher struct {
	baker    *bake.Baker
	enqueuer queue.Enqueuer
	remove   []func()
}

// New returns a Dispatcher. A nil enqueuer selects synchronous mode.
func New(baker *bake.Baker, enqueuer queue.Enqueuer) *Dispatcher {
	return &Dispatcher{baker: baker, enqueuer: enqueuer}
}

// SetEnqueuer switches between queued (non-nil) and synchronous mode. It must
// be called before events are published.
func (d *Dispatcher) SetEnqueuer(enqueuer queue.Enqueuer) { d.enqueuer = enqueuer }

// Queued reports whether events are handed to a queue.
func (d *Dispatcher) Queued() bool { return d.enqueuer != nil }

// Register subscribes the dispatcher to publish and unpublish events on bus.
func (d *Dispatcher) Register(bus *events.Bus) {
	d.remove = append(d.remove,
		events.Handle(bus, func(ctx context.Context, e events.PagePublished) error {
			return d.dispatch(ctx, bake.ActionPublish, e.Key)
		}),
		events.Handle(bus, func(ctx context.Context, e events.PageUnpublished) error {
			return d.dispatch(ctx, bake.ActionUnpublish, e.Key)
		}),
	)
}

// Close removes the dispatcher's subscriptions.
func (d *Dispatcher) Close() {
	for _, fn := range d.remove {
		fn()
	}
	d.remove = nil
}

func (d *Dispatcher) dispatch(ctx context.Context, action bake.Action, key content.Key) error {
	if d.enqueuer != nil {
		msg := queue.NewMessage(action, key)
		if err := d.enqueuer.Enqueue(ctx, msg); err != nil {
			slog.ErrorContext(ctx, "Failed to enqueue page event",
				logfields.Action(string(action)), logfields.Page(key.String()), logfields.Error(err))
			return err
		}
		slog.DebugContext(ctx, "Page event enqueued",
			logfields.Action(string(action)), logfields.Page(key.String()), logfields.MessageID(msg.ID))
		return nil
	}

	run, err := d.baker.Handle(ctx, action, key)
	if err != nil {
		attrs := []any{logfields.Action(string(action)), logfields.Page(key.String()), logfields.Error(err)}
		if run != nil {
			attrs = append(attrs, logfields.RunID(run.ID))
		}
		slog.ErrorContext(ctx, "Bake failed", attrs...)
	}
	return err
}

// Handle is the queue worker entry point: it reloads the page and runs the
// bake sequence in a fresh run.
func (d *Dispatcher) Handle(ctx context.Context, msg *queue.Message) error {
	run, err := d.baker.Handle(ctx, msg.Action, msg.Key())
	if err == nil {
		slog.InfoContext(ctx, "Queued bake complete",
			logfields.MessageID(msg.ID), logfields.RunID(run.ID), logfields.Attempt(msg.Attempt))
	}
	return err
}
