// Package events is the in-process signal bus that connects the CMS side to
// the bake listener.
package events

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"

	ferrors "git.home.luguber.info/inful/pagebaker/internal/foundation/errors"
)

// Bus is a small, typed, in-process event bus.
//
// Two kinds of receivers exist. Handlers registered with Handle run on the
// publisher's goroutine, in registration order, and their errors are returned
// from Publish. Channel subscriptions made with Subscribe receive a copy after
// all handlers ran; Publish blocks until each has accepted the event or ctx is done.
//
// For an interface type T, events whose concrete type implements T are delivered.
// For a concrete T, only exact matches are delivered.
type Bus struct {
	mu        sync.RWMutex
	handlers  []*handler
	subs      map[reflect.Type]map[uint64]*subscriber
	nextID    atomic.Uint64
	isClosed  atomic.Bool
	closeOnce sync.Once
}

type handler struct {
	id        uint64
	eventType reflect.Type
	call      func(ctx context.Context, evt any) error
}

type subscriber struct {
	send  func(ctx context.Context, evt any) error
	close func()
}

func NewBus() *Bus {
	return &Bus{subs: make(map[reflect.Type]map[uint64]*subscriber)}
}

// Handle registers fn for events of type T and returns a function that removes it.
func Handle[T any](b *Bus, fn func(ctx context.Context, evt T) error) func() {
	eventType := reflect.TypeFor[T]()
	id := b.nextID.Add(1)
	h := &handler{
		id:        id,
		eventType: eventType,
		call: func(ctx context.Context, evt any) error {
			v, ok := evt.(T)
			if !ok {
				return mismatch(eventType, evt)
			}
			return fn(ctx, v)
		},
	}

	b.mu.Lock()
	b.handlers = append(b.handlers, h)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, cur := range b.handlers {
				if cur.id == id {
					b.handlers = append(b.handlers[:i:i], b.handlers[i+1:]...)
					return
				}
			}
		})
	}
}

// Subscribe registers a buffered channel subscription for events of type T.
func Subscribe[T any](b *Bus, buffer int) (<-chan T, func()) {
	eventType := reflect.TypeFor[T]()
	ch := make(chan T, buffer)

	if b.isClosed.Load() {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID.Add(1)

	// A sender holds smu for reading while it may write to ch; closing takes
	// it for writing. done wakes senders blocked on a full channel first.
	var (
		smu       sync.RWMutex
		closed    bool
		done      = make(chan struct{})
		closeOnce sync.Once
	)
	closeChannel := func() {
		closeOnce.Do(func() {
			close(done)
			smu.Lock()
			defer smu.Unlock()
			closed = true
			close(ch)
		})
	}

	var unsubOnce sync.Once
	unsubscribe := func() {
		unsubOnce.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if typeSubs, ok := b.subs[eventType]; ok {
				delete(typeSubs, id)
				if len(typeSubs) == 0 {
					delete(b.subs, eventType)
				}
			}
			closeChannel()
		})
	}

	sub := &subscriber{
		send: func(ctx context.Context, evt any) error {
			v, ok := evt.(T)
			if !ok {
				return mismatch(eventType, evt)
			}
			smu.RLock()
			defer smu.RUnlock()
			if closed {
				return nil
			}
			select {
			case ch <- v:
				return nil
			case <-done:
				return nil
			case <-ctx.Done():
				return ferrors.RuntimeError("event publish canceled").
					WithCause(ctx.Err()).
					WithContext("event_type", eventType.String()).
					Build()
			}
		},
		close: closeChannel,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.isClosed.Load() {
		closeChannel()
		return ch, func() {}
	}
	if b.subs[eventType] == nil {
		b.subs[eventType] = make(map[uint64]*subscriber)
	}
	b.subs[eventType][id] = sub
	return ch, unsubscribe
}

// SubscriberCount returns the number of channel subscriptions and handlers for T.
func SubscriberCount[T any](b *Bus) int {
	if b == nil {
		return 0
	}
	eventType := reflect.TypeFor[T]()

	b.mu.RLock()
	defer b.mu.RUnlock()
	n := len(b.subs[eventType])
	for _, h := range b.handlers {
		if h.eventType == eventType {
			n++
		}
	}
	return n
}

// Publish runs every matching handler, then delivers evt to matching channel
// subscriptions. Handler errors are joined and returned; a failing handler does
// not stop later ones.
func (b *Bus) Publish(ctx context.Context, evt any) error {
	if evt == nil {
		return ferrors.ValidationError("event cannot be nil").Build()
	}
	if ctx == nil {
		return ferrors.ValidationError("context cannot be nil").Build()
	}
	if b.isClosed.Load() {
		return ferrors.DaemonError("event bus is closed").Build()
	}

	evtType := reflect.TypeOf(evt)

	b.mu.RLock()
	var calls []*handler
	for _, h := range b.handlers {
		if matches(h.eventType, evtType) {
			calls = append(calls, h)
		}
	}
	var targets []*subscriber
	for subType, typeSubs := range b.subs {
		if !matches(subType, evtType) {
			continue
		}
		for _, s := range typeSubs {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	var errs []error
	for _, h := range calls {
		if err := h.call(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	for _, s := range targets {
		if err := s.send(ctx, evt); err != nil {
			errs = append(errs, err)
			break
		}
	}
	return errors.Join(errs...)
}

// Close closes the bus and all subscription channels. Handlers are dropped.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		b.isClosed.Store(true)

		b.mu.Lock()
		var toClose []*subscriber
		for _, typeSubs := range b.subs {
			for _, s := range typeSubs {
				toClose = append(toClose, s)
			}
		}
		b.subs = make(map[reflect.Type]map[uint64]*subscriber)
		b.handlers = nil
		b.mu.Unlock()

		for _, s := range toClose {
			s.close()
		}
	})
}

func matches(subType, evtType reflect.Type) bool {
	if subType == evtType {
		return true
	}
	return subType.Kind() == reflect.Interface && evtType.Implements(subType)
}

func mismatch(expected reflect.Type, evt any) error {
	return ferrors.InternalError("event type mismatch").
		WithContext("expected", expected.String()).
		WithContext("actual", reflect.TypeOf(evt).String()).
		Build()
}
