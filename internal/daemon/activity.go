package daemon

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"git.home.luguber.info/inful/pagebaker/internal/events"
	"git.home.luguber.info/inful/pagebaker/internal/logfields"
)

// Activity tallies page events seen on the bus.
type Activity struct {
	mu       sync.RWMutex
	counts   map[string]int
	lastSeen time.Time
	lastPage string
}

// ActivitySnapshot is a copy of the tallies.
type ActivitySnapshot struct {
	Counts   map[string]int `json:"counts"`
	LastSeen *time.Time     `json:"last_seen,omitempty"`
	LastPage string         `json:"last_page,omitempty"`
}

func newActivity() *Activity {
	return &Activity{counts: make(map[string]int)}
}

// run drains ch until it is closed or ctx is done.
func (a *Activity) run(ctx context.Context, ch <-chan events.PageEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			a.observe(evt)
			slog.DebugContext(ctx, "Page event observed",
				logfields.Action(evt.ActionName()),
				logfields.Page(evt.PageKey().String()))
		}
	}
}

func (a *Activity) observe(evt events.PageEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.counts[evt.ActionName()]++
	a.lastSeen = time.Now()
	a.lastPage = evt.PageKey().String()
}

// Snapshot returns the current tallies.
func (a *Activity) Snapshot() ActivitySnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := ActivitySnapshot{Counts: make(map[string]int, len(a.counts)), LastPage: a.lastPage}
	for k, v := range a.counts {
		s.Counts[k] = v
	}
	if !a.lastSeen.IsZero() {
		t := a.lastSeen
		s.LastSeen = &t
	}
	return s
}
