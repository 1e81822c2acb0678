package eventstore

import (
	"context"
	"slices"
	"sync"
	"time"

	"git.home.luguber.info/inful/pagebaker/internal/bake"
)

const (
	runStatusRunning   = "running"
	runStatusCompleted = "completed"
	runStatusFailed    = "failed"
)

// RunSummary is a read model of one run.
type RunSummary struct {
	RunID        string        `json:"run_id"`
	Trigger      string        `json:"trigger"`
	Status       string        `json:"status"`
	StartedAt    time.Time     `json:"started_at"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
	Duration     time.Duration `json:"duration,omitempty"`
	PagesBuilt   int           `json:"pages_built"`
	PagesRemoved int           `json:"pages_removed"`
	Skipped      int           `json:"skipped"`
	Error        string        `json:"error,omitempty"`
}

// RunHistoryProjection keeps the most recent run summaries in memory,
// rebuilt from the store at startup and updated as entries are recorded.
type RunHistoryProjection struct {
	mu      sync.RWMutex
	store   Store
	runs    map[string]*RunSummary
	maxSize int
}

// NewRunHistoryProjection creates a projection backed by store.
func NewRunHistoryProjection(store Store, maxHistorySize int) *RunHistoryProjection {
	if maxHistorySize <= 0 {
		maxHistorySize = 100
	}
	return &RunHistoryProjection{store: store, runs: make(map[string]*RunSummary), maxSize: maxHistorySize}
}

// Rebuild replays the events of the most recent runs the projection can hold.
func (p *RunHistoryProjection) Rebuild(ctx context.Context) error {
	events, err := p.store.GetRecentRuns(ctx, p.maxSize)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.runs = make(map[string]*RunSummary)
	for _, e := range events {
		payload, err := DecodePayload(e)
		if err != nil {
			continue
		}
		p.applyLocked(e.RunID, e.Type, e.At, payload.Trigger, payload.Error, time.Duration(payload.DurationMS)*time.Millisecond)
	}
	p.pruneLocked()
	return nil
}

// ApplyEntry updates the projection for a freshly recorded entry.
func (p *RunHistoryProjection) ApplyEntry(run *bake.Run, e bake.Entry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	at := time.Now()
	if e.Kind == bake.EntryRunStarted {
		at = run.Started
	}
	p.applyLocked(run.ID, string(e.Kind), at, string(run.Trigger), e.Error, e.Duration)
	p.pruneLocked()
}

func (p *RunHistoryProjection) applyLocked(runID, kind string, at time.Time, trigger, errMsg string, d time.Duration) {
	if runID == "" {
		return
	}
	s, ok := p.runs[runID]
	if !ok {
		s = &RunSummary{RunID: runID, Trigger: trigger, Status: runStatusRunning, StartedAt: at}
		p.runs[runID] = s
	}
	switch bake.EntryKind(kind) {
	case bake.EntryRunStarted:
		s.StartedAt = at
	case bake.EntryPageBuilt:
		s.PagesBuilt++
	case bake.EntryPageUnbuilt:
		s.PagesRemoved++
	case bake.EntryBuildSkipped:
		s.Skipped++
	case bake.EntryRunCompleted, bake.EntryRunFailed:
		s.Status = runStatusCompleted
		if kind == string(bake.EntryRunFailed) {
			s.Status = runStatusFailed
			s.Error = errMsg
		}
		done := at
		s.CompletedAt = &done
		s.Duration = d
	}
}

// pruneLocked drops the oldest finished runs beyond maxSize.
func (p *RunHistoryProjection) pruneLocked() {
	if len(p.runs) <= p.maxSize {
		return
	}
	finished := make([]*RunSummary, 0, len(p.runs))
	for _, s := range p.runs {
		if s.Status != runStatusRunning {
			finished = append(finished, s)
		}
	}
	slices.SortFunc(finished, func(a, b *RunSummary) int { return a.StartedAt.Compare(b.StartedAt) })
	for _, s := range finished {
		if len(p.runs) <= p.maxSize {
			break
		}
		delete(p.runs, s.RunID)
	}
}

// Get returns a copy of one run's summary.
func (p *RunHistoryProjection) Get(runID string) (RunSummary, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.runs[runID]
	if !ok {
		return RunSummary{}, false
	}
	return *s, true
}

// History returns run summaries, newest first.
func (p *RunHistoryProjection) History() []RunSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]RunSummary, 0, len(p.runs))
	for _, s := range p.runs {
		out = append(out, *s)
	}
	slices.SortFunc(out, func(a, b RunSummary) int { return b.StartedAt.Compare(a.StartedAt) })
	return out
}
