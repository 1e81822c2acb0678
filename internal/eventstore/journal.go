package eventstore

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"

	"git.home.luguber.info/inful/pagebaker/internal/bake"
	ferrors "git.home.luguber.info/inful/pagebaker/internal/foundation/errors"
	"git.home.luguber.info/inful/pagebaker/internal/logfields"
)

// Payload is the JSON body of every journal event.
type Payload struct {
	Trigger    string `json:"trigger,omitempty"`
	Page       string `json:"page,omitempty"`
	URL        string `json:"url,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	Error      string `json:"error,omitempty"`
}

// DecodePayload parses an event's payload.
func DecodePayload(e Event) (Payload, error) {
	var p Payload
	if len(e.Payload) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return p, ferrors.EventStoreError("unmarshal event payload").
			WithCause(err).
			WithContext("event_id", e.ID).
			Build()
	}
	return p, nil
}

// Journal records bake entries in a Store and feeds an optional projection.
type Journal struct {
	store      Store
	projection *RunHistoryProjection

	keepRuns   int
	pruneEvery int
	finished   atomic.Int64
}

var _ bake.Journal = (*Journal)(nil)

// JournalOption configures a Journal.
type JournalOption func(*Journal)

// WithRetention prunes the store to the keepRuns most recent runs after
// every pruneEvery finished runs. Without it the journal grows unbounded.
func WithRetention(keepRuns, pruneEvery int) JournalOption {
	return func(j *Journal) {
		if keepRuns > 0 {
			j.keepRuns = keepRuns
			j.pruneEvery = max(pruneEvery, 1)
		}
	}
}

// NewJournal returns a Journal over store. projection may be nil.
func NewJournal(store Store, projection *RunHistoryProjection, opts ...JournalOption) *Journal {
	j := &Journal{store: store, projection: projection}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Record appends entry under run's id.
func (j *Journal) Record(ctx context.Context, run *bake.Run, entry bake.Entry) error {
	p := Payload{
		Trigger:    string(run.Trigger),
		URL:        entry.URL,
		DurationMS: entry.Duration.Milliseconds(),
		Error:      entry.Error,
	}
	if entry.Key.Type != "" {
		p.Page = entry.Key.String()
	}
	data, err := json.Marshal(p)
	if err != nil {
		return ferrors.EventStoreError("marshal event payload").WithCause(err).Build()
	}
	if err := j.store.Append(ctx, run.ID, string(entry.Kind), data, nil); err != nil {
		return err
	}
	if j.projection != nil {
		j.projection.ApplyEntry(run, entry)
	}
	if j.keepRuns > 0 && (entry.Kind == bake.EntryRunCompleted || entry.Kind == bake.EntryRunFailed) &&
		j.finished.Add(1)%int64(j.pruneEvery) == 0 {
		j.prune(ctx)
	}
	return nil
}

func (j *Journal) prune(ctx context.Context) {
	n, err := j.store.Prune(ctx, j.keepRuns)
	if err != nil {
		slog.WarnContext(ctx, "Failed to prune journal", "keep_runs", j.keepRuns, logfields.Error(err))
		return
	}
	if n > 0 {
		slog.DebugContext(ctx, "Pruned journal", "keep_runs", j.keepRuns, "removed", n)
	}
}
