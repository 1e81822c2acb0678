// Package eventstore is the append-only journal of bake runs.
//
// Every run writes RunStarted, then one event per page it built, removed or
// skipped, and finally RunCompleted or RunFailed. Events are keyed by run id.
package eventstore

import (
	"context"
	"time"
)

// Store persists journal events. Reads return events in append order.
type Store interface {
	Append(ctx context.Context, runID, eventType string, payload []byte, metadata map[string]string) error
	GetByRunID(ctx context.Context, runID string) ([]Event, error)
	// GetRange returns events whose timestamp lies in [start, end].
	GetRange(ctx context.Context, start, end time.Time) ([]Event, error)
	// GetRecentRuns returns every event of the n most recently started runs.
	GetRecentRuns(ctx context.Context, n int) ([]Event, error)
	// Prune deletes all events except those of the keepRuns most recently
	// started runs and returns the number of rows removed.
	Prune(ctx context.Context, keepRuns int) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}
