package eventstore

import (
	"time"

	"git.home.luguber.info/inful/pagebaker/internal/bake"
)

// Event is one stored journal row. Type holds a bake.EntryKind; Payload is
// the raw JSON written by the Journal, read it with DecodePayload.
type Event struct {
	ID       int64
	RunID    string
	Type     string
	At       time.Time
	Payload  []byte
	Metadata map[string]string
}

// Kind returns the entry kind this event was recorded for.
func (e Event) Kind() bake.EntryKind { return bake.EntryKind(e.Type) }

// Terminal reports whether the event closes a run.
func (e Event) Terminal() bool {
	return e.Kind() == bake.EntryRunCompleted || e.Kind() == bake.EntryRunFailed
}
