// Package queue carries page events to background workers.
//
// Two backends exist: Local, a bounded in-process channel served by a worker
// pool, and NATS, a JetStream work queue that survives restarts. Both deliver
// at least once and neither orders messages; handlers must tolerate duplicates.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/pagebaker/internal/bake"
	"git.home.luguber.info/inful/pagebaker/internal/content"
	ferrors "git.home.luguber.info/inful/pagebaker/internal/foundation/errors"
)

// Message asks a worker to rerun the bake sequence for one page.
type Message struct {
	ID         string      `json:"id"`
	Action     bake.Action `json:"action"`
	Type       string      `json:"type"`
	PageID     int64       `json:"page_id"`
	EnqueuedAt time.Time   `json:"enqueued_at"`
	Attempt    int         `json:"attempt,omitempty"`
}

// NewMessage returns a message with a fresh id.
func NewMessage(action bake.Action, key content.Key) *Message {
	return &Message{
		ID:         uuid.NewString(),
		Action:     action,
		Type:       key.Type,
		PageID:     key.ID,
		EnqueuedAt: time.Now().UTC(),
	}
}

// Key returns the page key.
func (m *Message) Key() content.Key {
	return content.Key{Type: m.Type, ID: m.PageID}
}

// Validate checks the fields a worker needs.
func (m *Message) Validate() error {
	switch {
	case m.ID == "":
		return ferrors.ValidationError("message id is required").Build()
	case !m.Action.Valid():
		return ferrors.ValidationError("unknown message action").WithContext("action", string(m.Action)).Build()
	case m.Type == "":
		return ferrors.ValidationError("page type is required").WithContext("message_id", m.ID).Build()
	}
	return nil
}

// Encode marshals m as JSON.
func Encode(m *Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, ferrors.QueueError("encode message").WithCause(err).Permanent().Build()
	}
	return data, nil
}

// Decode parses and validates a JSON message.
func Decode(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, ferrors.ValidationError("decode message").WithCause(err).Build()
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Handler processes one message. A returned error makes the backend consult
// its retry policy.
type Handler interface {
	Handle(ctx context.Context, msg *Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg *Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg *Message) error { return f(ctx, msg) }

// Enqueuer accepts messages for background processing.
type Enqueuer interface {
	Enqueue(ctx context.Context, msg *Message) error
}

// Queue is a startable backend.
type Queue interface {
	Enqueuer
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
