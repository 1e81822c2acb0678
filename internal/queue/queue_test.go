package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/pagebaker/internal/bake"
	"git.home.luguber.info/inful/pagebaker/internal/content"
	ferrors "git.home.luguber.info/inful/pagebaker/internal/foundation/errors"
	"git.home.luguber.info/inful/pagebaker/internal/metrics"
	"git.home.luguber.info/inful/pagebaker/internal/retry"
)

var key = content.Key{Type: "page", ID: 3}

func fastPolicy(retries int) retry.Policy {
	return retry.NewPolicy(retry.ModeFixed, time.Millisecond, time.Millisecond, retries)
}

func TestMessage_DecodeValidates(t *testing.T) {
	msg := NewMessage(bake.ActionPublish, key)
	data, err := Encode(msg)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, key, got.Key())
	assert.Equal(t, msg.ID, got.ID)

	_, err = Decode([]byte(`{"id":"x","action":"archive","type":"page","page_id":1}`))
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryValidation))
	_, err = Decode([]byte(`not json`))
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryValidation))
}

func TestNewMessage_UniqueIDs(t *testing.T) {
	a := NewMessage(bake.ActionPublish, key)
	b := NewMessage(bake.ActionPublish, key)
	assert.NotEqual(t, a.ID, b.ID)
}

func waitForHistory(t *testing.T, q *Local, n int) []Result {
	t.Helper()
	require.Eventually(t, func() bool { return len(q.History()) >= n }, 2*time.Second, 5*time.Millisecond)
	return q.History()
}

func TestLocal_ProcessesMessages(t *testing.T) {
	var mu sync.Mutex
	var seen []content.Key
	q := NewLocal(10, 2, HandlerFunc(func(_ context.Context, m *Message) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, m.Key())
		return nil
	}))
	require.NoError(t, q.Start(t.Context()))
	defer func() { _ = q.Stop(context.Background()) }()

	require.NoError(t, q.Enqueue(t.Context(), NewMessage(bake.ActionPublish, key)))
	require.NoError(t, q.Enqueue(t.Context(), NewMessage(bake.ActionUnpublish, key)))

	hist := waitForHistory(t, q, 2)
	for _, r := range hist {
		assert.Equal(t, StatusCompleted, r.Status)
		assert.Equal(t, 1, r.Attempts)
	}
	mu.Lock()
	assert.Len(t, seen, 2)
	mu.Unlock()
}

func TestLocal_RetriesRetryableErrors(t *testing.T) {
	var calls atomic.Int32
	q := NewLocal(10, 1, HandlerFunc(func(context.Context, *Message) error {
		if calls.Add(1) < 3 {
			return ferrors.RenderError("backend busy").Build()
		}
		return nil
	}), WithRetryPolicy(fastPolicy(3)))
	require.NoError(t, q.Start(t.Context()))
	defer func() { _ = q.Stop(context.Background()) }()

	require.NoError(t, q.Enqueue(t.Context(), NewMessage(bake.ActionPublish, key)))

	hist := waitForHistory(t, q, 1)
	assert.Equal(t, StatusCompleted, hist[0].Status)
	assert.Equal(t, 3, hist[0].Attempts)
}

func TestLocal_PermanentErrorsFailOnce(t *testing.T) {
	var calls atomic.Int32
	q := NewLocal(10, 1, HandlerFunc(func(context.Context, *Message) error {
		calls.Add(1)
		return ferrors.NotFoundError("page gone").Build()
	}), WithRetryPolicy(fastPolicy(3)))
	require.NoError(t, q.Start(t.Context()))
	defer func() { _ = q.Stop(context.Background()) }()

	require.NoError(t, q.Enqueue(t.Context(), NewMessage(bake.ActionPublish, key)))

	hist := waitForHistory(t, q, 1)
	assert.Equal(t, StatusFailed, hist[0].Status)
	assert.Contains(t, hist[0].Error, "page gone")
	assert.Equal(t, int32(1), calls.Load())
}

func TestLocal_RetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	q := NewLocal(10, 1, HandlerFunc(func(context.Context, *Message) error {
		calls.Add(1)
		return ferrors.StoreError("locked").Build()
	}), WithRetryPolicy(fastPolicy(2)))
	require.NoError(t, q.Start(t.Context()))
	defer func() { _ = q.Stop(context.Background()) }()

	require.NoError(t, q.Enqueue(t.Context(), NewMessage(bake.ActionPublish, key)))

	hist := waitForHistory(t, q, 1)
	assert.Equal(t, StatusFailed, hist[0].Status)
	assert.Equal(t, int32(3), calls.Load())
}

func TestLocal_FullQueueRejects(t *testing.T) {
	q := NewLocal(1, 1, HandlerFunc(func(context.Context, *Message) error { return nil }))

	require.NoError(t, q.Enqueue(t.Context(), NewMessage(bake.ActionPublish, key)))
	err := q.Enqueue(t.Context(), NewMessage(bake.ActionPublish, key))

	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryQueue))
	assert.Equal(t, 1, q.Length())
}

func TestLocal_EnqueueAfterStop(t *testing.T) {
	q := NewLocal(1, 1, HandlerFunc(func(context.Context, *Message) error { return nil }))
	require.NoError(t, q.Start(t.Context()))
	require.NoError(t, q.Stop(t.Context()))

	err := q.Enqueue(t.Context(), NewMessage(bake.ActionPublish, key))
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryQueue))
	assert.False(t, ferrors.IsRetryable(err))
}

type queueCounts struct {
	metrics.NoopRecorder
	mu     sync.Mutex
	counts map[string]int
}

func (r *queueCounts) IncQueueMessage(action, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = make(map[string]int)
	}
	r.counts[action+"/"+outcome]++
}

func (r *queueCounts) get(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[key]
}

func statuses(hist []Result) map[Status]int {
	out := make(map[Status]int)
	for _, r := range hist {
		out[r.Status]++
	}
	return out
}

func TestLocal_StopDrainsPending(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	var handled atomic.Int32
	q := NewLocal(10, 1, HandlerFunc(func(context.Context, *Message) error {
		select {
		case started <- struct{}{}:
			<-release
		default:
		}
		handled.Add(1)
		return nil
	}))
	require.NoError(t, q.Start(t.Context()))
	for range 5 {
		require.NoError(t, q.Enqueue(t.Context(), NewMessage(bake.ActionPublish, key)))
	}
	<-started

	stopped := make(chan error, 1)
	go func() { stopped <- q.Stop(context.Background()) }()
	close(release)

	require.NoError(t, <-stopped)
	assert.Equal(t, int32(5), handled.Load())
	assert.Equal(t, 0, q.Length())
	assert.Equal(t, map[Status]int{StatusCompleted: 5}, statuses(q.History()))

	err := q.Enqueue(t.Context(), NewMessage(bake.ActionPublish, key))
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryQueue))
}

func TestLocal_StopDeadlineDropsRemainder(t *testing.T) {
	started := make(chan struct{}, 1)
	rec := &queueCounts{}
	q := NewLocal(10, 1, HandlerFunc(func(ctx context.Context, _ *Message) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return ctx.Err()
	}), WithMetrics(rec), WithRetryPolicy(fastPolicy(0)))
	require.NoError(t, q.Start(t.Context()))
	for range 3 {
		require.NoError(t, q.Enqueue(t.Context(), NewMessage(bake.ActionUnpublish, key)))
	}
	<-started

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()
	err := q.Stop(ctx)

	require.ErrorIs(t, err, context.DeadlineExceeded)
	hist := waitForHistory(t, q, 3)
	assert.Equal(t, map[Status]int{StatusFailed: 1, StatusDropped: 2}, statuses(hist))
	assert.Equal(t, 2, rec.get("unpublish/"+metrics.OutcomeDropped))
	assert.Equal(t, 0, q.Length())
}

func TestLocal_StartContextCancelDrains(t *testing.T) {
	var handled atomic.Int32
	q := NewLocal(10, 1, HandlerFunc(func(ctx context.Context, _ *Message) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		handled.Add(1)
		return nil
	}))
	ctx, cancel := context.WithCancel(t.Context())
	require.NoError(t, q.Start(ctx))
	for range 3 {
		require.NoError(t, q.Enqueue(t.Context(), NewMessage(bake.ActionPublish, key)))
	}
	cancel()

	require.NoError(t, q.Stop(context.Background()))
	assert.Equal(t, int32(3), handled.Load())
}

func TestLocal_HistoryIsBounded(t *testing.T) {
	q := NewLocal(10, 1, HandlerFunc(func(context.Context, *Message) error { return nil }), WithHistorySize(2))
	for range 3 {
		q.addToHistory(Result{MessageID: "m"})
	}
	assert.Len(t, q.History(), 2)
}

type fakeDelivery struct {
	data      []byte
	delivered uint64
	acked     bool
	termed    bool
	nakDelay  time.Duration
	naked     bool
}

func (d *fakeDelivery) Data() []byte { return d.data }
func (d *fakeDelivery) Metadata() (*jetstream.MsgMetadata, error) {
	return &jetstream.MsgMetadata{NumDelivered: d.delivered}, nil
}
func (d *fakeDelivery) Ack() error { d.acked = true; return nil }
func (d *fakeDelivery) NakWithDelay(delay time.Duration) error {
	d.naked, d.nakDelay = true, delay
	return nil
}
func (d *fakeDelivery) Term() error { d.termed = true; return nil }

func newTestNATS(handler Handler) *NATS {
	cfg := NATSConfig{MaxDeliver: 3}
	cfg.applyDefaults()
	return &NATS{cfg: cfg, handler: handler, policy: retry.NewPolicy(retry.ModeLinear, time.Second, time.Minute, 5), recorder: metrics.NoopRecorder{}}
}

func encoded(t *testing.T) []byte {
	t.Helper()
	data, err := Encode(NewMessage(bake.ActionPublish, key))
	require.NoError(t, err)
	return data
}

func TestNATSDeliver_AckOnSuccess(t *testing.T) {
	var attempt int
	n := newTestNATS(HandlerFunc(func(_ context.Context, m *Message) error { attempt = m.Attempt; return nil }))
	d := &fakeDelivery{data: encoded(t), delivered: 2}

	n.deliver(t.Context(), d)

	assert.True(t, d.acked)
	assert.Equal(t, 2, attempt)
}

func TestNATSDeliver_NakRetryableWithBackoff(t *testing.T) {
	n := newTestNATS(HandlerFunc(func(context.Context, *Message) error { return ferrors.RenderError("busy").Build() }))
	d := &fakeDelivery{data: encoded(t), delivered: 2}

	n.deliver(t.Context(), d)

	assert.True(t, d.naked)
	assert.Equal(t, 2*time.Second, d.nakDelay)
}

func TestNATSDeliver_TermAtMaxDeliver(t *testing.T) {
	n := newTestNATS(HandlerFunc(func(context.Context, *Message) error { return ferrors.RenderError("busy").Build() }))
	d := &fakeDelivery{data: encoded(t), delivered: 3}

	n.deliver(t.Context(), d)

	assert.True(t, d.termed)
	assert.False(t, d.naked)
}

func TestNATSDeliver_TermPermanentAndGarbage(t *testing.T) {
	n := newTestNATS(HandlerFunc(func(context.Context, *Message) error { return errors.New("plain") }))

	d := &fakeDelivery{data: encoded(t), delivered: 1}
	n.deliver(t.Context(), d)
	assert.True(t, d.termed)

	g := &fakeDelivery{data: []byte("{"), delivered: 1}
	n.deliver(t.Context(), g)
	assert.True(t, g.termed)
}

func TestNATSConfig_Subjects(t *testing.T) {
	cfg := NATSConfig{Subject: "cms.pages."}
	cfg.applyDefaults()

	assert.Equal(t, "cms.pages.unpublish", cfg.SubjectFor(NewMessage(bake.ActionUnpublish, key)))
	assert.Equal(t, "PAGEBAKER", cfg.Stream)
	assert.Equal(t, 5, cfg.MaxDeliver)
}
