package dispatch

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/pagebaker/internal/bake"
	"git.home.luguber.info/inful/pagebaker/internal/content"
	"git.home.luguber.info/inful/pagebaker/internal/events"
	ferrors "git.home.luguber.info/inful/pagebaker/internal/foundation/errors"
	"git.home.luguber.info/inful/pagebaker/internal/queue"
	"git.home.luguber.info/inful/pagebaker/internal/render"
)

type pages map[content.Key]*content.Page

func (p pages) Load(_ context.Context, key content.Key) (content.Node, error) {
	pg, ok := p[key]
	if !ok {
		return nil, ferrors.NotFoundError("page not found").Build()
	}
	return pg, nil
}

func (p pages) ListLive(context.Context, string) ([]content.Node, error) { return nil, nil }

type renderer struct{}

func (renderer) Render(_ context.Context, n content.Node) (*render.Response, error) {
	return &render.Response{Status: 200, Body: []byte(n.Slug())}, nil
}
func (renderer) ResolveOutputURL(n content.Node) string { return render.ResolveOutputURL(n) }

type publisher struct {
	mu  sync.Mutex
	ops []string
}

func (p *publisher) Write(_ context.Context, url string, _ *render.Response) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ops = append(p.ops, "write "+url)
	return true, nil
}

func (p *publisher) Remove(_ context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ops = append(p.ops, "remove "+url)
	return nil
}

type recordingEnqueuer struct{ msgs []*queue.Message }

func (r *recordingEnqueuer) Enqueue(_ context.Context, m *queue.Message) error {
	r.msgs = append(r.msgs, m)
	return nil
}

func setup() (*bake.Baker, *publisher, *content.Page) {
	root := &content.Page{ID: 1, Type: "page", SlugText: "home", IsLive: true}
	b := &content.Page{ID: 2, Type: "page", ParentPg: root, SlugText: "b", IsLive: true}
	c := &content.Page{ID: 3, Type: "page", ParentPg: b, SlugText: "c", IsLive: true}
	pub := &publisher{}
	binder := bake.NewBinder([]string{"page"}, renderer{}, pub)
	baker := bake.NewBaker(pages{root.Key(): root, b.Key(): b, c.Key(): c}, binder, bake.NewListener(nil), nil, nil)
	return baker, pub, c
}

func TestDispatcher_SyncModeBakesBeforePublishReturns(t *testing.T) {
	baker, pub, c := setup()
	bus := events.NewBus()
	defer bus.Close()
	d := New(baker, nil)
	d.Register(bus)
	defer d.Close()

	require.NoError(t, bus.Publish(t.Context(), events.PagePublished{Key: c.Key()}))

	assert.Equal(t, []string{"write /b/c/", "write /b/"}, pub.ops)
	assert.False(t, d.Queued())
}

func TestDispatcher_SyncModeReturnsErrors(t *testing.T) {
	baker, _, _ := setup()
	bus := events.NewBus()
	defer bus.Close()
	d := New(baker, nil)
	d.Register(bus)

	err := bus.Publish(t.Context(), events.PageUnpublished{Key: content.Key{Type: "page", ID: 99}})
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryNotFound))
}

func TestDispatcher_QueuedModeEnqueuesOnly(t *testing.T) {
	baker, pub, c := setup()
	bus := events.NewBus()
	defer bus.Close()
	enq := &recordingEnqueuer{}
	d := New(baker, enq)
	d.Register(bus)

	require.NoError(t, bus.Publish(t.Context(), events.PageUnpublished{Key: c.Key()}))

	require.Len(t, enq.msgs, 1)
	assert.Equal(t, bake.ActionUnpublish, enq.msgs[0].Action)
	assert.Equal(t, c.Key(), enq.msgs[0].Key())
	assert.Empty(t, pub.ops)

	require.NoError(t, d.Handle(t.Context(), enq.msgs[0]))
	assert.Equal(t, []string{"remove /b/c/", "write /b/"}, pub.ops)
}

func TestDispatcher_CloseUnsubscribes(t *testing.T) {
	baker, _, _ := setup()
	bus := events.NewBus()
	defer bus.Close()
	d := New(baker, nil)
	d.Register(bus)
	require.Equal(t, 1, events.SubscriberCount[events.PagePublished](bus))

	d.Close()

	assert.Equal(t, 0, events.SubscriberCount[events.PagePublished](bus))
}
