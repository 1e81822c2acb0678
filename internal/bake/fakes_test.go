package bake

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"git.home.luguber.info/inful/pagebaker/internal/content"
	"git.home.luguber.info/inful/pagebaker/internal/render"
)

type fakeRenderer struct {
	mu       sync.Mutex
	rendered []string
	fail     map[string]error
}

func (r *fakeRenderer) Render(_ context.Context, node content.Node) (*render.Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := node.Key().String()
	if err := r.fail[key]; err != nil {
		return nil, err
	}
	r.rendered = append(r.rendered, key)
	return &render.Response{Status: 200, Body: []byte("<p>" + node.Slug() + "</p>")}, nil
}

func (r *fakeRenderer) ResolveOutputURL(node content.Node) string {
	return render.ResolveOutputURL(node)
}

// fakePublisher keeps an ordered log of "write <url>" / "remove <url>".
type fakePublisher struct {
	mu   sync.Mutex
	ops  []string
	fail error
}

func (p *fakePublisher) Write(_ context.Context, url string, _ *render.Response) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return false, p.fail
	}
	p.ops = append(p.ops, "write "+url)
	return true, nil
}

func (p *fakePublisher) Remove(_ context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.ops = append(p.ops, "remove "+url)
	return nil
}

func (p *fakePublisher) log() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.ops...)
}

type fakeLoader struct {
	pages map[content.Key]*content.Page
}

func newFakeLoader(pages ...*content.Page) *fakeLoader {
	l := &fakeLoader{pages: make(map[content.Key]*content.Page)}
	for _, p := range pages {
		l.pages[p.Key()] = p
	}
	return l
}

func (l *fakeLoader) Load(_ context.Context, key content.Key) (content.Node, error) {
	p, ok := l.pages[key]
	if !ok {
		return nil, fmt.Errorf("page %s: %w", key, errNotFound)
	}
	return p, nil
}

func (l *fakeLoader) ListLive(_ context.Context, typeName string) ([]content.Node, error) {
	var out []*content.Page
	for _, p := range l.pages {
		if p.Type == typeName && p.IsLive {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	nodes := make([]content.Node, len(out))
	for i, p := range out {
		nodes[i] = p
	}
	return nodes, nil
}

var errNotFound = errors.New("not found")

type fakeJournal struct {
	mu      sync.Mutex
	entries map[string][]EntryKind
}

func (j *fakeJournal) Record(_ context.Context, run *Run, e Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.entries == nil {
		j.entries = make(map[string][]EntryKind)
	}
	j.entries[run.ID] = append(j.entries[run.ID], e.Kind)
	return nil
}

// tree builds root "home" (id 1) > b (id 2) > c (id 3), all live pages.
func tree() (root, b, c *content.Page) {
	root = &content.Page{ID: 1, Type: "page", SlugText: "home", IsLive: true}
	b = &content.Page{ID: 2, Type: "page", ParentPg: root, SlugText: "b", IsLive: true}
	c = &content.Page{ID: 3, Type: "page", ParentPg: b, SlugText: "c", IsLive: true}
	return root, b, c
}

type harness struct {
	renderer  *fakeRenderer
	publisher *fakePublisher
	binder    *Binder
	listener  *Listener
}

func newHarness(views ...string) *harness {
	h := &harness{renderer: &fakeRenderer{}, publisher: &fakePublisher{}}
	h.binder = NewBinder(views, h.renderer, h.publisher)
	h.listener = NewListener(NewPropagator(nil))
	return h
}
