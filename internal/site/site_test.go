package site

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/pagebaker/internal/store"
)

func TestResolver_MatchesHostIgnoringPortAndCase(t *testing.T) {
	r := NewResolver([]Site{
		{Name: "main", Hostname: "example.org", Default: true},
		{Name: "docs", Hostname: "docs.example.org"},
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Host = "Docs.Example.org:8080"

	got, err := r.ResolveSite(req)
	require.NoError(t, err)

	s, ok := FromContext(got.Context())
	require.True(t, ok)
	assert.Equal(t, "docs", s.Name)
}

func TestResolver_FallsBackToDefault(t *testing.T) {
	r := NewResolver([]Site{{Name: "a", Hostname: "a.test"}, {Name: "b", Hostname: "b.test", Default: true}})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Host = "unknown.test"

	got, err := r.ResolveSite(req)
	require.NoError(t, err)
	s, _ := FromContext(got.Context())
	assert.Equal(t, "b", s.Name)
}

func TestResolver_NoSites(t *testing.T) {
	_, err := NewResolver(nil).ResolveSite(httptest.NewRequest(http.MethodGet, "/", nil))
	require.Error(t, err)
}

type fixture struct {
	store  *store.Store
	server *Server
	blog   int64
	post   int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := t.Context()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	root, err := s.CreateRoot(ctx, "page", "Home")
	require.NoError(t, err)
	blog, err := s.CreatePage(ctx, store.NewPage{Type: "page", ParentID: root.ID, Title: "Blog", Body: "All posts"})
	require.NoError(t, err)
	post, err := s.CreatePage(ctx, store.NewPage{Type: "post", ParentID: blog.ID, Slug: "hello", Title: "Hello", Body: "Some *emphasis*"})
	require.NoError(t, err)
	_, err = s.Publish(ctx, blog.ID, store.Draft{})
	require.NoError(t, err)

	srv, err := NewServer(s, "")
	require.NoError(t, err)
	return &fixture{store: s, server: srv, blog: blog.ID, post: post.ID}
}

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	return rec.Code, string(body)
}

func TestServer_RendersMarkdownAndBreadcrumbs(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.Publish(t.Context(), f.post, store.Draft{})
	require.NoError(t, err)

	code, body := get(t, f.server, "/blog/hello/")

	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "<em>emphasis</em>")
	assert.Contains(t, body, `<a href="/">Home</a>`)
	assert.Contains(t, body, `<a href="/blog/">Blog</a>`)
}

func TestServer_ChildListingFollowsPublication(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	_, body := get(t, f.server, "/blog/")
	assert.NotContains(t, body, "/blog/hello/")

	_, err := f.store.Publish(ctx, f.post, store.Draft{})
	require.NoError(t, err)
	_, body = get(t, f.server, "/blog/")
	assert.Contains(t, body, `<a href="/blog/hello/">Hello</a>`)

	_, err = f.store.Unpublish(ctx, f.post)
	require.NoError(t, err)
	_, body = get(t, f.server, "/blog/")
	assert.NotContains(t, body, "/blog/hello/")
}

func TestServer_DraftsAndUnknownPathsAre404(t *testing.T) {
	f := newFixture(t)

	code, _ := get(t, f.server, "/blog/hello/")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = get(t, f.server, "/nope/")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestServer_UnderDraftAncestorIs404(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	_, err := f.store.Publish(ctx, f.post, store.Draft{})
	require.NoError(t, err)
	_, err = f.store.Unpublish(ctx, f.blog)
	require.NoError(t, err)

	code, _ := get(t, f.server, "/blog/hello/")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestServer_RejectsPost(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_SiteTitleFromContext(t *testing.T) {
	f := newFixture(t)
	r := NewResolver([]Site{{Name: "main", Hostname: "example.org", Title: "Example"}})
	req, err := r.ResolveSite(httptest.NewRequest(http.MethodGet, "/blog/", nil))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)

	assert.Contains(t, rec.Body.String(), "<title>Blog | Example</title>")
}

func TestNewServer_CustomTemplate(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(t.TempDir(), "page.html")
	require.NoError(t, os.WriteFile(path, []byte(`<p>{{.Title}}</p>`), 0o600))

	srv, err := NewServer(f.store, path)
	require.NoError(t, err)

	_, body := get(t, srv, "/blog/")
	assert.Equal(t, "<p>Blog</p>", body)

	_, err = NewServer(f.store, filepath.Join(t.TempDir(), "missing.html"))
	require.Error(t, err)
}
