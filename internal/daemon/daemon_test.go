package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/pagebaker/internal/bake"
	"git.home.luguber.info/inful/pagebaker/internal/config"
	"git.home.luguber.info/inful/pagebaker/internal/events"
	"git.home.luguber.info/inful/pagebaker/internal/services"
	"git.home.luguber.info/inful/pagebaker/internal/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Version: config.CurrentVersion,
		Output:  config.OutputConfig{Directory: t.TempDir()},
		Bakery:  config.BakeryConfig{Views: []string{"page", "post"}},
		Store:   config.StoreConfig{Path: ":memory:"},
		Daemon:  config.DaemonConfig{Listen: "127.0.0.1:0", EventStorePath: ":memory:"},
		Monitoring: config.MonitoringConfig{
			Metrics: config.MonitoringMetrics{Enabled: true},
		},
	}
	config.ApplyDefaults(cfg)
	require.NoError(t, config.Validate(cfg))
	return cfg
}

type tree struct {
	blog, post int64
}

// seed creates root > blog (live) > hello (live).
func seed(t *testing.T, st *store.Store) tree {
	t.Helper()
	ctx := t.Context()
	root, err := st.CreateRoot(ctx, "page", "Home")
	require.NoError(t, err)
	blog, err := st.CreatePage(ctx, store.NewPage{Type: "page", ParentID: root.ID, Title: "Blog", Body: "All posts"})
	require.NoError(t, err)
	post, err := st.CreatePage(ctx, store.NewPage{Type: "post", ParentID: blog.ID, Slug: "hello", Title: "Hello", Body: "First post"})
	require.NoError(t, err)
	_, err = st.Publish(ctx, blog.ID, store.Draft{})
	require.NoError(t, err)
	_, err = st.Publish(ctx, post.ID, store.Draft{})
	require.NoError(t, err)
	return tree{blog: blog.ID, post: post.ID}
}

func newTestDaemon(t *testing.T, cfg *config.Config, opts Options) (*Daemon, tree) {
	t.Helper()
	d, err := New(t.Context(), cfg, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Stop(context.Background()) })
	return d, seed(t, d.Pipeline().Store)
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequestWithContext(t.Context(), method, path, strings.NewReader(body)))
	return rec
}

func hookBody(typ string, id int64) string {
	b, _ := json.Marshal(HookRequest{Type: typ, ID: id})
	return string(b)
}

func outputFile(cfg *config.Config, rel string) string {
	return filepath.Join(cfg.Output.Directory, filepath.FromSlash(rel))
}

func TestHooks_PublishBakesPageAndAncestors(t *testing.T) {
	cfg := testConfig(t)
	d, tr := newTestDaemon(t, cfg, Options{})

	rec := do(t, d.Handler(), http.MethodPost, "/hooks/publish", hookBody("post", tr.post))

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var resp HookResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Queued)
	assert.Equal(t, "post:"+itoa(tr.post), resp.Page)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	body, err := os.ReadFile(outputFile(cfg, "blog/hello/index.html"))
	require.NoError(t, err)
	assert.Contains(t, string(body), "First post")
	assert.FileExists(t, outputFile(cfg, "blog/index.html"))
	assert.NoFileExists(t, outputFile(cfg, "index.html"))
}

func TestHooks_UnpublishRemovesOutputAndRebuildsParent(t *testing.T) {
	cfg := testConfig(t)
	d, tr := newTestDaemon(t, cfg, Options{})
	h := d.Handler()
	require.Equal(t, http.StatusAccepted, do(t, h, http.MethodPost, "/hooks/publish", hookBody("post", tr.post)).Code)

	_, err := d.Pipeline().Store.Unpublish(t.Context(), tr.post)
	require.NoError(t, err)
	rec := do(t, h, http.MethodPost, "/hooks/unpublish", hookBody("post", tr.post))

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.NoFileExists(t, outputFile(cfg, "blog/hello/index.html"))
	blog, err := os.ReadFile(outputFile(cfg, "blog/index.html"))
	require.NoError(t, err)
	assert.NotContains(t, string(blog), "Hello")
}

func TestHooks_Validation(t *testing.T) {
	d, _ := newTestDaemon(t, testConfig(t), Options{})
	h := d.Handler()

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/hooks/publish", "not json").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/hooks/publish", `{"type":"page"}`).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodGet, "/hooks/publish", "").Code)
}

func TestHooks_SyncFailureReachesCaller(t *testing.T) {
	d, _ := newTestDaemon(t, testConfig(t), Options{})

	rec := do(t, d.Handler(), http.MethodPost, "/hooks/publish", hookBody("page", 999))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "not_found")
}

func TestBuildsAndRuns(t *testing.T) {
	cfg := testConfig(t)
	d, _ := newTestDaemon(t, cfg, Options{})
	h := d.Handler()

	rec := do(t, h, http.MethodPost, "/builds", `{"views":["post"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var report bake.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, []string{"post"}, report.Views)
	assert.Equal(t, 1, report.Built)
	assert.FileExists(t, outputFile(cfg, "blog/hello/index.html"))

	rec = do(t, h, http.MethodGet, "/runs/"+report.RunID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var detail RunDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	require.NotNil(t, detail.Summary)
	assert.Equal(t, "completed", detail.Summary.Status)
	assert.True(t, detail.Finished)
	types := make([]string, 0, len(detail.Events))
	for _, e := range detail.Events {
		types = append(types, e.Type)
	}
	assert.Equal(t, string(bake.EntryRunStarted), types[0])
	assert.Contains(t, types, string(bake.EntryPageBuilt))
	assert.Equal(t, string(bake.EntryRunCompleted), types[len(types)-1])

	rec = do(t, h, http.MethodGet, "/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), report.RunID)
}

func TestBuilds_EmptyBodyBuildsConfiguredViews(t *testing.T) {
	cfg := testConfig(t)
	d, _ := newTestDaemon(t, cfg, Options{})

	rec := do(t, d.Handler(), http.MethodPost, "/builds", "")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.FileExists(t, outputFile(cfg, "index.html"))
	assert.FileExists(t, outputFile(cfg, "blog/index.html"))
	assert.FileExists(t, outputFile(cfg, "blog/hello/index.html"))
}

func TestRuns_UnknownID(t *testing.T) {
	d, _ := newTestDaemon(t, testConfig(t), Options{})
	assert.Equal(t, http.StatusNotFound, do(t, d.Handler(), http.MethodGet, "/runs/nope", "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	d, tr := newTestDaemon(t, testConfig(t), Options{})
	h := d.Handler()
	require.Equal(t, http.StatusAccepted, do(t, h, http.MethodPost, "/hooks/publish", hookBody("post", tr.post)).Code)

	rec := do(t, h, http.MethodGet, "/metrics", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pagebaker_pages_built_total")
}

func TestHealth_ReflectsLifecycle(t *testing.T) {
	d, _ := newTestDaemon(t, testConfig(t), Options{})
	assert.Equal(t, http.StatusServiceUnavailable, do(t, d.Handler(), http.MethodGet, "/healthz", "").Code)

	require.NoError(t, d.Start(t.Context()))
	resp, err := http.Get("http://" + d.Addr() + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, HealthStatusHealthy, health.Status)
	assert.Equal(t, []string{"page", "post"}, health.Views)
	names := make([]string, 0, len(health.Services))
	for _, svc := range health.Services {
		names = append(names, svc.Name)
		assert.Equal(t, services.StatusRunning, svc.Status, svc.Name)
	}
	assert.Equal(t, []string{"activity", "http", "queue"}, names)

	require.NoError(t, d.Stop(t.Context()))
	assert.Equal(t, StatusStopped, d.GetStatus())
}

func TestQueuedMode_LocalWorkersBake(t *testing.T) {
	cfg := testConfig(t)
	cfg.Queue.Mode = config.QueueModeLocal
	d, tr := newTestDaemon(t, cfg, Options{})
	require.NoError(t, d.Start(t.Context()))

	rec := do(t, d.Handler(), http.MethodPost, "/hooks/publish", hookBody("post", tr.post))

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp HookResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Queued)
	require.Eventually(t, func() bool {
		_, err := os.Stat(outputFile(cfg, "blog/hello/index.html"))
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		return d.activity.Snapshot().Counts["publish"] == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestReloadConfig_SwapsViewsAndLogLevel(t *testing.T) {
	level := new(slog.LevelVar)
	cfg := testConfig(t)
	d, tr := newTestDaemon(t, cfg, Options{LogLevel: level})

	next := *cfg
	next.Bakery.Views = []string{"page"}
	next.Monitoring.Logging.Level = config.LogLevelDebug
	require.NoError(t, d.ReloadConfig(t.Context(), &next))

	assert.Equal(t, []string{"page"}, d.Pipeline().Binder.Views())
	assert.Equal(t, slog.LevelDebug, level.Level())
	assert.Same(t, &next, d.GetConfig())

	rec := do(t, d.Handler(), http.MethodPost, "/hooks/publish", hookBody("post", tr.post))
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.NoFileExists(t, outputFile(cfg, "blog/hello/index.html"))
	assert.FileExists(t, outputFile(cfg, "blog/index.html"))
}

func TestActivity_CountsBusEvents(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	a := newActivity()
	ch, unsub := events.Subscribe[events.PageEvent](bus, 4)
	defer unsub()
	go a.run(t.Context(), ch)

	require.NoError(t, bus.Publish(t.Context(), events.PageUnpublished{UnpublishedAt: time.Now()}))

	require.Eventually(t, func() bool { return a.Snapshot().Counts["unpublish"] == 1 }, time.Second, 5*time.Millisecond)
	assert.NotNil(t, a.Snapshot().LastSeen)
}

func TestLoggingMiddleware_KeepsIncomingRequestID(t *testing.T) {
	h := NewLoggingMiddleware().Handler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "ok")
	}))
	req := httptest.NewRequest(http.MethodGet, "/", bytes.NewReader(nil))
	req.Header.Set(RequestIDHeader, "abc")
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	assert.Equal(t, "abc", rec.Header().Get(RequestIDHeader))
}

func itoa(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
