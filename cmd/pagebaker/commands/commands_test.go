package commands

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/pagebaker/internal/config"
	ferrors "git.home.luguber.info/inful/pagebaker/internal/foundation/errors"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var cli CLI
	var out bytes.Buffer
	parser, err := kong.New(&cli,
		kong.Name("pagebaker"),
		kong.Vars{"version": "test"},
		kong.Exit(func(code int) { t.Fatalf("unexpected exit %d", code) }))
	require.NoError(t, err)
	kctx, err := parser.Parse(args)
	if err != nil {
		return "", err
	}
	err = kctx.Run(&Global{Out: &out}, &cli)
	return out.String(), err
}

type workspace struct {
	dir, config, output string
}

func newWorkspace(t *testing.T) workspace {
	t.Helper()
	dir := t.TempDir()
	ws := workspace{dir: dir, config: filepath.Join(dir, "pagebaker.yaml"), output: filepath.Join(dir, "public")}
	yaml := fmt.Sprintf(`version: "1"
output:
  directory: %s
bakery:
  views: [page, post]
store:
  path: %s
daemon:
  eventstore_path: %s
`, ws.output, filepath.Join(dir, "pages.db"), filepath.Join(dir, "events.db"))
	require.NoError(t, os.WriteFile(ws.config, []byte(yaml), 0o600))
	return ws
}

func (w workspace) file(rel string) string {
	return filepath.Join(w.output, filepath.FromSlash(rel))
}

func TestInit_WritesLoadableConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pagebaker.yaml")

	out, err := run(t, "init", "-c", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	_, err = run(t, "init", "-c", path)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryAlreadyExists))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"page", "post"}, cfg.Bakery.Views)
}

func TestPageLifecycle(t *testing.T) {
	ws := newWorkspace(t)
	c := "--config=" + ws.config

	out, err := run(t, "page", "root", "--type", "page", c)
	require.NoError(t, err)
	assert.Contains(t, out, "page:1")

	out, err = run(t, "page", "create", "--type", "page", "--parent", "1", "--title", "Blog", c)
	require.NoError(t, err)
	assert.Contains(t, out, "page:2 at /blog/")

	body := filepath.Join(ws.dir, "hello.md")
	require.NoError(t, os.WriteFile(body, []byte("Hello *world*"), 0o600))
	_, err = run(t, "page", "create", "--type", "post", "--parent", "2", "--slug", "hello", "--title", "Hello", "--body-file", body, c)
	require.NoError(t, err)

	_, err = run(t, "publish", "page", "2", c)
	require.NoError(t, err)
	assert.FileExists(t, ws.file("blog/index.html"))

	out, err = run(t, "publish", "post", "3", c)
	require.NoError(t, err)
	assert.Contains(t, out, "/blog/hello/")
	html, err := os.ReadFile(ws.file("blog/hello/index.html"))
	require.NoError(t, err)
	assert.Contains(t, string(html), "<em>world</em>")

	_, err = run(t, "publish", "post", "3", "--slug", "hi", c)
	require.NoError(t, err)
	assert.NoFileExists(t, ws.file("blog/hello/index.html"))
	assert.FileExists(t, ws.file("blog/hi/index.html"))

	_, err = run(t, "unpublish", "post", "3", c)
	require.NoError(t, err)
	assert.NoFileExists(t, ws.file("blog/hi/index.html"))
	assert.FileExists(t, ws.file("blog/index.html"))

	out, err = run(t, "build", c)
	require.NoError(t, err)
	assert.Contains(t, out, "Built 2 of 2 pages")
	assert.FileExists(t, ws.file("index.html"))
}

func TestPublish_TypeMismatch(t *testing.T) {
	ws := newWorkspace(t)
	c := "--config=" + ws.config
	_, err := run(t, "page", "root", "--type", "page", c)
	require.NoError(t, err)

	_, err = run(t, "publish", "post", "1", c)
	require.Error(t, err)
}

func TestCommands_MissingConfig(t *testing.T) {
	_, err := run(t, "build", "--config="+filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, 7, ferrors.NewCLIErrorAdapter(false, nil).ExitCodeFor(err))
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "pagebaker")
}
