// Package artifact stores baked pages on the filesystem.
//
// A page URL maps to a file under the output root: "/a/b/" is written to
// "a/b/index.html", while a URL whose last segment has an extension ("/feed.xml")
// is written as is. Every write records an mdfp fingerprint of the output in a
// state directory so that re-baking an unchanged page leaves the file alone.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/inful/mdfp"

	ferrors "git.home.luguber.info/inful/pagebaker/internal/foundation/errors"
	"git.home.luguber.info/inful/pagebaker/internal/render"
)

// StateDirName is the default fingerprint directory, relative to the output root.
const StateDirName = ".pagebaker"

// Writer writes and removes artifacts under an output root.
type Writer struct {
	root     string
	stateDir string
	mu       sync.Mutex
}

// NewWriter creates the output root and state directory. An empty stateDir
// places fingerprints in StateDirName under root.
func NewWriter(root, stateDir string) (*Writer, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, ferrors.FileSystemError("resolve output directory").WithCause(err).WithContext("path", root).Build()
	}
	if stateDir == "" {
		stateDir = filepath.Join(absRoot, StateDirName)
	}
	for _, dir := range []string{absRoot, stateDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, ferrors.FileSystemError("create directory").WithCause(err).WithContext("path", dir).Build()
		}
	}
	return &Writer{root: absRoot, stateDir: stateDir}, nil
}

// Root returns the absolute output directory.
func (w *Writer) Root() string { return w.root }

// RelPath maps a page URL to its slash-separated path relative to the output root.
func RelPath(url string) (string, error) {
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		url = url[:i]
	}
	for _, seg := range strings.Split(url, "/") {
		if seg == ".." {
			return "", ferrors.ValidationError("artifact URL escapes the output directory").WithContext("url", url).Build()
		}
	}
	clean := strings.TrimPrefix(path.Clean("/"+url), "/")
	if clean == "" {
		return "index.html", nil
	}
	if strings.HasSuffix(url, "/") || path.Ext(clean) == "" {
		return clean + "/index.html", nil
	}
	return clean, nil
}

// Path returns the absolute file path for url.
func (w *Writer) Path(url string) (string, error) {
	rel, err := RelPath(url)
	if err != nil {
		return "", err
	}
	full := filepath.Join(w.root, filepath.FromSlash(rel))
	if r, err := filepath.Rel(w.root, full); err != nil || strings.HasPrefix(r, "..") {
		return "", ferrors.ValidationError("artifact URL escapes the output directory").WithContext("url", url).Build()
	}
	return full, nil
}

// Fingerprint returns the mdfp fingerprint of a rendered response.
func Fingerprint(resp *render.Response) string {
	return mdfp.CalculateFingerprintFromParts(resp.ContentType(), string(resp.Body))
}

// Write stores resp at url. It returns false without touching the file when
// the stored fingerprint matches and the file still exists.
func (w *Writer) Write(ctx context.Context, url string, resp *render.Response) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	full, err := w.Path(url)
	if err != nil {
		return false, err
	}
	fpPath := w.fingerprintPath(full)
	fp := Fingerprint(resp)

	w.mu.Lock()
	defer w.mu.Unlock()

	if old, err := os.ReadFile(fpPath); err == nil && string(old) == fp {
		if _, statErr := os.Stat(full); statErr == nil {
			return false, nil
		}
	}
	if err := atomicWrite(full, resp.Body); err != nil {
		return false, ferrors.FileSystemError("write artifact").WithCause(err).WithContext("path", full).Build()
	}
	if err := atomicWrite(fpPath, []byte(fp)); err != nil {
		return true, ferrors.FileSystemError("write fingerprint").WithCause(err).WithContext("path", fpPath).Build()
	}
	return true, nil
}

// Remove deletes the artifact at url and prunes directories left empty, up to
// the output root. Removing a missing artifact is not an error.
func (w *Writer) Remove(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := w.Path(url)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return ferrors.FileSystemError("remove artifact").WithCause(err).WithContext("path", full).Build()
	}
	fpPath := w.fingerprintPath(full)
	if err := os.Remove(fpPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return ferrors.FileSystemError("remove fingerprint").WithCause(err).WithContext("path", fpPath).Build()
	}
	pruneEmpty(filepath.Dir(full), w.root)
	pruneEmpty(filepath.Dir(fpPath), w.stateDir)
	return nil
}

func (w *Writer) fingerprintPath(full string) string {
	rel, _ := filepath.Rel(w.root, full)
	return filepath.Join(w.stateDir, rel+".mdfp")
}

func atomicWrite(dst string, data []byte) error {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dst)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	// #nosec G302 -- published pages are world readable
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// pruneEmpty removes dir and its parents while they are empty, stopping at stop.
func pruneEmpty(dir, stop string) {
	for {
		rel, err := filepath.Rel(stop, dir)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}
