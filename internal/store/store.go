// Package store is a SQLite-backed page tree with revision history.
//
// It plays the CMS side of pagebaker: pages are created as drafts, published
// (which stores a revision) and unpublished. Load returns a content.Page with its
// whole ancestor chain so the bake core can walk upward without more queries.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"git.home.luguber.info/inful/pagebaker/internal/content"
	ferrors "git.home.luguber.info/inful/pagebaker/internal/foundation/errors"
)

// Store persists pages and revisions in SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewPage describes a draft to create under an existing parent.
type NewPage struct {
	Type     string
	ParentID int64
	Slug     string
	Title    string
	Body     string
}

// Draft holds the fields to publish. Empty fields keep the page's current value.
type Draft struct {
	Slug  string
	Title string
	Body  string
}

// Open opens (and if needed creates) the store at path. Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, ferrors.StoreError("open sqlite database").WithCause(err).WithContext("path", path).Build()
	}
	// One connection keeps ":memory:" databases shared and serialises writers.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, ferrors.StoreError("initialize schema").WithCause(err).Build()
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	PRAGMA foreign_keys = ON;
	CREATE TABLE IF NOT EXISTS pages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		type TEXT NOT NULL,
		parent_id INTEGER REFERENCES pages(id),
		slug TEXT NOT NULL,
		title TEXT NOT NULL,
		body TEXT NOT NULL DEFAULT '',
		live INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_pages_parent ON pages(parent_id);
	CREATE INDEX IF NOT EXISTS idx_pages_type_live ON pages(type, live);
	CREATE TABLE IF NOT EXISTS revisions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		page_id INTEGER NOT NULL REFERENCES pages(id),
		slug TEXT NOT NULL,
		title TEXT NOT NULL,
		body TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_revisions_page ON revisions(page_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return ferrors.StoreError("ping page store").WithCause(err).Build()
	}
	return nil
}

// CreateRoot creates the single root page of the tree. The root is live from the start.
func (s *Store) CreateRoot(ctx context.Context, typeName, title string) (*content.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM pages WHERE parent_id IS NULL").Scan(&n); err != nil {
		return nil, ferrors.StoreError("count roots").WithCause(err).Build()
	}
	if n > 0 {
		return nil, ferrors.NewError(ferrors.CategoryAlreadyExists, "root page already exists").Build()
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO pages (type, parent_id, slug, title, body, live) VALUES (?, NULL, ?, ?, '', 1)",
		typeName, "root", title)
	if err != nil {
		return nil, ferrors.StoreError("insert root").WithCause(err).Build()
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, ferrors.StoreError("root id").WithCause(err).Build()
	}
	return s.loadLocked(ctx, id)
}

// CreatePage inserts a draft page under np.ParentID.
func (s *Store) CreatePage(ctx context.Context, np NewPage) (*content.Page, error) {
	if strings.TrimSpace(np.Type) == "" {
		return nil, ferrors.ValidationError("page type is required").Build()
	}
	slug := Slugify(np.Slug)
	if slug == "" {
		slug = Slugify(np.Title)
	}
	if slug == "" {
		return nil, ferrors.ValidationError("page needs a slug or a title").Build()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.row(ctx, np.ParentID); err != nil {
		return nil, err
	}
	if err := s.checkSiblingSlug(ctx, np.ParentID, 0, slug); err != nil {
		return nil, err
	}
	title := np.Title
	if title == "" {
		title = slug
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO pages (type, parent_id, slug, title, body, live) VALUES (?, ?, ?, ?, ?, 0)",
		np.Type, np.ParentID, slug, title, np.Body)
	if err != nil {
		return nil, ferrors.StoreError("insert page").WithCause(err).Build()
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, ferrors.StoreError("page id").WithCause(err).Build()
	}
	return s.loadLocked(ctx, id)
}

// Publish applies d to the page, stores a revision and marks the page live.
func (s *Store) Publish(ctx context.Context, id int64, d Draft) (*content.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.row(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Slug != "" {
		if cur.parentID.Valid {
			cur.slug = Slugify(d.Slug)
			if cur.slug == "" {
				return nil, ferrors.ValidationError("slug is empty after normalisation").WithContext("slug", d.Slug).Build()
			}
			if err := s.checkSiblingSlug(ctx, cur.parentID.Int64, id, cur.slug); err != nil {
				return nil, err
			}
		}
	}
	if d.Title != "" {
		cur.title = d.Title
	}
	if d.Body != "" {
		cur.body = d.Body
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, ferrors.StoreError("begin publish").WithCause(err).Build()
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		"UPDATE pages SET slug = ?, title = ?, body = ?, live = 1 WHERE id = ?",
		cur.slug, cur.title, cur.body, id); err != nil {
		return nil, ferrors.StoreError("update page").WithCause(err).Build()
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO revisions (page_id, slug, title, body, created_at) VALUES (?, ?, ?, ?, ?)",
		id, cur.slug, cur.title, cur.body, time.Now().UnixNano()); err != nil {
		return nil, ferrors.StoreError("insert revision").WithCause(err).Build()
	}
	if err := tx.Commit(); err != nil {
		return nil, ferrors.StoreError("commit publish").WithCause(err).Build()
	}
	return s.loadLocked(ctx, id)
}

// Unpublish marks the page as a draft. Its revisions are kept.
func (s *Store) Unpublish(ctx context.Context, id int64) (*content.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.row(ctx, id)
	if err != nil {
		return nil, err
	}
	if !cur.parentID.Valid {
		return nil, ferrors.ValidationError("the root page cannot be unpublished").Build()
	}
	if _, err := s.db.ExecContext(ctx, "UPDATE pages SET live = 0 WHERE id = ?", id); err != nil {
		return nil, ferrors.StoreError("unpublish page").WithCause(err).Build()
	}
	return s.loadLocked(ctx, id)
}

// Load returns the page for key with its ancestors and revisions. The page's
// type must match key.Type.
func (s *Store) Load(ctx context.Context, key content.Key) (content.Node, error) {
	p, err := s.Page(ctx, key.ID)
	if err != nil {
		return nil, err
	}
	if p.Type != key.Type {
		return nil, ferrors.NotFoundError("page type mismatch").
			WithContext("key", key.String()).
			WithContext("type", p.Type).
			Build()
	}
	return p, nil
}

// Page returns the page with the given id.
func (s *Store) Page(ctx context.Context, id int64) (*content.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadLocked(ctx, id)
}

// Root returns the root page.
func (s *Store) Root(ctx context.Context) (*content.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var id int64
	err := s.db.QueryRowContext(ctx, "SELECT id FROM pages WHERE parent_id IS NULL ORDER BY id LIMIT 1").Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ferrors.NotFoundError("no root page").Build()
	}
	if err != nil {
		return nil, ferrors.StoreError("query root").WithCause(err).Build()
	}
	return s.loadLocked(ctx, id)
}

// ListLive returns every live page of typeName ordered by id.
func (s *Store) ListLive(ctx context.Context, typeName string) ([]content.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids, err := s.ids(ctx, "SELECT id FROM pages WHERE type = ? AND live = 1 ORDER BY id", typeName)
	if err != nil {
		return nil, err
	}
	nodes := make([]content.Node, 0, len(ids))
	for _, id := range ids {
		p, err := s.loadLocked(ctx, id)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, p)
	}
	return nodes, nil
}

// Children returns the live children of id ordered by title.
func (s *Store) Children(ctx context.Context, id int64) ([]*content.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids, err := s.ids(ctx, "SELECT id FROM pages WHERE parent_id = ? AND live = 1 ORDER BY title, id", id)
	if err != nil {
		return nil, err
	}
	out := make([]*content.Page, 0, len(ids))
	for _, cid := range ids {
		p, err := s.loadLocked(ctx, cid)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// FindByPath resolves a URL path such as "/blog/hello/" to a page by walking
// slugs down from the root. Draft pages are found too; callers decide what to serve.
func (s *Store) FindByPath(ctx context.Context, urlPath string) (*content.Page, error) {
	root, err := s.Root(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id := root.ID
	for _, seg := range strings.Split(strings.Trim(urlPath, "/"), "/") {
		if seg == "" {
			continue
		}
		err := s.db.QueryRowContext(ctx, "SELECT id FROM pages WHERE parent_id = ? AND slug = ?", id, seg).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ferrors.NotFoundError("no page at path").WithContext("path", urlPath).Build()
		}
		if err != nil {
			return nil, ferrors.StoreError("resolve path").WithCause(err).Build()
		}
	}
	return s.loadLocked(ctx, id)
}

type pageRow struct {
	id       int64
	typ      string
	parentID sql.NullInt64
	slug     string
	title    string
	body     string
	live     bool
}

func (s *Store) row(ctx context.Context, id int64) (*pageRow, error) {
	var r pageRow
	err := s.db.QueryRowContext(ctx,
		"SELECT id, type, parent_id, slug, title, body, live FROM pages WHERE id = ?", id,
	).Scan(&r.id, &r.typ, &r.parentID, &r.slug, &r.title, &r.body, &r.live)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ferrors.NotFoundError("page not found").WithContext("id", id).Build()
	}
	if err != nil {
		return nil, ferrors.StoreError("query page").WithCause(err).WithContext("id", id).Build()
	}
	return &r, nil
}

// loadLocked reads the page, its revisions and its ancestor chain. Ancestors
// carry no revisions.
func (s *Store) loadLocked(ctx context.Context, id int64) (*content.Page, error) {
	r, err := s.row(ctx, id)
	if err != nil {
		return nil, err
	}
	page := r.page()
	if page.History, err = s.revisions(ctx, id); err != nil {
		return nil, err
	}

	child := page
	seen := map[int64]bool{id: true}
	for pid := r.parentID; pid.Valid; {
		if seen[pid.Int64] {
			return nil, ferrors.StoreError("page tree contains a cycle").WithContext("id", pid.Int64).Build()
		}
		seen[pid.Int64] = true
		pr, err := s.row(ctx, pid.Int64)
		if err != nil {
			return nil, err
		}
		parent := pr.page()
		child.ParentPg = parent
		child = parent
		pid = pr.parentID
	}
	return page, nil
}

func (r *pageRow) page() *content.Page {
	return &content.Page{
		ID:       r.id,
		Type:     r.typ,
		SlugText: r.slug,
		Title:    r.title,
		Body:     r.body,
		IsLive:   r.live,
	}
}

func (s *Store) revisions(ctx context.Context, pageID int64) ([]content.Revision, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, slug, title, body, created_at FROM revisions WHERE page_id = ? ORDER BY id DESC", pageID)
	if err != nil {
		return nil, ferrors.StoreError("query revisions").WithCause(err).Build()
	}
	defer rows.Close()

	var out []content.Revision
	for rows.Next() {
		var rev content.Revision
		var created int64
		if err := rows.Scan(&rev.ID, &rev.Slug, &rev.Title, &rev.Body, &created); err != nil {
			return nil, fmt.Errorf("scan revision: %w", err)
		}
		rev.CreatedAt = time.Unix(0, created)
		out = append(out, rev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate revisions: %w", err)
	}
	return out, nil
}

func (s *Store) ids(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ferrors.StoreError("query pages").WithCause(err).Build()
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan page id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) checkSiblingSlug(ctx context.Context, parentID, selfID int64, slug string) error {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM pages WHERE parent_id = ? AND slug = ? AND id != ?", parentID, slug, selfID,
	).Scan(&n)
	if err != nil {
		return ferrors.StoreError("check slug").WithCause(err).Build()
	}
	if n > 0 {
		return ferrors.NewError(ferrors.CategoryAlreadyExists, "slug already used by a sibling").
			WithContext("slug", slug).
			WithContext("parent_id", parentID).
			Build()
	}
	return nil
}
