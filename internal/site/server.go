package site

import (
	"bytes"
	"context"
	_ "embed"
	"html/template"
	"log/slog"
	"net/http"
	"os"

	"github.com/yuin/goldmark"

	"git.home.luguber.info/inful/pagebaker/internal/content"
	ferrors "git.home.luguber.info/inful/pagebaker/internal/foundation/errors"
	"git.home.luguber.info/inful/pagebaker/internal/logfields"
)

//go:embed templates/page.html
var defaultTemplate string

// Pages is the part of the page store the server reads.
type Pages interface {
	FindByPath(ctx context.Context, urlPath string) (*content.Page, error)
	Children(ctx context.Context, id int64) ([]*content.Page, error)
}

// Link is a titled URL in a breadcrumb or listing.
type Link struct {
	Title string
	URL   string
}

// PageData is what the page template sees.
type PageData struct {
	Site        *Site
	Title       string
	URL         string
	Body        template.HTML
	Breadcrumbs []Link
	Children    []Link
}

// Server renders live pages.
type Server struct {
	pages Pages
	tmpl  *template.Template
	md    goldmark.Markdown
}

// NewServer returns a Server using the template at templatePath, or the
// built-in template when templatePath is empty.
func NewServer(pages Pages, templatePath string) (*Server, error) {
	src := defaultTemplate
	if templatePath != "" {
		// #nosec G304 -- template path comes from the operator's config
		data, err := os.ReadFile(templatePath)
		if err != nil {
			return nil, ferrors.ConfigError("read page template").WithCause(err).WithContext("path", templatePath).Build()
		}
		src = string(data)
	}
	tmpl, err := template.New("page").Parse(src)
	if err != nil {
		return nil, ferrors.ConfigError("parse page template").WithCause(err).Build()
	}
	return &Server{pages: pages, tmpl: tmpl, md: goldmark.New()}, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	page, err := s.pages.FindByPath(ctx, r.URL.Path)
	if err != nil {
		if ferrors.HasCategory(err, ferrors.CategoryNotFound) {
			http.NotFound(w, r)
			return
		}
		slog.ErrorContext(ctx, "Page lookup failed", logfields.URL(r.URL.Path), logfields.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if !page.Live() || !ancestorsLive(page) {
		http.NotFound(w, r)
		return
	}

	data, err := s.pageData(ctx, page)
	if err != nil {
		slog.ErrorContext(ctx, "Page data failed", logfields.Page(page.Key().String()), logfields.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if err := s.tmpl.Execute(&buf, data); err != nil {
		slog.ErrorContext(ctx, "Template failed", logfields.Page(page.Key().String()), logfields.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodGet {
		_, _ = w.Write(buf.Bytes())
	}
}

func (s *Server) pageData(ctx context.Context, page *content.Page) (*PageData, error) {
	var body bytes.Buffer
	if err := s.md.Convert([]byte(page.Body), &body); err != nil {
		return nil, err
	}
	data := &PageData{
		Title: page.Title,
		URL:   page.URLPath(),
		// #nosec G203 -- body is goldmark output, which escapes raw HTML by default
		Body: template.HTML(body.String()),
	}
	if st, ok := FromContext(ctx); ok {
		data.Site = st
	}
	for _, a := range page.Ancestors() {
		data.Breadcrumbs = append(data.Breadcrumbs, Link{Title: a.Title, URL: a.URLPath()})
	}
	kids, err := s.pages.Children(ctx, page.ID)
	if err != nil {
		return nil, err
	}
	for _, k := range kids {
		data.Children = append(data.Children, Link{Title: k.Title, URL: k.URLPath()})
	}
	return data, nil
}

// ancestorsLive reports whether every non-root ancestor of page is live.
func ancestorsLive(page *content.Page) bool {
	for cur := page.ParentPg; cur != nil && !cur.IsRoot(); cur = cur.ParentPg {
		if !cur.IsLive {
			return false
		}
	}
	return true
}
