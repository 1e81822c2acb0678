// Package render captures a page's output by sending a synthetic request through the
// same serving path a live visitor would hit.
package render

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"git.home.luguber.info/inful/pagebaker/internal/content"
	ferrors "git.home.luguber.info/inful/pagebaker/internal/foundation/errors"
	"git.home.luguber.info/inful/pagebaker/internal/metrics"
)

// Response is the rendered output of one page.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// ContentType returns the Content-Type header or text/html when unset.
func (r *Response) ContentType() string {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		return ct
	}
	return "text/html; charset=utf-8"
}

// SiteResolver performs the CMS's per-request site setup. It returns the request that the
// serving handler should see, usually with the resolved site stored in its context.
type SiteResolver interface {
	ResolveSite(r *http.Request) (*http.Request, error)
}

// Options configure an Adapter.
type Options struct {
	// Host is sent as the request host so site resolution picks the right site.
	Host string
	// RelativizeLinks rewrites absolute links that point at Host into root-relative ones.
	RelativizeLinks bool
	Recorder        metrics.Recorder
}

// Adapter bridges "render this node" to the CMS serving handler.
type Adapter struct {
	sites    SiteResolver
	serve    http.Handler
	opts     Options
	recorder metrics.Recorder
}

// NewAdapter creates an Adapter. serve is the CMS content serving handler.
func NewAdapter(sites SiteResolver, serve http.Handler, opts Options) *Adapter {
	if opts.Host == "" {
		opts.Host = "localhost"
	}
	rec := opts.Recorder
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Adapter{sites: sites, serve: serve, opts: opts, recorder: rec}
}

// ResolveOutputURL returns the canonical live URL of node.
func (a *Adapter) ResolveOutputURL(node content.Node) string {
	return ResolveOutputURL(node)
}

// ResolveOutputURL returns the canonical live URL of node.
func ResolveOutputURL(node content.Node) string {
	p := node.URLPath()
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// Render serves node through the site resolver and CMS handler and captures the response.
// Any non-2xx status is reported as a render error.
func (a *Adapter) Render(ctx context.Context, node content.Node) (*Response, error) {
	start := time.Now()
	resp, err := a.render(ctx, node)
	a.recorder.ObserveRenderDuration(time.Since(start), err == nil)
	return resp, err
}

func (a *Adapter) render(ctx context.Context, node content.Node) (*Response, error) {
	url := a.ResolveOutputURL(node)
	req := httptest.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	req.Host = a.opts.Host

	if a.sites != nil {
		resolved, err := a.sites.ResolveSite(req)
		if err != nil {
			return nil, ferrors.RenderError("site resolution failed").
				WithCause(err).
				WithContext("url", url).
				WithContext("host", a.opts.Host).
				Build()
		}
		req = resolved
	}

	rec := httptest.NewRecorder()
	a.serve.ServeHTTP(rec, req)
	result := rec.Result()
	defer result.Body.Close()

	body, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, ferrors.RenderError("read rendered body").WithCause(err).WithContext("url", url).Build()
	}
	if result.StatusCode < 200 || result.StatusCode > 299 {
		b := ferrors.RenderError("serving path returned non-success status").
			WithContext("url", url).
			WithContext("status", result.StatusCode)
		if result.StatusCode < 500 {
			b = b.Permanent()
		}
		return nil, b.Build()
	}

	resp := &Response{Status: result.StatusCode, Header: result.Header.Clone(), Body: body}
	if a.opts.RelativizeLinks && strings.HasPrefix(resp.ContentType(), "text/html") {
		rewritten, err := RelativizeLinks(body, a.opts.Host)
		if err != nil {
			return nil, ferrors.RenderError("rewrite links").WithCause(err).WithContext("url", url).Permanent().Build()
		}
		resp.Body = rewritten
	}
	return resp, nil
}
