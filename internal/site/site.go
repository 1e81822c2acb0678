// Package site is the CMS serving path that pagebaker renders through.
//
// Resolver picks the site for a request host and stores it in the request
// context; Server maps the URL path to a live page and renders it with its
// breadcrumb trail and child listing.
package site

import (
	"context"
	"net"
	"net/http"
	"strings"

	ferrors "git.home.luguber.info/inful/pagebaker/internal/foundation/errors"
)

// Site is a hostname served by the CMS.
type Site struct {
	Name     string `yaml:"name"`
	Hostname string `yaml:"hostname"`
	Title    string `yaml:"title"`
	Default  bool   `yaml:"default"`
}

type siteKey struct{}

// WithSite returns a copy of ctx carrying s.
func WithSite(ctx context.Context, s *Site) context.Context {
	return context.WithValue(ctx, siteKey{}, s)
}

// FromContext returns the site stored by Resolver, if any.
func FromContext(ctx context.Context) (*Site, bool) {
	s, ok := ctx.Value(siteKey{}).(*Site)
	return s, ok && s != nil
}

// Resolver matches request hosts against the configured sites.
type Resolver struct {
	sites    []Site
	fallback *Site
}

// NewResolver returns a Resolver. The site flagged Default, or else the first
// one, answers hosts that match no site.
func NewResolver(sites []Site) *Resolver {
	r := &Resolver{sites: sites}
	for i := range r.sites {
		if r.sites[i].Default {
			r.fallback = &r.sites[i]
			break
		}
	}
	if r.fallback == nil && len(r.sites) > 0 {
		r.fallback = &r.sites[0]
	}
	return r
}

// ResolveSite attaches the matching Site to the request context.
func (r *Resolver) ResolveSite(req *http.Request) (*http.Request, error) {
	host := req.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	for i := range r.sites {
		if strings.EqualFold(r.sites[i].Hostname, host) {
			return req.WithContext(WithSite(req.Context(), &r.sites[i])), nil
		}
	}
	if r.fallback == nil {
		return nil, ferrors.NotFoundError("no site configured").WithContext("host", host).Build()
	}
	return req.WithContext(WithSite(req.Context(), r.fallback)), nil
}
