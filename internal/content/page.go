package content

import "strings"

// Page is the concrete Node used by the bundled store.
type Page struct {
	ID       int64
	Type     string
	ParentPg *Page
	SlugText string
	Title    string
	Body     string
	IsLive   bool
	History  []Revision
}

var _ Node = (*Page)(nil)

func (p *Page) Key() Key { return Key{Type: p.Type, ID: p.ID} }

// Parent returns the parent page, or nil when p is the top of the tree.
func (p *Page) Parent() Node {
	if p.ParentPg == nil {
		return nil
	}
	return p.ParentPg
}

func (p *Page) Live() bool            { return p.IsLive }
func (p *Page) IsRoot() bool          { return p.ParentPg == nil }
func (p *Page) Slug() string          { return p.SlugText }
func (p *Page) Revisions() []Revision { return p.History }

// URLPath joins the slugs of all non-root ancestors. The root itself is "/".
func (p *Page) URLPath() string {
	var segs []string
	for cur := p; cur != nil && !cur.IsRoot(); cur = cur.ParentPg {
		segs = append(segs, cur.SlugText)
	}
	if len(segs) == 0 {
		return "/"
	}
	var b strings.Builder
	for i := len(segs) - 1; i >= 0; i-- {
		b.WriteByte('/')
		b.WriteString(segs[i])
	}
	b.WriteByte('/')
	return b.String()
}

// Ancestors returns the chain from the root down to p's parent.
func (p *Page) Ancestors() []*Page {
	var chain []*Page
	for cur := p.ParentPg; cur != nil; cur = cur.ParentPg {
		chain = append(chain, cur)
	}
	for l, r := 0, len(chain)-1; l < r; l, r = l+1, r-1 {
		chain[l], chain[r] = chain[r], chain[l]
	}
	return chain
}

// AtRevision returns a copy of p as it was stored in rev. The copy keeps p's parent,
// so its URLPath reflects where that revision used to be served.
func (p *Page) AtRevision(rev Revision) *Page {
	cp := *p
	cp.SlugText = rev.Slug
	cp.Title = rev.Title
	cp.Body = rev.Body
	cp.History = nil
	return &cp
}

// AsRevision is AtRevision as a Node.
func (p *Page) AsRevision(rev Revision) Node { return p.AtRevision(rev) }
