package render

import (
	"bytes"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

var linkAttrs = map[string]string{
	"a":      "href",
	"link":   "href",
	"img":    "src",
	"script": "src",
	"form":   "action",
}

// RelativizeLinks rewrites absolute URLs on host into root-relative URLs so a baked
// page works regardless of where the output directory is served from.
func RelativizeLinks(body []byte, host string) ([]byte, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	changed := false
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if attr, ok := linkAttrs[n.Data]; ok {
				for i := range n.Attr {
					if n.Attr[i].Key != attr {
						continue
					}
					if rel, ok := sameHostPath(n.Attr[i].Val, host); ok {
						n.Attr[i].Val = rel
						changed = true
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if !changed {
		return body, nil
	}
	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func sameHostPath(raw, host string) (string, bool) {
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") && !strings.HasPrefix(raw, "//") {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil || !strings.EqualFold(u.Hostname(), hostname(host)) {
		return "", false
	}
	rel := u.EscapedPath()
	if rel == "" {
		rel = "/"
	}
	if u.RawQuery != "" {
		rel += "?" + u.RawQuery
	}
	if u.Fragment != "" {
		rel += "#" + u.EscapedFragment()
	}
	return rel, true
}

func hostname(host string) string {
	if h, _, ok := strings.Cut(host, ":"); ok {
		return h
	}
	return host
}
