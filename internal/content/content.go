// Package content defines the page tree model that pagebaker reads from the CMS.
//
// The CMS owns these values; pagebaker only reads them and decides what to bake.
package content

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Key identifies a page by content type and numeric id.
type Key struct {
	Type string `json:"type"`
	ID   int64  `json:"id"`
}

// String returns the "{type}:{id}" form used by build records and logs.
func (k Key) String() string {
	return k.Type + ":" + strconv.FormatInt(k.ID, 10)
}

// ParseKey parses the "{type}:{id}" form.
func ParseKey(s string) (Key, error) {
	i := strings.LastIndexByte(s, ':')
	if i <= 0 || i == len(s)-1 {
		return Key{}, fmt.Errorf("invalid page key %q", s)
	}
	id, err := strconv.ParseInt(s[i+1:], 10, 64)
	if err != nil {
		return Key{}, fmt.Errorf("invalid page id in %q: %w", s, err)
	}
	return Key{Type: s[:i], ID: id}, nil
}

// Node is a unit of content in the CMS tree.
type Node interface {
	Key() Key
	// Parent returns nil for the top of the tree.
	Parent() Node
	Live() bool
	IsRoot() bool
	Slug() string
	// URLPath is the canonical live path, always with leading and trailing slash.
	URLPath() string
	// Revisions are ordered newest first.
	Revisions() []Revision
}

// Revision is a stored snapshot of a page.
type Revision struct {
	ID        int64
	Slug      string
	Title     string
	Body      string
	CreatedAt time.Time
}
