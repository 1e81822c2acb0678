package events

import (
	"time"

	"git.home.luguber.info/inful/pagebaker/internal/content"
)

// PageEvent is implemented by every page lifecycle event.
type PageEvent interface {
	PageKey() content.Key
	ActionName() string
}

// PagePublished is raised after the CMS stored and published a page.
type PagePublished struct {
	Key         content.Key
	PublishedAt time.Time
}

func (e PagePublished) PageKey() content.Key { return e.Key }
func (e PagePublished) ActionName() string   { return "publish" }

// PageUnpublished is raised after the CMS withdrew a page.
type PageUnpublished struct {
	Key           content.Key
	UnpublishedAt time.Time
}

func (e PageUnpublished) PageKey() content.Key { return e.Key }
func (e PageUnpublished) ActionName() string   { return "unpublish" }
