package bake

import (
	"context"
	"time"

	"git.home.luguber.info/inful/pagebaker/internal/content"
	"git.home.luguber.info/inful/pagebaker/internal/render"
)

// Buildable is a content node that can be baked into a static artifact.
type Buildable interface {
	content.Node
	Build(ctx context.Context, run *Run) error
	Unbuild(ctx context.Context, run *Run) error
	OutputURL() string
}

// RevisionViewer is implemented by nodes that can show themselves as a stored revision.
type RevisionViewer interface {
	AsRevision(rev content.Revision) content.Node
}

// Renderer produces the output of a node.
type Renderer interface {
	Render(ctx context.Context, node content.Node) (*render.Response, error)
	ResolveOutputURL(node content.Node) string
}

// Publisher persists and removes static artifacts by URL.
type Publisher interface {
	// Write stores resp for url. It reports false when the stored artifact was already identical.
	Write(ctx context.Context, url string, resp *render.Response) (bool, error)
	Remove(ctx context.Context, url string) error
}

// Loader reads pages from the CMS.
type Loader interface {
	Load(ctx context.Context, key content.Key) (content.Node, error)
	ListLive(ctx context.Context, typeName string) ([]content.Node, error)
}

// EntryKind names a journal entry.
type EntryKind string

const (
	EntryRunStarted   EntryKind = "RunStarted"
	EntryPageBuilt    EntryKind = "PageBuilt"
	EntryPageUnbuilt  EntryKind = "PageUnbuilt"
	EntryBuildSkipped EntryKind = "BuildSkipped"
	EntryRunCompleted EntryKind = "RunCompleted"
	EntryRunFailed    EntryKind = "RunFailed"
)

// Entry is one journal record.
type Entry struct {
	Kind     EntryKind
	Key      content.Key
	URL      string
	Duration time.Duration
	Error    string
}

// Journal records what a run did. Journal failures never fail a build.
type Journal interface {
	Record(ctx context.Context, run *Run, entry Entry) error
}

type nopJournal struct{}

func (nopJournal) Record(context.Context, *Run, Entry) error { return nil }
