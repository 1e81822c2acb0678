package bake

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"git.home.luguber.info/inful/pagebaker/internal/content"
	ferrors "git.home.luguber.info/inful/pagebaker/internal/foundation/errors"
	"git.home.luguber.info/inful/pagebaker/internal/logfields"
	"git.home.luguber.info/inful/pagebaker/internal/metrics"
)

// Binder attaches the build capability to content nodes whose type is one of
// the configured buildable views. It is safe for concurrent use; the view list
// may be replaced while runs are in progress.
type Binder struct {
	mu    sync.RWMutex
	views map[string]struct{}

	renderer  Renderer
	publisher Publisher
	journal   Journal
	recorder  metrics.Recorder
}

// BinderOption configures a Binder.
type BinderOption func(*Binder)

// WithJournal records builds and removals in j.
func WithJournal(j Journal) BinderOption {
	return func(b *Binder) {
		if j != nil {
			b.journal = j
		}
	}
}

// WithRecorder reports build metrics to r.
func WithRecorder(r metrics.Recorder) BinderOption {
	return func(b *Binder) {
		if r != nil {
			b.recorder = r
		}
	}
}

// NewBinder creates a Binder for the given view type names.
func NewBinder(views []string, renderer Renderer, publisher Publisher, opts ...BinderOption) *Binder {
	b := &Binder{
		renderer:  renderer,
		publisher: publisher,
		journal:   nopJournal{},
		recorder:  metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(b)
	}
	b.SetViews(views)
	return b
}

// SetViews replaces the buildable view list.
func (b *Binder) SetViews(views []string) {
	set := make(map[string]struct{}, len(views))
	for _, v := range views {
		set[v] = struct{}{}
	}
	b.mu.Lock()
	b.views = set
	b.mu.Unlock()
}

// Views returns the buildable view list, sorted.
func (b *Binder) Views() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.views))
	for v := range b.views {
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}

// IsBuildable reports whether typeName is a configured view.
func (b *Binder) IsBuildable(typeName string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.views[typeName]
	return ok
}

// Bind wraps node. The wrapper implements Buildable when node's type is a
// configured view; in every case its Parent is bound too, so a walk up the
// tree keeps seeing capabilities. Bind(nil) returns nil.
func (b *Binder) Bind(node content.Node) content.Node {
	if node == nil {
		return nil
	}
	if bn, ok := node.(*boundNode); ok && bn.binder == b {
		node = bn.Node
	}
	if bn, ok := node.(*buildableNode); ok && bn.binder == b {
		node = bn.Node
	}
	base := boundNode{Node: node, binder: b}
	if b.IsBuildable(node.Key().Type) {
		return &buildableNode{boundNode: base}
	}
	return &base
}

// Unwrap returns the content node under a bound wrapper.
func Unwrap(node content.Node) content.Node {
	switch n := node.(type) {
	case *boundNode:
		return n.Node
	case *buildableNode:
		return n.Node
	}
	return node
}

type boundNode struct {
	content.Node
	binder *Binder
}

func (n *boundNode) Parent() content.Node {
	return n.binder.Bind(n.Node.Parent())
}

func (n *boundNode) AsRevision(rev content.Revision) content.Node {
	rv, ok := n.Node.(RevisionViewer)
	if !ok {
		return nil
	}
	return n.binder.Bind(rv.AsRevision(rev))
}

type buildableNode struct {
	boundNode
}

var _ Buildable = (*buildableNode)(nil)

func (n *buildableNode) OutputURL() string {
	return n.binder.renderer.ResolveOutputURL(n.Node)
}

// Build renders the page and hands the output to the publisher, unless the run
// already built it.
func (n *buildableNode) Build(ctx context.Context, run *Run) error {
	b := n.binder
	key := n.Key()
	url := n.OutputURL()

	if !run.Gate.ShouldBuild(key.Type, key.ID) {
		b.recorder.IncBuildSkipped(key.Type)
		b.record(ctx, run, Entry{Kind: EntryBuildSkipped, Key: key, URL: url})
		slog.DebugContext(ctx, "Page already built in this run",
			logfields.RunID(run.ID), logfields.Page(key.String()))
		return nil
	}

	start := time.Now()
	resp, err := b.renderer.Render(ctx, n.Node)
	if err != nil {
		return fmt.Errorf("build %s: %w", key, err)
	}
	written, err := b.publisher.Write(ctx, url, resp)
	if err != nil {
		return outputError("write", key, url, err)
	}
	if !written {
		b.recorder.IncArtifactUnchanged()
	}
	run.Gate.MarkBuilt(key.Type, key.ID)
	elapsed := time.Since(start)

	b.recorder.IncPageBuilt(key.Type)
	b.record(ctx, run, Entry{Kind: EntryPageBuilt, Key: key, URL: url, Duration: elapsed})
	slog.InfoContext(ctx, "Page built",
		logfields.RunID(run.ID),
		logfields.Page(key.String()),
		logfields.URL(url),
		slog.Bool("written", written),
		logfields.DurationMS(float64(elapsed.Microseconds())/1000))
	return nil
}

// Unbuild removes the page's output.
func (n *buildableNode) Unbuild(ctx context.Context, run *Run) error {
	b := n.binder
	key := n.Key()
	url := n.OutputURL()
	if err := b.publisher.Remove(ctx, url); err != nil {
		return outputError("remove", key, url, err)
	}
	b.recorder.IncPageUnbuilt(key.Type)
	b.record(ctx, run, Entry{Kind: EntryPageUnbuilt, Key: key, URL: url})
	slog.InfoContext(ctx, "Page output removed",
		logfields.RunID(run.ID), logfields.Page(key.String()), logfields.URL(url))
	return nil
}

func (b *Binder) record(ctx context.Context, run *Run, e Entry) {
	if err := b.journal.Record(ctx, run, e); err != nil {
		slog.WarnContext(ctx, "Failed to record journal entry",
			logfields.RunID(run.ID), slog.String("kind", string(e.Kind)), logfields.Error(err))
	}
}

// outputError classifies a publisher failure as a build error. The cause's
// retry strategy is kept so transient filesystem errors are still retried.
func outputError(op string, key content.Key, url string, err error) error {
	b := ferrors.BuildError(op+" page output").
		WithCause(err).
		WithContext("page", key.String()).
		WithContext("url", url)
	if ferrors.IsRetryable(err) {
		b = b.Retryable()
	}
	return b.Build()
}
