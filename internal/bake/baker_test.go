package bake

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/pagebaker/internal/content"
)

func TestBaker_EachEventGetsFreshRun(t *testing.T) {
	h := newHarness("page")
	root, b, c := tree()
	d := &content.Page{ID: 4, Type: "page", ParentPg: b, SlugText: "d", IsLive: true}
	j := &fakeJournal{}
	baker := NewBaker(newFakeLoader(root, b, c, d), h.binder, h.listener, j, nil)

	run1, err := baker.Handle(t.Context(), ActionPublish, c.Key())
	require.NoError(t, err)
	run2, err := baker.Handle(t.Context(), ActionPublish, d.Key())
	require.NoError(t, err)

	assert.NotEqual(t, run1.ID, run2.ID)
	assert.Equal(t, []string{"write /b/c/", "write /b/", "write /b/d/", "write /b/"}, h.publisher.log())
	assert.Equal(t, EntryRunStarted, j.entries[run1.ID][0])
	assert.Equal(t, EntryRunCompleted, j.entries[run1.ID][len(j.entries[run1.ID])-1])
}

func TestBaker_UnpublishUsesReloadedNode(t *testing.T) {
	h := newHarness("page")
	root, b, c := tree()
	c.IsLive = false
	baker := NewBaker(newFakeLoader(root, b, c), h.binder, h.listener, nil, nil)

	run, err := baker.Handle(t.Context(), ActionUnpublish, c.Key())
	require.NoError(t, err)

	assert.Equal(t, TriggerUnpublish, run.Trigger)
	assert.Equal(t, []string{"remove /b/c/", "write /b/"}, h.publisher.log())
}

func TestBaker_LoadFailureIsJournaled(t *testing.T) {
	h := newHarness("page")
	j := &fakeJournal{}
	baker := NewBaker(newFakeLoader(), h.binder, h.listener, j, nil)

	run, err := baker.Handle(t.Context(), ActionPublish, content.Key{Type: "page", ID: 42})

	require.ErrorIs(t, err, errNotFound)
	assert.Equal(t, []EntryKind{EntryRunStarted, EntryRunFailed}, j.entries[run.ID])
}

func TestBaker_RejectsUnknownAction(t *testing.T) {
	h := newHarness("page")
	baker := NewBaker(newFakeLoader(), h.binder, h.listener, nil, nil)

	_, err := baker.Handle(t.Context(), Action("archive"), content.Key{Type: "page", ID: 1})
	require.Error(t, err)
}

func TestFullBuild_BuildsLivePagesOfEachView(t *testing.T) {
	h := newHarness("page")
	root, b, c := tree()
	draft := &content.Page{ID: 4, Type: "page", ParentPg: b, SlugText: "draft"}
	folder := &content.Page{ID: 5, Type: "folder", ParentPg: root, SlugText: "f", IsLive: true}
	baker := NewBaker(newFakeLoader(root, b, c, draft, folder), h.binder, h.listener, nil, nil)

	report, err := baker.Build(t.Context(), TriggerBuild, []string{"page", "folder"})
	require.NoError(t, err)

	assert.Equal(t, 4, report.Pages)
	assert.Equal(t, 3, report.Built)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, []string{"write /", "write /b/", "write /b/c/"}, h.publisher.log())
}

func TestFullBuild_DefaultsToConfiguredViews(t *testing.T) {
	h := newHarness("page")
	root, b, c := tree()
	baker := NewBaker(newFakeLoader(root, b, c), h.binder, h.listener, nil, nil)

	report, err := baker.Build(t.Context(), TriggerSchedule, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"page"}, report.Views)
	assert.Equal(t, 3, report.Built)
}
