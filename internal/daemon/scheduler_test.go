package daemon

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/pagebaker/internal/bake"
)

func TestScheduler_RebuildUsesScheduleTrigger(t *testing.T) {
	var got []bake.Trigger
	s, err := NewScheduler(func(_ context.Context, trigger bake.Trigger, views []string) (*bake.Report, error) {
		got = append(got, trigger)
		assert.Empty(t, views)
		return &bake.Report{RunID: "r1"}, nil
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	id, err := s.ScheduleRebuild(t.Context(), "0 3 * * *")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, 1, s.Jobs())

	s.executeRebuild(t.Context())
	assert.Equal(t, []bake.Trigger{bake.TriggerSchedule}, got)
}

func TestScheduler_RejectsBadCron(t *testing.T) {
	s, err := NewScheduler(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	_, err = s.ScheduleRebuild(t.Context(), "whenever")
	require.Error(t, err)
	assert.Equal(t, 0, s.Jobs())
}
