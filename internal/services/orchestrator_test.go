package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/pagebaker/internal/foundation/errors"
)

type recorder struct{ calls []string }

func (r *recorder) service(name string, deps []string, startErr error) Func {
	return Func{
		ServiceName: name,
		DependsOn:   deps,
		StartFunc: func(context.Context) error {
			r.calls = append(r.calls, "start "+name)
			return startErr
		},
		StopFunc: func(context.Context) error {
			r.calls = append(r.calls, "stop "+name)
			return nil
		},
	}
}

func TestOrchestrator_StartsInDependencyOrderAndStopsInReverse(t *testing.T) {
	rec := &recorder{}
	o := NewOrchestrator()
	require.NoError(t, o.Register(rec.service("http", []string{"queue"}, nil)))
	require.NoError(t, o.Register(rec.service("scheduler", []string{"queue"}, nil)))
	require.NoError(t, o.Register(rec.service("queue", nil, nil)))

	require.NoError(t, o.StartAll(t.Context()))
	require.NoError(t, o.StopAll(t.Context()))

	assert.Equal(t, []string{
		"start queue", "start http", "start scheduler",
		"stop scheduler", "stop http", "stop queue",
	}, rec.calls)
	for _, info := range o.Info() {
		assert.Equal(t, StatusStopped, info.Status, info.Name)
	}
}

func TestOrchestrator_StartFailureStopsStartedServices(t *testing.T) {
	rec := &recorder{}
	o := NewOrchestrator()
	require.NoError(t, o.Register(rec.service("a", nil, nil)))
	require.NoError(t, o.Register(rec.service("b", []string{"a"}, errors.New("boom"))))

	err := o.StartAll(t.Context())

	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryDaemon))
	assert.Equal(t, []string{"start a", "start b", "stop a"}, rec.calls)
	info := o.Info()
	assert.Equal(t, StatusStopped, info[0].Status)
	assert.Equal(t, StatusFailed, info[1].Status)
	assert.Equal(t, "boom", info[1].LastError)
}

func TestOrchestrator_RegisterValidation(t *testing.T) {
	o := NewOrchestrator()
	require.Error(t, o.Register(Func{}))
	require.NoError(t, o.Register(Func{ServiceName: "x"}))
	err := o.Register(Func{ServiceName: "x"})
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryAlreadyExists))
}

func TestOrchestrator_DependencyErrors(t *testing.T) {
	o := NewOrchestrator()
	require.NoError(t, o.Register(Func{ServiceName: "a", DependsOn: []string{"b"}}))
	require.NoError(t, o.Register(Func{ServiceName: "b", DependsOn: []string{"a"}}))
	assert.Error(t, o.StartAll(t.Context()))

	o = NewOrchestrator()
	require.NoError(t, o.Register(Func{ServiceName: "a", DependsOn: []string{"missing"}}))
	assert.Error(t, o.StartAll(t.Context()))
}
