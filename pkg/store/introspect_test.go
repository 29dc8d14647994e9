package store

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ricochetlabs/ricochet/pkg/epic"
)

func TestIntrospectionRequiresDebug(t *testing.T) {
	assert := assert.New(t)
	s, err := New(Opts{})
	require.NoError(t, err)
	require.NoError(t, s.RegisterEpic(counterSpec("e1", "a")))

	_, err = s.EpicState("e1")
	assert.True(errors.Is(err, ErrDebugDisabled))
	_, err = s.EpicScope("e1")
	assert.True(errors.Is(err, ErrDebugDisabled))
	_, err = s.Updaters("e1")
	assert.True(errors.Is(err, ErrDebugDisabled))
	_, err = s.ListenerCount("e1")
	assert.True(errors.Is(err, ErrDebugDisabled))
	_, err = s.UndoStackSize()
	assert.True(errors.Is(err, ErrDebugDisabled))
}

func TestIntrospectionCopiesCannotLeakMutation(t *testing.T) {
	assert := assert.New(t)
	s := newStore(t, Opts{})

	require.NoError(t, s.RegisterEpic(counterSpec("e1", "a")))
	require.NoError(t, s.Dispatch("a"))

	v, err := s.EpicState("e1")
	require.NoError(t, err)
	v.(map[string]any)["counter"] = float64(99)

	assert.Equal(float64(1), counter(t, s, "e1"))
}

func TestUpdatersInfo(t *testing.T) {
	assert := assert.New(t)
	s := newStore(t, Opts{})

	spec := epic.Spec{
		Name:  "e1",
		State: map[string]any{"counter": 0},
		Updaters: []epic.UpdaterSpec{{
			Conditions: []any{
				"a",
				epic.ConditionSpec{Type: "e2", Passive: true},
				epic.ConditionSpec{Type: "e3", Required: true, ID: "t1"},
			},
			Handler: countingHandler(),
		}},
	}
	require.NoError(t, s.RegisterEpic(spec))

	infos, err := s.Updaters("e1")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal("e1", infos[0].Epic)
	assert.Equal(0, infos[0].Index)
	assert.Equal([]ConditionInfo{
		{Type: "a"},
		{Type: "e2", Passive: true},
		{Type: "e3", Required: true, ID: "t1"},
	}, infos[0].Conditions)
}

func TestListenerCountIntrospection(t *testing.T) {
	assert := assert.New(t)
	s := newStore(t, Opts{})

	require.NoError(t, s.RegisterEpic(counterSpec("e1", "a")))

	cancel, err := s.AddListener([]any{"e1"}, func(_ epic.Values, _ epic.ListenerContext) error {
		return nil
	})
	require.NoError(t, err)

	n, err := s.ListenerCount("e1")
	require.NoError(t, err)
	assert.Equal(1, n)

	infos, err := s.Listeners("e1")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal([]ConditionInfo{{Type: "e1"}}, infos[0].Conditions)

	cancel()
	n, err = s.ListenerCount("e1")
	require.NoError(t, err)
	assert.Equal(0, n)
}

func TestMissingEpicIntrospection(t *testing.T) {
	s := newStore(t, Opts{})

	_, err := s.EpicState("ghost")
	require.Error(t, err)

	_, err = s.InstanceState("ghost", "t1")
	require.Error(t, err)
}
