package store

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ricochetlabs/ricochet/pkg/epic"
)

func undoDepth(t *testing.T, s *Store) int {
	t.Helper()
	n, err := s.UndoStackSize()
	require.NoError(t, err)
	return n
}

func redoDepth(t *testing.T, s *Store) int {
	t.Helper()
	n, err := s.RedoStackSize()
	require.NoError(t, err)
	return n
}

func TestUndoRedoBoundedStack(t *testing.T) {
	assert := assert.New(t)
	s := newStore(t, Opts{Undo: true, MaxUndoStack: 2})

	require.NoError(t, s.RegisterEpic(counterSpec("e1", "a")))

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Dispatch("a"))
	}
	assert.Equal(float64(3), counter(t, s, "e1"))
	assert.Equal(2, undoDepth(t, s))

	require.NoError(t, s.Undo())
	assert.Equal(float64(2), counter(t, s, "e1"))
	require.NoError(t, s.Undo())
	assert.Equal(float64(1), counter(t, s, "e1"))

	// the oldest cycle was evicted, further undo is a no-op
	require.NoError(t, s.Undo())
	assert.Equal(float64(1), counter(t, s, "e1"))
	assert.Equal(0, undoDepth(t, s))
	assert.Equal(2, redoDepth(t, s))

	require.NoError(t, s.Redo())
	require.NoError(t, s.Redo())
	assert.Equal(float64(3), counter(t, s, "e1"))
	assert.Equal(2, undoDepth(t, s))

	require.NoError(t, s.Redo())
	assert.Equal(float64(3), counter(t, s, "e1"))
}

func TestUndoRedoIdentity(t *testing.T) {
	assert := assert.New(t)
	s := newStore(t, Opts{Undo: true})

	require.NoError(t, s.RegisterEpic(counterSpec("e1", "a")))
	require.NoError(t, s.Dispatch("a"))
	require.NoError(t, s.Dispatch("a"))

	require.NoError(t, s.Undo())
	require.NoError(t, s.Redo())
	assert.Equal(float64(2), counter(t, s, "e1"))

	require.NoError(t, s.Undo())
	require.NoError(t, s.Undo())
	assert.Equal(float64(0), counter(t, s, "e1"))
	require.NoError(t, s.Redo())
	require.NoError(t, s.Redo())
	assert.Equal(float64(2), counter(t, s, "e1"))
}

func TestUndoRestoresInitialSentinel(t *testing.T) {
	assert := assert.New(t)
	s := newStore(t, Opts{Undo: true})

	spec := counterSpec("e1", "a")
	spec.State = nil
	require.NoError(t, s.RegisterEpic(spec))

	require.NoError(t, s.Dispatch("a"))
	assert.Equal(float64(1), counter(t, s, "e1"))

	require.NoError(t, s.Undo())
	v, err := s.EpicState("e1")
	require.NoError(t, err)
	assert.Nil(v)

	require.NoError(t, s.Redo())
	assert.Equal(float64(1), counter(t, s, "e1"))
}

func TestUndoComposesPatchesWithinOneCycle(t *testing.T) {
	assert := assert.New(t)
	s := newStore(t, Opts{Undo: true})

	e1 := epic.Spec{
		Name:  "e1",
		State: map[string]any{"counter": 0},
		Updaters: []epic.UpdaterSpec{
			{Conditions: []any{"a"}, Handler: countingHandler()},
			{Conditions: []any{"a"}, Handler: countingHandler()},
		},
	}
	require.NoError(t, s.RegisterEpic(e1))

	require.NoError(t, s.Dispatch("a"))
	assert.Equal(float64(2), counter(t, s, "e1"))
	assert.Equal(1, undoDepth(t, s))

	require.NoError(t, s.Undo())
	assert.Equal(float64(0), counter(t, s, "e1"))

	require.NoError(t, s.Redo())
	assert.Equal(float64(2), counter(t, s, "e1"))
}

func TestNewDispatchClearsRedoStack(t *testing.T) {
	assert := assert.New(t)
	s := newStore(t, Opts{Undo: true})

	require.NoError(t, s.RegisterEpic(counterSpec("e1", "a")))
	require.NoError(t, s.Dispatch("a"))
	require.NoError(t, s.Undo())
	assert.Equal(1, redoDepth(t, s))

	require.NoError(t, s.Dispatch("a"))
	assert.Equal(0, redoDepth(t, s))
	require.NoError(t, s.Redo())
	assert.Equal(float64(1), counter(t, s, "e1"))
}

func TestUndoNotifiesListeners(t *testing.T) {
	assert := assert.New(t)
	s := newStore(t, Opts{Undo: true})

	require.NoError(t, s.RegisterEpic(counterSpec("e1", "a")))

	var sources []string
	_, err := s.AddListener([]any{"e1"}, func(_ epic.Values, ctx epic.ListenerContext) error {
		sources = append(sources, ctx.SourceAction.Type)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, s.Dispatch("a"))
	require.NoError(t, s.Undo())
	require.NoError(t, s.Redo())

	assert.Equal([]string{"a", "STORE_UNDO", "STORE_REDO"}, sources)
}

func TestDefaultMaxUndoStack(t *testing.T) {
	s := newStore(t, Opts{Undo: true})

	require.NoError(t, s.RegisterEpic(counterSpec("e1", "a")))
	for i := 0; i < 12; i++ {
		require.NoError(t, s.Dispatch("a"))
	}
	assert.Equal(t, 10, undoDepth(t, s))
}

func TestUndoDisabled(t *testing.T) {
	s := newStore(t, Opts{})

	err := s.Undo()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUndoDisabled))

	err = s.Redo()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUndoDisabled))
}

func TestUndoSkipsInstancedReplicasIndependently(t *testing.T) {
	assert := assert.New(t)
	s := newStore(t, Opts{Undo: true})

	spec := counterSpec("e1", "a")
	spec.Instance = true
	require.NoError(t, s.RegisterEpic(spec))

	require.NoError(t, s.Dispatch(epic.Action{Type: "a", Target: "t1"}))
	require.NoError(t, s.Dispatch(epic.Action{Type: "a", Target: "t2"}))

	require.NoError(t, s.Undo())
	v1, err := s.InstanceState("e1", "t1")
	require.NoError(t, err)
	assert.Equal(map[string]any{"counter": float64(1)}, v1)
	v2, err := s.InstanceState("e1", "t2")
	require.NoError(t, err)
	assert.Equal(map[string]any{"counter": float64(0)}, v2)
}
