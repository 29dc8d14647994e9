package registry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ricochetlabs/ricochet/pkg/epic"
)

func noopHandler(_ epic.Values, _ epic.Context) (*epic.Update, error) {
	return nil, nil
}

func compile(t *testing.T, spec epic.Spec, patterns bool) *epic.Epic {
	t.Helper()
	e, err := epic.Compile(spec, patterns)
	require.NoError(t, err)
	return e
}

func TestRegistryInsertAndGet(t *testing.T) {
	assert := assert.New(t)

	r, err := New()
	require.NoError(t, err)

	e := compile(t, epic.Spec{
		Name: "e1",
		Updaters: []epic.UpdaterSpec{{
			Conditions: []any{"a"},
			Handler:    noopHandler,
		}},
	}, false)
	require.NoError(t, r.Insert(e))

	got, err := r.Get("e1")
	require.NoError(t, err)
	assert.Same(e, got)
	assert.True(r.Has("e1"))

	_, err = r.Get("missing")
	assert.True(errors.Is(err, ErrNotFound))
	assert.False(r.Has("missing"))
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r, err := New()
	require.NoError(t, err)

	require.NoError(t, r.Insert(compile(t, epic.Spec{Name: "e1"}, false)))
	err = r.Insert(compile(t, epic.Spec{Name: "e1"}, false))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAlreadyExists))
}

func TestRegistryIndexesUpdaters(t *testing.T) {
	assert := assert.New(t)

	r, err := New()
	require.NoError(t, err)

	e1 := compile(t, epic.Spec{
		Name: "e1",
		Updaters: []epic.UpdaterSpec{{
			Conditions: []any{"a", epic.ConditionSpec{Type: "b", Passive: true}},
			Handler:    noopHandler,
		}},
	}, false)
	e2 := compile(t, epic.Spec{
		Name: "e2",
		Updaters: []epic.UpdaterSpec{{
			Conditions: []any{"a"},
			Handler:    noopHandler,
		}},
	}, false)
	require.NoError(t, r.Insert(e1))
	require.NoError(t, r.Insert(e2))

	us := r.UpdatersFor("a")
	require.Len(t, us, 2)
	assert.Equal("e1", us[0].Epic)
	assert.Equal("e2", us[1].Epic)
	require.Len(t, r.UpdatersFor("b"), 1)
	assert.Empty(r.UpdatersFor("c"))
}

func TestRegistryIndexesPatterns(t *testing.T) {
	assert := assert.New(t)

	r, err := New()
	require.NoError(t, err)

	e := compile(t, epic.Spec{
		Name: "sink",
		Updaters: []epic.UpdaterSpec{{
			Conditions: []any{"USER_*"},
			Handler:    noopHandler,
		}},
	}, true)
	require.NoError(t, r.Insert(e))

	assert.Equal([]string{"USER_*"}, r.PatternKeys())
	assert.Len(r.PatternUpdatersFor("USER_*"), 1)
	assert.True(r.MatchesPattern("USER_*", "USER_LOGIN"))
	assert.False(r.MatchesPattern("USER_*", "ADMIN_LOGIN"))
}

func TestRegistryRemoveFiltersIndices(t *testing.T) {
	assert := assert.New(t)

	r, err := New()
	require.NoError(t, err)

	e1 := compile(t, epic.Spec{
		Name: "e1",
		Updaters: []epic.UpdaterSpec{{
			Conditions: []any{"a"},
			Handler:    noopHandler,
		}},
	}, false)
	e2 := compile(t, epic.Spec{
		Name: "e2",
		Updaters: []epic.UpdaterSpec{{
			Conditions: []any{"a"},
			Handler:    noopHandler,
		}},
	}, false)
	require.NoError(t, r.Insert(e1))
	require.NoError(t, r.Insert(e2))

	require.NoError(t, r.Remove("e1"))
	assert.False(r.Has("e1"))
	us := r.UpdatersFor("a")
	require.Len(t, us, 1)
	assert.Equal("e2", us[0].Epic)

	err = r.Remove("e1")
	assert.True(errors.Is(err, ErrNotFound))
}

func TestRegistryListeners(t *testing.T) {
	assert := assert.New(t)

	r, err := New()
	require.NoError(t, err)

	handler := func(_ epic.Values, _ epic.ListenerContext) error {
		return nil
	}
	c1, err := epic.CompileCondition("e1", false)
	require.NoError(t, err)
	l1 := &Listener{ID: "l1", Conditions: []*epic.Condition{c1}, Handler: handler}
	r.AddListener(l1)

	c2, err := epic.CompileCondition(epic.ConditionSpec{Type: "e1", ID: "i1"}, false)
	require.NoError(t, err)
	l2 := &Listener{ID: "l2", Conditions: []*epic.Condition{c2}, Handler: handler}
	r.AddListener(l2)

	assert.Equal(0, l1.Seq)
	assert.Equal(1, l2.Seq)
	assert.Equal(2, r.ListenerCount("e1"))

	// instance-scoped listeners win over the unscoped default set
	scoped := r.ListenersFor("e1", "i1")
	require.Len(t, scoped, 1)
	assert.Equal("l2", scoped[0].ID)

	unscoped := r.ListenersFor("e1", epic.DefaultTarget)
	require.Len(t, unscoped, 1)
	assert.Equal("l1", unscoped[0].ID)

	r.RemoveListener("l2")
	assert.Equal(1, r.ListenerCount("e1"))
	// removing twice is a no-op
	r.RemoveListener("l2")
	assert.Equal(1, r.ListenerCount("e1"))
}

func TestRegistryPatternListeners(t *testing.T) {
	assert := assert.New(t)

	r, err := New()
	require.NoError(t, err)

	c, err := epic.CompileCondition("e*", true)
	require.NoError(t, err)
	l := &Listener{ID: "lp", Conditions: []*epic.Condition{c}, Handler: func(_ epic.Values, _ epic.ListenerContext) error {
		return nil
	}}
	r.AddListener(l)

	assert.Equal([]string{"e*"}, r.PatternListenerKeys())
	require.Len(t, r.PatternListenersFor("e*", epic.DefaultTarget), 1)
	assert.True(r.MatchesPattern("e*", "e1"))
}
