package frozen

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFreezeCanonicalizes(t *testing.T) {
	assert := assert.New(t)

	v := Freeze(map[string]any{"count": 1, "tags": []string{"a"}})
	m, ok := v.(map[string]any)
	require.True(t, ok)
	assert.Equal(float64(1), m["count"])
	assert.Equal([]any{"a"}, m["tags"])
}

func TestFreezeSentinels(t *testing.T) {
	assert := assert.New(t)

	assert.Nil(Freeze(nil))
	assert.True(IsInitial(Freeze(Initial)))
}

func TestUnfreezeCopies(t *testing.T) {
	assert := assert.New(t)

	orig := map[string]any{"nested": map[string]any{"a": float64(1)}}
	clone := Unfreeze(orig).(map[string]any)
	clone["nested"].(map[string]any)["a"] = float64(2)

	assert.Equal(float64(1), orig["nested"].(map[string]any)["a"])
	assert.Empty(cmp.Diff(map[string]any{"nested": map[string]any{"a": float64(2)}}, clone))
}

func TestJSONEqual(t *testing.T) {
	assert := assert.New(t)

	assert.True(JSONEqual(map[string]any{"a": 1}, map[string]any{"a": float64(1)}))
	assert.False(JSONEqual(map[string]any{"a": 1}, map[string]any{"a": 2}))
	assert.True(JSONEqual(nil, nil))
	assert.True(JSONEqual(Initial, Initial))
	assert.False(JSONEqual(Initial, nil))
	assert.False(JSONEqual(Initial, map[string]any{}))
}
