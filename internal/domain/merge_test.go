package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeStepOutputs(t *testing.T) {
	state := NewState(map[string]interface{}{"env": "prod", "count": 1})

	outputs := map[string]interface{}{
		"count": 2,
		"meta":  map[string]interface{}{"source": "api"},
	}
	require.NoError(t, MergeStepOutputs(state, "fetch", outputs))

	assert.Equal(t, "prod", state["env"])
	assert.Equal(t, 2, state["count"])
	assert.Equal(t, map[string]interface{}{"count": 2, "meta": map[string]interface{}{"source": "api"}}, state["fetch"])

	outputs["meta"].(map[string]interface{})["source"] = "mutated"
	v, ok := state.Lookup("fetch.meta.source")
	require.True(t, ok)
	assert.Equal(t, "api", v)
}

func TestMergeStepOutputs_RerunOverrides(t *testing.T) {
	state := NewState(nil)
	require.NoError(t, MergeStepOutputs(state, "fetch", map[string]interface{}{"count": 2, "etag": "a"}))
	require.NoError(t, MergeStepOutputs(state, "fetch", map[string]interface{}{"count": 3}))

	assert.Equal(t, map[string]interface{}{"count": 3, "etag": "a"}, state["fetch"])
	assert.Equal(t, 3, state["count"])
}

func TestMergeStepOutputs_StepNamespaces(t *testing.T) {
	tests := []struct {
		name    string
		outputs map[string]interface{}
		want    State
	}{
		{
			name:    "key naming another step stays under the step",
			outputs: map[string]interface{}{"fetch": 42, "n": 1},
			want: State{
				"fetch": map[string]interface{}{"id": "x"},
				"store": map[string]interface{}{"fetch": 42, "n": 1},
				"n":     1,
			},
		},
		{
			name:    "only step keys",
			outputs: map[string]interface{}{"fetch": "shadow"},
			want: State{
				"fetch": map[string]interface{}{"id": "x"},
				"store": map[string]interface{}{"fetch": "shadow"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := NewState(nil)
			steps := []string{"fetch", "store"}
			require.NoError(t, MergeStepOutputs(state, "fetch", map[string]interface{}{"id": "x"}, steps...))
			delete(state, "id")

			require.NoError(t, MergeStepOutputs(state, "store", tt.outputs, steps...))
			assert.Equal(t, tt.want, state)

			v, ok := state.Lookup("fetch.id")
			require.True(t, ok)
			assert.Equal(t, "x", v)
		})
	}
}

func TestMergeStepOutputs_NoOutputs(t *testing.T) {
	state := NewState(nil)
	require.NoError(t, MergeStepOutputs(state, "notify", nil))
	assert.Equal(t, map[string]interface{}{}, state["notify"])

	state["notify"] = map[string]interface{}{"sent": true}
	require.NoError(t, MergeStepOutputs(state, "notify", map[string]interface{}{}))
	assert.Equal(t, map[string]interface{}{"sent": true}, state["notify"])
}

func TestNormalizeMap(t *testing.T) {
	out, err := NormalizeMap(nil)
	require.NoError(t, err)
	assert.Nil(t, out)

	out, err = NormalizeMap(map[string]interface{}{
		"n":     3,
		"list":  []string{"a", "b"},
		"inner": map[string]int{"x": 1},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"n":     float64(3),
		"list":  []interface{}{"a", "b"},
		"inner": map[string]interface{}{"x": float64(1)},
	}, out)

	_, err = NormalizeMap(map[string]interface{}{"ch": make(chan int)})
	assert.Error(t, err)
}
