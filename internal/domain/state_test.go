package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestState_Lookup(t *testing.T) {
	state := NewState(map[string]interface{}{
		"env": "prod",
		"fetch": map[string]interface{}{
			"items": []interface{}{
				map[string]interface{}{"id": "a"},
				map[string]interface{}{"id": "b"},
			},
			"matrix": []interface{}{[]interface{}{1, 2}, []interface{}{3, 4}},
		},
		"labels": map[string]string{"team": "core"},
		"empty":  nil,
	})

	tests := []struct {
		path   string
		want   interface{}
		wantOK bool
	}{
		{"env", "prod", true},
		{"fetch.items[1].id", "b", true},
		{"fetch.matrix[1][0]", 3, true},
		{"labels.team", "core", true},
		{"empty", nil, true},
		{"empty.child", nil, false},
		{"fetch.items[2].id", nil, false},
		{"fetch.items.id", nil, false},
		{"env[0]", nil, false},
		{"fetch..items", nil, false},
		{"fetch.items[x]", nil, false},
		{"fetch.items[-1]", nil, false},
		{"", nil, false},
		{"missing", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, ok := state.Lookup(tt.path)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestState_CloneIsDeep(t *testing.T) {
	state := NewState(map[string]interface{}{
		"fetch": map[string]interface{}{"items": []interface{}{"a"}},
	})
	clone := state.Clone()

	clone["fetch"].(map[string]interface{})["items"].([]interface{})[0] = "z"
	v, _ := state.Lookup("fetch.items[0]")
	assert.Equal(t, "a", v)
}
