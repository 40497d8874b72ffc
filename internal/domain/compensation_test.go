package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type providedIntent struct {
	err error
}

func (p providedIntent) CompensationIntent() (CompensationIntent, error) {
	return CompensationIntent{Action: "release", Params: map[string]interface{}{"id": "r-1"}}, p.err
}

func TestIntentFromUndo(t *testing.T) {
	tests := []struct {
		name    string
		undo    interface{}
		wantOK  bool
		want    CompensationIntent
		wantErr bool
	}{
		{name: "nil", undo: nil},
		{name: "nil pointer", undo: (*CompensationIntent)(nil)},
		{
			name:   "value",
			undo:   CompensationIntent{Action: IntentInvoke, CapabilityID: "inv.release"},
			wantOK: true,
			want:   CompensationIntent{Action: IntentInvoke, CapabilityID: "inv.release"},
		},
		{
			name:   "provider",
			undo:   providedIntent{},
			wantOK: true,
			want:   CompensationIntent{Action: "release", Params: map[string]interface{}{"id": "r-1"}},
		},
		{name: "provider error", undo: providedIntent{err: errors.New("boom")}, wantErr: true},
		{
			name: "map",
			undo: map[string]interface{}{
				"action":        IntentInvoke,
				"capability_id": "inv.release",
				"params":        map[string]interface{}{"id": "r-2"},
				"metadata":      map[string]interface{}{"source": "runtime"},
			},
			wantOK: true,
			want: CompensationIntent{
				Action:       IntentInvoke,
				CapabilityID: "inv.release",
				Params:       map[string]interface{}{"id": "r-2"},
				Metadata:     map[string]string{"source": "runtime"},
			},
		},
		{name: "map without action", undo: map[string]interface{}{"capability_id": "inv.release"}, wantErr: true},
		{name: "map with bad params", undo: map[string]interface{}{"action": "release", "params": "id=1"}, wantErr: true},
		{name: "invoke with bad capability", undo: CompensationIntent{Action: IntentInvoke, CapabilityID: "bad id!"}, wantErr: true},
		{name: "unsupported type", undo: 42, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intent, ok, err := IntentFromUndo(tt.undo)
			if tt.wantErr {
				require.Error(t, err)
				assert.False(t, ok)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, intent)
			}
		})
	}
}
