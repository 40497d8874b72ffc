package domain

import (
	"fmt"

	"dario.cat/mergo"
	json "github.com/goccy/go-json"
)

// MergeStepOutputs records a step's outputs under its own name and folds
// them into the top level of the state. Existing maps are merged with
// override so a re-run step replaces its previous values. Output keys named
// in steps are kept out of the top level so one step never replaces another
// step's namespace.
func MergeStepOutputs(state State, stepName string, outputs map[string]interface{}, steps ...string) error {
	if len(outputs) == 0 {
		if _, exists := state[stepName]; !exists {
			state[stepName] = map[string]interface{}{}
		}
		return nil
	}

	incoming := cloneValue(outputs).(map[string]interface{})

	if existing, ok := state[stepName].(map[string]interface{}); ok {
		if err := mergo.Merge(&existing, incoming, mergo.WithOverride, mergo.WithAppendSlice); err != nil {
			return fmt.Errorf("merge outputs of step %s: %w", stepName, err)
		}
		state[stepName] = existing
	} else {
		state[stepName] = incoming
	}

	top := map[string]interface{}(state)
	flat := cloneValue(outputs).(map[string]interface{})
	delete(flat, stepName)
	for _, name := range steps {
		delete(flat, name)
	}
	if len(flat) == 0 {
		return nil
	}
	if err := mergo.Merge(&top, flat, mergo.WithOverride); err != nil {
		return fmt.Errorf("merge outputs of step %s into state: %w", stepName, err)
	}
	return nil
}

// NormalizeMap round-trips m through JSON so values have the shapes any
// store will hand back after a restart.
func NormalizeMap(m map[string]interface{}) (map[string]interface{}, error) {
	if m == nil {
		return nil, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
