package domain

import "fmt"

// IntentInvoke is the generic action kind: call CapabilityID with Params.
const IntentInvoke = "invoke"

// CompensationIntent is the serializable description of how to undo a step.
// It never carries a closure; the codec turns it back into a capability call.
type CompensationIntent struct {
	Action       string                 `json:"action"`
	CapabilityID string                 `json:"capability_id,omitempty"`
	Params       map[string]interface{} `json:"params,omitempty"`
	Metadata     map[string]string      `json:"metadata,omitempty"`
}

func (i CompensationIntent) Validate() error {
	if i.Action == "" {
		return fmt.Errorf("%w: compensation intent has no action", ErrInvalidInput)
	}
	if i.Action == IntentInvoke && !ValidCapabilityID(i.CapabilityID) {
		return fmt.Errorf("%w: invoke intent has malformed capability id %q", ErrInvalidInput, i.CapabilityID)
	}
	return nil
}

// IntentProvider lets a capability return a richer undo value that still
// knows how to describe itself as an intent.
type IntentProvider interface {
	CompensationIntent() (CompensationIntent, error)
}

// IntentFromUndo normalizes the Undo value of an ExecutionResult. A nil undo
// returns ok=false.
func IntentFromUndo(undo interface{}) (intent CompensationIntent, ok bool, err error) {
	switch v := undo.(type) {
	case nil:
		return CompensationIntent{}, false, nil
	case CompensationIntent:
		intent = v
	case *CompensationIntent:
		if v == nil {
			return CompensationIntent{}, false, nil
		}
		intent = *v
	case IntentProvider:
		intent, err = v.CompensationIntent()
		if err != nil {
			return CompensationIntent{}, false, err
		}
	case map[string]interface{}:
		intent, err = intentFromMap(v)
		if err != nil {
			return CompensationIntent{}, false, err
		}
	default:
		return CompensationIntent{}, false, fmt.Errorf("%w: unsupported undo value %T", ErrInvalidInput, undo)
	}

	if err := intent.Validate(); err != nil {
		return CompensationIntent{}, false, err
	}
	return intent, true, nil
}

func intentFromMap(m map[string]interface{}) (CompensationIntent, error) {
	action, _ := m["action"].(string)
	capabilityID, _ := m["capability_id"].(string)
	intent := CompensationIntent{Action: action, CapabilityID: capabilityID}

	if raw, ok := m["params"]; ok && raw != nil {
		params, ok := raw.(map[string]interface{})
		if !ok {
			return CompensationIntent{}, fmt.Errorf("%w: undo params must be an object, got %T", ErrInvalidInput, raw)
		}
		intent.Params = params
	}

	switch md := m["metadata"].(type) {
	case nil:
	case map[string]string:
		intent.Metadata = md
	case map[string]interface{}:
		intent.Metadata = make(map[string]string, len(md))
		for k, v := range md {
			str, ok := v.(string)
			if !ok {
				return CompensationIntent{}, fmt.Errorf("%w: undo metadata %q is not a string", ErrInvalidInput, k)
			}
			intent.Metadata[k] = str
		}
	default:
		return CompensationIntent{}, fmt.Errorf("%w: undo metadata must be an object, got %T", ErrInvalidInput, md)
	}
	return intent, nil
}

// CompensationEntry is one element of the in-memory saga stack.
type CompensationEntry struct {
	StepName string             `json:"step_name"`
	Intent   CompensationIntent `json:"intent"`
	RecordID string             `json:"record_id,omitempty"`
}

type CompensationStatus string

const (
	CompensationStatusPending  CompensationStatus = "pending"
	CompensationStatusExecuted CompensationStatus = "executed"
	CompensationStatusFailed   CompensationStatus = "failed"
)
