package engine

import (
	"fmt"
	"regexp"

	"github.com/eleven-am/sagaflow/internal/domain"
	json "github.com/goccy/go-json"
)

var (
	wholePlaceholder = regexp.MustCompile(`^\{\{\s*([^{}]+?)\s*\}\}$`)
	placeholder      = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)
)

// resolveInputs renders a step's input template against state. A string
// that is exactly one placeholder takes the referenced value as is, keeping
// its type; placeholders inside a longer string are stringified in place.
func resolveInputs(template map[string]interface{}, state domain.State) (map[string]interface{}, error) {
	if template == nil {
		return map[string]interface{}{}, nil
	}
	out, err := resolveValue(template, state)
	if err != nil {
		return nil, err
	}
	return out.(map[string]interface{}), nil
}

func resolveValue(v interface{}, state domain.State) (interface{}, error) {
	switch val := v.(type) {
	case string:
		return resolveString(val, state)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			resolved, err := resolveValue(item, state)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			resolved, err := resolveValue(item, state)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

func resolveString(s string, state domain.State) (interface{}, error) {
	if m := wholePlaceholder.FindStringSubmatch(s); m != nil {
		value, ok := state.Lookup(m[1])
		if !ok {
			return nil, unresolved(m[1])
		}
		return domain.CloneValue(value), nil
	}

	var firstErr error
	rendered := placeholder.ReplaceAllStringFunc(s, func(match string) string {
		path := placeholder.FindStringSubmatch(match)[1]
		value, ok := state.Lookup(path)
		if !ok {
			if firstErr == nil {
				firstErr = unresolved(path)
			}
			return match
		}
		return stringify(value)
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return rendered, nil
}

func stringify(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case map[string]interface{}, []interface{}, domain.State:
		raw, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(raw)
	default:
		return fmt.Sprint(val)
	}
}

func unresolved(path string) error {
	return fmt.Errorf("%w: unresolved placeholder {{%s}}", domain.ErrInvalidInput, path)
}
