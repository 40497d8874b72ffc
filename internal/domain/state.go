package domain

import (
	"reflect"
	"strconv"
	"strings"
)

// State is the accumulated workflow data that step inputs are rendered from.
type State map[string]interface{}

func NewState(initial map[string]interface{}) State {
	state := make(State, len(initial))
	for k, v := range initial {
		state[k] = cloneValue(v)
	}
	return state
}

// Lookup resolves a dotted path such as "fetch.items[0].id".
func (s State) Lookup(path string) (interface{}, bool) {
	segments, ok := splitPath(path)
	if !ok || len(segments) == 0 {
		return nil, false
	}

	var current interface{} = map[string]interface{}(s)
	for _, seg := range segments {
		next, found := descend(current, seg)
		if !found {
			return nil, false
		}
		current = next
	}
	return current, true
}

func (s State) Clone() State {
	return NewState(s)
}

type pathSegment struct {
	key     string
	index   int
	isIndex bool
}

func splitPath(path string) ([]pathSegment, bool) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, false
	}

	var segments []pathSegment
	for _, part := range strings.Split(path, ".") {
		if part == "" {
			return nil, false
		}

		key := part
		var indexes []int
		if open := strings.IndexByte(part, '['); open >= 0 {
			key = part[:open]
			rest := part[open:]
			for rest != "" {
				if rest[0] != '[' {
					return nil, false
				}
				end := strings.IndexByte(rest, ']')
				if end < 0 {
					return nil, false
				}
				n, err := strconv.Atoi(rest[1:end])
				if err != nil || n < 0 {
					return nil, false
				}
				indexes = append(indexes, n)
				rest = rest[end+1:]
			}
		}

		if key != "" {
			segments = append(segments, pathSegment{key: key})
		}
		for _, n := range indexes {
			segments = append(segments, pathSegment{index: n, isIndex: true})
		}
	}
	return segments, true
}

func descend(current interface{}, seg pathSegment) (interface{}, bool) {
	if current == nil {
		return nil, false
	}

	switch v := current.(type) {
	case map[string]interface{}:
		if seg.isIndex {
			return nil, false
		}
		val, ok := v[seg.key]
		return val, ok
	case State:
		if seg.isIndex {
			return nil, false
		}
		val, ok := v[seg.key]
		return val, ok
	case []interface{}:
		if !seg.isIndex || seg.index >= len(v) {
			return nil, false
		}
		return v[seg.index], true
	}

	rv := reflect.ValueOf(current)
	switch rv.Kind() {
	case reflect.Map:
		if seg.isIndex || rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		val := rv.MapIndex(reflect.ValueOf(seg.key).Convert(rv.Type().Key()))
		if !val.IsValid() {
			return nil, false
		}
		return val.Interface(), true
	case reflect.Slice, reflect.Array:
		if !seg.isIndex || seg.index >= rv.Len() {
			return nil, false
		}
		return rv.Index(seg.index).Interface(), true
	}
	return nil, false
}

// CloneValue deep-copies the maps and slices inside v.
func CloneValue(v interface{}) interface{} {
	return cloneValue(v)
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = cloneValue(item)
		}
		return out
	case State:
		return map[string]interface{}(val.Clone())
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
