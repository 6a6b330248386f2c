package workflow

import (
	"maps"
	"slices"
)

// State is the channel map shared by graph nodes.
type State map[string]any

// Clone returns a shallow copy of the state.
func (s State) Clone() State {
	if s == nil {
		return State{}
	}
	return maps.Clone(s)
}

// String returns the channel value as a string, or "" when absent.
func (s State) String(key string) string {
	v, _ := s[key].(string)
	return v
}

// Bool returns the channel value as a bool, or false when absent.
func (s State) Bool(key string) bool {
	v, _ := s[key].(bool)
	return v
}

// Reducer defines how to merge a node's update into a channel.
type Reducer func(current, update any) any

// LastValueReducer returns the most recent value (default).
func LastValueReducer() Reducer {
	return func(_, update any) any {
		return update
	}
}

// AppendReducer appends list updates to the current list. Non-list updates
// are appended as a single element.
func AppendReducer() Reducer {
	return func(current, update any) any {
		cur, _ := current.([]any)
		result := make([]any, 0, len(cur)+1)
		result = append(result, cur...)
		switch u := update.(type) {
		case []any:
			result = append(result, u...)
		case []string:
			for _, v := range u {
				result = append(result, v)
			}
		case nil:
		default:
			result = append(result, u)
		}
		return result
	}
}

// SumReducer sums numeric values. JSON-decoded numbers arrive as float64.
func SumReducer() Reducer {
	return func(current, update any) any {
		return toFloat(current) + toFloat(update)
	}
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case float64:
		return n
	default:
		return 0
	}
}

// applyUpdate merges update into a copy of current using the registered
// reducers. It returns the merged state and the sorted list of written keys.
func applyUpdate(current, update State, reducers map[string]Reducer) (State, []string) {
	next := current.Clone()
	written := make([]string, 0, len(update))
	for key, value := range update {
		reducer, ok := reducers[key]
		if !ok {
			reducer = LastValueReducer()
		}
		next[key] = reducer(next[key], value)
		written = append(written, key)
	}
	slices.Sort(written)
	return next, written
}
