package model

import (
	"fmt"
	"sort"
)

// Params is a flat job parameter map as submitted to the test-execution
// service.
type Params map[string]string

// Clone returns an independent copy.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Merge copies every entry of other into p, overwriting existing keys.
func (p Params) Merge(other Params) {
	for k, v := range other {
		p[k] = v
	}
}

// Keys returns the keys in sorted order.
func (p Params) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ParamsFromAny converts a decoded document (JSON numbers, YAML booleans)
// into Params. Nil values are dropped.
func ParamsFromAny(raw map[string]any) Params {
	out := make(Params, len(raw))
	for k, v := range raw {
		switch tv := v.(type) {
		case nil:
			continue
		case string:
			out[k] = tv
		case float64:
			if tv == float64(int64(tv)) {
				out[k] = fmt.Sprintf("%d", int64(tv))
			} else {
				out[k] = fmt.Sprint(tv)
			}
		default:
			out[k] = fmt.Sprint(tv)
		}
	}
	return out
}
