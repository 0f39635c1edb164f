// Package flatten turns nested JSON-shaped values into a single-level map of
// strings suitable for attribute-based rendering.
//
// Object members join their parent key with "_" (temperature_value); array
// elements join with their index (periods_0_name). nil becomes "" and every
// other scalar is stringified. Empty objects and arrays produce no keys.
package flatten

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// MaxDepth bounds traversal. A subtree below it is emitted as compact JSON
// under its key instead of being expanded further.
const MaxDepth = 32

type frame struct {
	prefix string
	value  any
	depth  int
}

// Map flattens m. It is a pure function of its input.
func Map(m map[string]any) map[string]string {
	out := make(map[string]string, len(m))
	if len(m) == 0 {
		return out
	}

	// explicit stack instead of recursion; children are pushed in reverse
	// sorted order so that later keys overwrite earlier ones deterministically
	stack := make([]frame, 0, len(m))
	stack = pushObject(stack, "", m, 1)

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		switch v := f.value.(type) {
		case map[string]any:
			if f.depth > MaxDepth {
				out[f.prefix] = compact(v)
				continue
			}
			stack = pushObject(stack, f.prefix, v, f.depth+1)
		case []any:
			if f.depth > MaxDepth {
				out[f.prefix] = compact(v)
				continue
			}
			for i := len(v) - 1; i >= 0; i-- {
				stack = append(stack, frame{prefix: join(f.prefix, strconv.Itoa(i)), value: v[i], depth: f.depth + 1})
			}
		default:
			out[f.prefix] = Scalar(v)
		}
	}
	return out
}

func pushObject(stack []frame, prefix string, m map[string]any, depth int) []frame {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	for _, k := range keys {
		stack = append(stack, frame{prefix: join(prefix, k), value: m[k], depth: depth})
	}
	return stack
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "_" + key
}

// Scalar stringifies a leaf value. nil is the empty string.
func Scalar(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return fmt.Sprint(t)
	}
}

func compact(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(raw)
}
