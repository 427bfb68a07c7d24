package contexts

import (
	"fmt"
	"sort"
	"strings"
)

// Namespace names populated by Build.
const (
	NamespaceOS        = "os"
	NamespaceUser      = "user"
	NamespaceEnv       = "env"
	NamespaceVariables = "variables"
)

// Contexts is an immutable mapping of names to values.
type Contexts struct {
	values map[string]any
}

// New creates a Contexts from the given values. The map is deep-copied so later
// changes by the caller are not observed.
func New(values map[string]any) Contexts {
	return Contexts{values: copyMap(values)}
}

// Get returns the top-level value registered under name.
func (c Contexts) Get(name string) (any, bool) {
	v, ok := c.values[name]
	if !ok {
		return nil, false
	}
	return copyValue(v), true
}

// Lookup resolves a dotted path such as "os.family".
func (c Contexts) Lookup(path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = c.values
	for _, part := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Names returns the sorted top-level names.
func (c Contexts) Names() []string {
	names := make([]string, 0, len(c.values))
	for k := range c.values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of top-level names.
func (c Contexts) Len() int {
	return len(c.values)
}

// ToMap returns a deep copy of the underlying values.
func (c Contexts) ToMap() map[string]any {
	return copyMap(c.values)
}

func copyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return copyMap(val)
	case map[string]string:
		m := make(map[string]any, len(val))
		for k, s := range val {
			m[k] = s
		}
		return m
	case []any:
		list := make([]any, len(val))
		for i, item := range val {
			list[i] = copyValue(item)
		}
		return list
	case []string:
		list := make([]any, len(val))
		for i, item := range val {
			list[i] = item
		}
		return list
	default:
		return v
	}
}

// checkValue reports the first value conditions cannot see. Maps must be keyed
// by strings.
func checkValue(v any) error {
	switch val := v.(type) {
	case nil, bool, int, int64, uint64, float64, string, []string, map[string]string:
		return nil
	case []any:
		for i, item := range val {
			if err := checkValue(item); err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
		}
		return nil
	case map[string]any:
		for k, item := range val {
			if err := checkValue(item); err != nil {
				return fmt.Errorf(".%s: %w", k, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported type %T", v)
	}
}
