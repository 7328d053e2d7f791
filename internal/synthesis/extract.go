package synthesis

import (
	"sort"
	"strings"
)

// Payloads are JSON-like trees. These helpers read them without assuming
// the concrete container types a capability chose.

func asMap(v interface{}) (map[string]interface{}, bool) {
	m, ok := v.(map[string]interface{})
	return m, ok
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}

// asStrings returns the string elements of a list, skipping anything else.
func asStrings(v interface{}) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// lookup follows a path of map keys.
func lookup(v interface{}, path ...string) (interface{}, bool) {
	for _, key := range path {
		m, ok := asMap(v)
		if !ok {
			return nil, false
		}
		if v, ok = m[key]; !ok {
			return nil, false
		}
	}
	return v, true
}

// collectNumbers walks v depth-first and returns every numeric value stored
// under key, visiting map keys in sorted order.
func collectNumbers(v interface{}, key string) []float64 {
	var out []float64
	var walk func(interface{})
	walk = func(node interface{}) {
		switch n := node.(type) {
		case map[string]interface{}:
			for _, k := range sortedMapKeys(n) {
				if k == key {
					if f, ok := asFloat(n[k]); ok {
						out = append(out, f)
						continue
					}
				}
				walk(n[k])
			}
		case []interface{}:
			for _, item := range n {
				walk(item)
			}
		case []map[string]interface{}:
			for _, item := range n {
				walk(item)
			}
		}
	}
	walk(v)
	return out
}

func sortedMapKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// concat joins the string lists in a fresh slice.
func concat(lists ...interface{}) []string {
	var out []string
	for _, l := range lists {
		out = append(out, asStrings(l)...)
	}
	return out
}

func firstN(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}

// countSeverity counts the entries of a list of objects whose severity
// field equals want.
func countSeverity(v interface{}, want string) int {
	count := 0
	visit := func(item interface{}) {
		if m, ok := asMap(item); ok {
			if s, ok := m["severity"].(string); ok && strings.EqualFold(s, want) {
				count++
			}
		}
	}
	switch list := v.(type) {
	case []interface{}:
		for _, item := range list {
			visit(item)
		}
	case []map[string]interface{}:
		for _, item := range list {
			visit(item)
		}
	}
	return count
}
