package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// getter is implemented by every entity with layered key lookup: Vendor,
// Suite, Directory and Config itself.
type getter interface {
	Get(key string) (interface{}, error)
	String() string
}

// asString renders a scalar configuration value. YAML scalars are decoded
// as string, int or bool; everything here is stringly-typed on the wire.
func asString(value interface{}) string {
	if value == nil {
		return ""
	}
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprint(value)
}

// asStringSlice accepts either a whitespace-separated string or a YAML
// sequence of scalars.
func asStringSlice(value interface{}) []string {
	switch value := value.(type) {
	case nil:
		return nil
	case string:
		return strings.Fields(value)
	case []interface{}:
		out := make([]string, 0, len(value))
		for _, item := range value {
			out = append(out, asString(item))
		}
		return out
	default:
		return []string{asString(value)}
	}
}

// asStringSet is asStringSlice with set semantics: sorted, deduplicated.
func asStringSet(value interface{}) []string {
	items := asStringSlice(value)
	seen := make(map[string]bool, len(items))
	out := items[:0]
	for _, item := range items {
		if !seen[item] {
			seen[item] = true
			out = append(out, item)
		}
	}
	sort.Strings(out)
	return out
}

func asInt(value interface{}) (int, error) {
	switch value := value.(type) {
	case int:
		return value, nil
	case int64:
		return int(value), nil
	case string:
		return strconv.Atoi(value)
	default:
		return 0, fmt.Errorf("%v is not an integer", value)
	}
}

func getStringSet(g getter, key string) ([]string, error) {
	value, err := g.Get(key)
	if err != nil {
		return nil, err
	}
	return asStringSet(value), nil
}

func getBool(g getter, key string) (bool, error) {
	value, err := g.Get(key)
	if err != nil {
		return false, err
	}
	b, ok := value.(bool)
	if !ok {
		return false, errorf("invalid value for %q: %v is not a boolean value", key, value)
	}
	return b, nil
}

func getInt(g getter, key string) (int, error) {
	value, err := g.Get(key)
	if err != nil {
		return 0, err
	}
	n, err := asInt(value)
	if err != nil {
		return 0, errorf("invalid value for %q: %v", key, err)
	}
	return n, nil
}

func getMandatoryString(g getter, key string) (string, error) {
	value, err := g.Get(key)
	if err != nil {
		return "", err
	}
	s, ok := value.(string)
	if !ok {
		return "", errorf("%s key %q has no default and must be configured", g.String(), key)
	}
	return s, nil
}

// unionStringSets merges already-sorted string sets.
func unionStringSets(sets ...[]string) []string {
	var merged []string
	for _, set := range sets {
		merged = append(merged, set...)
	}
	seen := make(map[string]bool, len(merged))
	out := merged[:0]
	for _, item := range merged {
		if !seen[item] {
			seen[item] = true
			out = append(out, item)
		}
	}
	sort.Strings(out)
	return out
}
