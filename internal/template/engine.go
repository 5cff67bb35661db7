// Package template expands {{ path }} placeholders inside strings, maps and
// slices. The first path segment names a context entry; the remainder is a
// gjson path evaluated against that entry's JSON form, so {{ room.id }} and
// {{ rooms.#.name }} both work.
package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Engine handles placeholder replacement.
type Engine struct {
	pattern *regexp.Regexp
}

// New creates a new template engine.
func New() *Engine {
	return &Engine{
		pattern: regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_\-]*)((?:[.#|@][^{}\s]*)?)\s*\}\}`),
	}
}

// Replace expands every placeholder in value using context. A string that
// consists of exactly one placeholder is replaced by the referenced value with
// its type preserved; placeholders embedded in longer strings are rendered as
// text.
func (e *Engine) Replace(value interface{}, context map[string]interface{}) (interface{}, error) {
	switch v := value.(type) {
	case string:
		return e.replaceString(v, context)
	case map[string]interface{}:
		result := make(map[string]interface{}, len(v))
		for key, item := range v {
			newKey, err := e.ReplaceString(key, context)
			if err != nil {
				return nil, fmt.Errorf("error in map key '%s': %w", key, err)
			}
			replaced, err := e.Replace(item, context)
			if err != nil {
				return nil, fmt.Errorf("error in map key '%s': %w", key, err)
			}
			result[newKey] = replaced
		}
		return result, nil
	case []interface{}:
		result := make([]interface{}, len(v))
		for i, item := range v {
			replaced, err := e.Replace(item, context)
			if err != nil {
				return nil, fmt.Errorf("error in array index %d: %w", i, err)
			}
			result[i] = replaced
		}
		return result, nil
	case []string:
		result := make([]string, len(v))
		for i, item := range v {
			replaced, err := e.ReplaceString(item, context)
			if err != nil {
				return nil, fmt.Errorf("error in array index %d: %w", i, err)
			}
			result[i] = replaced
		}
		return result, nil
	default:
		// Numbers, booleans and nil are returned as-is
		return value, nil
	}
}

// ReplaceString expands placeholders in s and always returns text.
func (e *Engine) ReplaceString(s string, context map[string]interface{}) (string, error) {
	var firstErr error
	out := e.pattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}
		value, err := e.resolve(match, context)
		if err != nil {
			firstErr = err
			return match
		}
		text, err := toString(value)
		if err != nil {
			firstErr = err
			return match
		}
		return text
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

func (e *Engine) replaceString(s string, context map[string]interface{}) (interface{}, error) {
	loc := e.pattern.FindStringIndex(s)
	if loc == nil {
		return s, nil
	}
	if loc[0] == 0 && loc[1] == len(s) {
		return e.resolve(s, context)
	}
	return e.ReplaceString(s, context)
}

// resolve looks up a single placeholder match.
func (e *Engine) resolve(match string, context map[string]interface{}) (interface{}, error) {
	sub := e.pattern.FindStringSubmatch(match)
	if len(sub) != 3 {
		return nil, fmt.Errorf("malformed placeholder %q", match)
	}
	name, path := sub[1], strings.TrimPrefix(sub[2], ".")

	value, exists := context[name]
	if !exists {
		return nil, fmt.Errorf("template variable '%s' not found in context", name)
	}
	if path == "" {
		return value, nil
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("cannot inspect variable '%s': %w", name, err)
	}
	result := gjson.GetBytes(raw, path)
	if !result.Exists() {
		return nil, fmt.Errorf("path '%s' not found in variable '%s'", path, name)
	}
	return result.Value(), nil
}

// Variables returns the sorted, unique context names referenced by value.
func (e *Engine) Variables(value interface{}) []string {
	set := make(map[string]struct{})
	e.collect(value, set)

	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *Engine) collect(value interface{}, set map[string]struct{}) {
	switch v := value.(type) {
	case string:
		for _, match := range e.pattern.FindAllStringSubmatch(v, -1) {
			set[match[1]] = struct{}{}
		}
	case map[string]interface{}:
		for key, item := range v {
			e.collect(key, set)
			e.collect(item, set)
		}
	case []interface{}:
		for _, item := range v {
			e.collect(item, set)
		}
	case []string:
		for _, item := range v {
			e.collect(item, set)
		}
	}
}

func toString(value interface{}) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case int:
		return strconv.Itoa(v), nil
	case int32, int64:
		return fmt.Sprintf("%d", v), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), nil
	case bool:
		return strconv.FormatBool(v), nil
	case nil:
		return "", nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("unsupported type for template conversion: %T", value)
		}
		return string(raw), nil
	}
}
