package suite

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"clustertest/internal/session"
	"clustertest/internal/template"
)

// ErrExpectationNotMet is wrapped by every unmet expectation.
var ErrExpectationNotMet = errors.New("expectation not met")

func unmet(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrExpectationNotMet, fmt.Sprintf(format, args...))
}

// Verify checks the outcome of a call against the expectation. callErr is the
// error returned by the session, result may be nil.
func (e Expectation) Verify(result *session.Result, callErr error) error {
	isErr := callErr != nil || (result != nil && result.IsError)

	if e.ExpectSuccess() && isErr {
		return unmet("expected success but got error: %v", callErr)
	}
	if !e.ExpectSuccess() && !isErr {
		return unmet("expected failure but the call succeeded")
	}

	if len(e.ErrorContains) > 0 {
		if callErr == nil {
			return unmet("expected an error containing %q but got no error", e.ErrorContains[0])
		}
		errStr := callErr.Error()
		for _, expectedText := range e.ErrorContains {
			if !strings.Contains(errStr, expectedText) {
				return unmet("error %q does not contain %q", errStr, expectedText)
			}
		}
	}

	text := ""
	if result != nil {
		text = result.Text
	}

	for _, expectedText := range e.Contains {
		if !strings.Contains(text, expectedText) {
			return unmet("response does not contain %q", expectedText)
		}
	}
	for _, unexpectedText := range e.NotContains {
		if strings.Contains(text, unexpectedText) {
			return unmet("response contains unexpected text %q", unexpectedText)
		}
	}

	if len(e.JSONPath) > 0 {
		if !gjson.Valid(text) {
			return unmet("response is not JSON, cannot evaluate json_path")
		}
		paths := make([]string, 0, len(e.JSONPath))
		for path := range e.JSONPath {
			paths = append(paths, path)
		}
		sort.Strings(paths)

		for _, path := range paths {
			actual := gjson.Get(text, path)
			if !actual.Exists() {
				return unmet("json_path %q not found in response", path)
			}
			if !jsonEqual(e.JSONPath[path], actual) {
				return unmet("json_path %q is %s, expected %v", path, actual.Raw, e.JSONPath[path])
			}
		}
	}

	return nil
}

// jsonEqual compares an expected YAML value with a gjson result.
func jsonEqual(expected interface{}, actual gjson.Result) bool {
	if s, ok := expected.(string); ok {
		return actual.Type == gjson.String && actual.String() == s
	}
	want, err := json.Marshal(expected)
	if err != nil {
		return false
	}
	got, err := json.Marshal(actual.Value())
	if err != nil {
		return false
	}
	return string(want) == string(got)
}

// render expands placeholders in every templated field.
func (e Expectation) render(engine *template.Engine, vars map[string]interface{}) (Expectation, error) {
	out := Expectation{Success: e.Success}
	var err error

	if out.ErrorContains, err = renderStrings(engine, e.ErrorContains, vars); err != nil {
		return out, fmt.Errorf("error_contains: %w", err)
	}
	if out.Contains, err = renderStrings(engine, e.Contains, vars); err != nil {
		return out, fmt.Errorf("contains: %w", err)
	}
	if out.NotContains, err = renderStrings(engine, e.NotContains, vars); err != nil {
		return out, fmt.Errorf("not_contains: %w", err)
	}
	if len(e.JSONPath) > 0 {
		rendered, err := engine.Replace(e.JSONPath, vars)
		if err != nil {
			return out, fmt.Errorf("json_path: %w", err)
		}
		out.JSONPath = rendered.(map[string]interface{})
	}
	return out, nil
}

func renderStrings(engine *template.Engine, values []string, vars map[string]interface{}) ([]string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		rendered, err := engine.ReplaceString(v, vars)
		if err != nil {
			return nil, err
		}
		out = append(out, rendered)
	}
	return out, nil
}
