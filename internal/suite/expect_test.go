package suite

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"clustertest/internal/session"
	"clustertest/internal/template"
)

func TestExpectation_Verify(t *testing.T) {
	no := false
	toolErr := &session.ToolError{Tool: "join_room", Message: "room not found"}
	room := session.NewResult(`{"id":"r1","members":["alice","bob"],"open":true}`, false)

	tests := []struct {
		name    string
		expect  Expectation
		result  *session.Result
		callErr error
		wantErr string
	}{
		{name: "default success", result: room},
		{name: "success expected, tool error", result: session.NewResult("room not found", true), callErr: toolErr, wantErr: "expected success"},
		{name: "success expected, transport error", callErr: errors.New("EOF"), wantErr: "expected success"},
		{name: "failure expected", expect: Expectation{Success: &no}, callErr: toolErr},
		{name: "failure expected, got success", expect: Expectation{Success: &no}, result: room, wantErr: "expected failure"},
		{name: "error contains", expect: Expectation{Success: &no, ErrorContains: []string{"not found"}}, callErr: toolErr},
		{name: "error contains mismatch", expect: Expectation{Success: &no, ErrorContains: []string{"forbidden"}}, callErr: toolErr, wantErr: "does not contain"},
		{name: "contains", expect: Expectation{Contains: []string{"alice", "r1"}}, result: room},
		{name: "contains mismatch", expect: Expectation{Contains: []string{"carol"}}, result: room, wantErr: `does not contain "carol"`},
		{name: "not contains", expect: Expectation{NotContains: []string{"carol"}}, result: room},
		{name: "not contains mismatch", expect: Expectation{NotContains: []string{"bob"}}, result: room, wantErr: "unexpected text"},
		{name: "json path", expect: Expectation{JSONPath: map[string]interface{}{"id": "r1", "members.#": 2, "open": true, "members.0": "alice"}}, result: room},
		{name: "json path mismatch", expect: Expectation{JSONPath: map[string]interface{}{"members.#": 3}}, result: room, wantErr: `json_path "members.#" is 2`},
		{name: "json path type mismatch", expect: Expectation{JSONPath: map[string]interface{}{"open": "true"}}, result: room, wantErr: "json_path"},
		{name: "json path missing", expect: Expectation{JSONPath: map[string]interface{}{"owner": "x"}}, result: room, wantErr: "not found"},
		{name: "json path on text", expect: Expectation{JSONPath: map[string]interface{}{"id": "x"}}, result: session.NewResult("hello", false), wantErr: "not JSON"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.expect.Verify(tt.result, tt.callErr)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrExpectationNotMet)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestExpectation_Render(t *testing.T) {
	no := false
	e := Expectation{
		Success:       &no,
		ErrorContains: []string{"{{ room.id }}"},
		Contains:      []string{"room {{ room.name }}"},
		JSONPath:      map[string]interface{}{"id": "{{ room.id }}"},
	}
	vars := map[string]interface{}{"room": map[string]interface{}{"id": "r1", "name": "general"}}

	out, err := e.render(template.New(), vars)
	assert.NoError(t, err)
	assert.False(t, out.ExpectSuccess())
	assert.Equal(t, []string{"r1"}, out.ErrorContains)
	assert.Equal(t, []string{"room general"}, out.Contains)
	assert.Equal(t, map[string]interface{}{"id": "r1"}, out.JSONPath)
	assert.Equal(t, "{{ room.id }}", e.JSONPath["id"], "the definition is not modified")

	_, err = Expectation{Contains: []string{"{{ missing }}"}}.render(template.New(), vars)
	assert.ErrorContains(t, err, "contains")
}
