// Package session provides the client side of the cluster: one MCP session per
// service instance, a pool that owns them, and a tracing decorator used when
// client logging is requested.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"clustertest/pkg/logging"
)

// Session is a live client connection bound to one service instance.
type Session interface {
	// Index is the ordinal of the instance this session talks to
	Index() int
	// Endpoint is the URL the session is connected to
	Endpoint() string
	// CallTool invokes a tool. A result flagged as an error by the server is
	// returned together with a *ToolError.
	CallTool(ctx context.Context, tool string, args map[string]interface{}) (*Result, error)
	// ListTools returns the names of the tools the server offers
	ListTools(ctx context.Context) ([]string, error)
	// Close terminates the session
	Close() error
}

// Result is the text payload of a tool call.
type Result struct {
	// Text is the concatenated text content of the response
	Text string `json:"text"`
	// IsError is set when the server flagged the result as an error
	IsError bool `json:"is_error,omitempty"`
	// Data is Text parsed as JSON, or nil when Text is not JSON
	Data interface{} `json:"data,omitempty"`
}

// Value returns the parsed JSON payload when there is one and the raw text
// otherwise.
func (r *Result) Value() interface{} {
	if r == nil {
		return nil
	}
	if r.Data != nil {
		return r.Data
	}
	return r.Text
}

// NewResult builds a Result from response text, parsing it as JSON when possible.
func NewResult(text string, isError bool) *Result {
	r := &Result{Text: text, IsError: isError}
	trimmed := strings.TrimSpace(text)
	if trimmed != "" {
		var data interface{}
		if err := json.Unmarshal([]byte(trimmed), &data); err == nil {
			r.Data = data
		}
	}
	return r
}

// Call is a request/response pair handed to an ErrorHook.
type Call struct {
	Tool   string                 `json:"tool"`
	Args   map[string]interface{} `json:"args,omitempty"`
	Result *Result                `json:"result,omitempty"`
}

// ToolError is returned when the server answered a tool call with an error result.
type ToolError struct {
	Tool    string
	Message string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s returned an error: %s", e.Tool, e.Message)
}

// ErrorHook observes failed calls before the failure propagates to the caller.
// It must not alter the outcome.
type ErrorHook func(s Session, failure error, call Call)

// LogErrorHook is the default hook. It logs the failure and the offending
// request and response. Transport failures are logged at error level. An
// error result is logged as a warning since units may expect one.
func LogErrorHook(s Session, failure error, call Call) {
	request, _ := json.Marshal(call.Args)
	response := "<none>"
	if call.Result != nil {
		response = call.Result.Text
	}

	var toolErr *ToolError
	if errors.As(failure, &toolErr) {
		logging.Warn(subsystem(s.Index()), "Call to %s returned an error result (request: %s, response: %s)", call.Tool, request, response)
		return
	}
	logging.Error(subsystem(s.Index()), failure, "Call to %s failed (request: %s, response: %s)", call.Tool, request, response)
}

func subsystem(index int) string {
	return fmt.Sprintf("client-%d", index)
}
