// Package tools defines the contract every agent tool implements and the ten
// concrete tools exposed to the model: local and remote command execution,
// file reads, inventory queries, container and service inspection, and
// metrics queries.
//
// Tools never return Go errors for user-visible failures. A command that
// exits non-zero, a host that cannot be reached, a file that does not exist:
// all of these come back as a ToolResult carrying the error text and exit
// code, so the model can read the failure and react.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// Tool is a named, schema-declared operation exposed to the LLM.
type Tool interface {
	// Name returns the unique tool name used in tool-use blocks.
	Name() string

	// Description tells the model what the tool does and when to use it.
	Description() string

	// Schema returns the JSON Schema object for the tool's parameters.
	Schema() json.RawMessage

	// Execute runs the tool with the sanitized input mapping. The context
	// carries the per-call deadline set by the dispatch kernel.
	Execute(ctx context.Context, input map[string]any) (*ToolResult, error)
}

// ToolResult is the outcome of one tool execution.
// Invariant: Success ⇔ ExitCode == 0 ∧ Error == "".
type ToolResult struct {
	Output   string `json:"output"`
	Error    string `json:"error,omitempty"`
	ExitCode int    `json:"exit_code"`
}

// Success reports whether the execution succeeded.
func (r *ToolResult) Success() bool {
	return r.ExitCode == 0 && r.Error == ""
}

// AsMap renders the result as the mapping handed back by dispatch. The
// output and exit_code keys are always present.
func (r *ToolResult) AsMap() map[string]any {
	m := map[string]any{
		"output":    r.Output,
		"exit_code": r.ExitCode,
	}
	if r.Error != "" {
		m["error"] = r.Error
	}
	return m
}

// failf builds an error-carrying result without raising.
func failf(exitCode int, format string, args ...any) *ToolResult {
	return &ToolResult{Error: fmt.Sprintf(format, args...), ExitCode: exitCode}
}

// stringField extracts a required string parameter from the input mapping.
func stringField(input map[string]any, key string) (string, error) {
	raw, ok := input[key]
	if !ok {
		return "", fmt.Errorf("missing required parameter %q", key)
	}
	value, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("parameter %q must be a string", key)
	}
	return value, nil
}

// optionalString extracts an optional string parameter, with a default.
func optionalString(input map[string]any, key, def string) string {
	if raw, ok := input[key]; ok {
		if value, ok := raw.(string); ok && value != "" {
			return value
		}
	}
	return def
}

// optionalInt extracts an optional integer parameter. JSON numbers arrive as
// float64 after a round-trip through the wire.
func optionalInt(input map[string]any, key string, def int) int {
	switch v := input[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	}
	return def
}
