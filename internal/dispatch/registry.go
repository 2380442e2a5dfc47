// Package dispatch owns the tool registry and the six-stage pipeline every
// tool-use request passes through: lookup, sanitize, audit-attempt,
// authorize, approval, execute-with-timeout. Each stage can short-circuit
// with an error mapping; every non-success path writes an audit record.
package dispatch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/bastion/internal/tools"
)

// ToolSchema is the wire-facing declaration handed to the LLM for one tool.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Registry maps tool names to implementations. Tool parameter schemas are
// compiled at registration so malformed declarations fail at startup, not
// mid-conversation.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]tools.Tool
	order    []string
	compiled map[string]*jsonschema.Schema
}

func NewRegistry() *Registry {
	return &Registry{
		tools:    make(map[string]tools.Tool),
		compiled: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool. Duplicate names and invalid schemas are errors.
func (r *Registry) Register(tool tools.Tool) error {
	name := tool.Name()
	if name == "" {
		return fmt.Errorf("tool has empty name")
	}

	compiler := jsonschema.NewCompiler()
	resource := name + ".schema.json"
	if err := compiler.AddResource(resource, jsonBytesReader(tool.Schema())); err != nil {
		return fmt.Errorf("tool %q schema: %w", name, err)
	}
	schema, err := compiler.Compile(resource)
	if err != nil {
		return fmt.Errorf("tool %q schema: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool already registered: %s", name)
	}
	r.tools[name] = tool
	r.order = append(r.order, name)
	r.compiled[name] = schema
	return nil
}

// RegisterAll registers every tool, stopping at the first failure.
func (r *Registry) RegisterAll(list []tools.Tool) error {
	for _, tool := range list {
		if err := r.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (tools.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Schemas returns the declarations sent verbatim to the LLM.
func (r *Registry) Schemas() []ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schemas := make([]ToolSchema, 0, len(r.order))
	for _, name := range r.order {
		tool := r.tools[name]
		schemas = append(schemas, ToolSchema{
			Name:        name,
			Description: tool.Description(),
			InputSchema: tool.Schema(),
		})
	}
	return schemas
}

// validateInput checks a raw input mapping against the tool's compiled
// schema. A nil return means the input conforms.
func (r *Registry) validateInput(name string, input map[string]any) error {
	r.mu.RLock()
	schema := r.compiled[name]
	r.mu.RUnlock()
	if schema == nil {
		return nil
	}
	// The validator wants plain JSON types; round-trip non-JSON values.
	return schema.Validate(normalizeJSONValue(input))
}

func jsonBytesReader(data json.RawMessage) io.Reader {
	return bytes.NewReader(data)
}

func normalizeJSONValue(input map[string]any) any {
	data, err := json.Marshal(input)
	if err != nil {
		return map[string]any{}
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{}
	}
	return out
}
