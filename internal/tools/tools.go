// Package tools provides the tool registry and invocation contract.
package tools

import (
	"context"
	"sort"
)

// Tool represents a callable capability. Parameters is a JSON schema
// used only for prompt construction — runtime validation is the
// handler's own responsibility.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	// AutoApprove marks a tool safe to execute without confirmation
	// regardless of the approval mode.
	AutoApprove bool                                                           `json:"auto_approve"`
	Handler     func(ctx context.Context, args map[string]any) (string, error) `json:"-"`
}

// Registry holds available tools.
type Registry struct {
	tools map[string]*Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool to the registry. Re-registering a name replaces
// the previous tool.
func (r *Registry) Register(t *Tool) {
	r.tools[t.Name] = t
}

// Get retrieves a tool by name. Returns nil when absent.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// Names returns registered tool names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns all tools in the wire shape LLM providers expect for
// their tools parameter, sorted by name for a stable prompt.
func (r *Registry) List() []map[string]any {
	var result []map[string]any
	for _, name := range r.Names() {
		t := r.tools[name]
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return result
}

// Execute runs a tool by name. The caller is responsible for bounding
// ctx; a deadline hit inside the handler surfaces as ErrTimeout.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	tool := r.tools[name]
	if tool == nil {
		return "", &ErrToolUnavailable{ToolName: name}
	}

	result, err := tool.Handler(ctx, args)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", &ErrTimeout{ToolName: name}
		}
		return "", err
	}
	return result, nil
}
