// Package tools defines the tool registry the agent loop offers to the
// model and the tools the content agents use.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
)

// Handler executes one tool call. Returning an error is non-fatal: the
// agent loop reports it to the model as the tool result.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Tool represents a callable tool. Tools are immutable once registered.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Handler     Handler        `json:"-"`
}

// Registry holds available tools in registration order.
type Registry struct {
	tools  map[string]*Tool
	order  []string
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]*Tool),
		logger: logger,
	}
}

// Register adds a tool. Names are unique within a registry.
func (r *Registry) Register(t *Tool) error {
	if t == nil || t.Name == "" {
		return fmt.Errorf("tool has no name")
	}
	if t.Handler == nil {
		return fmt.Errorf("tool %q has no handler", t.Name)
	}
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("tool %q already registered", t.Name)
	}
	r.tools[t.Name] = t
	r.order = append(r.order, t.Name)
	return nil
}

// Get retrieves a tool by name, or nil.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	return slices.Clone(r.order)
}

// Len reports the number of registered tools.
func (r *Registry) Len() int {
	return len(r.order)
}

// List returns the function-calling schema for every tool, in
// registration order so prompts are stable across turns.
func (r *Registry) List() []map[string]any {
	if len(r.order) == 0 {
		return nil
	}
	result := make([]map[string]any, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		params := t.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  params,
			},
		})
	}
	return result
}

// FilteredCopy returns a registry containing only the named tools that
// exist in r. Unknown names are skipped.
func (r *Registry) FilteredCopy(names []string) *Registry {
	out := NewRegistry(r.logger)
	for _, name := range names {
		if t, ok := r.tools[name]; ok {
			_ = out.Register(t)
		}
	}
	return out
}

// Execute runs a tool by name. Unknown tools yield *ErrToolUnavailable,
// missing required arguments yield *ErrInvalidArguments, and a panicking
// handler is converted into an error.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (result string, err error) {
	tool := r.tools[name]
	if tool == nil {
		return "", &ErrToolUnavailable{ToolName: name}
	}
	if args == nil {
		args = map[string]any{}
	}
	if missing := missingRequired(tool.Parameters, args); len(missing) > 0 {
		return "", &ErrInvalidArguments{ToolName: name, Missing: missing}
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("tool handler panicked",
				"tool", name,
				"panic", p,
				"stack", string(debug.Stack()),
			)
			result = ""
			err = fmt.Errorf("tool %s panicked: %v", name, p)
		}
	}()

	return tool.Handler(ctx, args)
}

func missingRequired(params map[string]any, args map[string]any) []string {
	var required []string
	switch v := params["required"].(type) {
	case []string:
		required = v
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				required = append(required, s)
			}
		}
	}

	var missing []string
	for _, key := range required {
		val, ok := args[key]
		if !ok || val == nil {
			missing = append(missing, key)
			continue
		}
		if s, isString := val.(string); isString && s == "" {
			missing = append(missing, key)
		}
	}
	return missing
}
