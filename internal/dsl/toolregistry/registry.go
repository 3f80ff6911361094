// Package toolregistry is the name -> function map tool_call nodes invoke.
// It is an external collaborator per spec.md §1 (out of scope for the hard
// core), but a working implementation needs a concrete registry and a
// couple of built-in tools to exercise the tool_call path end to end.
package toolregistry

import (
	"context"
	"fmt"
)

// Tool is a registered callable. Arguments are already-rendered strings
// (tool_call renders each argument template before invocation); the return
// value is bound into the context per spec.md §4.5's output-key rules.
type Tool func(ctx context.Context, args map[string]string) (any, error)

// ToolError wraps a missing tool or a tool's own failure, per spec.md §7.
type ToolError struct {
	Name    string
	Message string
	Err     error
}

func (e *ToolError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("toolregistry: tool %q failed: %s", e.Name, e.Message)
	}
	return fmt.Sprintf("toolregistry: tool %q not registered", e.Name)
}

func (e *ToolError) Unwrap() error { return e.Err }

// Registry maps tool names to their implementation.
type Registry struct {
	tools map[string]Tool
}

// New builds a registry seeded with the built-in tools.
func New() *Registry {
	r := &Registry{tools: map[string]Tool{}}
	r.Register("calculate", calculateTool)
	r.Register("echo", echoTool)
	return r
}

// Register adds or replaces a tool under name.
func (r *Registry) Register(name string, t Tool) {
	if r.tools == nil {
		r.tools = map[string]Tool{}
	}
	r.tools[name] = t
}

// Has reports whether name is registered, used by the executor's permission
// check (permission strings of the form "tool:<name>").
func (r *Registry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

// Invoke calls the named tool, wrapping "not registered" and in-tool panics
// as *ToolError per spec.md §4.5/§7.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]string) (result any, err error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, &ToolError{Name: name}
	}
	defer func() {
		if p := recover(); p != nil {
			err = &ToolError{Name: name, Message: fmt.Sprint(p)}
		}
	}()
	out, err := t(ctx, args)
	if err != nil {
		return nil, &ToolError{Name: name, Message: err.Error(), Err: err}
	}
	return out, nil
}
