package contextstore

import "fmt"

// TemplateError wraps a rendering failure from an assign/tool_call/assert
// node. Rendering errors leave the context untouched.
type TemplateError struct {
	Key string
	Err error
}

func (e *TemplateError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("contextstore: template render failed for key %q: %v", e.Key, e.Err)
	}
	return fmt.Sprintf("contextstore: template render failed: %v", e.Err)
}

func (e *TemplateError) Unwrap() error { return e.Err }

// Renderer is the narrow interface contextstore needs from the template
// package; accepted here rather than imported, so this package has no
// dependency on template internals.
type Renderer interface {
	Render(tmpl string, ctx map[string]any) (string, error)
}

// RenderAndMerge renders each (key, template) pair in declaration order
// against ctx and assigns the rendered string to ctx[key]. On the first
// rendering failure, the original ctx is returned unchanged alongside a
// *TemplateError.
func RenderAndMerge(order []string, assignments map[string]string, ctx map[string]any, r Renderer) (map[string]any, error) {
	out := cloneMap(ctx)
	for _, key := range order {
		tmpl := assignments[key]
		rendered, err := r.Render(tmpl, out)
		if err != nil {
			return ctx, &TemplateError{Key: key, Err: err}
		}
		out[key] = rendered
	}
	return out, nil
}
