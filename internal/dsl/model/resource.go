package model

// Resource is a declared resource available to template-rendered context
// under ctx.resources. Registered at DAG build time; read-only for the rest
// of the run.
type Resource struct {
	Path         NodePath
	ResourceType string
	URI          string
	Scope        string // "global" | "local"
	Metadata     map[string]any
}
