// Package resource implements the read-only resource registry from
// spec.md §4.4: register at DAG build time, expose a stable JSON view
// injected under ctx.resources on every node entry.
package resource

import (
	"sort"
	"sync"

	"github.com/chisuhua/AgenticDSL/internal/dsl/model"
)

// Registry holds every declared resource for the lifetime of a run.
// Registration happens once at build time; reads are concurrency-safe so
// the session can inject the view into a branch's context independently.
type Registry struct {
	mu    sync.RWMutex
	items map[model.NodePath]model.Resource
}

// New builds an empty registry.
func New() *Registry {
	return &Registry{items: map[model.NodePath]model.Resource{}}
}

// Register records a resource declaration. Re-registering the same path
// overwrites the prior entry, matching a resource node being re-spliced with
// updated metadata.
func (r *Registry) Register(res model.Resource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[res.Path] = res
}

// Get returns the resource at path, if registered.
func (r *Registry) Get(path model.NodePath) (model.Resource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.items[path]
	return res, ok
}

// View materializes ctx.resources: a JSON object mapping each registered
// path to {uri, type, scope}.
func (r *Registry) View() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	paths := make([]string, 0, len(r.items))
	for p := range r.items {
		paths = append(paths, string(p))
	}
	sort.Strings(paths)

	out := make(map[string]any, len(paths))
	for _, p := range paths {
		res := r.items[model.NodePath(p)]
		out[p] = map[string]any{
			"uri":   res.URI,
			"type":  res.ResourceType,
			"scope": res.Scope,
		}
	}
	return out
}
