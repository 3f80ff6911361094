// Package engine implements the Engine Facade from spec.md §4.8: loading a
// parsed graph set from Markdown, wiring every collaborator the scheduler
// needs, and exposing the run/append/continue operations the host (the CLI
// front-end, or a future interactive driver) calls. Grounded in the
// teacher's engine.Run/engine.Prepare split (parse-and-validate separated
// from drive-to-completion) though the run loop itself is owned entirely by
// the scheduler package here; this facade's job is purely construction and
// wire-shape translation.
package engine

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/chisuhua/AgenticDSL/internal/dsl/budget"
	"github.com/chisuhua/AgenticDSL/internal/dsl/contextstore"
	"github.com/chisuhua/AgenticDSL/internal/dsl/executor"
	"github.com/chisuhua/AgenticDSL/internal/dsl/llmadapter"
	"github.com/chisuhua/AgenticDSL/internal/dsl/markdown"
	"github.com/chisuhua/AgenticDSL/internal/dsl/model"
	"github.com/chisuhua/AgenticDSL/internal/dsl/resource"
	"github.com/chisuhua/AgenticDSL/internal/dsl/scheduler"
	"github.com/chisuhua/AgenticDSL/internal/dsl/session"
	"github.com/chisuhua/AgenticDSL/internal/dsl/stdlib"
	"github.com/chisuhua/AgenticDSL/internal/dsl/sysnodes"
	"github.com/chisuhua/AgenticDSL/internal/dsl/template"
	"github.com/chisuhua/AgenticDSL/internal/dsl/toolregistry"
	"github.com/chisuhua/AgenticDSL/internal/dsl/trace"
)

const metaPath = model.NodePath("/__meta__")

// GraphError reports a structural problem discovered at load time, before
// any node has executed (spec.md §7's ParseError/GraphError fatal-at-load
// policy).
type GraphError struct {
	Message string
}

func (e *GraphError) Error() string { return "engine: " + e.Message }

// RunResult is the wire-form run outcome from spec.md §6: success/message,
// the final context, an optional pause point, and the full trace.
type RunResult struct {
	Success      bool
	Message      string
	FinalContext map[string]any
	PausedAt     *model.NodePath
	Traces       []trace.Record
}

// Option customizes engine construction. Functional options keep
// FromMarkdown/FromFile's signature matching spec.md §4.8 exactly
// (text/path in, Engine out) while still letting callers swap the LLM
// adapter or add a standard-library directory.
type Option func(*buildConfig)

type buildConfig struct {
	llm        llmadapter.Adapter
	libraryDir string
}

// WithLLMAdapter overrides the default mock adapter with a real provider
// (e.g. one built with llmadapter.NewAnthropicFromEnv()).
func WithLLMAdapter(a llmadapter.Adapter) Option {
	return func(c *buildConfig) { c.llm = a }
}

// WithLibraryDir points the standard-library index at a directory of
// additional *.md library files, per spec.md §4.9's directory loader.
func WithLibraryDir(dir string) Option {
	return func(c *buildConfig) { c.libraryDir = dir }
}

// Engine wires every collaborator spec.md's components describe and drives
// them through the scheduler.
type Engine struct {
	scheduler *scheduler.Scheduler
	session   *session.Session
	budget    *budget.Controller
	tools     *toolregistry.Registry
	resources *resource.Registry
	library   *stdlib.Index

	started     bool
	lastContext map[string]any
}

// FromMarkdown parses text and builds a ready-to-run Engine, per spec.md
// §4.8. Construction asserts /main is present and seeds the scheduler with
// the built-in system nodes before any user graph.
func FromMarkdown(text string, opts ...Option) (*Engine, error) {
	graphs, err := markdown.Parse(text)
	if err != nil {
		return nil, err
	}
	return build(graphs, opts)
}

// FromFile reads path and delegates to FromMarkdown.
func FromFile(path string, opts ...Option) (*Engine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("engine: read %s: %w", path, err)
	}
	return FromMarkdown(string(data), opts...)
}

func build(graphs []*model.ParsedGraph, opts []Option) (*Engine, error) {
	cfg := buildConfig{llm: llmadapter.NewMock()}
	for _, o := range opts {
		o(&cfg)
	}

	var budgetCfg *model.BudgetConfig
	var userGraphs []*model.ParsedGraph
	for _, g := range graphs {
		if g.Path == metaPath {
			budgetCfg = g.Budget
			continue
		}
		userGraphs = append(userGraphs, g)
	}
	if !hasMain(userGraphs) {
		return nil, &GraphError{Message: "/main not found; at least one node under /main is required"}
	}

	budgetCtl := budget.New(budgetCfg)
	maxSnapshots, maxSnapshotKB := -1, 512
	if budgetCfg != nil {
		maxSnapshots = budgetCfg.MaxSnapshots
		maxSnapshotKB = budgetCfg.SnapshotMaxSizeKB
	}

	tools := toolregistry.New()
	resources := resource.New()
	library := stdlib.New()
	if cfg.libraryDir != "" {
		if err := library.LoadDir(cfg.libraryDir); err != nil {
			return nil, fmt.Errorf("engine: loading library dir: %w", err)
		}
	}
	renderer := template.New()

	execRegistry := executor.NewDefaultRegistry()
	execRegistry.SetSubgraphParser(markdown.Parse)

	sess := &session.Session{
		Budget:    budgetCtl,
		Snapshots: contextstore.NewSnapshotStore(maxSnapshots, maxSnapshotKB),
		Trace:     trace.NewRecorder(time.Now()),
		Resources: resources,
		Executors: execRegistry,
		Deps: &executor.Deps{
			Tools:                tools,
			LLM:                  cfg.llm,
			Resources:            resources,
			Render:               renderer,
			Library:              library,
			ConsumeSubgraphDepth: budgetCtl.TryConsumeSubgraphDepth,
		},
	}

	sched := scheduler.New(sess, renderer)
	allGraphs := append([]*model.ParsedGraph{sysnodes.Graph()}, userGraphs...)
	if err := sched.Load(allGraphs); err != nil {
		return nil, err
	}
	for _, g := range userGraphs {
		registerAncillary(g, resources, library)
	}

	return &Engine{
		scheduler: sched,
		session:   sess,
		budget:    budgetCtl,
		tools:     tools,
		resources: resources,
		library:   library,
	}, nil
}

// hasMain checks spec.md §3's "/main must exist at load time" invariant:
// some node's path is /main itself or nested under it.
func hasMain(graphs []*model.ParsedGraph) bool {
	for _, g := range graphs {
		for _, n := range g.Nodes {
			if n.Path.HasPrefix(model.PrefixMain) {
				return true
			}
		}
	}
	return false
}

// registerAncillary performs the two build-time side effects a loaded graph
// can carry beyond its nodes' DAG edges: resource declarations go into the
// resource registry (spec.md §4.4), and graphs marked is_standard_library go
// into the library index (spec.md §4.9).
func registerAncillary(g *model.ParsedGraph, resources *resource.Registry, library *stdlib.Index) {
	for _, n := range g.Nodes {
		if n.Kind == model.KindResource && n.Resource != nil {
			resources.Register(model.Resource{
				Path:         n.Path,
				ResourceType: n.Resource.ResourceType,
				URI:          n.Resource.URI,
				Scope:        n.Resource.Scope,
				Metadata:     n.Metadata,
			})
		}
	}
	if g.IsStandardLibrary {
		library.RegisterGraph(g)
	}
}

// Run drives the scheduler to completion, a pause, or a failure. The first
// call uses initialCtx; subsequent calls (after a pause) resume from the
// context the prior run left off with, per spec.md §4.8's "re-invocation
// resumes from the ready state built up to the pause point."
func (e *Engine) Run(ctx context.Context, initialCtx map[string]any) RunResult {
	current := initialCtx
	if e.started {
		current = e.lastContext
	}
	e.started = true

	res := e.scheduler.Run(ctx, current)
	e.lastContext = res.FinalContext

	return RunResult{
		Success:      res.Success,
		Message:      res.Message,
		FinalContext: res.FinalContext,
		PausedAt:     res.PausedAt,
		Traces:       e.session.Trace.Records(),
	}
}

// AppendGraphs splices already-parsed graphs into the live DAG, registering
// any resource/library side effects they carry, per spec.md §4.8's resume
// operation.
func (e *Engine) AppendGraphs(graphs []*model.ParsedGraph) error {
	var toSplice []*model.ParsedGraph
	for _, g := range graphs {
		if g.Path == metaPath {
			continue
		}
		registerAncillary(g, e.resources, e.library)
		toSplice = append(toSplice, g)
	}
	if len(toSplice) == 0 {
		return nil
	}
	return e.scheduler.Splice(toSplice)
}

// ContinueWithGeneratedDSL parses text as AgenticDSL and splices the result
// into the live DAG, per spec.md §4.8.
func (e *Engine) ContinueWithGeneratedDSL(text string) error {
	graphs, err := markdown.Parse(text)
	if err != nil {
		return err
	}
	return e.AppendGraphs(graphs)
}

// RegisterTool adds or replaces a tool_call implementation.
func (e *Engine) RegisterTool(name string, fn toolregistry.Tool) {
	e.tools.Register(name, fn)
}

// Traces returns every trace record emitted so far, across pauses.
func (e *Engine) Traces() []trace.Record {
	return e.session.Trace.Records()
}
