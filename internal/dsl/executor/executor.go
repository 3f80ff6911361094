// Package executor implements the Node Executor from spec.md §4.5:
// polymorphic dispatch over the ten node variants, permission checks, and
// the variant-specific context-binding rules. Grounded in the teacher's
// engine/handlers.go Handler-registry-by-type-string pattern, generalized
// from "node kind string -> CI stage handler" to "node kind -> DSL variant
// handler."
package executor

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/chisuhua/AgenticDSL/internal/dsl/llmadapter"
	"github.com/chisuhua/AgenticDSL/internal/dsl/model"
	"github.com/chisuhua/AgenticDSL/internal/dsl/resource"
	"github.com/chisuhua/AgenticDSL/internal/dsl/stdlib"
	"github.com/chisuhua/AgenticDSL/internal/dsl/template"
	"github.com/chisuhua/AgenticDSL/internal/dsl/toolregistry"
)

// TemplateError wraps a rendering failure, aborting the node per spec.md §4.5.
type TemplateError struct {
	NodePath model.NodePath
	Err      error
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("executor: node %q: template error: %v", e.NodePath, e.Err)
}
func (e *TemplateError) Unwrap() error { return e.Err }

// PermissionError reports a tool-permission requirement that isn't satisfied.
type PermissionError struct {
	NodePath model.NodePath
	Tool     string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("executor: node %q: tool %q is not registered but required by permissions", e.NodePath, e.Tool)
}

// AssertError is raised when an assert node's condition is false and no
// on_failure jump target was declared.
type AssertError struct {
	NodePath  model.NodePath
	Condition string
}

func (e *AssertError) Error() string {
	return fmt.Sprintf("executor: assert %q failed: condition %q was false", e.NodePath, e.Condition)
}

// JumpRequest signals the scheduler to clear the ready queue and enqueue
// only Target, per spec.md §4.7 step 5.
type JumpRequest struct {
	Target model.NodePath
}

// Result is what one node execution produces for the Session to record.
type Result struct {
	Context       map[string]any
	PausedAt      *model.NodePath
	Jump          *JumpRequest
	SplicedGraphs []*model.ParsedGraph
	// ForkBranches signals to the scheduler that this node is a fork and it
	// must take over branch dispatch; Context is unchanged in this case.
	ForkBranches []model.NodePath
	// IsSoftEnd/IsHardEnd tell the scheduler which end semantics applied.
	IsSoftEnd bool
	IsHardEnd bool
}

// Deps bundles every read-mostly collaborator a handler may need.
type Deps struct {
	Tools     *toolregistry.Registry
	LLM       llmadapter.Adapter
	Resources *resource.Registry
	Render    *template.Engine
	Library   *stdlib.Index
	// ConsumeSubgraphDepth is called by generate_subgraph once per accepted
	// /dynamic/ graph. The session has already consumed the LLM-call unit and
	// one subgraph-depth unit by the time Execute runs (spec.md §4.6 step 2),
	// so this is an additional per-graph decrement.
	ConsumeSubgraphDepth func() bool
	SpliceDepth          int
}

// Handler executes one node variant.
type Handler interface {
	Execute(ctx context.Context, deps *Deps, node *model.Node, ctxIn map[string]any) (Result, error)
}

// Registry maps a model.Kind to its Handler, mirroring kilroy's
// HandlerRegistry.
type Registry struct {
	handlers map[model.Kind]Handler
}

// NewDefaultRegistry builds a registry with every spec.md §3 variant wired.
func NewDefaultRegistry() *Registry {
	r := &Registry{handlers: map[model.Kind]Handler{}}
	r.Register(model.KindStart, startHandler{})
	r.Register(model.KindEnd, endHandler{})
	r.Register(model.KindAssign, assignHandler{})
	r.Register(model.KindToolCall, toolCallHandler{})
	r.Register(model.KindLLMCall, llmCallHandler{})
	r.Register(model.KindResource, resourceHandler{})
	r.Register(model.KindAssert, assertHandler{})
	r.Register(model.KindGenerateSubgraph, generateSubgraphHandler{})
	r.Register(model.KindFork, forkHandler{})
	r.Register(model.KindJoin, joinHandler{})
	return r
}

// SetSubgraphParser wires the real markdown parser into generate_subgraph
// dispatch. Kept separate from NewDefaultRegistry to avoid an import cycle
// (markdown does not depend on executor, but keeping the default registry
// constructor dependency-free mirrors kilroy's own NewDefaultRegistry, which
// takes no external collaborators either).
func (r *Registry) SetSubgraphParser(parse func(source string) ([]*model.ParsedGraph, error)) {
	r.handlers[model.KindGenerateSubgraph] = generateSubgraphHandler{Parse: parse}
}

func (r *Registry) Register(k model.Kind, h Handler) {
	if r.handlers == nil {
		r.handlers = map[model.Kind]Handler{}
	}
	r.handlers[k] = h
}

func (r *Registry) Resolve(k model.Kind) (Handler, bool) {
	h, ok := r.handlers[k]
	return h, ok
}

// CheckPermissions enforces spec.md §4.5's "tool:<name> requires <name>
// registered" rule. Unknown permission kinds are ignored for forward
// compatibility.
func CheckPermissions(node *model.Node, tools *toolregistry.Registry) error {
	for _, p := range node.Permissions {
		if name, ok := strings.CutPrefix(p, "tool:"); ok {
			if !tools.Has(name) {
				return &PermissionError{NodePath: node.Path, Tool: name}
			}
		}
	}
	return nil
}

func cloneContext(ctx map[string]any) map[string]any {
	out := make(map[string]any, len(ctx))
	for k, v := range ctx {
		out[k] = v
	}
	return out
}

func renderTemplate(deps *Deps, node *model.Node, tmpl string, ctx map[string]any) (string, error) {
	out, err := deps.Render.Render(tmpl, ctx)
	if err != nil {
		return "", &TemplateError{NodePath: node.Path, Err: err}
	}
	return out, nil
}

// --- start / end ---

type startHandler struct{}

func (startHandler) Execute(_ context.Context, _ *Deps, _ *model.Node, ctxIn map[string]any) (Result, error) {
	return Result{Context: ctxIn}, nil
}

type endHandler struct{}

func (endHandler) Execute(_ context.Context, _ *Deps, node *model.Node, ctxIn map[string]any) (Result, error) {
	mode := node.TerminationMode()
	return Result{Context: ctxIn, IsHardEnd: mode == model.TerminationHard, IsSoftEnd: mode == model.TerminationSoft}, nil
}

// --- assign ---

type assignHandler struct{}

func (assignHandler) Execute(_ context.Context, deps *Deps, node *model.Node, ctxIn map[string]any) (Result, error) {
	out := cloneContext(ctxIn)
	for _, key := range node.Assign.Order {
		rendered, err := renderTemplate(deps, node, node.Assign.Assignments[key], ctxIn)
		if err != nil {
			return Result{}, err
		}
		out[key] = rendered
	}
	return Result{Context: out}, nil
}

// --- tool_call ---

type toolCallHandler struct{}

func (toolCallHandler) Execute(ctx context.Context, deps *Deps, node *model.Node, ctxIn map[string]any) (Result, error) {
	if err := CheckPermissions(node, deps.Tools); err != nil {
		return Result{}, err
	}
	args := make(map[string]string, len(node.ToolCall.Arguments))
	for _, key := range node.ToolCall.ArgOrder {
		rendered, err := renderTemplate(deps, node, node.ToolCall.Arguments[key], ctxIn)
		if err != nil {
			return Result{}, err
		}
		args[key] = rendered
	}

	result, err := deps.Tools.Invoke(ctx, node.ToolCall.Tool, args)
	if err != nil {
		return Result{}, err
	}

	out := cloneContext(ctxIn)
	bindToolResult(out, node.ToolCall.OutputKeys, result)
	return Result{Context: out}, nil
}

// bindToolResult applies spec.md §4.5's three-case tool_call binding rule.
func bindToolResult(ctx map[string]any, outputKeys []string, result any) {
	if len(outputKeys) == 1 {
		ctx[outputKeys[0]] = result
		return
	}
	if obj, ok := result.(map[string]any); ok {
		for _, key := range outputKeys {
			if v, present := obj[key]; present {
				ctx[key] = v
			}
		}
		return
	}
	if len(outputKeys) > 0 {
		ctx[outputKeys[0]] = result
	}
}

// --- llm_call ---

type llmCallHandler struct{}

func (llmCallHandler) Execute(ctx context.Context, deps *Deps, node *model.Node, ctxIn map[string]any) (Result, error) {
	prompt, err := renderTemplate(deps, node, node.LLMCall.PromptTemplate, ctxIn)
	if err != nil {
		return Result{}, err
	}
	text, err := deps.LLM.Generate(ctx, prompt)
	if err != nil {
		return Result{}, err
	}
	out := cloneContext(ctxIn)
	if len(node.LLMCall.OutputKeys) > 0 {
		out[node.LLMCall.OutputKeys[0]] = text
	}
	paused := node.Path
	return Result{Context: out, PausedAt: &paused}, nil
}

// --- resource ---

type resourceHandler struct{}

func (resourceHandler) Execute(_ context.Context, _ *Deps, _ *model.Node, ctxIn map[string]any) (Result, error) {
	return Result{Context: ctxIn}, nil
}

// --- assert ---

type assertHandler struct{}

func (assertHandler) Execute(_ context.Context, deps *Deps, node *model.Node, ctxIn map[string]any) (Result, error) {
	rendered, err := renderTemplate(deps, node, node.Assert.Condition, ctxIn)
	if err != nil {
		return Result{}, err
	}
	truthy, parseErr := interpretBool(rendered)
	if parseErr != nil {
		return Result{}, &TemplateError{NodePath: node.Path, Err: parseErr}
	}
	if truthy {
		return Result{Context: ctxIn}, nil
	}
	if node.Assert.OnFailure != nil {
		return Result{Context: ctxIn, Jump: &JumpRequest{Target: *node.Assert.OnFailure}}, nil
	}
	return Result{}, &AssertError{NodePath: node.Path, Condition: rendered}
}

// interpretBool follows spec.md §4.5: literal true/false, else parse as a
// number where non-zero is true.
func interpretBool(s string) (bool, error) {
	trimmed := strings.TrimSpace(s)
	switch strings.ToLower(trimmed) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	n, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return false, fmt.Errorf("cannot interpret %q as boolean", s)
	}
	return n != 0, nil
}

// --- generate_subgraph ---

type generateSubgraphHandler struct {
	Parse func(source string) ([]*model.ParsedGraph, error)
}

func (h generateSubgraphHandler) Execute(ctx context.Context, deps *Deps, node *model.Node, ctxIn map[string]any) (Result, error) {
	renderCtx := cloneContext(ctxIn)
	renderCtx["available_subgraphs"] = availableSubgraphsJSON(deps.Library)

	prompt, err := renderTemplate(deps, node, node.GenerateSubgraph.PromptTemplate, renderCtx)
	if err != nil {
		return Result{}, err
	}
	text, err := deps.LLM.Generate(ctx, prompt)
	if err != nil {
		return Result{}, err
	}

	parse := h.Parse
	if parse == nil {
		parse = defaultParse
	}
	graphs, err := parse(text)
	if err != nil {
		return Result{}, fmt.Errorf("executor: generate_subgraph %q: %w", node.Path, err)
	}

	out := cloneContext(ctxIn)
	var newPaths []string
	var acceptedGraphs []*model.ParsedGraph
	dynamicRoot := model.NodePath(strings.TrimSuffix(model.PrefixDynamic, "/"))
	for _, g := range graphs {
		if !g.Path.HasPrefix(dynamicRoot) {
			continue
		}
		if g.Signature != "" && node.GenerateSubgraph.SignatureValidation != model.SignatureIgnore {
			if violation := validateSignature(g); violation != nil {
				if node.GenerateSubgraph.SignatureValidation == model.SignatureStrict {
					if node.GenerateSubgraph.OnSignatureViolation != nil {
						return Result{Context: out, Jump: &JumpRequest{Target: *node.GenerateSubgraph.OnSignatureViolation}}, nil
					}
					return Result{}, fmt.Errorf("executor: generate_subgraph %q: signature violation: %w", node.Path, violation)
				}
				// warn: fall through, keep the graph.
			}
		}
		if deps.ConsumeSubgraphDepth != nil && !deps.ConsumeSubgraphDepth() {
			return Result{}, fmt.Errorf("executor: generate_subgraph %q: subgraph depth budget exceeded", node.Path)
		}
		acceptedGraphs = append(acceptedGraphs, g)
		newPaths = append(newPaths, string(g.Path))
	}

	if len(node.GenerateSubgraph.OutputKeys) > 0 {
		key := node.GenerateSubgraph.OutputKeys[0]
		if len(newPaths) == 1 {
			out[key] = newPaths[0]
		} else {
			anyPaths := make([]any, len(newPaths))
			for i, p := range newPaths {
				anyPaths[i] = p
			}
			out[key] = anyPaths
		}
	}

	return Result{Context: out, SplicedGraphs: acceptedGraphs}, nil
}

// validateSignature confirms a generated graph's declared output_schema is
// a legal JSON Schema document, per spec.md §4.5 step 1. A graph with a
// signature but no output_schema has nothing to check.
func validateSignature(g *model.ParsedGraph) error {
	if len(g.OutputSchema) == 0 {
		return nil
	}
	compiler := jsonschema.NewCompiler()
	resource := string(g.Path) + "/output_schema"
	if err := compiler.AddResource(resource, bytes.NewReader(g.OutputSchema)); err != nil {
		return fmt.Errorf("output_schema malformed: %w", err)
	}
	if _, err := compiler.Compile(resource); err != nil {
		return fmt.Errorf("output_schema malformed: %w", err)
	}
	return nil
}

func availableSubgraphsJSON(idx *stdlib.Index) []map[string]any {
	if idx == nil {
		return nil
	}
	descs := idx.AvailableSubgraphs()
	out := make([]map[string]any, len(descs))
	for i, d := range descs {
		out[i] = map[string]any{
			"path":          string(d.Path),
			"signature":     d.Signature,
			"output_schema": d.OutputSchema,
			"permissions":   d.Permissions,
			"stability":     string(d.Stability),
		}
	}
	return out
}

func defaultParse(string) ([]*model.ParsedGraph, error) {
	return nil, fmt.Errorf("executor: no markdown parser wired")
}

// --- fork / join: delegated to the scheduler (spec.md §4.5) ---

type forkHandler struct{}

func (forkHandler) Execute(_ context.Context, _ *Deps, node *model.Node, ctxIn map[string]any) (Result, error) {
	return Result{Context: ctxIn, ForkBranches: node.Fork.Branches}, nil
}

type joinHandler struct{}

func (joinHandler) Execute(_ context.Context, _ *Deps, _ *model.Node, ctxIn map[string]any) (Result, error) {
	return Result{Context: ctxIn}, nil
}
