// Package session implements the Execution Session from spec.md §4.6: the
// wrapper around one node execution that orders snapshot capture, budget
// consumption, trace recording, and resource injection. Grounded directly
// in the original implementation's ExecutionSession::execute_node, which
// performs exactly this sequence (snapshot check, budget checks in
// llm_call/generate_subgraph/node order, trace start, dispatch, trace end).
package session

import (
	"context"
	"fmt"

	"github.com/chisuhua/AgenticDSL/internal/dsl/budget"
	"github.com/chisuhua/AgenticDSL/internal/dsl/contextstore"
	"github.com/chisuhua/AgenticDSL/internal/dsl/executor"
	"github.com/chisuhua/AgenticDSL/internal/dsl/model"
	"github.com/chisuhua/AgenticDSL/internal/dsl/resource"
	"github.com/chisuhua/AgenticDSL/internal/dsl/toolregistry"
	"github.com/chisuhua/AgenticDSL/internal/dsl/trace"
)

// BudgetError reports which budget dimension was exhausted.
type BudgetError struct {
	NodePath  model.NodePath
	Dimension string
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("session: node %q: budget exceeded (%s)", e.NodePath, e.Dimension)
}

// Outcome is what the scheduler needs back from running one node.
type Outcome struct {
	NewContext    map[string]any
	SnapshotKey   *model.NodePath
	PausedAt      *model.NodePath
	Jump          *executor.JumpRequest
	SplicedGraphs []*model.ParsedGraph
	ForkBranches  []model.NodePath
	IsSoftEnd     bool
	IsHardEnd     bool
	Failed        bool
	FailMessage   string
}

// Session wraps one run's shared collaborators: budget, snapshots, trace,
// resources, and the node executor's handler registry.
type Session struct {
	Budget      *budget.Controller
	Snapshots   *contextstore.SnapshotStore
	Trace       *trace.Recorder
	Resources   *resource.Registry
	Executors   *executor.Registry
	Deps        *executor.Deps
	SpliceDepth int
}

// Run executes one node end to end per spec.md §4.6's seven steps.
func (s *Session) Run(ctx context.Context, node *model.Node, initialContext map[string]any, mode string) Outcome {
	ctxWithResources := cloneMap(initialContext)
	if view := s.Resources.View(); len(view) > 0 {
		ctxWithResources["resources"] = view
	}

	var snapshotKey *model.NodePath
	if needsSnapshot(node) {
		if err := s.Snapshots.Save(node.Path, ctxWithResources); err == nil {
			k := node.Path
			snapshotKey = &k
		}
	}

	// Step 2: budget consumption in llm_call/generate_subgraph -> node order.
	// Nodes under /__system__/ are the scheduler's own termination targets:
	// once a budget trips, the terminal itself must still run (and trace) to
	// report the failure, so it is exempt from the counters it is reporting
	// as exhausted.
	if !node.Path.IsSystem() {
		if s.Budget.Exceeded() {
			return Outcome{Failed: true, FailMessage: "budget exceeded: wall-clock duration limit reached", SnapshotKey: snapshotKey}
		}
		if node.Kind == model.KindLLMCall || node.Kind == model.KindGenerateSubgraph {
			if !s.Budget.TryConsumeLLMCall() {
				return Outcome{Failed: true, FailMessage: "budget exceeded: llm call limit reached", SnapshotKey: snapshotKey}
			}
		}
		if node.Kind == model.KindGenerateSubgraph {
			if !s.Budget.TryConsumeSubgraphDepth() {
				return Outcome{Failed: true, FailMessage: "budget exceeded: subgraph depth limit reached", SnapshotKey: snapshotKey}
			}
		}
		if !s.Budget.TryConsumeNode() {
			return Outcome{Failed: true, FailMessage: "budget exceeded: node limit reached", SnapshotKey: snapshotKey}
		}
	}

	pending := s.Trace.Start(node.Path, node.Kind, s.Budget.Snapshot(), ctxWithResources)

	handler, ok := s.Executors.Resolve(node.Kind)
	if !ok {
		s.Trace.End(pending, trace.StatusFailed, "UnknownNodeKind", ctxWithResources, ptrOrZero(snapshotKey), s.Budget.Snapshot(), nil, mode)
		return Outcome{Failed: true, FailMessage: fmt.Sprintf("no handler registered for node kind %q", node.Kind), SnapshotKey: snapshotKey}
	}

	if err := executor.CheckPermissions(node, s.Deps.Tools); err != nil {
		s.Trace.End(pending, trace.StatusFailed, "PermissionError", ctxWithResources, ptrOrZero(snapshotKey), s.Budget.Snapshot(), nil, mode)
		return Outcome{Failed: true, FailMessage: err.Error(), SnapshotKey: snapshotKey}
	}

	res, err := handler.Execute(ctx, s.Deps, node, ctxWithResources)
	if err != nil {
		s.Trace.End(pending, trace.StatusFailed, errorCode(err), ctxWithResources, ptrOrZero(snapshotKey), s.Budget.Snapshot(), nil, mode)
		return Outcome{Failed: true, FailMessage: err.Error(), SnapshotKey: snapshotKey}
	}

	s.Trace.End(pending, trace.StatusSuccess, "", res.Context, ptrOrZero(snapshotKey), s.Budget.Snapshot(), nil, mode)

	return Outcome{
		NewContext:    res.Context,
		SnapshotKey:   snapshotKey,
		PausedAt:      res.PausedAt,
		Jump:          res.Jump,
		SplicedGraphs: res.SplicedGraphs,
		ForkBranches:  res.ForkBranches,
		IsSoftEnd:     res.IsSoftEnd,
		IsHardEnd:     res.IsHardEnd,
	}
}

// needsSnapshot mirrors the original's ExecutionSession::needs_snapshot:
// fork/generate_subgraph/assert always trigger; tool_call with
// metadata.rollback_on_failure triggers; any node with
// metadata.snapshot_before_execution triggers.
func needsSnapshot(node *model.Node) bool {
	switch node.Kind {
	case model.KindFork, model.KindGenerateSubgraph, model.KindAssert:
		return true
	}
	if node.Kind == model.KindToolCall {
		if v, ok := node.Metadata["rollback_on_failure"].(bool); ok && v {
			return true
		}
	}
	if v, ok := node.Metadata["snapshot_before_execution"].(bool); ok && v {
		return true
	}
	return false
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func ptrOrZero(p *model.NodePath) model.NodePath {
	if p == nil {
		return ""
	}
	return *p
}

// errorCode maps a handler error to a short machine-readable code for the
// trace record, per spec.md §7's named error families.
func errorCode(err error) string {
	switch err.(type) {
	case *executor.TemplateError:
		return "TemplateError"
	case *executor.PermissionError:
		return "PermissionError"
	case *executor.AssertError:
		return "AssertError"
	case *toolregistry.ToolError:
		return "ToolError"
	default:
		return "ExecutionError"
	}
}
