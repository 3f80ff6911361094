// Package scheduler implements the DAG Scheduler from spec.md §4.7: DAG
// construction from next/wait_for edges, the ready-queue main loop, fork/join
// branch simulation, and incremental dynamic splice. Grounded in
// original_source/src/modules/scheduler/topo_scheduler.cpp's control flow
// (ready-queue pop order, dynamic-wait_for re-parking, jump-clears-queue
// semantics, fork-then-join sequencing) while deliberately NOT reproducing
// its full-DAG-rebuild splice, which spec.md flags as an anti-pattern to
// replace with an incremental integration of only the new nodes.
package scheduler

import (
	"context"
	"fmt"
	"strings"

	"github.com/chisuhua/AgenticDSL/internal/dsl/contextstore"
	"github.com/chisuhua/AgenticDSL/internal/dsl/model"
	"github.com/chisuhua/AgenticDSL/internal/dsl/session"
)

// DependencyError reports nodes that never became reachable, per spec.md
// §4.7's termination condition.
type DependencyError struct {
	Unexecuted []model.NodePath
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("scheduler: run ended with %d node(s) never executed", len(e.Unexecuted))
}

// GraphError reports a structural problem with a dynamic splice.
type GraphError struct {
	Message string
}

func (e *GraphError) Error() string { return "scheduler: " + e.Message }

// Result is the scheduler's outward-facing run outcome, matching spec.md
// §6's wire form minus the trace list (the engine facade attaches that).
type Result struct {
	Success      bool
	Message      string
	FinalContext map[string]any
	PausedAt     *model.NodePath
}

// Scheduler owns the live node map and drives execution via a Session.
type Scheduler struct {
	Session *session.Session
	Render  Renderer

	nodeMap      map[model.NodePath]*model.Node
	inDegree     map[model.NodePath]int
	reverseEdges map[model.NodePath][]model.NodePath
	readyQueue   []model.NodePath
	executed     map[model.NodePath]bool

	pendingDynamicDeps map[model.NodePath][]model.NodePath
	pendingDynamicExpr map[model.NodePath]string

	// lastForkBranchResults/lastForkBranches record the most recently
	// completed fork's per-branch outcomes so the next Join popped off the
	// queue can merge them. This assumes one fork/join pairing in flight at
	// a time, matching the synchronous single-threaded execution model and
	// every scenario in spec.md §8.
	lastForkBranches      []model.NodePath
	lastForkBranchResults []map[string]any

	requiredNodes map[model.NodePath]bool

	// countedEdges dedupes (dependency -> dependent) pairs so a node named
	// as both a next-successor and a wait_for dependency of the same
	// downstream node only contributes one unit of in-degree.
	countedEdges map[[2]model.NodePath]bool

	// budgetTripMessage is set when a node's budget consumption fails and
	// the scheduler redirects to the termination target. Once that target
	// finishes executing (and has been traced), the run ends reporting this
	// message and Success: false, per spec.md's budget-trip scenario.
	budgetTripMessage *string
}

// Renderer evaluates a dynamic wait_for expression against the current
// context, returning the list of paths it resolves to.
type Renderer interface {
	Render(tmpl string, ctx map[string]any) (string, error)
}

// New builds a Scheduler with an empty node map.
func New(sess *session.Session, renderer Renderer) *Scheduler {
	return &Scheduler{
		Session:            sess,
		Render:             renderer,
		nodeMap:            map[model.NodePath]*model.Node{},
		inDegree:           map[model.NodePath]int{},
		reverseEdges:       map[model.NodePath][]model.NodePath{},
		executed:           map[model.NodePath]bool{},
		pendingDynamicDeps: map[model.NodePath][]model.NodePath{},
		pendingDynamicExpr: map[model.NodePath]string{},
		requiredNodes:      map[model.NodePath]bool{},
		countedEdges:       map[[2]model.NodePath]bool{},
	}
}

// addEdge records a dependency -> dependent edge exactly once, incrementing
// in-degree and reverse-edges only on the first occurrence of the pair.
func (s *Scheduler) addEdge(dependency, dependent model.NodePath) {
	key := [2]model.NodePath{dependency, dependent}
	if s.countedEdges[key] {
		return
	}
	s.countedEdges[key] = true
	s.reverseEdges[dependent] = append(s.reverseEdges[dependent], dependency)
	s.inDegree[dependent]++
}

// Load registers every node from graphs and (re)builds the DAG. Intended for
// the initial build only; use Splice for mid-run additions.
func (s *Scheduler) Load(graphs []*model.ParsedGraph) error {
	for _, g := range graphs {
		for _, n := range g.Nodes {
			if _, exists := s.nodeMap[n.Path]; exists {
				return &GraphError{Message: fmt.Sprintf("duplicate node path %q", n.Path)}
			}
			s.nodeMap[n.Path] = n
			s.inDegree[n.Path] = 0
			if !n.Path.IsSystem() {
				s.requiredNodes[n.Path] = true
			}
		}
	}
	return s.buildEdges(allPaths(s.nodeMap))
}

// buildEdges computes in-degree and reverse edges for the given set of
// newly-added paths only, then enqueues any of them left at in-degree zero
// (except system nodes and fork branch roots).
// This is the incremental counterpart to the original's full rebuild: it
// touches exactly the nodes named in `added`.
func (s *Scheduler) buildEdges(added []model.NodePath) error {
	for _, path := range added {
		if _, ok := s.reverseEdges[path]; !ok {
			s.reverseEdges[path] = nil
		}
	}
	for _, path := range added {
		n := s.nodeMap[path]
		for _, next := range n.Next {
			if _, ok := s.nodeMap[next]; !ok {
				return &GraphError{Message: fmt.Sprintf("next target %q not found for node %q", next, path)}
			}
			s.addEdge(path, next)
		}
		if n.WaitFor != nil && !n.WaitFor.IsDynamic() {
			for _, dep := range n.WaitFor.Static {
				if _, ok := s.nodeMap[dep]; !ok {
					return &GraphError{Message: fmt.Sprintf("wait_for dependency %q not found for node %q", dep, path)}
				}
				s.addEdge(dep, path)
			}
		}
		if n.WaitFor.IsDynamic() {
			s.pendingDynamicExpr[path] = n.WaitFor.Dynamic
		}
	}
	// Fork branch roots are started by their fork (runFork), never by the
	// main ready queue.
	branchRoots := map[model.NodePath]bool{}
	for _, n := range s.nodeMap {
		if n.Fork != nil {
			for _, b := range n.Fork.Branches {
				branchRoots[b] = true
			}
		}
	}
	for _, path := range added {
		n := s.nodeMap[path]
		if n.Path.IsSystem() || branchRoots[path] {
			continue
		}
		if s.inDegree[path] == 0 {
			s.readyQueue = append(s.readyQueue, path)
		}
	}
	return nil
}

func allPaths(m map[model.NodePath]*model.Node) []model.NodePath {
	out := make([]model.NodePath, 0, len(m))
	for p := range m {
		out = append(out, p)
	}
	return out
}

// Splice integrates newly-generated graphs into the live DAG without
// touching any previously-registered node, per spec.md §4.7's "Dynamic
// splice" rules: reject duplicate paths, reject introducing a cycle into
// already-scheduled nodes, otherwise register and wire only the new nodes.
func (s *Scheduler) Splice(graphs []*model.ParsedGraph) error {
	var added []model.NodePath
	for _, g := range graphs {
		for _, n := range g.Nodes {
			if _, exists := s.nodeMap[n.Path]; exists {
				return &GraphError{Message: fmt.Sprintf("splice: duplicate node path %q", n.Path)}
			}
			added = append(added, n.Path)
		}
	}
	if err := s.wouldIntroduceCycle(graphs); err != nil {
		return err
	}
	for _, g := range graphs {
		for _, n := range g.Nodes {
			s.nodeMap[n.Path] = n
			s.inDegree[n.Path] = 0
		}
	}
	return s.buildEdges(added)
}

// wouldIntroduceCycle rejects a splice whose edges create a cycle reaching
// back into nodes that already executed, since an already-executed node can
// never satisfy a new incoming dependency.
func (s *Scheduler) wouldIntroduceCycle(graphs []*model.ParsedGraph) error {
	for _, g := range graphs {
		for _, n := range g.Nodes {
			for _, next := range n.Next {
				if s.executed[next] {
					return &GraphError{Message: fmt.Sprintf("splice: edge %q -> %q would create a cycle into an already-executed node", n.Path, next)}
				}
			}
		}
	}
	return nil
}

// Run drives the ready-queue main loop against ctx until the run pauses,
// succeeds, or fails, per spec.md §4.7.
func (s *Scheduler) Run(ctx context.Context, initial map[string]any) Result {
	current := cloneMap(initial)

	for len(s.readyQueue) > 0 || len(s.pendingDynamicDeps) > 0 {
		if len(s.readyQueue) == 0 {
			return Result{Success: false, Message: (&DependencyError{Unexecuted: s.unexecutedRequired()}).Error(), FinalContext: current}
		}

		path := s.popReady()
		if s.executed[path] {
			continue
		}
		node := s.nodeMap[path]

		if expr, ok := s.pendingDynamicExpr[path]; ok {
			deps, err := s.resolveDynamicWaitFor(expr, current)
			if err != nil {
				return Result{Success: false, Message: err.Error(), FinalContext: current}
			}
			var unmet []model.NodePath
			for _, d := range deps {
				if !s.executed[d] {
					unmet = append(unmet, d)
				}
			}
			if len(unmet) > 0 {
				s.pendingDynamicDeps[path] = unmet
				continue
			}
			delete(s.pendingDynamicExpr, path)
		}

		out := s.Session.Run(ctx, node, current, "main")
		if out.Failed {
			if isBudgetFailure(out.FailMessage) {
				target := s.Session.Budget.TerminationTarget()
				if _, ok := s.nodeMap[target]; ok {
					msg := out.FailMessage
					s.budgetTripMessage = &msg
					s.readyQueue = []model.NodePath{target}
					continue
				}
			}
			return Result{Success: false, Message: out.FailMessage, FinalContext: current}
		}
		current = out.NewContext

		if len(out.SplicedGraphs) > 0 {
			if err := s.Splice(out.SplicedGraphs); err != nil {
				return Result{Success: false, Message: err.Error(), FinalContext: current}
			}
		}

		if out.Jump != nil {
			s.readyQueue = nil
			s.readyQueue = append(s.readyQueue, out.Jump.Target)
			continue
		}

		s.markExecuted(path)

		if len(out.ForkBranches) > 0 {
			hardEnded, err := s.runFork(ctx, out.ForkBranches, current)
			if err != nil {
				return Result{Success: false, Message: err.Error(), FinalContext: current}
			}
			if hardEnded {
				return Result{Success: true, Message: "hard end encountered inside fork branch", FinalContext: current}
			}
			continue
		}

		if out.PausedAt != nil {
			return Result{Success: true, Message: fmt.Sprintf("paused at %q", *out.PausedAt), FinalContext: current, PausedAt: out.PausedAt}
		}

		if node.Kind == model.KindJoin {
			merged, err := s.mergeJoin(node, current)
			if err != nil {
				return Result{Success: false, Message: err.Error(), FinalContext: current}
			}
			current = merged
		}

		if out.IsHardEnd || out.IsSoftEnd {
			// A soft end reached on the main flow (not inside a fork branch,
			// which is handled separately in runBranch) ends the whole run,
			// same as a hard end, per spec.md's fork/join termination rules.
			if s.budgetTripMessage != nil {
				return Result{Success: false, Message: *s.budgetTripMessage, FinalContext: current}
			}
			return Result{Success: true, Message: "success", FinalContext: current}
		}

		s.promotePendingDynamicDeps()
	}

	unexecuted := s.unexecutedRequired()
	if len(unexecuted) > 0 {
		return Result{Success: false, Message: (&DependencyError{Unexecuted: unexecuted}).Error(), FinalContext: current}
	}
	return Result{Success: true, Message: "success", FinalContext: current}
}

func (s *Scheduler) popReady() model.NodePath {
	path := s.readyQueue[0]
	s.readyQueue = s.readyQueue[1:]
	return path
}

// markExecuted records path as done and advances every successor's
// in-degree, enqueuing any that reach zero.
func (s *Scheduler) markExecuted(path model.NodePath) {
	s.executed[path] = true
	node := s.nodeMap[path]
	isNext := make(map[model.NodePath]bool, len(node.Next))
	for _, next := range node.Next {
		isNext[next] = true
		s.inDegree[next]--
		if s.inDegree[next] == 0 {
			s.readyQueue = append(s.readyQueue, next)
		}
	}
	// Static wait_for dependents pointing at `path` also need their
	// in-degree advanced. reverseEdges holds next edges too, so the next
	// successors advanced above are skipped; dependents are found by
	// scanning the global map instead of maintaining a second forward index.
	for dependent, deps := range s.reverseEdges {
		if isNext[dependent] {
			continue
		}
		for _, d := range deps {
			if d == path {
				s.inDegree[dependent]--
				if s.inDegree[dependent] == 0 && !s.executed[dependent] {
					s.readyQueue = append(s.readyQueue, dependent)
				}
			}
		}
	}
}

func (s *Scheduler) promotePendingDynamicDeps() {
	for path, deps := range s.pendingDynamicDeps {
		var remaining []model.NodePath
		for _, d := range deps {
			if !s.executed[d] {
				remaining = append(remaining, d)
			}
		}
		if len(remaining) == 0 {
			delete(s.pendingDynamicDeps, path)
			s.readyQueue = append(s.readyQueue, path)
		} else {
			s.pendingDynamicDeps[path] = remaining
		}
	}
}

func (s *Scheduler) resolveDynamicWaitFor(expr string, ctx map[string]any) ([]model.NodePath, error) {
	rendered, err := s.Render.Render(expr, ctx)
	if err != nil {
		return nil, fmt.Errorf("scheduler: dynamic wait_for: %w", err)
	}
	return []model.NodePath{model.NodePath(rendered)}, nil
}

func (s *Scheduler) unexecutedRequired() []model.NodePath {
	var out []model.NodePath
	for p := range s.requiredNodes {
		if !s.executed[p] {
			out = append(out, p)
		}
	}
	return out
}

// runFork executes each branch in order against an independent deep copy of
// the pre-fork context, per spec.md §5. It returns true if a hard end was
// hit inside any branch, signaling the whole run should terminate.
func (s *Scheduler) runFork(ctx context.Context, branches []model.NodePath, preForkContext map[string]any) (hardEnded bool, err error) {
	results := make([]map[string]any, 0, len(branches))
	for _, root := range branches {
		branchCtx := deepCopyContext(preForkContext)
		finalCtx, ended, berr := s.runBranch(ctx, root, branchCtx)
		if berr != nil {
			return false, berr
		}
		results = append(results, finalCtx)
		if ended {
			hardEnded = true
			break
		}
	}
	s.lastForkBranches = branches
	s.lastForkBranchResults = results
	return hardEnded, nil
}

// runBranch walks the next-chain of nodes under root's own path, executing
// each through the shared Session and advancing the scheduler's global
// in-degree bookkeeping so nodes outside the branch (e.g. a downstream join
// waiting on this branch's tail) unblock normally. A branch ends when it
// reaches a node outside its own path, an already-executed node, or an end.
func (s *Scheduler) runBranch(ctx context.Context, root model.NodePath, branchCtx map[string]any) (map[string]any, bool, error) {
	path := root
	for {
		if s.executed[path] {
			return branchCtx, false, nil
		}
		node, ok := s.nodeMap[path]
		if !ok {
			return branchCtx, false, fmt.Errorf("scheduler: fork branch root %q not found", path)
		}

		out := s.Session.Run(ctx, node, branchCtx, "fork_branch")
		if out.Failed {
			return branchCtx, false, fmt.Errorf("scheduler: fork branch %q: %s", path, out.FailMessage)
		}
		branchCtx = out.NewContext
		s.markExecuted(path)

		if out.IsHardEnd {
			return branchCtx, true, nil
		}
		if out.IsSoftEnd || len(node.Next) == 0 {
			return branchCtx, false, nil
		}

		nextPath := node.Next[0]
		nextNode, ok := s.nodeMap[nextPath]
		if !ok || !nextNode.Path.HasPrefix(root) {
			return branchCtx, false, nil
		}
		path = nextPath
	}
}

// mergeJoin merges the most recently completed fork's branch results into
// the main context in branch order, per spec.md §4.7's Fork/Join rules.
func (s *Scheduler) mergeJoin(node *model.Node, mainCtx map[string]any) (map[string]any, error) {
	if len(s.lastForkBranchResults) == 0 {
		return mainCtx, nil
	}
	strategy := contextstore.Strategy(node.Join.MergeStrategy)
	if strategy == "" {
		strategy = contextstore.ErrorOnConflict
	}
	policy := contextstore.Policy{DefaultStrategy: strategy}

	merged := mainCtx
	for _, branchResult := range s.lastForkBranchResults {
		var err error
		merged, err = contextstore.Merge(merged, branchResult, policy)
		if err != nil {
			return nil, fmt.Errorf("scheduler: join %q: %w", node.Path, err)
		}
	}
	s.lastForkBranches = nil
	s.lastForkBranchResults = nil
	return merged, nil
}

func isBudgetFailure(msg string) bool {
	return strings.HasPrefix(msg, "budget exceeded")
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func deepCopyContext(m map[string]any) map[string]any {
	var copyValue func(v any) any
	copyValue = func(v any) any {
		switch t := v.(type) {
		case map[string]any:
			out := make(map[string]any, len(t))
			for k, item := range t {
				out[k] = copyValue(item)
			}
			return out
		case []any:
			out := make([]any, len(t))
			for i, item := range t {
				out[i] = copyValue(item)
			}
			return out
		default:
			return v
		}
	}
	return copyValue(m).(map[string]any)
}
