// Package budget implements the atomic CAS budget controller described in
// spec.md §4.2: node/LLM-call/subgraph-depth counters consumed one at a
// time, plus a wall-clock check, with a configurable soft-termination
// target for the scheduler to substitute into the ready queue once tripped.
package budget

import (
	"sync/atomic"
	"time"

	"github.com/chisuhua/AgenticDSL/internal/dsl/model"
)

const DefaultTerminationTarget = model.NodePath("/__system__/budget_exceeded")

// Controller tracks consumption against a model.BudgetConfig. A nil config
// (or one built from model.DefaultBudgetConfig) is unbounded in every
// dimension. Counters are atomic so branches may consume concurrently if an
// implementation upgrades fork branches to parallel tasks (spec.md §5).
type Controller struct {
	cfg model.BudgetConfig

	nodesUsed         atomic.Int64
	llmCallsUsed      atomic.Int64
	subgraphDepthUsed atomic.Int64

	// tripped is set once any finite-cap consume has been refused.
	tripped atomic.Bool

	startTime time.Time

	terminationTarget model.NodePath
}

// New builds a Controller. A nil cfg is treated as fully unbounded.
func New(cfg *model.BudgetConfig) *Controller {
	c := model.DefaultBudgetConfig()
	if cfg != nil {
		c = *cfg
	}
	return &Controller{
		cfg:               c,
		startTime:         time.Now(),
		terminationTarget: DefaultTerminationTarget,
	}
}

// SetTerminationTarget overrides the path the scheduler jumps to once the
// budget trips. Defaults to /__system__/budget_exceeded.
func (c *Controller) SetTerminationTarget(p model.NodePath) { c.terminationTarget = p }

// TerminationTarget returns the configured soft-termination jump target.
func (c *Controller) TerminationTarget() model.NodePath { return c.terminationTarget }

// TryConsumeNode attempts to consume one unit of the node counter. Returns
// false only if a finite cap is set and the increment would exceed it; in
// that case the counter is left unchanged and Exceeded reports true from
// then on.
func (c *Controller) TryConsumeNode() bool {
	return tryConsume(&c.nodesUsed, c.cfg.MaxNodes, &c.tripped)
}

// TryConsumeLLMCall attempts to consume one unit of the LLM-call counter.
// Must be called, and must fail closed, before the adapter is invoked.
func (c *Controller) TryConsumeLLMCall() bool {
	return tryConsume(&c.llmCallsUsed, c.cfg.MaxLLMCalls, &c.tripped)
}

// TryConsumeSubgraphDepth attempts to consume one unit of subgraph-depth.
func (c *Controller) TryConsumeSubgraphDepth() bool {
	return tryConsume(&c.subgraphDepthUsed, c.cfg.MaxSubgraphDepth, &c.tripped)
}

func tryConsume(counter *atomic.Int64, max int, tripped *atomic.Bool) bool {
	if max < 0 {
		counter.Add(1)
		return true
	}
	for {
		cur := counter.Load()
		if cur >= int64(max) {
			tripped.Store(true)
			return false
		}
		if counter.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// Exceeded reports whether any finite cap has been breached (a consume
// against it was refused), including the wall-clock cap (checked lazily,
// since it isn't "consumed").
func (c *Controller) Exceeded() bool {
	if c.tripped.Load() {
		return true
	}
	if c.cfg.MaxNodes >= 0 && c.nodesUsed.Load() > int64(c.cfg.MaxNodes) {
		return true
	}
	if c.cfg.MaxLLMCalls >= 0 && c.llmCallsUsed.Load() > int64(c.cfg.MaxLLMCalls) {
		return true
	}
	if c.cfg.MaxSubgraphDepth >= 0 && c.subgraphDepthUsed.Load() > int64(c.cfg.MaxSubgraphDepth) {
		return true
	}
	if c.cfg.MaxDurationSec >= 0 {
		if time.Since(c.startTime) > time.Duration(c.cfg.MaxDurationSec)*time.Second {
			return true
		}
	}
	return false
}

// Snapshot is a point-in-time copy of counters, attached to trace records.
type Snapshot struct {
	NodesUsed         int   `json:"nodes_used"`
	LLMCallsUsed      int   `json:"llm_calls_used"`
	SubgraphDepthUsed int   `json:"subgraph_depth_used"`
	MaxNodes          int   `json:"max_nodes"`
	MaxLLMCalls       int   `json:"max_llm_calls"`
	MaxSubgraphDepth  int   `json:"max_subgraph_depth"`
	ElapsedMS         int64 `json:"elapsed_ms"`
}

// Snapshot captures the current counter values for trace attachment.
func (c *Controller) Snapshot() Snapshot {
	return Snapshot{
		NodesUsed:         int(c.nodesUsed.Load()),
		LLMCallsUsed:      int(c.llmCallsUsed.Load()),
		SubgraphDepthUsed: int(c.subgraphDepthUsed.Load()),
		MaxNodes:          c.cfg.MaxNodes,
		MaxLLMCalls:       c.cfg.MaxLLMCalls,
		MaxSubgraphDepth:  c.cfg.MaxSubgraphDepth,
		ElapsedMS:         time.Since(c.startTime).Milliseconds(),
	}
}

// Config returns the controller's active budget configuration.
func (c *Controller) Config() model.BudgetConfig { return c.cfg }
