// Package sysnodes defines the built-in terminal nodes from spec.md §2's
// System Nodes component: budget_exceeded, end_soft, noop. These live under
// the reserved /__system__/ prefix and are registered but only scheduled
// when explicitly targeted, per spec.md §4.7's DAG construction rule.
package sysnodes

import "github.com/chisuhua/AgenticDSL/internal/dsl/model"

const (
	BudgetExceeded = model.NodePath("/__system__/budget_exceeded")
	EndSoft        = model.NodePath("/__system__/end_soft")
	Noop           = model.NodePath("/__system__/noop")
)

// Graph returns the standing set of built-in terminals the engine seeds
// every run with, before any user graph is loaded.
func Graph() *model.ParsedGraph {
	return &model.ParsedGraph{
		Path: "/__system__",
		Nodes: []*model.Node{
			{
				Path: BudgetExceeded,
				Kind: model.KindEnd,
				End:  &model.EndPayload{TerminationMode: model.TerminationSoft},
			},
			{
				Path: EndSoft,
				Kind: model.KindEnd,
				End:  &model.EndPayload{TerminationMode: model.TerminationSoft},
			},
			{
				Path: Noop,
				Kind: model.KindStart,
			},
		},
	}
}
