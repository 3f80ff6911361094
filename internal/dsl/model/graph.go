package model

import "encoding/json"

// BudgetConfig holds the limits declared in a /__meta__ block. -1 means
// unbounded, matching the original ExecutionBudget's sentinel convention.
type BudgetConfig struct {
	MaxNodes          int
	MaxLLMCalls       int
	MaxDurationSec    int
	MaxSubgraphDepth  int
	MaxSnapshots      int
	SnapshotMaxSizeKB int
}

// DefaultBudgetConfig returns an unbounded budget with the original's default
// snapshot size cap (512 KiB total).
func DefaultBudgetConfig() BudgetConfig {
	return BudgetConfig{
		MaxNodes:          -1,
		MaxLLMCalls:       -1,
		MaxDurationSec:    -1,
		MaxSubgraphDepth:  -1,
		MaxSnapshots:      -1,
		SnapshotMaxSizeKB: 512,
	}
}

// ParsedGraph is a group of nodes sharing a path prefix, or a single-node
// block. It is the unit the loader hands to the engine and the unit the
// scheduler splices in on generate_subgraph.
type ParsedGraph struct {
	Path              NodePath
	Nodes             []*Node
	Metadata          map[string]any
	Budget            *BudgetConfig
	Signature         string
	Permissions       []string
	IsStandardLibrary bool
	OutputSchema      json.RawMessage // parsed form of signature's declared outputs, if any
}

// Clone deep-copies a ParsedGraph, including every contained node.
func (g *ParsedGraph) Clone() *ParsedGraph {
	if g == nil {
		return nil
	}
	c := *g
	c.Nodes = make([]*Node, len(g.Nodes))
	for i, n := range g.Nodes {
		c.Nodes[i] = n.Clone()
	}
	c.Permissions = append([]string(nil), g.Permissions...)
	c.Metadata = cloneAnyMap(g.Metadata)
	if g.Budget != nil {
		b := *g.Budget
		c.Budget = &b
	}
	if g.OutputSchema != nil {
		c.OutputSchema = append(json.RawMessage(nil), g.OutputSchema...)
	}
	return &c
}
