package model

// Kind identifies the node variant. Closed set, mirrors spec.md §3.
type Kind string

const (
	KindStart            Kind = "start"
	KindEnd              Kind = "end"
	KindAssign           Kind = "assign"
	KindToolCall         Kind = "tool_call"
	KindLLMCall          Kind = "llm_call"
	KindResource         Kind = "resource"
	KindFork             Kind = "fork"
	KindJoin             Kind = "join"
	KindGenerateSubgraph Kind = "generate_subgraph"
	KindAssert           Kind = "assert"
)

// WaitFor captures a join/node's dependency clause. Exactly one of Static or
// Dynamic is populated. any_of collapses to all_of per spec.md §9 Design Notes.
type WaitFor struct {
	Static  []NodePath // statically known at build time
	Dynamic string     // template expression, resolved at run time to a path list
}

func (w *WaitFor) IsDynamic() bool { return w != nil && w.Dynamic != "" }

// Node is the common shape of every DAG node. Fields mirror the Node base
// class of the original implementation (path, next, metadata, signature,
// permissions) plus a Kind tag and the variant-specific payload.
type Node struct {
	Path        NodePath
	Kind        Kind
	Next        []NodePath
	Metadata    map[string]any
	Signature   string
	Permissions []string
	WaitFor     *WaitFor // dependency clause; the scheduler honours it on any node kind

	Assign           *AssignPayload
	ToolCall         *ToolCallPayload
	LLMCall          *LLMCallPayload
	Resource         *ResourcePayload
	Fork             *ForkPayload
	Join             *JoinPayload
	GenerateSubgraph *GenerateSubgraphPayload
	Assert           *AssertPayload
	End              *EndPayload
}

// AssignPayload maps context keys to templates rendered and merged in order.
type AssignPayload struct {
	Assignments map[string]string
	Order       []string // binding order, since map iteration isn't stable; the markdown parser fills it in lexical key order
}

// ToolCallPayload invokes a registered tool by name.
type ToolCallPayload struct {
	Tool        string
	Arguments   map[string]string
	ArgOrder    []string
	OutputKeys  []string
}

// LLMCallPayload invokes the LLM adapter and pauses the run.
type LLMCallPayload struct {
	PromptTemplate string
	OutputKeys     []string
}

// ResourcePayload declares a resource registered at DAG build time.
type ResourcePayload struct {
	ResourceType string
	URI          string
	Scope        string // "global" | "local"
}

// ForkPayload lists subgraph branch roots executed against copies of the
// pre-fork context snapshot.
type ForkPayload struct {
	Branches []NodePath
}

// JoinPayload merges branch results into the main context.
type JoinPayload struct {
	WaitFor       []NodePath
	MergeStrategy string
}

// SignatureValidationMode controls how generate_subgraph reacts to a
// declared-output-schema mismatch.
type SignatureValidationMode string

const (
	SignatureStrict SignatureValidationMode = "strict"
	SignatureWarn   SignatureValidationMode = "warn"
	SignatureIgnore SignatureValidationMode = "ignore"
)

// GenerateSubgraphPayload calls the LLM, parses its output into new graphs,
// and splices them into the live DAG.
type GenerateSubgraphPayload struct {
	PromptTemplate       string
	OutputKeys           []string
	SignatureValidation  SignatureValidationMode
	OnSignatureViolation *NodePath
}

// AssertPayload renders a boolean condition and optionally jumps on failure.
type AssertPayload struct {
	Condition string
	OnFailure *NodePath
}

const (
	TerminationHard = "hard"
	TerminationSoft = "soft"
)

// EndPayload records the termination mode.
type EndPayload struct {
	TerminationMode string // "hard" | "soft"
}

// TerminationMode reads metadata.termination_mode, defaulting to hard per spec.md §3.
func (n *Node) TerminationMode() string {
	if n.End != nil && n.End.TerminationMode != "" {
		return n.End.TerminationMode
	}
	if v, ok := n.Metadata["termination_mode"].(string); ok && v != "" {
		return v
	}
	return TerminationHard
}

// Clone deep-copies a node. Required only for dynamic splice bookkeeping,
// where spliced nodes must not alias the generator's payload.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := *n
	c.Next = append([]NodePath(nil), n.Next...)
	c.Permissions = append([]string(nil), n.Permissions...)
	c.Metadata = cloneAnyMap(n.Metadata)
	if n.WaitFor != nil {
		wf := *n.WaitFor
		wf.Static = append([]NodePath(nil), n.WaitFor.Static...)
		c.WaitFor = &wf
	}
	if n.Assign != nil {
		a := *n.Assign
		a.Assignments = cloneStringMap(n.Assign.Assignments)
		a.Order = append([]string(nil), n.Assign.Order...)
		c.Assign = &a
	}
	if n.ToolCall != nil {
		t := *n.ToolCall
		t.Arguments = cloneStringMap(n.ToolCall.Arguments)
		t.ArgOrder = append([]string(nil), n.ToolCall.ArgOrder...)
		t.OutputKeys = append([]string(nil), n.ToolCall.OutputKeys...)
		c.ToolCall = &t
	}
	if n.LLMCall != nil {
		l := *n.LLMCall
		l.OutputKeys = append([]string(nil), n.LLMCall.OutputKeys...)
		c.LLMCall = &l
	}
	if n.Resource != nil {
		r := *n.Resource
		c.Resource = &r
	}
	if n.Fork != nil {
		f := *n.Fork
		f.Branches = append([]NodePath(nil), n.Fork.Branches...)
		c.Fork = &f
	}
	if n.Join != nil {
		j := *n.Join
		j.WaitFor = append([]NodePath(nil), n.Join.WaitFor...)
		c.Join = &j
	}
	if n.GenerateSubgraph != nil {
		g := *n.GenerateSubgraph
		g.OutputKeys = append([]string(nil), n.GenerateSubgraph.OutputKeys...)
		c.GenerateSubgraph = &g
	}
	if n.Assert != nil {
		a := *n.Assert
		c.Assert = &a
	}
	if n.End != nil {
		e := *n.End
		c.End = &e
	}
	return &c
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
