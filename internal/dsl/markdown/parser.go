// Package markdown parses AgenticDSL's Markdown+YAML source format into
// model.ParsedGraph values, per spec.md §6. Grounded in the teacher's
// dot.Parse entrypoint shape (a single Parse function returning the model
// type) while the actual grammar follows the original's MarkdownParser
// (src/core/parser.cpp): scan for "### AgenticDSL `<path>`" headers, pull the
// fenced YAML body out from between the BEGIN/END markers, and decode it.
package markdown

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/chisuhua/AgenticDSL/internal/dsl/model"
)

var (
	headerPattern = regexp.MustCompile("(?m)^### AgenticDSL `([^`]+)`\\s*$")
	beginMarker   = "# --- BEGIN AgenticDSL ---"
	endMarker     = "# --- END AgenticDSL ---"
)

// ParseError reports a malformed block, including the offending path when
// known.
type ParseError struct {
	Path    string
	Message string
}

func (e *ParseError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("markdown: block %q: %s", e.Path, e.Message)
	}
	return fmt.Sprintf("markdown: %s", e.Message)
}

// Parse scans source for every "### AgenticDSL `<path>`" block, decodes its
// YAML body, and returns one ParsedGraph per block (the /__meta__ block, if
// present, is returned too; callers distinguish it via its Path).
func Parse(source string) ([]*model.ParsedGraph, error) {
	headers := headerPattern.FindAllStringSubmatchIndex(source, -1)
	if len(headers) == 0 {
		return nil, &ParseError{Message: "no AgenticDSL blocks found"}
	}

	graphs := make([]*model.ParsedGraph, 0, len(headers))
	for i, h := range headers {
		pathStart, pathEnd := h[2], h[3]
		rawPath := source[pathStart:pathEnd]
		blockEnd := len(source)
		if i+1 < len(headers) {
			blockEnd = headers[i+1][0]
		}
		block := source[h[1]:blockEnd]

		body, err := extractYAMLBody(block)
		if err != nil {
			return nil, &ParseError{Path: rawPath, Message: err.Error()}
		}

		path := model.NodePath(rawPath)
		if err := path.Validate(); err != nil {
			return nil, &ParseError{Path: rawPath, Message: err.Error()}
		}

		g, err := decodeBlock(path, body)
		if err != nil {
			return nil, &ParseError{Path: rawPath, Message: err.Error()}
		}
		graphs = append(graphs, g)
	}
	return graphs, nil
}

func extractYAMLBody(block string) (string, error) {
	beginIdx := strings.Index(block, beginMarker)
	endIdx := strings.Index(block, endMarker)
	if beginIdx == -1 || endIdx == -1 || endIdx < beginIdx {
		return "", fmt.Errorf("missing BEGIN/END AgenticDSL markers")
	}
	return block[beginIdx+len(beginMarker) : endIdx], nil
}

// rawGraph mirrors the YAML shape of a `graph_type: subgraph` (or /__meta__)
// block. Single-node blocks are decoded separately into rawNode directly, to
// avoid an ambiguous inline-embedding field set between the two shapes.
type rawGraph struct {
	GraphType         string         `yaml:"graph_type"`
	Nodes             []rawNode      `yaml:"nodes"`
	Signature         string         `yaml:"signature"`
	Permissions       []string       `yaml:"permissions"`
	Metadata          map[string]any `yaml:"metadata"`
	IsStandardLibrary bool           `yaml:"is_standard_library"`
	ExecutionBudget   *rawBudget     `yaml:"execution_budget"`
	OutputSchema      yaml.Node      `yaml:"output_schema"`
}

type rawNode struct {
	ID          string         `yaml:"id"`
	Type        string         `yaml:"type"`
	Next        yaml.Node      `yaml:"next"`
	Metadata    map[string]any `yaml:"metadata"`
	Signature   string         `yaml:"signature"`
	Permissions []string       `yaml:"permissions"`
	WaitFor     *yaml.Node     `yaml:"wait_for"`

	Assign map[string]string `yaml:"assign"`

	Tool       string            `yaml:"tool"`
	Arguments  map[string]string `yaml:"arguments"`
	OutputKeys yaml.Node         `yaml:"output_keys"`

	PromptTemplate string `yaml:"prompt_template"`

	ResourceType string `yaml:"resource_type"`
	URI          string `yaml:"uri"`
	Scope        string `yaml:"scope"`

	Branches []string `yaml:"branches"`

	MergeStrategy string `yaml:"merge_strategy"`

	SignatureValidation  string  `yaml:"signature_validation"`
	OnSignatureViolation *string `yaml:"on_signature_violation"`

	Condition string  `yaml:"condition"`
	OnFailure *string `yaml:"on_failure"`

	TerminationMode string `yaml:"termination_mode"`
}

type rawBudget struct {
	MaxNodes          *int `yaml:"max_nodes"`
	MaxLLMCalls       *int `yaml:"max_llm_calls"`
	MaxDurationSec    *int `yaml:"max_duration_sec"`
	MaxSubgraphDepth  *int `yaml:"max_subgraph_depth"`
	MaxSnapshots      *int `yaml:"max_snapshots"`
	SnapshotMaxSizeKB *int `yaml:"snapshot_max_size_kb"`
}

func decodeBlock(path model.NodePath, body string) (*model.ParsedGraph, error) {
	var raw rawGraph
	if err := yaml.Unmarshal([]byte(body), &raw); err != nil {
		return nil, fmt.Errorf("yaml decode: %w", err)
	}

	if string(path) == "/__meta__" {
		return &model.ParsedGraph{
			Path:     path,
			Budget:   toBudgetConfig(raw.ExecutionBudget),
			Metadata: raw.Metadata,
		}, nil
	}

	schema, err := yamlNodeToJSON(raw.OutputSchema)
	if err != nil {
		return nil, fmt.Errorf("output_schema: %w", err)
	}

	g := &model.ParsedGraph{
		Path:              path,
		Metadata:          raw.Metadata,
		Signature:         raw.Signature,
		Permissions:       raw.Permissions,
		IsStandardLibrary: raw.IsStandardLibrary,
		OutputSchema:      schema,
	}

	if raw.GraphType == "subgraph" {
		if len(raw.Nodes) == 0 {
			return nil, fmt.Errorf("graph_type: subgraph requires at least one node")
		}
		for _, rn := range raw.Nodes {
			if rn.ID == "" {
				return nil, fmt.Errorf("subgraph node missing id")
			}
			n, err := toNode(model.Join(path, rn.ID), rn)
			if err != nil {
				return nil, err
			}
			g.Nodes = append(g.Nodes, n)
		}
		return g, nil
	}

	var rn rawNode
	if err := yaml.Unmarshal([]byte(body), &rn); err != nil {
		return nil, fmt.Errorf("yaml decode: %w", err)
	}
	n, err := toNode(path, rn)
	if err != nil {
		return nil, err
	}
	g.Nodes = []*model.Node{n}
	return g, nil
}

func toBudgetConfig(rb *rawBudget) *model.BudgetConfig {
	if rb == nil {
		return nil
	}
	cfg := model.DefaultBudgetConfig()
	if rb.MaxNodes != nil {
		cfg.MaxNodes = *rb.MaxNodes
	}
	if rb.MaxLLMCalls != nil {
		cfg.MaxLLMCalls = *rb.MaxLLMCalls
	}
	if rb.MaxDurationSec != nil {
		cfg.MaxDurationSec = *rb.MaxDurationSec
	}
	if rb.MaxSubgraphDepth != nil {
		cfg.MaxSubgraphDepth = *rb.MaxSubgraphDepth
	}
	if rb.MaxSnapshots != nil {
		cfg.MaxSnapshots = *rb.MaxSnapshots
	}
	if rb.SnapshotMaxSizeKB != nil {
		cfg.SnapshotMaxSizeKB = *rb.SnapshotMaxSizeKB
	}
	return &cfg
}

func toNode(path model.NodePath, rn rawNode) (*model.Node, error) {
	if err := path.Validate(); err != nil {
		return nil, err
	}
	if rn.Type == "" {
		return nil, fmt.Errorf("node %q missing type", path)
	}

	next, err := stringOrArray(&rn.Next)
	if err != nil {
		return nil, fmt.Errorf("node %q: next: %w", path, err)
	}
	outputKeys, err := stringOrArray(&rn.OutputKeys)
	if err != nil {
		return nil, fmt.Errorf("node %q: output_keys: %w", path, err)
	}

	n := &model.Node{
		Path:        path,
		Kind:        model.Kind(rn.Type),
		Next:        toPaths(next),
		Metadata:    rn.Metadata,
		Signature:   rn.Signature,
		Permissions: rn.Permissions,
	}

	if rn.WaitFor != nil {
		wf, err := decodeWaitFor(rn.WaitFor)
		if err != nil {
			return nil, fmt.Errorf("node %q: wait_for: %w", path, err)
		}
		n.WaitFor = wf
	}

	switch n.Kind {
	case model.KindStart:
		// no payload
	case model.KindEnd:
		n.End = &model.EndPayload{TerminationMode: rn.TerminationMode}
	case model.KindAssign:
		n.Assign = &model.AssignPayload{Assignments: rn.Assign, Order: sortedKeys(rn.Assign)}
	case model.KindToolCall:
		argOrder := sortedKeys(rn.Arguments)
		n.ToolCall = &model.ToolCallPayload{
			Tool:       rn.Tool,
			Arguments:  rn.Arguments,
			ArgOrder:   argOrder,
			OutputKeys: outputKeys,
		}
	case model.KindLLMCall:
		n.LLMCall = &model.LLMCallPayload{PromptTemplate: rn.PromptTemplate, OutputKeys: outputKeys}
	case model.KindResource:
		n.Resource = &model.ResourcePayload{ResourceType: rn.ResourceType, URI: rn.URI, Scope: rn.Scope}
	case model.KindFork:
		n.Fork = &model.ForkPayload{Branches: toPaths(rn.Branches)}
	case model.KindJoin:
		var wf []model.NodePath
		if n.WaitFor != nil {
			wf = n.WaitFor.Static
		}
		n.Join = &model.JoinPayload{WaitFor: wf, MergeStrategy: rn.MergeStrategy}
	case model.KindGenerateSubgraph:
		mode := model.SignatureValidationMode(rn.SignatureValidation)
		if mode == "" {
			mode = model.SignatureWarn
		}
		var onViolation *model.NodePath
		if rn.OnSignatureViolation != nil {
			p := model.NodePath(*rn.OnSignatureViolation)
			onViolation = &p
		}
		n.GenerateSubgraph = &model.GenerateSubgraphPayload{
			PromptTemplate:       rn.PromptTemplate,
			OutputKeys:           outputKeys,
			SignatureValidation:  mode,
			OnSignatureViolation: onViolation,
		}
	case model.KindAssert:
		var onFailure *model.NodePath
		if rn.OnFailure != nil {
			p := model.NodePath(*rn.OnFailure)
			onFailure = &p
		}
		n.Assert = &model.AssertPayload{Condition: rn.Condition, OnFailure: onFailure}
	default:
		return nil, fmt.Errorf("node %q: unknown type %q", path, rn.Type)
	}

	return n, nil
}

func toPaths(ss []string) []model.NodePath {
	if ss == nil {
		return nil
	}
	out := make([]model.NodePath, len(ss))
	for i, s := range ss {
		out[i] = model.NodePath(s)
	}
	return out
}

// yamlNodeToJSON converts an optional YAML-decoded output_schema field into
// its canonical JSON form for model.ParsedGraph.OutputSchema. An absent
// field (Kind == 0, the zero yaml.Node) yields nil, not an empty object.
func yamlNodeToJSON(n yaml.Node) (json.RawMessage, error) {
	if n.Kind == 0 {
		return nil, nil
	}
	var v any
	if err := n.Decode(&v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

func sortedKeys(m map[string]string) []string {
	if m == nil {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// deterministic declaration order is not recoverable from a Go map
	// decoded from YAML, so fields bind in lexical order instead.
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}

// stringOrArray decodes a YAML node that is either a bare scalar string or a
// sequence of strings, per spec.md §6's "next accepts a single path string or
// an array" rule (also applied to output_keys).
func stringOrArray(n *yaml.Node) ([]string, error) {
	if n == nil || n.Kind == 0 {
		return nil, nil
	}
	switch n.Kind {
	case yaml.ScalarNode:
		var s string
		if err := n.Decode(&s); err != nil {
			return nil, err
		}
		if s == "" {
			return nil, nil
		}
		return []string{s}, nil
	case yaml.SequenceNode:
		var ss []string
		if err := n.Decode(&ss); err != nil {
			return nil, err
		}
		return ss, nil
	default:
		return nil, fmt.Errorf("expected scalar or sequence, got %v", n.Kind)
	}
}

// decodeWaitFor handles the three wait_for shapes from spec.md §6: a list of
// paths, {all_of: [...]}, {any_of: [...]} (collapsed to all_of), or a
// template string evaluated at run time.
func decodeWaitFor(n *yaml.Node) (*model.WaitFor, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		var s string
		if err := n.Decode(&s); err != nil {
			return nil, err
		}
		return &model.WaitFor{Dynamic: s}, nil
	case yaml.SequenceNode:
		var ss []string
		if err := n.Decode(&ss); err != nil {
			return nil, err
		}
		return &model.WaitFor{Static: toPaths(ss)}, nil
	case yaml.MappingNode:
		var m struct {
			AllOf []string `yaml:"all_of"`
			AnyOf []string `yaml:"any_of"`
		}
		if err := n.Decode(&m); err != nil {
			return nil, err
		}
		if len(m.AllOf) > 0 {
			return &model.WaitFor{Static: toPaths(m.AllOf)}, nil
		}
		return &model.WaitFor{Static: toPaths(m.AnyOf)}, nil
	default:
		return nil, fmt.Errorf("unsupported wait_for shape")
	}
}
