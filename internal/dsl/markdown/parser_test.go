package markdown

import (
	"strings"
	"testing"

	"github.com/chisuhua/AgenticDSL/internal/dsl/model"
)

const linearDoc = "" +
	"### AgenticDSL `/main/start`\n" +
	"```yaml\n" +
	"# --- BEGIN AgenticDSL ---\n" +
	"type: start\n" +
	"next: \"/main/assign1\"\n" +
	"# --- END AgenticDSL ---\n" +
	"```\n" +
	"### AgenticDSL `/main/assign1`\n" +
	"```yaml\n" +
	"# --- BEGIN AgenticDSL ---\n" +
	"type: assign\n" +
	"assign:\n" +
	"  greeting: \"hello\"\n" +
	"next: \"/main/end\"\n" +
	"# --- END AgenticDSL ---\n" +
	"```\n" +
	"### AgenticDSL `/main/end`\n" +
	"```yaml\n" +
	"# --- BEGIN AgenticDSL ---\n" +
	"type: end\n" +
	"# --- END AgenticDSL ---\n" +
	"```\n"

func TestParseLinearGraph(t *testing.T) {
	graphs, err := Parse(linearDoc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(graphs) != 3 {
		t.Fatalf("expected 3 blocks, got %d", len(graphs))
	}
	if graphs[0].Nodes[0].Kind != model.KindStart {
		t.Fatalf("expected start node first")
	}
	assignNode := graphs[1].Nodes[0]
	if assignNode.Assign == nil || assignNode.Assign.Assignments["greeting"] != "hello" {
		t.Fatalf("assign node decoded wrong: %+v", assignNode)
	}
	if assignNode.Next[0] != "/main/end" {
		t.Fatalf("expected next /main/end, got %v", assignNode.Next)
	}
}

const subgraphDoc = "" +
	"### AgenticDSL `/main/calc`\n" +
	"```yaml\n" +
	"# --- BEGIN AgenticDSL ---\n" +
	"graph_type: subgraph\n" +
	"nodes:\n" +
	"  - id: call\n" +
	"    type: tool_call\n" +
	"    tool: calculate\n" +
	"    arguments:\n" +
	"      expression: \"1 + 2\"\n" +
	"    output_keys: [\"result\"]\n" +
	"    next: \"/main/end\"\n" +
	"# --- END AgenticDSL ---\n" +
	"```\n"

func TestParseSubgraphBlock(t *testing.T) {
	graphs, err := Parse(subgraphDoc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(graphs) != 1 {
		t.Fatalf("expected 1 block, got %d", len(graphs))
	}
	node := graphs[0].Nodes[0]
	if node.Path != "/main/calc/call" {
		t.Fatalf("expected joined path, got %q", node.Path)
	}
	if node.ToolCall == nil || node.ToolCall.Tool != "calculate" {
		t.Fatalf("tool_call payload decoded wrong: %+v", node.ToolCall)
	}
	if len(node.ToolCall.OutputKeys) != 1 || node.ToolCall.OutputKeys[0] != "result" {
		t.Fatalf("output_keys decoded wrong: %v", node.ToolCall.OutputKeys)
	}
}

const metaDoc = "" +
	"### AgenticDSL `/__meta__`\n" +
	"```yaml\n" +
	"# --- BEGIN AgenticDSL ---\n" +
	"execution_budget:\n" +
	"  max_nodes: 50\n" +
	"  max_llm_calls: 2\n" +
	"# --- END AgenticDSL ---\n" +
	"```\n"

func TestParseMetaBlock(t *testing.T) {
	graphs, err := Parse(metaDoc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if graphs[0].Budget == nil || graphs[0].Budget.MaxNodes != 50 || graphs[0].Budget.MaxLLMCalls != 2 {
		t.Fatalf("budget decoded wrong: %+v", graphs[0].Budget)
	}
}

const subgraphWithSchemaDoc = "" +
	"### AgenticDSL `/lib/reasoning/summarize`\n" +
	"```yaml\n" +
	"# --- BEGIN AgenticDSL ---\n" +
	"graph_type: subgraph\n" +
	"signature: \"outputs\"\n" +
	"output_schema:\n" +
	"  type: object\n" +
	"  properties:\n" +
	"    summary:\n" +
	"      type: string\n" +
	"nodes:\n" +
	"  - id: step\n" +
	"    type: assign\n" +
	"    assign:\n" +
	"      summary: \"done\"\n" +
	"# --- END AgenticDSL ---\n" +
	"```\n"

func TestParseDecodesOutputSchema(t *testing.T) {
	graphs, err := Parse(subgraphWithSchemaDoc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if graphs[0].OutputSchema == nil {
		t.Fatalf("expected output_schema to decode, got nil")
	}
	if !strings.Contains(string(graphs[0].OutputSchema), `"summary"`) {
		t.Fatalf("expected decoded schema to carry the summary property, got %s", graphs[0].OutputSchema)
	}
}

func TestParseRejectsMissingMarkers(t *testing.T) {
	if _, err := Parse("### AgenticDSL `/main/start`\ntype: start\n"); err == nil {
		t.Fatalf("expected error for missing BEGIN/END markers")
	}
}

func TestParseRejectsInvalidPath(t *testing.T) {
	doc := "### AgenticDSL `main/bad path`\n```yaml\n# --- BEGIN AgenticDSL ---\ntype: start\n# --- END AgenticDSL ---\n```\n"
	if _, err := Parse(doc); err == nil {
		t.Fatalf("expected error for invalid node path grammar")
	}
}
