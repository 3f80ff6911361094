package engine

import (
	"context"
	"testing"

	"github.com/chisuhua/AgenticDSL/internal/dsl/llmadapter"
)

const linearDoc = "" +
	"### AgenticDSL `/__meta__`\n" +
	"```yaml\n" +
	"# --- BEGIN AgenticDSL ---\n" +
	"execution_budget:\n" +
	"  max_nodes: 100\n" +
	"# --- END AgenticDSL ---\n" +
	"```\n" +
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

func TestFromMarkdownRunsLinearGraphToSuccess(t *testing.T) {
	eng, err := FromMarkdown(linearDoc)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	res := eng.Run(context.Background(), map[string]any{})
	if !res.Success {
		t.Fatalf("expected success, got %q", res.Message)
	}
	if res.FinalContext["greeting"] != "hello" {
		t.Fatalf("got %v", res.FinalContext)
	}
	if len(res.Traces) == 0 {
		t.Fatalf("expected trace records")
	}
}

func TestFromMarkdownRejectsMissingMain(t *testing.T) {
	const noMain = "" +
		"### AgenticDSL `/other/start`\n" +
		"```yaml\n" +
		"# --- BEGIN AgenticDSL ---\n" +
		"type: start\n" +
		"# --- END AgenticDSL ---\n" +
		"```\n"
	if _, err := FromMarkdown(noMain); err == nil {
		t.Fatalf("expected error for missing /main")
	}
}

const pauseDoc = "" +
	"### AgenticDSL `/main/start`\n" +
	"```yaml\n" +
	"# --- BEGIN AgenticDSL ---\n" +
	"type: start\n" +
	"next: \"/main/ask\"\n" +
	"# --- END AgenticDSL ---\n" +
	"```\n" +
	"### AgenticDSL `/main/ask`\n" +
	"```yaml\n" +
	"# --- BEGIN AgenticDSL ---\n" +
	"type: llm_call\n" +
	"prompt_template: \"say hi\"\n" +
	"output_keys: [\"reply\"]\n" +
	"next: \"/main/end\"\n" +
	"# --- END AgenticDSL ---\n" +
	"```\n" +
	"### AgenticDSL `/main/end`\n" +
	"```yaml\n" +
	"# --- BEGIN AgenticDSL ---\n" +
	"type: end\n" +
	"# --- END AgenticDSL ---\n" +
	"```\n"

func TestRunPausesAtLLMCallAndResumesAfterContinue(t *testing.T) {
	mock := llmadapter.NewMock()
	mock.SetResponse("say hi", "hello there")
	eng, err := FromMarkdown(pauseDoc, WithLLMAdapter(mock))
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	first := eng.Run(context.Background(), map[string]any{})
	if first.PausedAt == nil || *first.PausedAt != "/main/ask" {
		t.Fatalf("expected pause at /main/ask, got %+v", first)
	}

	second := eng.Run(context.Background(), nil)
	if !second.Success {
		t.Fatalf("expected success after resume, got %q", second.Message)
	}
	if second.FinalContext["reply"] != "hello there" {
		t.Fatalf("expected bound reply, got %v", second.FinalContext)
	}
}
