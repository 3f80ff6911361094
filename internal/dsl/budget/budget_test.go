package budget

import (
	"testing"

	"github.com/chisuhua/AgenticDSL/internal/dsl/model"
)

func TestTryConsumeNodeRespectsCap(t *testing.T) {
	cfg := model.DefaultBudgetConfig()
	cfg.MaxNodes = 2
	c := New(&cfg)

	if !c.TryConsumeNode() {
		t.Fatalf("first consume should succeed")
	}
	if !c.TryConsumeNode() {
		t.Fatalf("second consume should succeed")
	}
	if c.TryConsumeNode() {
		t.Fatalf("third consume should fail, cap is 2")
	}
	if !c.Exceeded() {
		t.Fatalf("expected exceeded() true after cap reached and a failed consume")
	}
}

func TestUnboundedNeverExceeded(t *testing.T) {
	c := New(nil)
	for i := 0; i < 1000; i++ {
		if !c.TryConsumeNode() {
			t.Fatalf("unbounded controller should never refuse a consume")
		}
	}
	if c.Exceeded() {
		t.Fatalf("unbounded controller should never report exceeded")
	}
}

func TestTerminationTargetDefault(t *testing.T) {
	c := New(nil)
	if c.TerminationTarget() != DefaultTerminationTarget {
		t.Fatalf("expected default termination target, got %q", c.TerminationTarget())
	}
	c.SetTerminationTarget("/main/custom_handler")
	if c.TerminationTarget() != "/main/custom_handler" {
		t.Fatalf("expected overridden termination target")
	}
}

func TestTryConsumeLLMCallAndSubgraphDepth(t *testing.T) {
	cfg := model.DefaultBudgetConfig()
	cfg.MaxLLMCalls = 1
	cfg.MaxSubgraphDepth = 0
	c := New(&cfg)

	if !c.TryConsumeLLMCall() {
		t.Fatalf("first llm call should succeed")
	}
	if c.TryConsumeLLMCall() {
		t.Fatalf("second llm call should fail, cap is 1")
	}
	if c.TryConsumeSubgraphDepth() {
		t.Fatalf("subgraph depth consume should fail, cap is 0")
	}
}
