package session

import (
	"context"
	"testing"
	"time"

	"github.com/chisuhua/AgenticDSL/internal/dsl/budget"
	"github.com/chisuhua/AgenticDSL/internal/dsl/contextstore"
	"github.com/chisuhua/AgenticDSL/internal/dsl/executor"
	"github.com/chisuhua/AgenticDSL/internal/dsl/llmadapter"
	"github.com/chisuhua/AgenticDSL/internal/dsl/model"
	"github.com/chisuhua/AgenticDSL/internal/dsl/resource"
	"github.com/chisuhua/AgenticDSL/internal/dsl/stdlib"
	"github.com/chisuhua/AgenticDSL/internal/dsl/template"
	"github.com/chisuhua/AgenticDSL/internal/dsl/toolregistry"
	"github.com/chisuhua/AgenticDSL/internal/dsl/trace"
)

func newTestSession(cfg *model.BudgetConfig) *Session {
	tools := toolregistry.New()
	return &Session{
		Budget:    budget.New(cfg),
		Snapshots: contextstore.NewSnapshotStore(-1, 512),
		Trace:     trace.NewRecorder(time.Now()),
		Resources: resource.New(),
		Executors: executor.NewDefaultRegistry(),
		Deps: &executor.Deps{
			Tools:   tools,
			LLM:     llmadapter.NewMock(),
			Render:  template.New(),
			Library: stdlib.New(),
		},
	}
}

func TestSessionRunsAssignNodeSuccessfully(t *testing.T) {
	s := newTestSession(nil)
	node := &model.Node{
		Path: "/main/assign1",
		Kind: model.KindAssign,
		Assign: &model.AssignPayload{
			Assignments: map[string]string{"greeting": "hi"},
			Order:       []string{"greeting"},
		},
	}
	out := s.Run(context.Background(), node, map[string]any{}, "main")
	if out.Failed {
		t.Fatalf("unexpected failure: %s", out.FailMessage)
	}
	if out.NewContext["greeting"] != "hi" {
		t.Fatalf("got %v", out.NewContext)
	}
	if len(s.Trace.Records()) != 1 {
		t.Fatalf("expected 1 trace record, got %d", len(s.Trace.Records()))
	}
}

func TestSessionBudgetExceededStopsBeforeDispatch(t *testing.T) {
	cfg := model.DefaultBudgetConfig()
	cfg.MaxNodes = 0
	s := newTestSession(&cfg)
	node := &model.Node{Path: "/main/start", Kind: model.KindStart}
	out := s.Run(context.Background(), node, map[string]any{}, "main")
	if !out.Failed {
		t.Fatalf("expected budget failure")
	}
	if len(s.Trace.Records()) != 0 {
		t.Fatalf("expected no trace record when budget check fails before dispatch")
	}
}

func TestSessionTakesSnapshotForAssertNode(t *testing.T) {
	s := newTestSession(nil)
	node := &model.Node{Path: "/main/assert1", Kind: model.KindAssert, Assert: &model.AssertPayload{Condition: "true"}}
	out := s.Run(context.Background(), node, map[string]any{}, "main")
	if out.Failed {
		t.Fatalf("unexpected failure: %s", out.FailMessage)
	}
	if out.SnapshotKey == nil || *out.SnapshotKey != "/main/assert1" {
		t.Fatalf("expected snapshot key /main/assert1, got %v", out.SnapshotKey)
	}
	if _, ok := s.Snapshots.Get("/main/assert1"); !ok {
		t.Fatalf("expected snapshot stored")
	}
}

func TestSessionLLMCallPauses(t *testing.T) {
	s := newTestSession(nil)
	mock := s.Deps.LLM.(*llmadapter.MockAdapter)
	mock.SetResponse("hello", "generated")
	node := &model.Node{
		Path:    "/main/llm",
		Kind:    model.KindLLMCall,
		LLMCall: &model.LLMCallPayload{PromptTemplate: "hello", OutputKeys: []string{"dsl"}},
	}
	out := s.Run(context.Background(), node, map[string]any{}, "main")
	if out.Failed {
		t.Fatalf("unexpected failure: %s", out.FailMessage)
	}
	if out.PausedAt == nil || *out.PausedAt != "/main/llm" {
		t.Fatalf("expected paused at /main/llm, got %v", out.PausedAt)
	}
}
