package sysnodes

import (
	"testing"

	"github.com/chisuhua/AgenticDSL/internal/dsl/model"
)

func TestGraphExposesTheThreeTerminals(t *testing.T) {
	g := Graph()
	if g.Path != "/__system__" {
		t.Fatalf("expected /__system__ container, got %q", g.Path)
	}
	byPath := map[model.NodePath]*model.Node{}
	for _, n := range g.Nodes {
		byPath[n.Path] = n
	}
	for _, path := range []model.NodePath{BudgetExceeded, EndSoft, Noop} {
		if _, ok := byPath[path]; !ok {
			t.Fatalf("expected node %q in system graph", path)
		}
	}
	if byPath[BudgetExceeded].TerminationMode() != model.TerminationSoft {
		t.Fatalf("expected budget_exceeded to be a soft end")
	}
	if byPath[EndSoft].TerminationMode() != model.TerminationSoft {
		t.Fatalf("expected end_soft to be a soft end")
	}
	if byPath[Noop].Kind != model.KindStart {
		t.Fatalf("expected noop to be a pass-through start node")
	}
}
