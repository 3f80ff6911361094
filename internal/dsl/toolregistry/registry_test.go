package toolregistry

import (
	"context"
	"testing"
)

func TestCalculateTool(t *testing.T) {
	r := New()
	out, err := r.Invoke(context.Background(), "calculate", map[string]string{"expression": "3 + 4"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.(float64) != 7 {
		t.Fatalf("got %v", out)
	}
}

func TestCalculateToolDivisionByZero(t *testing.T) {
	r := New()
	if _, err := r.Invoke(context.Background(), "calculate", map[string]string{"expression": "1 / 0"}); err == nil {
		t.Fatalf("expected division-by-zero error")
	}
}

func TestEchoTool(t *testing.T) {
	r := New()
	out, err := r.Invoke(context.Background(), "echo", map[string]string{"message": "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m := out.(map[string]any)
	if m["message"] != "hi" {
		t.Fatalf("got %v", m)
	}
}

func TestInvokeUnknownToolReturnsToolError(t *testing.T) {
	r := New()
	_, err := r.Invoke(context.Background(), "nope", nil)
	if err == nil {
		t.Fatalf("expected error")
	}
	var te *ToolError
	if !asToolError(err, &te) {
		t.Fatalf("expected *ToolError, got %T", err)
	}
	if te.Name != "nope" {
		t.Fatalf("got %q", te.Name)
	}
}

func asToolError(err error, target **ToolError) bool {
	te, ok := err.(*ToolError)
	if !ok {
		return false
	}
	*target = te
	return true
}

func TestHasReportsRegisteredTools(t *testing.T) {
	r := New()
	if !r.Has("calculate") || !r.Has("echo") {
		t.Fatalf("expected built-in tools to be registered")
	}
	if r.Has("nonexistent") {
		t.Fatalf("expected unregistered tool to report false")
	}
}
