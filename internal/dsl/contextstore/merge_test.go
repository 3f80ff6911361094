package contextstore

import "testing"

func TestMergeErrorOnConflictDefault(t *testing.T) {
	dst := map[string]any{"x": "A"}
	src := map[string]any{"x": "B"}
	_, err := Merge(dst, src, DefaultPolicy())
	if err == nil {
		t.Fatalf("expected conflict error")
	}
	var ce *ConflictError
	if !asConflictError(err, &ce) {
		t.Fatalf("expected *ConflictError, got %T", err)
	}
	if ce.Path != "x" {
		t.Fatalf("expected conflict path 'x', got %q", ce.Path)
	}
}

func asConflictError(err error, out **ConflictError) bool {
	ce, ok := err.(*ConflictError)
	if ok {
		*out = ce
	}
	return ok
}

func TestMergeErrorOnConflictDisjointKeysSucceeds(t *testing.T) {
	dst := map[string]any{"x": "A"}
	src := map[string]any{"y": "B"}
	out, err := Merge(dst, src, DefaultPolicy())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["x"] != "A" || out["y"] != "B" {
		t.Fatalf("expected both keys present, got %v", out)
	}
}

func TestMergeLastWriteWins(t *testing.T) {
	dst := map[string]any{"x": "A"}
	src := map[string]any{"x": "B"}
	policy := Policy{DefaultStrategy: LastWriteWins}
	out, err := Merge(dst, src, policy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["x"] != "B" {
		t.Fatalf("expected src to win, got %v", out["x"])
	}
}

func TestMergeDeepMergeRecursesObjects(t *testing.T) {
	dst := map[string]any{"obj": map[string]any{"a": "1"}}
	src := map[string]any{"obj": map[string]any{"b": "2"}}
	policy := Policy{DefaultStrategy: DeepMerge}
	out, err := Merge(dst, src, policy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	obj := out["obj"].(map[string]any)
	if obj["a"] != "1" || obj["b"] != "2" {
		t.Fatalf("expected recursive merge, got %v", obj)
	}
}

func TestMergeArrayConcat(t *testing.T) {
	dst := map[string]any{"items": []any{"a"}}
	src := map[string]any{"items": []any{"b"}}
	policy := Policy{DefaultStrategy: ArrayConcat}
	out, err := Merge(dst, src, policy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	items := out["items"].([]any)
	if len(items) != 2 || items[0] != "a" || items[1] != "b" {
		t.Fatalf("expected concatenated array, got %v", items)
	}
}

func TestMergeArrayMergeUnique(t *testing.T) {
	dst := map[string]any{"items": []any{"a", "b"}}
	src := map[string]any{"items": []any{"b", "c"}}
	policy := Policy{DefaultStrategy: ArrayMergeUnique}
	out, err := Merge(dst, src, policy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	items := out["items"].([]any)
	if len(items) != 3 {
		t.Fatalf("expected 3 unique items, got %v", items)
	}
}

func TestFieldPolicyGlobLongestPrefixWins(t *testing.T) {
	policy := Policy{
		DefaultStrategy: ErrorOnConflict,
		FieldPolicies: map[string]Strategy{
			"results.*":      LastWriteWins,
			"results.items.*": ArrayConcat,
		},
	}
	if got := strategyForPath("results.items.foo", policy); got != ArrayConcat {
		t.Fatalf("expected longest-prefix glob to win, got %v", got)
	}
	if got := strategyForPath("results.other", policy); got != LastWriteWins {
		t.Fatalf("expected shorter glob to match, got %v", got)
	}
}

func TestFieldPolicyExactMatchBeatsGlob(t *testing.T) {
	policy := Policy{
		DefaultStrategy: ErrorOnConflict,
		FieldPolicies: map[string]Strategy{
			"results.*": LastWriteWins,
			"results.x":  ArrayConcat,
		},
	}
	if got := strategyForPath("results.x", policy); got != ArrayConcat {
		t.Fatalf("expected exact match to win over glob, got %v", got)
	}
}

func TestRenderAndMergeFailureLeavesContextUnchanged(t *testing.T) {
	ctx := map[string]any{"x": "1"}
	r := failingRenderer{}
	out, err := RenderAndMerge([]string{"y"}, map[string]string{"y": "{{ bad"}, ctx, r)
	if err == nil {
		t.Fatalf("expected render error")
	}
	if len(out) != 1 || out["x"] != "1" || len(ctx) != 1 || ctx["x"] != "1" {
		t.Fatalf("expected context unchanged after render failure, got %v (input %v)", out, ctx)
	}
}

type failingRenderer struct{}

func (failingRenderer) Render(tmpl string, ctx map[string]any) (string, error) {
	return "", errBoom
}

var errBoom = &testErr{"boom"}

type testErr struct{ msg string }

func (e *testErr) Error() string { return e.msg }
