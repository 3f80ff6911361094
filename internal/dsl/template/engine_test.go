package template

import "testing"

func TestRenderSimpleExpression(t *testing.T) {
	e := New()
	out, err := e.Render("hello {{.name}}", map[string]any{"name": "world"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "hello world" {
		t.Fatalf("got %q", out)
	}
}

func TestRenderNestedPath(t *testing.T) {
	e := New()
	ctx := map[string]any{"resources": map[string]any{"cache": map[string]any{"uri": "file:///tmp"}}}
	out, err := e.Render("{{.resources.cache.uri}}", ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "file:///tmp" {
		t.Fatalf("got %q", out)
	}
}

func TestRenderDefaultFunc(t *testing.T) {
	e := New()
	out, err := e.Render("{{default .missing \"fallback\"}}", map[string]any{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "fallback" {
		t.Fatalf("got %q", out)
	}
}

func TestRenderIfStatement(t *testing.T) {
	e := New()
	tmpl := "{% if .ok %}yes{% else %}no{% endif %}"
	out, err := e.Render(tmpl, map[string]any{"ok": true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "yes" {
		t.Fatalf("got %q", out)
	}
	out, err = e.Render(tmpl, map[string]any{"ok": false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "no" {
		t.Fatalf("got %q", out)
	}
}

func TestRenderForStatement(t *testing.T) {
	e := New()
	tmpl := "{% for item in .items %}[{{$item}}]{% endfor %}"
	out, err := e.Render(tmpl, map[string]any{"items": []any{"a", "b", "c"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "[a][b][c]" {
		t.Fatalf("got %q", out)
	}
}

func TestRenderCommentStripped(t *testing.T) {
	e := New()
	out, err := e.Render("a{# this is a comment #}b", map[string]any{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "ab" {
		t.Fatalf("got %q", out)
	}
}

func TestRenderJoinUpperLower(t *testing.T) {
	e := New()
	ctx := map[string]any{"items": []any{"a", "b"}, "s": "Mixed"}
	out, err := e.Render(`{{join .items ","}} {{upper .s}} {{lower .s}}`, ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "a,b MIXED mixed" {
		t.Fatalf("got %q", out)
	}
}

func TestRenderUnknownStatementErrors(t *testing.T) {
	e := New()
	if _, err := e.Render("{% bogus %}", map[string]any{}); err == nil {
		t.Fatalf("expected error for unrecognized statement tag")
	}
}

func TestRenderParseErrorReturnsError(t *testing.T) {
	e := New()
	if _, err := e.Render("{{ .unterminated", map[string]any{}); err == nil {
		t.Fatalf("expected parse error")
	}
}
