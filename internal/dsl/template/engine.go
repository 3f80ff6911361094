// Package template renders the DSL's template strings against a context
// document. It is a pure function of (template, context) -> string, per
// spec.md §6: {{ expr }} expressions, {% stmt %} statements, {# comment #}
// comments, and at least default/exists/length/join/upper/lower exposed to
// expressions. Expression syntax follows Go's text/template dot-path
// convention (the teacher's own ingest.go prompt renderer uses text/template
// directly); {% %} statement tags are rewritten into the equivalent
// text/template control-flow tags before parsing. File inclusion is
// structurally unavailable: this package never calls ParseFiles or ParseGlob.
package template

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"text/template"
)

// Engine renders template strings against arbitrary JSON-shaped context maps.
type Engine struct {
	funcs template.FuncMap
}

// New builds an Engine with the baseline function set spec.md §6 requires.
func New() *Engine {
	e := &Engine{funcs: template.FuncMap{}}
	e.funcs["default"] = fnDefault
	e.funcs["exists"] = fnExists
	e.funcs["length"] = fnLength
	e.funcs["join"] = fnJoin
	e.funcs["upper"] = fnUpper
	e.funcs["lower"] = fnLower
	return e
}

// RegisterFunc adds or overrides a function available to expressions.
func (e *Engine) RegisterFunc(name string, fn any) {
	if e.funcs == nil {
		e.funcs = template.FuncMap{}
	}
	e.funcs[name] = fn
}

// Render executes tmpl against ctx and returns the rendered string. ctx is
// exposed as the template's root ".", so expressions address context keys
// as ".key" and nested values as ".key.nested".
func (e *Engine) Render(tmpl string, ctx map[string]any) (string, error) {
	rewritten, err := rewriteStatements(tmpl)
	if err != nil {
		return "", fmt.Errorf("template: %w", err)
	}
	t, err := template.New("dsl").Funcs(e.funcs).Parse(rewritten)
	if err != nil {
		return "", fmt.Errorf("template: parse: %w", err)
	}
	var sb strings.Builder
	if err := t.Execute(&sb, ctx); err != nil {
		return "", fmt.Errorf("template: execute: %w", err)
	}
	return sb.String(), nil
}

var (
	reComment  = regexp.MustCompile(`(?s)\{#(.*?)#\}`)
	reIf       = regexp.MustCompile(`\{%\s*if\s+(.+?)\s*%\}`)
	reElif     = regexp.MustCompile(`\{%\s*elif\s+(.+?)\s*%\}`)
	reElse     = regexp.MustCompile(`\{%\s*else\s*%\}`)
	reEndif    = regexp.MustCompile(`\{%\s*endif\s*%\}`)
	reFor      = regexp.MustCompile(`\{%\s*for\s+(\$?\w+)\s+in\s+(.+?)\s*%\}`)
	reEndfor   = regexp.MustCompile(`\{%\s*endfor\s*%\}`)
	reAnyStmt  = regexp.MustCompile(`\{%.*?%\}`)
)

// rewriteStatements translates {# comment #}/{% stmt %} tags into their
// text/template equivalents. Any {% %} tag not matching a known directive is
// a TemplateError, rather than being silently passed through.
func rewriteStatements(tmpl string) (string, error) {
	out := reComment.ReplaceAllString(tmpl, "")
	out = reIf.ReplaceAllString(out, "{{if $1}}")
	out = reElif.ReplaceAllString(out, "{{else if $1}}")
	out = reElse.ReplaceAllString(out, "{{else}}")
	out = reEndif.ReplaceAllString(out, "{{end}}")
	out = reFor.ReplaceAllStringFunc(out, func(m string) string {
		parts := reFor.FindStringSubmatch(m)
		v := parts[1]
		if !strings.HasPrefix(v, "$") {
			v = "$" + v
		}
		return fmt.Sprintf("{{range %s := %s}}", v, parts[2])
	})
	out = reEndfor.ReplaceAllString(out, "{{end}}")
	if loc := reAnyStmt.FindStringIndex(out); loc != nil {
		return "", fmt.Errorf("unrecognized statement tag: %q", out[loc[0]:loc[1]])
	}
	return out, nil
}

func fnDefault(v, d any) any {
	if isEmptyValue(v) {
		return d
	}
	return v
}

func fnExists(v any) bool { return !isEmptyValue(v) }

func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}

func fnLength(v any) int {
	switch t := v.(type) {
	case string:
		return len(t)
	case []any:
		return len(t)
	case map[string]any:
		return len(t)
	default:
		return 0
	}
}

func fnJoin(arr any, sep string) string {
	items, ok := arr.([]any)
	if !ok {
		return ""
	}
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = fmt.Sprint(item)
	}
	return strings.Join(parts, sep)
}

func fnUpper(s string) string { return strings.ToUpper(s) }
func fnLower(s string) string { return strings.ToLower(s) }

// sortedKeys returns the keys of m in lexical order.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
