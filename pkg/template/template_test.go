package template

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

// mapContext resolves dotted references against a flat map.
type mapContext map[string]any

func (m mapContext) Resolve(ref string) (any, error) {
	if v, ok := m[ref]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("%q: %w", ref, ErrUnresolved)
}

func TestRenderPlainStringPassesThrough(t *testing.T) {
	got, err := New().Render("no braces here", mapContext{})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got != "no braces here" {
		t.Errorf("Render = %q", got)
	}
}

func TestRenderReference(t *testing.T) {
	ctx := mapContext{"outputs.character.name": "rin the grey"}
	got, err := New().Render("Hail, {{ outputs.character.name | title }}!", ctx)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got != "Hail, Rin The Grey!" {
		t.Errorf("Render = %q", got)
	}
}

func TestRenderFilters(t *testing.T) {
	ctx := mapContext{"variables.word": "Sword"}
	cases := []struct {
		tmpl, want string
	}{
		{"{{ variables.word | upper }}", "SWORD"},
		{"{{ variables.word | lower }}", "sword"},
		{"{{ variables.word | replace \"Sw\" \"B\" }}", "Bord"},
		{"{{ 'iron dagger' | title }}", "Iron Dagger"},
	}
	for _, c := range cases {
		got, err := New().Render(c.tmpl, ctx)
		if err != nil {
			t.Fatalf("Render(%s): %v", c.tmpl, err)
		}
		if got != c.want {
			t.Errorf("Render(%s) = %q, want %q", c.tmpl, got, c.want)
		}
	}
}

func TestDefaultOperator(t *testing.T) {
	ctx := mapContext{"a": "", "b": false, "c": "named"}
	cases := []struct {
		tmpl, want string
	}{
		{"{{ missing || 'Unnamed' }}", "Unnamed"},
		{"{{ a || 'Unnamed' }}", "Unnamed"},
		{"{{ b || 'Unnamed' }}", "Unnamed"},
		{"{{ c || 'Unnamed' }}", "named"},
		{"{{ missing || a || '' }}", ""},
	}
	for _, c := range cases {
		got, err := New().Render(c.tmpl, ctx)
		if err != nil {
			t.Fatalf("Render(%s): %v", c.tmpl, err)
		}
		if got != c.want {
			t.Errorf("Render(%s) = %q, want %q", c.tmpl, got, c.want)
		}
	}
}

func TestStrictUnresolvedReference(t *testing.T) {
	_, err := New().Render("{{ nothing.here }}", mapContext{})
	var terr *Error
	if !errors.As(err, &terr) || terr.Code != CodeUnresolvedReference {
		t.Fatalf("err = %v, want UnresolvedReference", err)
	}
}

func TestNonStrictRendersEmpty(t *testing.T) {
	e := New()
	e.Strict = false
	got, err := e.Render("[{{ nothing.here }}]", mapContext{})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got != "[]" {
		t.Errorf("Render = %q, want []", got)
	}
}

func TestSyntaxErrors(t *testing.T) {
	for _, tmpl := range []string{"{{ }}", "{{ a.b", "{{ x | nosuchfilter }}"} {
		_, err := New().Render(tmpl, mapContext{"x": "v"})
		var terr *Error
		if !errors.As(err, &terr) || terr.Code != CodeTemplateError {
			t.Errorf("Render(%q) err = %v, want TemplateError", tmpl, err)
		}
	}
}

func TestEvalPreservesNativeTypes(t *testing.T) {
	ctx := mapContext{"result.total": 7, "result.detail": "1d8: [7] = 7"}
	v, err := New().Eval("{{ result.total }}", ctx)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if n, ok := v.(int); !ok || n != 7 {
		t.Fatalf("Eval = %v (%T), want int 7", v, v)
	}
	// Mixed text renders to a string.
	v, err = New().Eval("rolled {{ result.total }}", ctx)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if s, ok := v.(string); !ok || s != "rolled 7" {
		t.Fatalf("Eval = %v (%T), want string", v, v)
	}
}

func TestRenderIsPure(t *testing.T) {
	ctx := mapContext{"variables.n": 3, "variables.s": "elf"}
	tmpl := "{{ variables.n }} {{ variables.s | upper }} warriors"
	first, err := New().Render(tmpl, ctx)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	second, err := New().Render(tmpl, ctx)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if first != second {
		t.Errorf("renders differ: %q vs %q", first, second)
	}
}

func TestQuotedPipeIsNotASeparator(t *testing.T) {
	got, err := New().Render("{{ 'a|b' | upper }}", mapContext{})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got != "A|B" {
		t.Errorf("Render = %q, want A|B", got)
	}
}

func TestTruthy(t *testing.T) {
	for _, v := range []any{"yes", 1, true, "1"} {
		if !Truthy(v) {
			t.Errorf("Truthy(%v) = false", v)
		}
	}
	for _, v := range []any{nil, "", "false", "0", false} {
		if Truthy(v) {
			t.Errorf("Truthy(%v) = true", v)
		}
	}
}

func TestStringifyFloats(t *testing.T) {
	if s := Stringify(2.5); s != "2.5" {
		t.Errorf("Stringify(2.5) = %q", s)
	}
	if s := Stringify(float64(3)); s != "3" {
		t.Errorf("Stringify(3.0) = %q", s)
	}
	if s := Stringify(nil); s != "" {
		t.Errorf("Stringify(nil) = %q", s)
	}
	if !strings.Contains(Stringify([]any{1, 2}), "1") {
		t.Errorf("Stringify(list) = %q", Stringify([]any{1, 2}))
	}
}
