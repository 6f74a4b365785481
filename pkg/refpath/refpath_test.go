package refpath

import (
	"errors"
	"reflect"
	"testing"
)

func mustParse(t *testing.T, raw string) Path {
	t.Helper()
	p, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse(%q): %v", raw, err)
	}
	return p
}

func TestParseRejectsEmptySegments(t *testing.T) {
	for _, raw := range []string{"", "a..b", ".a", "a."} {
		if _, err := Parse(raw); err == nil {
			t.Errorf("Parse(%q) succeeded, want error", raw)
		}
	}
}

func TestWriteCreatesIntermediateMaps(t *testing.T) {
	tree := map[string]any{"outputs": map[string]any{}}
	p := mustParse(t, "outputs.character.abilities.str.bonus")
	if err := Write(tree, p, 2); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := Read(tree, p)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != 2 {
		t.Errorf("Read = %v, want 2", got)
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	tree := map[string]any{"variables": map[string]any{}}
	cases := []struct {
		path  string
		value any
	}{
		{"variables.name", "Rin"},
		{"variables.hp", 12},
		{"variables.ratio", 1.5},
		{"variables.alive", true},
		{"variables.tags", []any{"rogue", "human"}},
	}
	for _, c := range cases {
		p := mustParse(t, c.path)
		if err := Write(tree, p, c.value); err != nil {
			t.Fatalf("Write(%s): %v", c.path, err)
		}
		got, err := Read(tree, p)
		if err != nil {
			t.Fatalf("Read(%s): %v", c.path, err)
		}
		if !reflect.DeepEqual(got, c.value) {
			t.Errorf("Read(%s) = %v, want %v", c.path, got, c.value)
		}
	}
}

func TestReadMissingIsPathNotFound(t *testing.T) {
	tree := map[string]any{"outputs": map[string]any{}}
	_, err := Read(tree, mustParse(t, "outputs.missing"))
	var perr *Error
	if !errors.As(err, &perr) || perr.Code != CodePathNotFound {
		t.Fatalf("Read error = %v, want PathNotFound", err)
	}
}

func TestWriteThroughScalarIsTypeConflict(t *testing.T) {
	tree := map[string]any{"outputs": map[string]any{"x": 3}}
	err := Write(tree, mustParse(t, "outputs.x.y"), 1)
	var perr *Error
	if !errors.As(err, &perr) || perr.Code != CodeTypeConflict {
		t.Fatalf("Write error = %v, want TypeConflict", err)
	}
}

func TestListIndexReadWrite(t *testing.T) {
	tree := map[string]any{"outputs": map[string]any{
		"party": []any{
			map[string]any{"name": "Rin"},
			map[string]any{"name": "Bex"},
		},
	}}
	if err := Write(tree, mustParse(t, "outputs.party.1.name"), "Vale"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := Read(tree, mustParse(t, "outputs.party.1.name"))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != "Vale" {
		t.Errorf("Read = %v, want Vale", got)
	}
}

func TestListGrowthIsNotImplicit(t *testing.T) {
	tree := map[string]any{"outputs": map[string]any{"list": []any{1, 2}}}
	if err := Write(tree, mustParse(t, "outputs.list.5"), 9); err == nil {
		t.Fatal("Write to list.5 on a 2-element list succeeded, want error")
	}
}

func TestSwapRoundTripRestoresTree(t *testing.T) {
	tree := map[string]any{"variables": map[string]any{"a": 1, "b": "two"}}
	pa, pb := mustParse(t, "variables.a"), mustParse(t, "variables.b")
	if err := Swap(tree, pa, pb); err != nil {
		t.Fatalf("Swap: %v", err)
	}
	if v, _ := Read(tree, pa); v != "two" {
		t.Errorf("after swap, a = %v, want two", v)
	}
	if err := Swap(tree, pa, pb); err != nil {
		t.Fatalf("Swap back: %v", err)
	}
	if v, _ := Read(tree, pa); v != 1 {
		t.Errorf("after double swap, a = %v, want 1", v)
	}
	if v, _ := Read(tree, pb); v != "two" {
		t.Errorf("after double swap, b = %v, want two", v)
	}
}

func TestSwapRequiresBothSides(t *testing.T) {
	tree := map[string]any{"variables": map[string]any{"a": 1}}
	err := Swap(tree, mustParse(t, "variables.a"), mustParse(t, "variables.missing"))
	var perr *Error
	if !errors.As(err, &perr) || perr.Code != CodePathNotFound {
		t.Fatalf("Swap error = %v, want PathNotFound", err)
	}
	// The existing side must be untouched after the failed swap.
	if v, _ := Read(tree, mustParse(t, "variables.a")); v != 1 {
		t.Errorf("a = %v after failed swap, want 1", v)
	}
}
