package providers

import (
	"context"
	"strings"
	"testing"
)

func TestSeededDiceDeterminism(t *testing.T) {
	a := NewSeededDice(42)
	b := NewSeededDice(42)
	for i := 0; i < 10; i++ {
		ra, err := a.Roll(context.Background(), "3d6+1")
		if err != nil {
			t.Fatalf("Roll: %v", err)
		}
		rb, _ := b.Roll(context.Background(), "3d6+1")
		if ra != rb {
			t.Fatalf("same seed diverged: %v vs %v", ra, rb)
		}
		if ra.Total < 4 || ra.Total > 19 {
			t.Errorf("3d6+1 total = %d out of range", ra.Total)
		}
	}
}

func TestSeededDiceExpressions(t *testing.T) {
	d := NewSeededDice(1)
	cases := []struct {
		expr     string
		min, max int
	}{
		{"d20", 1, 20},
		{"1d1", 1, 1},
		{"2d4-1", 1, 7},
		{"2 d 6", 2, 12}, // embedded spaces tolerated
	}
	for _, c := range cases {
		r, err := d.Roll(context.Background(), c.expr)
		if err != nil {
			t.Fatalf("Roll(%q): %v", c.expr, err)
		}
		if r.Total < c.min || r.Total > c.max {
			t.Errorf("Roll(%q) = %d, want [%d,%d]", c.expr, r.Total, c.min, c.max)
		}
		if !strings.Contains(r.Detail, "=") {
			t.Errorf("Roll(%q) detail = %q", c.expr, r.Detail)
		}
	}
}

func TestSeededDiceRejectsGarbage(t *testing.T) {
	d := NewSeededDice(1)
	for _, expr := range []string{"", "banana", "d", "0d6", "2x6"} {
		if _, err := d.Roll(context.Background(), expr); err == nil {
			t.Errorf("Roll(%q) succeeded, want error", expr)
		}
	}
}

func TestMemoryTableStore(t *testing.T) {
	store := NewMemoryTableStore(NewSeededDice(3), &TableDoc{
		Name:    "moods",
		Entries: []any{"grim", "wry", "bright"},
	})
	res, err := store.Roll(context.Background(), "moods")
	if err != nil {
		t.Fatalf("Roll: %v", err)
	}
	found := false
	for _, e := range []string{"grim", "wry", "bright"} {
		if res.Entry == e {
			found = true
		}
	}
	if !found {
		t.Errorf("Entry = %v not from the table", res.Entry)
	}
	if res.Roll.Total < 1 || res.Roll.Total > 3 {
		t.Errorf("Roll.Total = %d", res.Roll.Total)
	}
	if _, err := store.Roll(context.Background(), "absent"); err == nil {
		t.Error("Roll(absent) succeeded, want error")
	}
}

func TestBasicValidatorNormalization(t *testing.T) {
	v := NewBasicValidator()
	cases := []struct {
		typeName string
		in, want any
	}{
		{"int", "12", 12},
		{"int", float64(3), 3},
		{"int", 5, 5},
		{"float", 2, float64(2)},
		{"bool", "true", true},
		{"str", "x", "x"},
	}
	for _, c := range cases {
		got, problems, err := v.Validate(c.typeName, c.in)
		if err != nil || len(problems) > 0 {
			t.Fatalf("Validate(%s, %v): %v %v", c.typeName, c.in, problems, err)
		}
		if got != c.want {
			t.Errorf("Validate(%s, %v) = %v (%T), want %v", c.typeName, c.in, got, got, c.want)
		}
		// Normalization must be idempotent.
		again, _, _ := v.Validate(c.typeName, got)
		if again != got {
			t.Errorf("Validate(%s) not idempotent: %v then %v", c.typeName, got, again)
		}
	}
}

func TestBasicValidatorRejections(t *testing.T) {
	v := NewBasicValidator()
	cases := []struct {
		typeName string
		in       any
	}{
		{"int", "twelve"},
		{"int", 2.5},
		{"bool", "maybe"},
		{"list", "not-a-list"},
		{"dict", []any{}},
	}
	for _, c := range cases {
		_, problems, err := v.Validate(c.typeName, c.in)
		if err != nil {
			t.Fatalf("Validate(%s): %v", c.typeName, err)
		}
		if len(problems) == 0 {
			t.Errorf("Validate(%s, %v) passed, want problems", c.typeName, c.in)
		}
	}
}

func TestBasicValidatorUnknownTypePassesThrough(t *testing.T) {
	v := NewBasicValidator()
	got, problems, err := v.Validate("character", map[string]any{"name": "Rin"})
	if err != nil || len(problems) > 0 {
		t.Fatalf("unknown type: %v %v", problems, err)
	}
	if got == nil {
		t.Error("value dropped")
	}
}

func TestSyllableNamesSettings(t *testing.T) {
	g := NewSyllableNames(11)
	res, err := g.Generate(context.Background(), map[string]any{"max_length": 8})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	name, _ := res["name"].(string)
	if name == "" || len(name) > 8 {
		t.Errorf("name = %q, want non-empty, max 8", name)
	}
	if _, err := g.Generate(context.Background(), map[string]any{"corpus": "martian"}); err == nil {
		t.Error("unknown corpus accepted")
	}
}

func TestScriptedUIExhaustion(t *testing.T) {
	ui := NewScriptedUI([]string{"a"}, nil)
	opts := []ChoiceOption{{ID: "a"}, {ID: "b"}}
	ids, err := ui.PromptChoice(context.Background(), "", opts, 1)
	if err != nil || len(ids) != 1 || ids[0] != "a" {
		t.Fatalf("PromptChoice = %v, %v", ids, err)
	}
	if _, err := ui.PromptChoice(context.Background(), "", opts, 1); err == nil {
		t.Error("exhausted queue answered anyway")
	}
	if _, err := ui.PromptText(context.Background(), "q"); err == nil {
		t.Error("empty text queue answered anyway")
	}
}

func TestScriptedUIRejectsUnknownChoice(t *testing.T) {
	ui := NewScriptedUI([]string{"zzz"}, nil)
	opts := []ChoiceOption{{ID: "a"}}
	if _, err := ui.PromptChoice(context.Background(), "", opts, 1); err == nil {
		t.Error("choice outside the options accepted")
	}
}
