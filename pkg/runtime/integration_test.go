package runtime

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/wyrdbound/grimoire/pkg/providers"
)

func bundledHost(t *testing.T, seed int64, choices, texts []string) providers.Host {
	t.Helper()
	dice := providers.NewSeededDice(seed)
	tables, err := providers.NewYAMLTableStore(filepath.Join("..", "..", "testdata", "flows", "tables"), dice)
	if err != nil {
		t.Fatalf("load tables: %v", err)
	}
	validator, err := providers.NewSchemaValidator(filepath.Join("..", "..", "testdata", "flows", "models"))
	if err != nil {
		t.Fatalf("load models: %v", err)
	}
	return providers.Host{
		Dice:      dice,
		Tables:    tables,
		Names:     providers.NewSyllableNames(seed),
		LLM:       providers.EchoLLM{},
		Validator: validator,
		UI:        providers.NewScriptedUI(choices, texts),
	}
}

func TestBundledAbilityCheck(t *testing.T) {
	reg, warnings, err := LoadDir(filepath.Join("..", "..", "testdata", "flows"))
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("warnings = %v", warnings)
	}
	fl, ok := reg.Get("ability-check")
	if !ok {
		t.Fatal("ability-check not in registry")
	}

	eng := New(fl, bundledHost(t, 21, nil, nil), WithRegistry(reg))
	outputs, ticket, err := eng.Run(context.Background(), map[string]any{"difficulty": 10})
	if err != nil || ticket != nil {
		t.Fatalf("Run: outputs=%v ticket=%v err=%v", outputs, ticket, err)
	}
	total, ok := outputs["total"].(int)
	if !ok || total < 1 || total > 20 {
		t.Fatalf("outputs.total = %v (%T)", outputs["total"], outputs["total"])
	}
	success, ok := outputs["success"].(bool)
	if !ok {
		t.Fatalf("outputs.success = %v (%T)", outputs["success"], outputs["success"])
	}
	if success != (total >= 10) {
		t.Errorf("success = %v with total %d against difficulty 10", success, total)
	}
}

func TestBundledCharacterCreation(t *testing.T) {
	reg, _, err := LoadDir(filepath.Join("..", "..", "testdata", "flows"))
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	fl, ok := reg.Get("character-creation")
	if !ok {
		t.Fatal("character-creation not in registry")
	}

	// Scripted: pick rogue, keep the generated name.
	host := bundledHost(t, 33, []string{"rogue", "keep"}, nil)
	eng := New(fl, host, WithRegistry(reg))
	outputs, ticket, err := eng.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ticket != nil {
		t.Fatalf("paused at %q with no pause signal", ticket.StepID)
	}

	character, ok := outputs["character"].(map[string]any)
	if !ok {
		t.Fatalf("outputs.character = %T", outputs["character"])
	}
	if character["class"] != "rogue" {
		t.Errorf("class = %v", character["class"])
	}
	if name, _ := character["name"].(string); name == "" {
		t.Error("character has no name")
	}
	abilities, ok := character["abilities"].(map[string]any)
	if !ok || len(abilities) != 6 {
		t.Fatalf("abilities = %#v", character["abilities"])
	}
	for ab, raw := range abilities {
		score, ok := raw.(int)
		if !ok || score < 3 || score > 18 {
			t.Errorf("ability %s = %v", ab, raw)
		}
	}
	if omen, _ := character["omen"].(string); omen == "" {
		t.Error("character has no omen")
	}
}

func TestBundledCharacterCreationPausesBeforeNaming(t *testing.T) {
	reg, _, err := LoadDir(filepath.Join("..", "..", "testdata", "flows"))
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	fl, _ := reg.Get("character-creation")

	pause := true
	host := bundledHost(t, 33, []string{"wizard", "rename"}, []string{"Morwen"})
	host.Pause = providers.PauseFunc(func() bool { return pause })

	eng := New(fl, host, WithRegistry(reg))
	outputs, ticket, err := eng.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outputs != nil || ticket == nil {
		t.Fatalf("expected pause, got outputs=%v", outputs)
	}
	if ticket.StepID != "name_character" {
		t.Fatalf("paused at %q, want name_character", ticket.StepID)
	}

	raw, err := EncodeTicket(ticket)
	if err != nil {
		t.Fatal(err)
	}
	restored, err := DecodeTicket(raw)
	if err != nil {
		t.Fatal(err)
	}

	pause = false
	outputs, ticket, err = Resume(context.Background(), restored, reg, host)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if ticket != nil {
		t.Fatal("Resume paused again")
	}
	character := outputs["character"].(map[string]any)
	if character["name"] != "Morwen" {
		t.Errorf("name = %v, want the player's override Morwen", character["name"])
	}
	if character["class"] != "wizard" {
		t.Errorf("class = %v, want wizard", character["class"])
	}
}
