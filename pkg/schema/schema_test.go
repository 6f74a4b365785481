package schema

import (
	"strings"
	"testing"
)

const minimalFlow = `
id: ability-check
kind: flow
name: Ability Check
outputs:
  - type: int
    id: check
steps:
  - id: roll
    type: dice_roll
    roll: "1d20"
    actions:
      - set_value:
          path: outputs.check
          value: "{{ result.total }}"
  - id: done
    type: completion
`

func TestLoadMinimalFlow(t *testing.T) {
	fl, warnings, err := LoadBytes([]byte(minimalFlow))
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("warnings = %v, want none", warnings)
	}
	if fl.ID != "ability-check" || fl.Name != "Ability Check" {
		t.Errorf("identity = %q/%q", fl.ID, fl.Name)
	}
	if fl.Version != 1 {
		t.Errorf("Version = %d, want default 1", fl.Version)
	}
	if len(fl.Steps) != 2 {
		t.Fatalf("Steps = %d, want 2", len(fl.Steps))
	}
	if fl.Steps[0].Type != StepDiceRoll || fl.Steps[0].Roll != "1d20" {
		t.Errorf("step 0 = %+v", fl.Steps[0])
	}
	if got := fl.Steps[0].Actions[0].Kind(); got != ActionSetValue {
		t.Errorf("action kind = %q", got)
	}
}

func TestLoadWarnsOnUnknownTopLevelKey(t *testing.T) {
	doc := minimalFlow + "\nauthor_notes: scratch\n"
	fl, warnings, err := LoadBytes([]byte(doc))
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	if fl == nil {
		t.Fatal("flow is nil")
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "author_notes") {
		t.Errorf("warnings = %v, want one about author_notes", warnings)
	}
}

func TestLoadRejectsUnknownStepField(t *testing.T) {
	doc := `
id: typo
name: Typo
steps:
  - id: r
    type: dice_roll
    rolll: "1d6"
`
	_, _, errs := ValidateBytes([]byte(doc))
	if len(errs) == 0 {
		t.Fatal("ValidateBytes accepted an unknown step field")
	}
	if errs[0].Code != CodeUnknownField {
		t.Errorf("code = %q, want UnknownField", errs[0].Code)
	}
}

func TestLogMessageScalarAndMappingForms(t *testing.T) {
	doc := `
id: log-forms
name: Log Forms
steps:
  - id: s
    type: completion
    actions:
      - log_message: "plain form"
      - log_message:
          message: "mapping form"
`
	fl, _, err := LoadBytes([]byte(doc))
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	acts := fl.Steps[0].Actions
	if acts[0].LogMessage.Message != "plain form" {
		t.Errorf("scalar form = %q", acts[0].LogMessage.Message)
	}
	if acts[1].LogMessage.Message != "mapping form" {
		t.Errorf("mapping form = %q", acts[1].LogMessage.Message)
	}
}

func TestStepLookupHelpers(t *testing.T) {
	fl, _, err := LoadBytes([]byte(minimalFlow))
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	if _, ok := fl.StepByID("roll"); !ok {
		t.Error("StepByID(roll) not found")
	}
	if idx, ok := fl.StepIndex("done"); !ok || idx != 1 {
		t.Errorf("StepIndex(done) = %d,%v", idx, ok)
	}
	if _, ok := fl.StepByID("absent"); ok {
		t.Error("StepByID(absent) found")
	}
	if def, ok := fl.OutputDef("check"); !ok || def.Type != "int" {
		t.Errorf("OutputDef(check) = %+v,%v", def, ok)
	}
}

func TestGenerateJSONSchema(t *testing.T) {
	data, err := GenerateJSONSchema()
	if err != nil {
		t.Fatalf("GenerateJSONSchema: %v", err)
	}
	for _, want := range []string{"Grimoire Flow v1", "resume_points", "steps"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("schema missing %q", want)
		}
	}
}
