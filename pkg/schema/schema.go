// Package schema defines the Go struct types for the flow YAML schema
// and provides the document loader. Unknown top-level keys are tolerated
// with a warning; unknown fields inside known sections are rejected so
// typos in step definitions fail loudly.
package schema

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Flow is the top-level document describing an interactive procedure as
// a directed graph of typed steps. Immutable after load.
type Flow struct {
	ID           string        `yaml:"id"                     json:"id"          jsonschema:"required"`
	Kind         string        `yaml:"kind,omitempty"         json:"kind,omitempty" jsonschema:"enum=flow"`
	Name         string        `yaml:"name"                   json:"name"        jsonschema:"required"`
	Description  string        `yaml:"description,omitempty"  json:"description,omitempty"`
	Version      int           `yaml:"version,omitempty"      json:"version,omitempty"`
	Inputs       []InputDef    `yaml:"inputs,omitempty"       json:"inputs,omitempty"`
	Outputs      []OutputDef   `yaml:"outputs,omitempty"      json:"outputs,omitempty"`
	Variables    []VariableDef `yaml:"variables,omitempty"    json:"variables,omitempty"`
	Steps        []Step        `yaml:"steps"                  json:"steps"       jsonschema:"required,minItems=1"`
	ResumePoints []string      `yaml:"resume_points,omitempty" json:"resume_points,omitempty"`
}

// InputDef declares a caller-supplied value.
type InputDef struct {
	Type     string `yaml:"type"               json:"type" jsonschema:"required"`
	ID       string `yaml:"id"                 json:"id"   jsonschema:"required"`
	Required bool   `yaml:"required,omitempty" json:"required,omitempty"`
}

// OutputDef declares a value projected out of the context on completion.
type OutputDef struct {
	Type     string `yaml:"type"               json:"type" jsonschema:"required"`
	ID       string `yaml:"id"                 json:"id"   jsonschema:"required"`
	Validate bool   `yaml:"validate,omitempty" json:"validate,omitempty"`
}

// VariableDef declares a flow-local variable.
type VariableDef struct {
	Type     string `yaml:"type"               json:"type" jsonschema:"required"`
	ID       string `yaml:"id"                 json:"id"   jsonschema:"required"`
	Validate bool   `yaml:"validate,omitempty" json:"validate,omitempty"`
}

// Step kinds dispatched by the interpreter.
const (
	StepDiceRoll       = "dice_roll"
	StepDiceSequence   = "dice_sequence"
	StepPlayerChoice   = "player_choice"
	StepTableRoll      = "table_roll"
	StepPlayerInput    = "player_input"
	StepLLMGeneration  = "llm_generation"
	StepNameGeneration = "name_generation"
	StepCompletion     = "completion"
	StepFlowCall       = "flow_call"
)

// StepKinds lists every recognized step type.
var StepKinds = []string{
	StepDiceRoll, StepDiceSequence, StepPlayerChoice, StepTableRoll,
	StepPlayerInput, StepLLMGeneration, StepNameGeneration,
	StepCompletion, StepFlowCall,
}

// Step is a single unit of work. Type selects the handler; the
// type-specific fields below it configure that handler.
type Step struct {
	ID         string   `yaml:"id"                    json:"id"   jsonschema:"required"`
	Name       string   `yaml:"name,omitempty"        json:"name,omitempty"`
	Type       string   `yaml:"type"                  json:"type" jsonschema:"required"`
	Prompt     string   `yaml:"prompt,omitempty"      json:"prompt,omitempty"`
	Condition  string   `yaml:"condition,omitempty"   json:"condition,omitempty"`
	Parallel   bool     `yaml:"parallel,omitempty"    json:"parallel,omitempty"`
	PreActions []Action `yaml:"pre_actions,omitempty" json:"pre_actions,omitempty"`
	Actions    []Action `yaml:"actions,omitempty"     json:"actions,omitempty"`
	NextStep   string   `yaml:"next_step,omitempty"   json:"next_step,omitempty"`

	// dice_roll
	Roll string `yaml:"roll,omitempty" json:"roll,omitempty"`

	// dice_sequence
	Sequence *SequenceSpec `yaml:"sequence,omitempty" json:"sequence,omitempty"`

	// player_choice
	Choices      []ChoiceSpec  `yaml:"choices,omitempty"       json:"choices,omitempty"`
	ChoiceSource *ChoiceSource `yaml:"choice_source,omitempty" json:"choice_source,omitempty"`

	// table_roll
	Tables []TableSpec `yaml:"tables,omitempty" json:"tables,omitempty"`

	// llm_generation
	PromptID    string            `yaml:"prompt_id,omitempty"    json:"prompt_id,omitempty"`
	PromptData  map[string]string `yaml:"prompt_data,omitempty"  json:"prompt_data,omitempty"`
	LLMSettings map[string]any    `yaml:"llm_settings,omitempty" json:"llm_settings,omitempty"`

	// name_generation
	Generator string         `yaml:"generator,omitempty" json:"generator,omitempty"`
	Settings  map[string]any `yaml:"settings,omitempty"  json:"settings,omitempty"`

	// flow_call
	Flow   string         `yaml:"flow,omitempty"   json:"flow,omitempty"`
	Inputs map[string]any `yaml:"inputs,omitempty" json:"inputs,omitempty"`
}

// SequenceSpec drives a dice_sequence: one roll per item, the inner
// actions running with item and result bound.
type SequenceSpec struct {
	Items   []any    `yaml:"items"             json:"items" jsonschema:"required,minItems=1"`
	Roll    string   `yaml:"roll"              json:"roll"  jsonschema:"required"`
	Actions []Action `yaml:"actions,omitempty" json:"actions,omitempty"`
}

// ChoiceSpec is a static player_choice option.
type ChoiceSpec struct {
	ID       string   `yaml:"id"                  json:"id" jsonschema:"required"`
	Label    string   `yaml:"label,omitempty"     json:"label,omitempty"`
	Actions  []Action `yaml:"actions,omitempty"   json:"actions,omitempty"`
	NextStep string   `yaml:"next_step,omitempty" json:"next_step,omitempty"`
}

// ChoiceSource derives player_choice options dynamically. Exactly one of
// Table and TableFromValues is set. DisplayFormat is rendered once per
// row: table sources bind entry and roll_result, table_from_values
// sources bind key and value. Dynamic choices carry no implicit
// next_step; the step's own next_step governs the transition. The
// selection result is the drawn entry's string form for table sources
// ("choice-N" for non-scalar entries) and the key for table_from_values
// sources (a list of keys when selection_count is above 1).
type ChoiceSource struct {
	Table           string `yaml:"table,omitempty"             json:"table,omitempty"`
	TableFromValues string `yaml:"table_from_values,omitempty" json:"table_from_values,omitempty"`
	DisplayFormat   string `yaml:"display_format"              json:"display_format" jsonschema:"required"`
	SelectionCount  int    `yaml:"selection_count,omitempty"   json:"selection_count,omitempty"`
}

// TableSpec is one table consulted by a table_roll step.
type TableSpec struct {
	Table   string   `yaml:"table"             json:"table" jsonschema:"required"`
	Actions []Action `yaml:"actions,omitempty" json:"actions,omitempty"`
}

// Load parses a flow document from a reader. Unknown top-level keys are
// collected as warnings; unknown keys anywhere below the top level are
// errors. The flow's version defaults to 1 and kind to "flow".
func Load(r io.Reader) (*Flow, []string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("read flow: %w", err)
	}
	return LoadBytes(data)
}

// LoadFile reads and parses a flow YAML file.
func LoadFile(path string) (*Flow, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open flow: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// flowKeys are the recognized top-level document keys.
var flowKeys = map[string]bool{
	"id": true, "kind": true, "name": true, "description": true,
	"version": true, "inputs": true, "outputs": true, "variables": true,
	"steps": true, "resume_points": true,
}

// LoadBytes parses a flow document from raw YAML.
func LoadBytes(data []byte) (*Flow, []string, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("decode flow: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, nil, fmt.Errorf("decode flow: empty document")
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, nil, fmt.Errorf("decode flow: top level must be a mapping")
	}

	// Drop unknown top-level keys, keeping a warning per key, so the
	// strict decode below only sees the schema it knows.
	var warnings []string
	pruned := &yaml.Node{Kind: yaml.MappingNode, Tag: root.Tag}
	for i := 0; i+1 < len(root.Content); i += 2 {
		key := root.Content[i]
		if !flowKeys[key.Value] {
			warnings = append(warnings, fmt.Sprintf("line %d: ignoring unknown key %q", key.Line, key.Value))
			continue
		}
		pruned.Content = append(pruned.Content, root.Content[i], root.Content[i+1])
	}

	known, err := yaml.Marshal(pruned)
	if err != nil {
		return nil, nil, fmt.Errorf("reencode flow: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(known))
	dec.KnownFields(true)
	var fl Flow
	if err := dec.Decode(&fl); err != nil {
		return nil, warnings, fmt.Errorf("decode flow: %w", err)
	}

	if fl.Version == 0 {
		fl.Version = 1
	}
	if fl.Kind == "" {
		fl.Kind = "flow"
	}
	return &fl, warnings, nil
}

// StepByID returns the step with the given id, if any.
func (f *Flow) StepByID(id string) (*Step, bool) {
	for i := range f.Steps {
		if f.Steps[i].ID == id {
			return &f.Steps[i], true
		}
	}
	return nil, false
}

// StepIndex returns the position of a step id in document order.
func (f *Flow) StepIndex(id string) (int, bool) {
	for i := range f.Steps {
		if f.Steps[i].ID == id {
			return i, true
		}
	}
	return 0, false
}

// InputDef returns the declaration for an input id.
func (f *Flow) InputDef(id string) (*InputDef, bool) {
	for i := range f.Inputs {
		if f.Inputs[i].ID == id {
			return &f.Inputs[i], true
		}
	}
	return nil, false
}

// OutputDef returns the declaration for an output id.
func (f *Flow) OutputDef(id string) (*OutputDef, bool) {
	for i := range f.Outputs {
		if f.Outputs[i].ID == id {
			return &f.Outputs[i], true
		}
	}
	return nil, false
}

// VariableDef returns the declaration for a variable id.
func (f *Flow) VariableDef(id string) (*VariableDef, bool) {
	for i := range f.Variables {
		if f.Variables[i].ID == id {
			return &f.Variables[i], true
		}
	}
	return nil, false
}
