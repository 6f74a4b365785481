package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// Validation error codes.
const (
	CodeSchemaError          = "SchemaError"
	CodeDuplicateStepID      = "DuplicateStepId"
	CodeUnknownStepReference = "UnknownStepReference"
	CodeUnknownField         = "UnknownField"
)

// ValidationError is a single load-time validation failure with
// location context.
type ValidationError struct {
	Code     string `json:"code"`
	Phase    string `json:"phase"` // structural, semantic, domain
	Path     string `json:"path"`  // document location, e.g. steps[2].next_step
	Message  string `json:"message"`
	Severity string `json:"severity"` // error, warning
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Path, e.Message)
}

func domainErr(code, path, format string, args ...any) *ValidationError {
	return &ValidationError{
		Code:     code,
		Phase:    "domain",
		Path:     path,
		Message:  fmt.Sprintf(format, args...),
		Severity: "error",
	}
}

// ValidateFile runs the full 3-phase validation pipeline on a flow file.
// Phase 1: structural (strict YAML decode, top-level keys warn)
// Phase 2: semantic (JSON Schema)
// Phase 3: domain (step references, kinds, one-of actions)
func ValidateFile(path string) (*Flow, []string, []*ValidationError) {
	fl, warnings, err := LoadFile(path)
	if err != nil {
		return nil, warnings, []*ValidationError{structuralError(err)}
	}
	return fl, warnings, Validate(fl)
}

// ValidateBytes is ValidateFile for in-memory documents.
func ValidateBytes(data []byte) (*Flow, []string, []*ValidationError) {
	fl, warnings, err := LoadBytes(data)
	if err != nil {
		return nil, warnings, []*ValidationError{structuralError(err)}
	}
	return fl, warnings, Validate(fl)
}

func structuralError(err error) *ValidationError {
	code := CodeSchemaError
	if strings.Contains(err.Error(), "not found in type") {
		code = CodeUnknownField
	}
	return &ValidationError{
		Code:     code,
		Phase:    "structural",
		Message:  err.Error(),
		Severity: "error",
	}
}

// Validate runs the semantic and domain phases on a parsed flow.
func Validate(fl *Flow) []*ValidationError {
	errs := validateSemantic(fl)
	errs = append(errs, validateDomain(fl)...)
	return errs
}

// validateSemantic validates the flow against the generated JSON Schema.
func validateSemantic(fl *Flow) []*ValidationError {
	fail := func(format string, args ...any) []*ValidationError {
		return []*ValidationError{{
			Code:     CodeSchemaError,
			Phase:    "semantic",
			Message:  fmt.Sprintf(format, args...),
			Severity: "error",
		}}
	}

	data, err := json.Marshal(fl)
	if err != nil {
		return fail("marshal for schema validation: %v", err)
	}
	schemaJSON, err := GenerateJSONSchema()
	if err != nil {
		return fail("generate schema: %v", err)
	}
	var schemaDoc any
	if err := json.Unmarshal(schemaJSON, &schemaDoc); err != nil {
		return fail("unmarshal schema: %v", err)
	}

	c := sjsonschema.NewCompiler()
	if err := c.AddResource("flow-v1.json", schemaDoc); err != nil {
		return fail("add schema resource: %v", err)
	}
	sch, err := c.Compile("flow-v1.json")
	if err != nil {
		return fail("compile schema: %v", err)
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fail("unmarshal document: %v", err)
	}
	if err := sch.Validate(doc); err != nil {
		var errs []*ValidationError
		if ve, ok := err.(*sjsonschema.ValidationError); ok {
			for _, cause := range flattenValidationErrors(ve) {
				errs = append(errs, &ValidationError{
					Code:     CodeSchemaError,
					Phase:    "semantic",
					Path:     strings.Join(cause.InstanceLocation, "/"),
					Message:  fmt.Sprintf("%v", cause.ErrorKind),
					Severity: "error",
				})
			}
			return errs
		}
		return fail("%v", err)
	}
	return nil
}

// flattenValidationErrors recursively collects all leaf validation errors.
func flattenValidationErrors(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flattenValidationErrors(cause)...)
	}
	return flat
}

// validateDomain applies the Go-level rules the JSON Schema cannot
// express: id uniqueness, step references, per-kind required fields.
func validateDomain(fl *Flow) []*ValidationError {
	var errs []*ValidationError

	if fl.Kind != "flow" {
		errs = append(errs, domainErr(CodeSchemaError, "kind", "unrecognized kind %q, expected %q", fl.Kind, "flow"))
	}
	if fl.ID == "" {
		errs = append(errs, domainErr(CodeSchemaError, "id", "flow requires an id"))
	}
	if len(fl.Steps) == 0 {
		errs = append(errs, domainErr(CodeSchemaError, "steps", "flow must contain at least one step"))
	}

	ids := make(map[string]int)
	for i, s := range fl.Steps {
		if prev, ok := ids[s.ID]; ok {
			errs = append(errs, domainErr(CodeDuplicateStepID, fmt.Sprintf("steps[%d].id", i),
				"duplicate step ID %q (first at steps[%d])", s.ID, prev))
		}
		ids[s.ID] = i
	}

	checkRef := func(path, ref string) {
		if ref == "" {
			return
		}
		if _, ok := ids[ref]; !ok {
			errs = append(errs, domainErr(CodeUnknownStepReference, path,
				"references unknown step %q", ref))
		}
	}

	for i, rp := range fl.ResumePoints {
		checkRef(fmt.Sprintf("resume_points[%d]", i), rp)
	}

	validKinds := make(map[string]bool, len(StepKinds))
	for _, k := range StepKinds {
		validKinds[k] = true
	}

	for i, s := range fl.Steps {
		at := func(field string) string { return fmt.Sprintf("steps[%d].%s", i, field) }

		if !validKinds[s.Type] {
			errs = append(errs, domainErr(CodeSchemaError, at("type"),
				"unknown step type %q", s.Type))
			continue
		}
		checkRef(at("next_step"), s.NextStep)

		if s.Parallel && (s.Type == StepPlayerChoice || s.Type == StepPlayerInput) {
			errs = append(errs, domainErr(CodeSchemaError, at("parallel"),
				"parallel is not valid on interactive %s steps", s.Type))
		}

		for j, c := range s.Choices {
			checkRef(fmt.Sprintf("steps[%d].choices[%d].next_step", i, j), c.NextStep)
		}

		switch s.Type {
		case StepDiceRoll:
			if s.Roll == "" {
				errs = append(errs, domainErr(CodeSchemaError, at("roll"),
					"dice_roll step %q requires a roll expression", s.ID))
			}
		case StepDiceSequence:
			switch {
			case s.Sequence == nil:
				errs = append(errs, domainErr(CodeSchemaError, at("sequence"),
					"dice_sequence step %q requires a sequence", s.ID))
			case len(s.Sequence.Items) == 0:
				errs = append(errs, domainErr(CodeSchemaError, at("sequence.items"),
					"dice_sequence step %q requires non-empty items", s.ID))
			case s.Sequence.Roll == "":
				errs = append(errs, domainErr(CodeSchemaError, at("sequence.roll"),
					"dice_sequence step %q requires a roll expression", s.ID))
			}
		case StepPlayerChoice:
			if len(s.Choices) == 0 && s.ChoiceSource == nil {
				errs = append(errs, domainErr(CodeSchemaError, at("choices"),
					"player_choice step %q requires choices or choice_source", s.ID))
			}
			if len(s.Choices) > 0 && s.ChoiceSource != nil {
				errs = append(errs, domainErr(CodeSchemaError, at("choice_source"),
					"player_choice step %q must not combine choices with choice_source", s.ID))
			}
			if cs := s.ChoiceSource; cs != nil {
				if (cs.Table == "") == (cs.TableFromValues == "") {
					errs = append(errs, domainErr(CodeSchemaError, at("choice_source"),
						"choice_source requires exactly one of table and table_from_values"))
				}
				if cs.DisplayFormat == "" {
					errs = append(errs, domainErr(CodeSchemaError, at("choice_source.display_format"),
						"choice_source requires display_format"))
				}
			}
		case StepTableRoll:
			if len(s.Tables) == 0 {
				errs = append(errs, domainErr(CodeSchemaError, at("tables"),
					"table_roll step %q requires at least one table", s.ID))
			}
		case StepLLMGeneration:
			if s.PromptID == "" {
				errs = append(errs, domainErr(CodeSchemaError, at("prompt_id"),
					"llm_generation step %q requires prompt_id", s.ID))
			}
		case StepFlowCall:
			if s.Flow == "" {
				errs = append(errs, domainErr(CodeSchemaError, at("flow"),
					"flow_call step %q requires a target flow", s.ID))
			}
		}

		errs = append(errs, validateActions(s.PreActions, fmt.Sprintf("steps[%d].pre_actions", i))...)
		errs = append(errs, validateActions(s.Actions, fmt.Sprintf("steps[%d].actions", i))...)
		if s.Sequence != nil {
			errs = append(errs, validateActions(s.Sequence.Actions, fmt.Sprintf("steps[%d].sequence.actions", i))...)
		}
		for j, c := range s.Choices {
			errs = append(errs, validateActions(c.Actions, fmt.Sprintf("steps[%d].choices[%d].actions", i, j))...)
		}
		for j, tb := range s.Tables {
			errs = append(errs, validateActions(tb.Actions, fmt.Sprintf("steps[%d].tables[%d].actions", i, j))...)
		}
	}

	return errs
}

// validateActions checks that every action sets exactly one field, and
// recurses into flow_call nested actions.
func validateActions(actions []Action, at string) []*ValidationError {
	var errs []*ValidationError
	for i := range actions {
		a := &actions[i]
		path := fmt.Sprintf("%s[%d]", at, i)
		switch a.fieldsSet() {
		case 0:
			errs = append(errs, domainErr(CodeSchemaError, path, "action sets no operation"))
		case 1:
		default:
			errs = append(errs, domainErr(CodeSchemaError, path, "action sets more than one operation"))
		}
		if a.SetValue != nil && a.SetValue.Path == "" {
			errs = append(errs, domainErr(CodeSchemaError, path+".set_value.path", "set_value requires a path"))
		}
		if a.SwapValues != nil && (a.SwapValues.Path1 == "" || a.SwapValues.Path2 == "") {
			errs = append(errs, domainErr(CodeSchemaError, path+".swap_values", "swap_values requires path1 and path2"))
		}
		if a.FlowCall != nil {
			if a.FlowCall.Flow == "" {
				errs = append(errs, domainErr(CodeSchemaError, path+".flow_call.flow", "flow_call requires a target flow"))
			}
			errs = append(errs, validateActions(a.FlowCall.Actions, path+".flow_call.actions")...)
		}
	}
	return errs
}
