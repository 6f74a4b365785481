package schema

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Action kinds evaluated by the runtime.
const (
	ActionSetValue      = "set_value"
	ActionSwapValues    = "swap_values"
	ActionDisplayValue  = "display_value"
	ActionValidateValue = "validate_value"
	ActionLogEvent      = "log_event"
	ActionLogMessage    = "log_message"
	ActionFlowCall      = "flow_call"
)

// Action is a single context mutation or side effect attached to a
// step. Exactly one of its fields is set; Kind reports which.
type Action struct {
	SetValue      *SetValueAction   `yaml:"set_value,omitempty"      json:"set_value,omitempty"`
	SwapValues    *SwapValuesAction `yaml:"swap_values,omitempty"    json:"swap_values,omitempty"`
	DisplayValue  string            `yaml:"display_value,omitempty"  json:"display_value,omitempty"`
	ValidateValue string            `yaml:"validate_value,omitempty" json:"validate_value,omitempty"`
	LogEvent      *LogEventAction   `yaml:"log_event,omitempty"      json:"log_event,omitempty"`
	LogMessage    *LogMessageSpec   `yaml:"log_message,omitempty"    json:"log_message,omitempty"`
	FlowCall      *FlowCallAction   `yaml:"flow_call,omitempty"      json:"flow_call,omitempty"`
}

// Kind returns the action kind name, or "" when no field is set.
func (a *Action) Kind() string {
	switch {
	case a.SetValue != nil:
		return ActionSetValue
	case a.SwapValues != nil:
		return ActionSwapValues
	case a.DisplayValue != "":
		return ActionDisplayValue
	case a.ValidateValue != "":
		return ActionValidateValue
	case a.LogEvent != nil:
		return ActionLogEvent
	case a.LogMessage != nil:
		return ActionLogMessage
	case a.FlowCall != nil:
		return ActionFlowCall
	}
	return ""
}

// fieldsSet counts how many action fields are populated.
func (a *Action) fieldsSet() int {
	n := 0
	if a.SetValue != nil {
		n++
	}
	if a.SwapValues != nil {
		n++
	}
	if a.DisplayValue != "" {
		n++
	}
	if a.ValidateValue != "" {
		n++
	}
	if a.LogEvent != nil {
		n++
	}
	if a.LogMessage != nil {
		n++
	}
	if a.FlowCall != nil {
		n++
	}
	return n
}

// SetValueAction writes a (possibly templated) value at a path.
type SetValueAction struct {
	Path  string `yaml:"path"  json:"path" jsonschema:"required"`
	Value any    `yaml:"value" json:"value"`
}

// SwapValuesAction atomically exchanges the values at two paths.
type SwapValuesAction struct {
	Path1 string `yaml:"path1" json:"path1" jsonschema:"required"`
	Path2 string `yaml:"path2" json:"path2" jsonschema:"required"`
}

// LogEventAction emits a structured event; Data values are rendered as
// templates before emission.
type LogEventAction struct {
	Type string         `yaml:"type"           json:"type" jsonschema:"required"`
	Data map[string]any `yaml:"data,omitempty" json:"data,omitempty"`
}

// LogMessageSpec emits a rendered message. The YAML form is either a
// bare string or a mapping with a message key.
type LogMessageSpec struct {
	Message string `yaml:"message" json:"message" jsonschema:"required"`
}

// UnmarshalYAML accepts both the scalar and the mapping form.
func (m *LogMessageSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		m.Message = node.Value
		return nil
	}
	type plain LogMessageSpec
	var p plain
	if err := node.Decode(&p); err != nil {
		return fmt.Errorf("log_message: %w", err)
	}
	*m = LogMessageSpec(p)
	return nil
}

// FlowCallAction invokes a sub-flow; the sub-flow's outputs are bound as
// result for the nested actions.
type FlowCallAction struct {
	Flow    string         `yaml:"flow"              json:"flow" jsonschema:"required"`
	Inputs  map[string]any `yaml:"inputs,omitempty"  json:"inputs,omitempty"`
	Actions []Action       `yaml:"actions,omitempty" json:"actions,omitempty"`
}
