package runtime

import (
	"context"
	"fmt"
	"strings"

	"github.com/wyrdbound/grimoire/pkg/refpath"
	"github.com/wyrdbound/grimoire/pkg/schema"
	"github.com/wyrdbound/grimoire/pkg/template"
)

// scope is the evaluation environment for one ordered action list. It
// overlays transient bindings (result, item, key, value, entry,
// roll_result) on top of the flow context so parallel units and
// iteration bodies see their own values without disturbing siblings.
type scope struct {
	fc       *Context
	unit     int // parallel unit index, -1 when sequential
	bindings map[string]any
}

func (e *Engine) newScope() *scope {
	return &scope{fc: e.fc, unit: -1}
}

func (s *scope) withUnit(unit int) *scope {
	return &scope{fc: s.fc, unit: unit, bindings: s.bindings}
}

func (s *scope) bind(name string, v any) *scope {
	next := make(map[string]any, len(s.bindings)+1)
	for k, val := range s.bindings {
		next[k] = val
	}
	next[name] = v
	return &scope{fc: s.fc, unit: s.unit, bindings: next}
}

// Resolve implements template.Context: overlay bindings first, then the
// flow context.
func (s *scope) Resolve(ref string) (any, error) {
	root := ref
	if i := strings.IndexByte(ref, '.'); i >= 0 {
		root = ref[:i]
	}
	if v, ok := s.bindings[root]; ok {
		p, err := refpath.Parse(ref)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", ref, template.ErrUnresolved)
		}
		return descend(v, p.Rest(), ref)
	}
	return s.fc.Resolve(ref)
}

func (s *scope) set(path string, v any) error {
	return s.fc.setAsUnit(s.unit, path, v)
}

// runActions evaluates an ordered action list. The first failure aborts
// the list; the error carries the action's index and kind.
func (e *Engine) runActions(ctx context.Context, sc *scope, stepID string, actions []schema.Action) error {
	for i := range actions {
		a := &actions[i]
		if err := ctx.Err(); err != nil {
			return e.stepError(CodeCancelled, stepID, err, "cancelled")
		}
		if err := e.runAction(ctx, sc, stepID, a); err != nil {
			if ee, ok := err.(*Error); ok {
				if ee.ActionIndex < 0 {
					ee.ActionIndex = i
					ee.ActionKind = a.Kind()
				}
				if ee.StepID == "" {
					ee.StepID = stepID
				}
				return ee
			}
			return &Error{
				Code:        classify(err, CodeValidationError),
				FlowID:      e.flow.ID,
				StepID:      stepID,
				ActionIndex: i,
				ActionKind:  a.Kind(),
				Err:         err,
			}
		}
	}
	return nil
}

func (e *Engine) runAction(ctx context.Context, sc *scope, stepID string, a *schema.Action) error {
	switch {
	case a.SetValue != nil:
		return e.actionSetValue(sc, a.SetValue)
	case a.SwapValues != nil:
		return e.actionSwapValues(sc, a.SwapValues)
	case a.DisplayValue != "":
		return e.actionDisplayValue(sc, a.DisplayValue)
	case a.ValidateValue != "":
		return e.actionValidateValue(sc, a.ValidateValue)
	case a.LogEvent != nil:
		return e.actionLogEvent(sc, a.LogEvent)
	case a.LogMessage != nil:
		msg, err := e.tmpl.Render(a.LogMessage.Message, sc)
		if err != nil {
			return err
		}
		e.host.Events.Message(msg)
		return nil
	case a.FlowCall != nil:
		return e.actionFlowCall(ctx, sc, stepID, a.FlowCall)
	}
	return fmt.Errorf("action sets no operation")
}

// actionSetValue renders the value as a template when it is a string
// and writes it at the (also templated) path. Non-string values pass
// through verbatim.
func (e *Engine) actionSetValue(sc *scope, a *schema.SetValueAction) error {
	path, err := e.tmpl.Render(a.Path, sc)
	if err != nil {
		return err
	}
	value := a.Value
	if s, ok := a.Value.(string); ok {
		value, err = e.tmpl.Eval(s, sc)
		if err != nil {
			return err
		}
	} else {
		value = deepCopy(value)
	}
	return sc.set(path, value)
}

func (e *Engine) actionSwapValues(sc *scope, a *schema.SwapValuesAction) error {
	p1, err := e.tmpl.Render(a.Path1, sc)
	if err != nil {
		return err
	}
	p2, err := e.tmpl.Render(a.Path2, sc)
	if err != nil {
		return err
	}
	return e.fc.Swap(p1, p2)
}

func (e *Engine) actionDisplayValue(sc *scope, raw string) error {
	path, err := e.tmpl.Render(raw, sc)
	if err != nil {
		return err
	}
	v, err := e.fc.Get(path)
	if err != nil {
		return err
	}
	if e.host.UI != nil {
		e.host.UI.Display(path, v)
	} else {
		e.host.Events.Message(fmt.Sprintf("%s: %v", path, v))
	}
	return nil
}

// actionValidateValue looks up the declared type of the path's root
// entry and hands the value to the validator collaborator.
func (e *Engine) actionValidateValue(sc *scope, raw string) error {
	path, err := e.tmpl.Render(raw, sc)
	if err != nil {
		return err
	}
	v, err := e.fc.Get(path)
	if err != nil {
		return err
	}
	typeName, ok := e.declaredType(path)
	if !ok {
		return &Error{
			Code:        CodeValidationError,
			FlowID:      e.flow.ID,
			ActionIndex: -1,
			Message:     fmt.Sprintf("no declared type for %q", path),
		}
	}
	_, problems, err := e.host.Validator.Validate(typeName, v)
	if err != nil {
		return fmt.Errorf("validator: %w", err)
	}
	if len(problems) > 0 {
		return &Error{
			Code:        CodeValidationError,
			FlowID:      e.flow.ID,
			ActionIndex: -1,
			Message:     fmt.Sprintf("%s: %s", path, strings.Join(problems, "; ")),
		}
	}
	return nil
}

// declaredType resolves the type declared for the root entry a path
// lands in: outputs.character.x validates against the character
// output's declared type.
func (e *Engine) declaredType(path string) (string, bool) {
	p, err := refpath.Parse(path)
	if err != nil || len(p.Rest()) == 0 {
		return "", false
	}
	id := p.Rest()[0]
	switch p.Root() {
	case refpath.RootInputs:
		if def, ok := e.flow.InputDef(id); ok {
			return def.Type, true
		}
	case refpath.RootOutputs:
		if def, ok := e.flow.OutputDef(id); ok {
			return def.Type, true
		}
	case refpath.RootVariables:
		if def, ok := e.flow.VariableDef(id); ok {
			return def.Type, true
		}
	}
	return "", false
}

func (e *Engine) actionLogEvent(sc *scope, a *schema.LogEventAction) error {
	data := make(map[string]any, len(a.Data))
	for k, v := range a.Data {
		if s, ok := v.(string); ok {
			rendered, err := e.tmpl.Eval(s, sc)
			if err != nil {
				return err
			}
			data[k] = rendered
			continue
		}
		data[k] = deepCopy(v)
	}
	e.host.Events.Event(a.Type, data)
	return nil
}

// actionFlowCall invokes a sub-flow and runs the nested actions with
// the sub-flow's outputs bound as result. Action-level sub-flows run
// with pausing disabled: only step-level flow_call participates in the
// checkpoint call stack.
func (e *Engine) actionFlowCall(ctx context.Context, sc *scope, stepID string, a *schema.FlowCallAction) error {
	outputs, _, err := e.callFlow(ctx, sc, stepID, a.Flow, a.Inputs, nil, false)
	if err != nil {
		return err
	}
	return e.runActions(ctx, sc.bind("result", outputs), stepID, a.Actions)
}
