package runtime

import (
	"context"
	"fmt"
	"strings"

	"github.com/expr-lang/expr"

	"github.com/wyrdbound/grimoire/pkg/providers"
	"github.com/wyrdbound/grimoire/pkg/schema"
	"github.com/wyrdbound/grimoire/pkg/template"
)

// Engine interprets one flow invocation. It owns the execution context
// for that invocation; the flow document and registry are shared
// read-only.
type Engine struct {
	flow     *schema.Flow
	registry *Registry
	host     providers.Host
	tmpl     *template.Engine
	fc       *Context
	depth    int

	// resume state, set when this engine was restored from a ticket.
	resumedAt  string
	childChain []*Ticket
}

// Option configures an Engine.
type Option func(*Engine)

// WithRegistry supplies the flow registry used to resolve flow_call
// targets.
func WithRegistry(r *Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// WithTemplateEngine overrides the template engine (e.g. non-strict).
func WithTemplateEngine(t *template.Engine) Option {
	return func(e *Engine) { e.tmpl = t }
}

// New creates an engine for one invocation of flow.
func New(flow *schema.Flow, host providers.Host, opts ...Option) *Engine {
	e := &Engine{
		flow: flow,
		host: host.WithDefaults(),
		tmpl: template.New(),
		fc:   NewContext(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes the flow with the given inputs. It returns the projected
// outputs, or a resume ticket when the host paused execution at a
// resume point, or a typed error — never a partial value.
func (e *Engine) Run(ctx context.Context, inputs map[string]any) (map[string]any, *Ticket, error) {
	if len(e.flow.Steps) == 0 {
		return nil, nil, e.fail(e.stepError(CodeUnknownStep, "", nil, "flow has no steps"))
	}
	for _, def := range e.flow.Inputs {
		v, ok := inputs[def.ID]
		if !ok {
			if def.Required {
				return nil, nil, e.fail(e.stepError(CodeMissingInput, "", nil, "missing required input %q", def.ID))
			}
			continue
		}
		e.fc.SetInput(def.ID, v)
	}
	e.host.Events.Event("flow_started", map[string]any{"flow": e.flow.ID})
	return e.runFrom(ctx, e.flow.Steps[0].ID)
}

// runFrom drives the control loop starting at a step id.
func (e *Engine) runFrom(ctx context.Context, startID string) (map[string]any, *Ticket, error) {
	idx, ok := e.flow.StepIndex(startID)
	if !ok {
		return nil, nil, e.fail(e.stepError(CodeUnknownStep, startID, nil, "unknown step %q", startID))
	}

	resumeGrace := e.resumedAt

	for {
		if idx >= len(e.flow.Steps) {
			return e.finish()
		}
		step := &e.flow.Steps[idx]

		if err := ctx.Err(); err != nil {
			return nil, nil, e.fail(e.stepError(CodeCancelled, step.ID, err, "cancelled"))
		}

		// Cooperative pause boundary before any declared resume point.
		// The step a resume restored at gets one free pass so a still-
		// latched pause signal cannot starve progress.
		if e.isResumePoint(step.ID) && step.ID != resumeGrace && e.host.Pause.Requested() {
			ticket := e.buildTicket(step.ID)
			e.host.Events.Event("flow_paused", map[string]any{"flow": e.flow.ID, "step": step.ID})
			return nil, ticket, nil
		}
		if step.ID == resumeGrace {
			resumeGrace = ""
		}

		override := ""
		skipped := false
		if step.Condition != "" {
			ok, err := e.evalCondition(step.Condition)
			if err != nil {
				return nil, nil, e.fail(e.stepError(classify(err, CodeTemplateError), step.ID, err, "condition"))
			}
			skipped = !ok
		}

		if skipped {
			e.host.Events.Event("step_skipped", map[string]any{"flow": e.flow.ID, "step": step.ID})
		} else {
			e.host.Events.Event("step_started", map[string]any{"flow": e.flow.ID, "step": step.ID, "type": step.Type})

			if err := e.runActions(ctx, e.newScope(), step.ID, step.PreActions); err != nil {
				return nil, nil, e.fail(err)
			}

			var ticket *Ticket
			var err error
			override, ticket, err = e.dispatch(ctx, step)
			if err != nil {
				return nil, nil, e.fail(err)
			}
			if ticket != nil {
				e.host.Events.Event("flow_paused", map[string]any{"flow": e.flow.ID, "step": step.ID})
				return nil, ticket, nil
			}

			if err := e.runActions(ctx, e.newScope(), step.ID, step.Actions); err != nil {
				return nil, nil, e.fail(err)
			}

			e.host.Events.Event("step_completed", map[string]any{"flow": e.flow.ID, "step": step.ID})

			if step.Type == schema.StepCompletion {
				return e.finish()
			}
		}

		// Transition: a selected choice's next_step beats the step's
		// own, which beats document order.
		next := override
		if next == "" {
			next = step.NextStep
		}
		if next == "" {
			idx++
			continue
		}
		nextIdx, ok := e.flow.StepIndex(next)
		if !ok {
			return nil, nil, e.fail(e.stepError(CodeUnknownStep, step.ID, nil, "transition to unknown step %q", next))
		}
		idx = nextIdx
	}
}

// finish projects the declared outputs out of the context, validating
// the ones marked validate and writing their normalized values back.
func (e *Engine) finish() (map[string]any, *Ticket, error) {
	projected := e.fc.Outputs()
	outputs := make(map[string]any, len(e.flow.Outputs))
	for _, def := range e.flow.Outputs {
		v, ok := projected[def.ID]
		if !ok {
			continue
		}
		if def.Validate {
			normalized, problems, err := e.host.Validator.Validate(def.Type, v)
			if err != nil {
				return nil, nil, e.fail(e.stepError(CodeValidationError, "", err, "validate output %q", def.ID))
			}
			if len(problems) > 0 {
				return nil, nil, e.fail(e.stepError(CodeValidationError, "", nil,
					"output %q: %s", def.ID, strings.Join(problems, "; ")))
			}
			v = normalized
		}
		outputs[def.ID] = v
	}
	e.host.Events.Event("flow_completed", map[string]any{"flow": e.flow.ID})
	return outputs, nil, nil
}

func (e *Engine) isResumePoint(stepID string) bool {
	for _, id := range e.flow.ResumePoints {
		if id == stepID {
			return true
		}
	}
	return false
}

// evalCondition interprets a step condition. Template-form conditions
// ({{ ... }}) render to a string tested for truthiness: non-empty and
// neither "false" nor "0". Bare expressions are evaluated with
// expr-lang against a flattened view of the context.
func (e *Engine) evalCondition(cond string) (bool, error) {
	cond = strings.TrimSpace(cond)
	if cond == "" {
		return true, nil
	}
	if strings.Contains(cond, "{{") {
		rendered, err := e.tmpl.Render(cond, e.newScope())
		if err != nil {
			return false, err
		}
		return template.Truthy(rendered), nil
	}

	env := e.fc.flatten()
	program, err := expr.Compile(cond, expr.Env(env), expr.AsBool())
	if err != nil {
		return false, fmt.Errorf("compile condition %q: %w", cond, err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("eval condition %q: %w", cond, err)
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q did not return bool (got %T)", cond, out)
	}
	return b, nil
}

// stepError builds a typed engine error located at a step.
func (e *Engine) stepError(code Code, stepID string, err error, format string, args ...any) *Error {
	return &Error{
		Code:        code,
		FlowID:      e.flow.ID,
		StepID:      stepID,
		ActionIndex: -1,
		Message:     fmt.Sprintf(format, args...),
		Err:         err,
	}
}

// fail logs a structured error event before the error propagates.
func (e *Engine) fail(err error) error {
	if err == nil {
		return nil
	}
	data := map[string]any{"flow": e.flow.ID, "error": err.Error()}
	if ee, ok := err.(*Error); ok {
		data["code"] = string(ee.Code)
		if ee.StepID != "" {
			data["step"] = ee.StepID
		}
		if ee.FlowID == "" {
			ee.FlowID = e.flow.ID
		}
	}
	e.host.Events.Event("error", data)
	return err
}
