package runtime

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/wyrdbound/grimoire/pkg/providers"
	"github.com/wyrdbound/grimoire/pkg/schema"
	"github.com/wyrdbound/grimoire/pkg/template"
)

// dispatch executes one step, binding its result into the context. It
// returns the transition override chosen by a player_choice (if any)
// and a resume ticket when a sub-flow paused underneath this step.
func (e *Engine) dispatch(ctx context.Context, step *schema.Step) (string, *Ticket, error) {
	switch step.Type {
	case schema.StepDiceRoll:
		return "", nil, e.runDiceRoll(ctx, step)
	case schema.StepDiceSequence:
		return "", nil, e.runDiceSequence(ctx, step)
	case schema.StepPlayerChoice:
		override, err := e.runPlayerChoice(ctx, step)
		return override, nil, err
	case schema.StepTableRoll:
		return "", nil, e.runTableRoll(ctx, step)
	case schema.StepPlayerInput:
		return "", nil, e.runPlayerInput(ctx, step)
	case schema.StepLLMGeneration:
		return "", nil, e.runLLMGeneration(ctx, step)
	case schema.StepNameGeneration:
		return "", nil, e.runNameGeneration(ctx, step)
	case schema.StepCompletion:
		return "", nil, nil
	case schema.StepFlowCall:
		return e.runFlowCallStep(ctx, step)
	}
	return "", nil, e.stepError(CodeUnknownStepKind, step.ID, nil, "unknown step kind %q", step.Type)
}

func (e *Engine) runDiceRoll(ctx context.Context, step *schema.Step) error {
	if e.host.Dice == nil {
		return e.stepError(CodeDiceError, step.ID, nil, "no dice collaborator configured")
	}
	expr, err := e.tmpl.Render(step.Roll, e.newScope())
	if err != nil {
		return e.stepError(classify(err, CodeTemplateError), step.ID, err, "render roll")
	}
	res, err := e.host.Dice.Roll(ctx, expr)
	if err != nil {
		return e.stepError(classify(err, CodeDiceError), step.ID, err, "roll %q", expr)
	}
	e.fc.BindResult(diceResultValue(res))
	return nil
}

func diceResultValue(res providers.DiceResult) map[string]any {
	return map[string]any{"total": res.Total, "detail": res.Detail}
}

// runDiceSequence rolls once per item, running the inner actions with
// item and result bound. Iteration is ordered unless the step opts into
// parallel execution, in which case each item is an independent unit.
func (e *Engine) runDiceSequence(ctx context.Context, step *schema.Step) error {
	if e.host.Dice == nil {
		return e.stepError(CodeDiceError, step.ID, nil, "no dice collaborator configured")
	}
	seq := step.Sequence

	if step.Parallel {
		return e.runParallelUnits(ctx, step, len(seq.Items), func(unit int) error {
			sc := e.newScope().withUnit(unit).bind("item", deepCopy(seq.Items[unit]))
			expr, err := e.tmpl.Render(seq.Roll, sc)
			if err != nil {
				return err
			}
			res, err := e.host.Dice.Roll(ctx, expr)
			if err != nil {
				return fmt.Errorf("roll %q: %w", expr, err)
			}
			sc = sc.bind("result", diceResultValue(res))
			if unit == len(seq.Items)-1 {
				defer e.fc.BindResult(diceResultValue(res))
			}
			return e.runActions(ctx, sc, step.ID, seq.Actions)
		})
	}

	defer e.fc.ClearItem()
	for _, item := range seq.Items {
		if err := ctx.Err(); err != nil {
			return e.stepError(CodeCancelled, step.ID, err, "cancelled")
		}
		e.fc.BindItem(deepCopy(item))
		expr, err := e.tmpl.Render(seq.Roll, e.newScope())
		if err != nil {
			return e.stepError(classify(err, CodeTemplateError), step.ID, err, "render roll")
		}
		res, err := e.host.Dice.Roll(ctx, expr)
		if err != nil {
			return e.stepError(classify(err, CodeDiceError), step.ID, err, "roll %q", expr)
		}
		e.fc.BindResult(diceResultValue(res))
		if err := e.runActions(ctx, e.newScope(), step.ID, seq.Actions); err != nil {
			return err
		}
	}
	return nil
}

// runPlayerChoice presents static or source-derived options, binds the
// selection as result, and runs the selected choice's actions. A
// selected static choice's next_step overrides the step's own.
func (e *Engine) runPlayerChoice(ctx context.Context, step *schema.Step) (string, error) {
	if e.host.UI == nil {
		return "", e.stepError(CodeCancelled, step.ID, nil, "no user interface configured")
	}
	prompt, err := e.tmpl.Render(step.Prompt, e.newScope())
	if err != nil {
		return "", e.stepError(classify(err, CodeTemplateError), step.ID, err, "render prompt")
	}

	options, count, err := e.choiceOptions(ctx, step)
	if err != nil {
		return "", err
	}

	picked, err := e.host.UI.PromptChoice(ctx, prompt, options, count)
	if err != nil {
		return "", e.stepError(classify(err, CodeCancelled), step.ID, err, "choice")
	}
	if len(picked) == 0 {
		return "", e.stepError(CodeCancelled, step.ID, nil, "no selection made")
	}

	if count > 1 {
		ids := make([]any, len(picked))
		for i, id := range picked {
			ids[i] = id
		}
		e.fc.BindResult(ids)
	} else {
		e.fc.BindResult(picked[0])
	}

	if len(step.Choices) > 0 {
		for i := range step.Choices {
			c := &step.Choices[i]
			if c.ID != picked[0] {
				continue
			}
			if err := e.runActions(ctx, e.newScope(), step.ID, c.Actions); err != nil {
				return "", err
			}
			return c.NextStep, nil
		}
	}
	// Dynamic choices carry no implicit next_step; the step's own
	// next_step governs the transition.
	return "", nil
}

// choiceOptions builds the rows to present. Static choices render their
// labels; a table source draws selection_count rows binding entry and
// roll_result per row; a table_from_values source iterates the
// referenced mapping or list binding key and value per row.
func (e *Engine) choiceOptions(ctx context.Context, step *schema.Step) ([]providers.ChoiceOption, int, error) {
	if len(step.Choices) > 0 {
		options := make([]providers.ChoiceOption, len(step.Choices))
		for i := range step.Choices {
			c := &step.Choices[i]
			label, err := e.tmpl.Render(c.Label, e.newScope())
			if err != nil {
				return nil, 0, e.stepError(classify(err, CodeTemplateError), step.ID, err, "render choice label")
			}
			if label == "" {
				label = c.ID
			}
			options[i] = providers.ChoiceOption{ID: c.ID, Label: label}
		}
		return options, 1, nil
	}

	cs := step.ChoiceSource
	count := cs.SelectionCount
	if count < 1 {
		count = 1
	}

	if cs.Table != "" {
		if e.host.Tables == nil {
			return nil, 0, e.stepError(CodeTableError, step.ID, nil, "no table collaborator configured")
		}
		options := make([]providers.ChoiceOption, 0, count)
		for i := 0; i < count; i++ {
			res, err := e.host.Tables.Roll(ctx, cs.Table)
			if err != nil {
				return nil, 0, e.stepError(classify(err, CodeTableError), step.ID, err, "draw from %q", cs.Table)
			}
			sc := e.newScope().
				bind("entry", res.Entry).
				bind("roll_result", diceResultValue(res.Roll))
			label, err := e.tmpl.Render(cs.DisplayFormat, sc)
			if err != nil {
				return nil, 0, e.stepError(classify(err, CodeTemplateError), step.ID, err, "render display_format")
			}
			options = append(options, providers.ChoiceOption{ID: choiceID(res.Entry, i), Label: label})
		}
		// The player picks one of the drawn rows.
		return options, 1, nil
	}

	source, err := e.tmpl.Render(cs.TableFromValues, e.newScope())
	if err != nil {
		return nil, 0, e.stepError(classify(err, CodeTemplateError), step.ID, err, "render table_from_values")
	}
	raw, err := e.newScope().Resolve(source)
	if err != nil {
		return nil, 0, e.stepError(CodeUnresolvedReference, step.ID, err, "resolve %q", source)
	}

	var options []providers.ChoiceOption
	appendOption := func(key string, value any) error {
		sc := e.newScope().bind("key", key).bind("value", value)
		label, err := e.tmpl.Render(cs.DisplayFormat, sc)
		if err != nil {
			return e.stepError(classify(err, CodeTemplateError), step.ID, err, "render display_format")
		}
		options = append(options, providers.ChoiceOption{ID: key, Label: label})
		return nil
	}
	switch v := raw.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := appendOption(k, v[k]); err != nil {
				return nil, 0, err
			}
		}
	case []any:
		for i, item := range v {
			if err := appendOption(strconv.Itoa(i), item); err != nil {
				return nil, 0, err
			}
		}
	default:
		return nil, 0, e.stepError(CodeTypeConflict, step.ID, nil,
			"table_from_values %q is %T, want mapping or list", source, raw)
	}
	if count > len(options) {
		count = len(options)
	}
	return options, count, nil
}

// choiceID derives a stable id for a drawn table entry.
func choiceID(entry any, i int) string {
	switch entry.(type) {
	case string, int, int64, float64, bool:
		return template.Stringify(entry)
	}
	return fmt.Sprintf("choice-%d", i+1)
}

// runTableRoll consults each table in document order, or concurrently
// when the step is parallel.
func (e *Engine) runTableRoll(ctx context.Context, step *schema.Step) error {
	if e.host.Tables == nil {
		return e.stepError(CodeTableError, step.ID, nil, "no table collaborator configured")
	}

	if step.Parallel {
		return e.runParallelUnits(ctx, step, len(step.Tables), func(unit int) error {
			tb := &step.Tables[unit]
			res, err := e.host.Tables.Roll(ctx, tb.Table)
			if err != nil {
				return fmt.Errorf("roll table %q: %w", tb.Table, err)
			}
			value := tableResultValue(res)
			sc := e.newScope().withUnit(unit).bind("result", value)
			if unit == len(step.Tables)-1 {
				defer e.fc.BindResult(value)
			}
			return e.runActions(ctx, sc, step.ID, tb.Actions)
		})
	}

	for i := range step.Tables {
		tb := &step.Tables[i]
		if err := ctx.Err(); err != nil {
			return e.stepError(CodeCancelled, step.ID, err, "cancelled")
		}
		res, err := e.host.Tables.Roll(ctx, tb.Table)
		if err != nil {
			return e.stepError(classify(err, CodeTableError), step.ID, err, "roll table %q", tb.Table)
		}
		e.fc.BindResult(tableResultValue(res))
		if err := e.runActions(ctx, e.newScope(), step.ID, tb.Actions); err != nil {
			return err
		}
	}
	return nil
}

func tableResultValue(res providers.TableResult) map[string]any {
	return map[string]any{
		"entry":       deepCopy(res.Entry),
		"roll_result": diceResultValue(res.Roll),
	}
}

func (e *Engine) runPlayerInput(ctx context.Context, step *schema.Step) error {
	if e.host.UI == nil {
		return e.stepError(CodeCancelled, step.ID, nil, "no user interface configured")
	}
	prompt, err := e.tmpl.Render(step.Prompt, e.newScope())
	if err != nil {
		return e.stepError(classify(err, CodeTemplateError), step.ID, err, "render prompt")
	}
	text, err := e.host.UI.PromptText(ctx, prompt)
	if err != nil {
		return e.stepError(classify(err, CodeCancelled), step.ID, err, "input")
	}
	e.fc.BindResult(text)
	return nil
}

func (e *Engine) runLLMGeneration(ctx context.Context, step *schema.Step) error {
	if e.host.LLM == nil {
		return e.stepError(CodeLLMError, step.ID, nil, "no language-model collaborator configured")
	}
	data := make(map[string]string, len(step.PromptData))
	for k, v := range step.PromptData {
		rendered, err := e.tmpl.Render(v, e.newScope())
		if err != nil {
			return e.stepError(classify(err, CodeTemplateError), step.ID, err, "render prompt_data %q", k)
		}
		data[k] = rendered
	}
	text, err := e.host.LLM.Complete(ctx, step.PromptID, data, step.LLMSettings)
	if err != nil {
		return e.stepError(classify(err, CodeLLMError), step.ID, err, "complete %q", step.PromptID)
	}
	e.fc.BindResult(text)
	return nil
}

func (e *Engine) runNameGeneration(ctx context.Context, step *schema.Step) error {
	if e.host.Names == nil {
		return e.stepError(CodeGeneratorError, step.ID, nil, "no name-generator collaborator configured")
	}
	settings := providers.DefaultNameSettings()
	for k, v := range step.Settings {
		settings[k] = deepCopy(v)
	}
	generator := step.Generator
	if generator == "" {
		generator = providers.DefaultNameGenerator
	}
	settings["generator"] = generator

	result, err := e.host.Names.Generate(ctx, settings)
	if err != nil {
		return e.stepError(classify(err, CodeGeneratorError), step.ID, err, "generate name")
	}
	value := make(map[string]any, len(result))
	for k, v := range result {
		value[k] = deepCopy(v)
	}
	e.fc.BindResult(value)
	return nil
}

func (e *Engine) runFlowCallStep(ctx context.Context, step *schema.Step) (string, *Ticket, error) {
	var resume []*Ticket
	if e.childChain != nil && step.ID == e.resumedAt {
		resume = e.childChain
		e.childChain = nil
	}
	outputs, ticket, err := e.callFlow(ctx, e.newScope(), step.ID, step.Flow, step.Inputs, resume, true)
	if err != nil {
		return "", nil, err
	}
	if ticket != nil {
		return "", ticket, nil
	}
	e.fc.BindResult(outputs)
	return "", nil, nil
}

// runParallelUnits fans units out on goroutines with a join barrier.
// Context writes are serialized through the context lock; overlapping
// writes from different units surface as ConcurrentWriteConflict. The
// first error observed aborts the step.
func (e *Engine) runParallelUnits(ctx context.Context, step *schema.Step, n int, run func(unit int) error) error {
	e.fc.beginParallel()
	defer e.fc.endParallel()

	var wg sync.WaitGroup
	errCh := make(chan error, n)
	for unit := 0; unit < n; unit++ {
		wg.Add(1)
		go func(unit int) {
			defer wg.Done()
			if err := run(unit); err != nil {
				errCh <- err
			}
		}(unit)
	}
	wg.Wait()
	close(errCh)
	if err := <-errCh; err != nil {
		if ee, ok := err.(*Error); ok {
			return ee
		}
		return e.stepError(classify(err, CodeValidationError), step.ID, err, "parallel unit failed")
	}
	if err := ctx.Err(); err != nil {
		return e.stepError(CodeCancelled, step.ID, err, "cancelled")
	}
	return nil
}
