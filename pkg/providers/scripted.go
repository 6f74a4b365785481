package providers

import (
	"context"
	"fmt"
	"sync"
)

// ScriptedUI answers prompts from pre-seeded queues. It backs tests,
// MCP runs, and any other non-interactive execution of a flow that
// contains player_choice or player_input steps.
type ScriptedUI struct {
	mu        sync.Mutex
	choices   []string
	texts     []string
	Displayed []DisplayedValue
}

// DisplayedValue records one display_value emission.
type DisplayedValue struct {
	Label string
	Value any
}

// NewScriptedUI seeds the answer queues. Choice answers are consumed by
// PromptChoice in order; text answers by PromptText.
func NewScriptedUI(choices, texts []string) *ScriptedUI {
	return &ScriptedUI{choices: choices, texts: texts}
}

// PromptChoice pops the next count scripted choice ids. Ids that do not
// match any presented option are an error — a scripted run that drifts
// from its flow should fail, not guess.
func (s *ScriptedUI) PromptChoice(ctx context.Context, prompt string, options []ChoiceOption, count int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if count < 1 {
		count = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.choices) < count {
		return nil, fmt.Errorf("scripted run exhausted: %d choice answers left, need %d", len(s.choices), count)
	}
	picked := s.choices[:count]
	s.choices = s.choices[count:]
	for _, id := range picked {
		found := false
		for _, opt := range options {
			if opt.ID == id {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("scripted choice %q is not among the presented options", id)
		}
	}
	return append([]string(nil), picked...), nil
}

// PromptText pops the next scripted text answer.
func (s *ScriptedUI) PromptText(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.texts) == 0 {
		return "", fmt.Errorf("scripted run exhausted: no text answers left for %q", prompt)
	}
	t := s.texts[0]
	s.texts = s.texts[1:]
	return t, nil
}

// Display records the value for later inspection.
func (s *ScriptedUI) Display(label string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Displayed = append(s.Displayed, DisplayedValue{Label: label, Value: value})
}

// RecordingEvents collects events and messages for assertions.
type RecordingEvents struct {
	mu       sync.Mutex
	Events   []RecordedEvent
	Messages []string
}

// RecordedEvent is one structured event the engine emitted.
type RecordedEvent struct {
	Kind string
	Data map[string]any
}

// Event records a structured event.
func (r *RecordingEvents) Event(kind string, data map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, RecordedEvent{Kind: kind, Data: data})
}

// Message records a rendered message.
func (r *RecordingEvents) Message(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Messages = append(r.Messages, msg)
}

// Kinds returns the recorded event kinds in order.
func (r *RecordingEvents) Kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]string, len(r.Events))
	for i, e := range r.Events {
		kinds[i] = e.Kind
	}
	return kinds
}
