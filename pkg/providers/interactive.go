package providers

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"

	"github.com/wyrdbound/grimoire/pkg/tui"
)

// TerminalUI is the interactive UserInterface for CLI runs: readline
// for free-text input, the tui picker for choices, and stdout for
// displayed values.
type TerminalUI struct {
	Out io.Writer
}

// NewTerminalUI returns a UI writing to stdout.
func NewTerminalUI() *TerminalUI {
	return &TerminalUI{Out: os.Stdout}
}

// PromptChoice presents the options with the terminal picker.
func (t *TerminalUI) PromptChoice(ctx context.Context, prompt string, options []ChoiceOption, count int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	opts := make([]tui.Option, len(options))
	for i, o := range options {
		label := o.Label
		if label == "" {
			label = o.ID
		}
		opts[i] = tui.Option{ID: o.ID, Label: label}
	}
	return tui.Pick(prompt, opts, count)
}

// PromptText reads one line with readline.
func (t *TerminalUI) PromptText(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p := strings.TrimSpace(prompt)
	if p != "" {
		fmt.Fprintln(t.out(), p)
	}
	rl, err := readline.New("> ")
	if err != nil {
		return "", fmt.Errorf("open prompt: %w", err)
	}
	defer rl.Close()
	line, err := rl.Readline()
	if err != nil {
		// readline reports ^C/^D as ErrInterrupt/io.EOF; both mean
		// the player declined to answer.
		return "", fmt.Errorf("input cancelled: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// Display prints a labeled value.
func (t *TerminalUI) Display(label string, value any) {
	fmt.Fprintf(t.out(), "  %s: %v\n", label, value)
}

func (t *TerminalUI) out() io.Writer {
	if t.Out != nil {
		return t.Out
	}
	return os.Stdout
}
