// Package runtime drives flow execution: the execution context, the
// action evaluator, the step dispatcher, the control loop, sub-flow
// invocation, and the pause/resume machinery.
package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/wyrdbound/grimoire/pkg/refpath"
	"github.com/wyrdbound/grimoire/pkg/template"
)

// Code identifies an engine error class. The identifiers are stable:
// hosts may switch on them.
type Code string

// Path/state errors.
const (
	CodePathNotFound            Code = "PathNotFound"
	CodeTypeConflict            Code = "TypeConflict"
	CodeReadOnlyRoot            Code = "ReadOnlyRoot"
	CodeConcurrentWriteConflict Code = "ConcurrentWriteConflict"
)

// Template errors.
const (
	CodeTemplateError       Code = "TemplateError"
	CodeUnresolvedReference Code = "UnresolvedReference"
)

// Dispatch errors.
const (
	CodeUnknownStepKind   Code = "UnknownStepKind"
	CodeUnknownFlow       Code = "UnknownFlow"
	CodeUnknownStep       Code = "UnknownStep"
	CodeMissingInput      Code = "MissingInput"
	CodeValidationError   Code = "ValidationError"
	CodeCallDepthExceeded Code = "CallDepthExceeded"
)

// Collaborator errors.
const (
	CodeDiceError           Code = "DiceError"
	CodeTableError          Code = "TableError"
	CodeGeneratorError      Code = "GeneratorError"
	CodeLLMError            Code = "LLMError"
	CodeCollaboratorTimeout Code = "CollaboratorTimeout"
)

// Execution errors.
const (
	CodeCancelled       Code = "Cancelled"
	CodeVersionMismatch Code = "VersionMismatch"
)

// Error is a typed engine failure. Every error carries the flow and
// step it arose in; action failures additionally carry the action's
// index and kind.
type Error struct {
	Code        Code
	FlowID      string
	StepID      string
	ActionIndex int // -1 outside action evaluation
	ActionKind  string
	Message     string
	Err         error
}

func (e *Error) Error() string {
	loc := fmt.Sprintf("flow %q", e.FlowID)
	if e.StepID != "" {
		loc += fmt.Sprintf(" step %q", e.StepID)
	}
	if e.ActionIndex >= 0 {
		loc += fmt.Sprintf(" action[%d] %s", e.ActionIndex, e.ActionKind)
	}
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("%s: %s: %s", e.Code, loc, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf extracts the engine code from an error chain, or "" when the
// error is untyped.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// classify maps lower-layer errors onto the engine taxonomy, preserving
// the original in the chain.
func classify(err error, fallback Code) Code {
	switch {
	case err == nil:
		return fallback
	case errors.Is(err, context.DeadlineExceeded):
		return CodeCollaboratorTimeout
	case errors.Is(err, context.Canceled):
		return CodeCancelled
	case errors.Is(err, template.ErrUnresolved):
		return CodeUnresolvedReference
	}
	var perr *refpath.Error
	if errors.As(err, &perr) {
		return Code(perr.Code)
	}
	var terr *template.Error
	if errors.As(err, &terr) {
		return Code(terr.Code)
	}
	var eerr *Error
	if errors.As(err, &eerr) {
		return eerr.Code
	}
	return fallback
}
