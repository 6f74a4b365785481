package runtime

import (
	"context"

	"github.com/wyrdbound/grimoire/pkg/providers"
)

// MaxCallDepth bounds sub-flow recursion. Cycles between flows are the
// author's responsibility; this guard turns a runaway into a typed
// error instead of a stack blowout.
const MaxCallDepth = 16

// callFlow invokes a sub-flow: look up the target, render the input
// values against the caller's scope, run the target on a fresh isolated
// context, and return its projected outputs. The sub-flow never sees
// the caller's context; data crosses only through the declared inputs
// and outputs.
//
// A non-nil resume chain resumes a previously paused invocation instead
// of starting fresh. allowPause=false disables pausing in the child
// (used by action-level flow_call, which has no checkpointable step
// boundary in the parent).
func (e *Engine) callFlow(ctx context.Context, sc *scope, stepID, flowID string, inputs map[string]any, resume []*Ticket, allowPause bool) (map[string]any, *Ticket, error) {
	if e.registry == nil {
		return nil, nil, e.stepError(CodeUnknownFlow, stepID, nil, "no flow registry configured")
	}
	target, ok := e.registry.Get(flowID)
	if !ok {
		return nil, nil, e.stepError(CodeUnknownFlow, stepID, nil, "unknown flow %q", flowID)
	}
	if e.depth+1 > MaxCallDepth {
		return nil, nil, e.stepError(CodeCallDepthExceeded, stepID, nil,
			"flow call depth %d exceeds maximum %d", e.depth+1, MaxCallDepth)
	}

	host := e.host
	if !allowPause {
		host.Pause = providers.NeverPause
	}

	if resume != nil {
		outputs, ticket, err := resumeChain(ctx, resume, e.registry, host, e.depth+1)
		return outputs, e.wrapChildTicket(stepID, ticket), err
	}

	rendered := make(map[string]any, len(inputs))
	for k, v := range inputs {
		if s, ok := v.(string); ok {
			value, err := e.tmpl.Eval(s, sc)
			if err != nil {
				return nil, nil, e.stepError(classify(err, CodeTemplateError), stepID, err, "render input %q", k)
			}
			rendered[k] = value
			continue
		}
		rendered[k] = deepCopy(v)
	}

	child := New(target, host, WithRegistry(e.registry))
	child.depth = e.depth + 1
	outputs, ticket, err := child.Run(ctx, rendered)
	return outputs, e.wrapChildTicket(stepID, ticket), err
}

// wrapChildTicket prepends this engine's own checkpoint to a paused
// child's ticket so the full call stack round-trips.
func (e *Engine) wrapChildTicket(stepID string, ticket *Ticket) *Ticket {
	if ticket == nil {
		return nil
	}
	level := &Ticket{
		FlowID:      e.flow.ID,
		FlowVersion: e.flow.Version,
		StepID:      stepID,
		Context:     e.fc.Snapshot(),
	}
	ticket.Parents = append([]*Ticket{level}, ticket.Parents...)
	return ticket
}
