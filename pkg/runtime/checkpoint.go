package runtime

import (
	"bytes"
	"context"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/wyrdbound/grimoire/pkg/providers"
)

// Ticket is a resume checkpoint: the paused flow's identity and
// version, the step to resume at, the full context snapshot, and the
// checkpoints of every enclosing sub-flow caller (outermost first).
// Tickets are plain data and round-trip losslessly through
// Encode/DecodeTicket.
type Ticket struct {
	FlowID      string    `yaml:"flow_id"        json:"flow_id"`
	FlowVersion int       `yaml:"flow_version"   json:"flow_version"`
	StepID      string    `yaml:"step_id"        json:"step_id"`
	Context     *Snapshot `yaml:"context"        json:"context"`
	Parents     []*Ticket `yaml:"parent_tickets,omitempty" json:"parent_tickets,omitempty"`
}

// EncodeTicket serializes a ticket to opaque bytes.
func EncodeTicket(t *Ticket) ([]byte, error) {
	data, err := yaml.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encode ticket: %w", err)
	}
	return data, nil
}

// DecodeTicket restores a ticket from EncodeTicket bytes.
func DecodeTicket(data []byte) (*Ticket, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var t Ticket
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("decode ticket: %w", err)
	}
	return &t, nil
}

// Resume restores a paused invocation from a ticket and drives it to
// completion (or to the next pause). The registry must carry every flow
// named in the ticket's call stack at the recorded version; a version
// drift is refused with VersionMismatch.
func Resume(ctx context.Context, ticket *Ticket, reg *Registry, host providers.Host) (map[string]any, *Ticket, error) {
	if ticket == nil || ticket.Context == nil {
		return nil, nil, &Error{Code: CodeVersionMismatch, ActionIndex: -1, Message: "empty ticket"}
	}
	leaf := &Ticket{
		FlowID:      ticket.FlowID,
		FlowVersion: ticket.FlowVersion,
		StepID:      ticket.StepID,
		Context:     ticket.Context,
	}
	chain := append(append([]*Ticket(nil), ticket.Parents...), leaf)
	return resumeChain(ctx, chain, reg, host, 0)
}

// resumeChain restores the outermost level of a checkpoint chain and
// runs it; the remaining chain is handed to the flow_call step recorded
// at that level, which resumes the next level instead of starting a
// fresh sub-flow.
func resumeChain(ctx context.Context, chain []*Ticket, reg *Registry, host providers.Host, depth int) (map[string]any, *Ticket, error) {
	t := chain[0]
	if reg == nil {
		return nil, nil, &Error{Code: CodeUnknownFlow, FlowID: t.FlowID, ActionIndex: -1, Message: "no flow registry configured"}
	}
	fl, ok := reg.Get(t.FlowID)
	if !ok {
		return nil, nil, &Error{Code: CodeUnknownFlow, FlowID: t.FlowID, ActionIndex: -1, Message: "flow not in registry"}
	}
	if fl.Version != t.FlowVersion {
		return nil, nil, &Error{
			Code:        CodeVersionMismatch,
			FlowID:      t.FlowID,
			StepID:      t.StepID,
			ActionIndex: -1,
			Message:     fmt.Sprintf("ticket has version %d, registry has %d", t.FlowVersion, fl.Version),
		}
	}

	eng := New(fl, host, WithRegistry(reg))
	eng.depth = depth
	eng.fc.Restore(t.Context)
	eng.resumedAt = t.StepID
	if len(chain) > 1 {
		eng.childChain = chain[1:]
	}
	return eng.runFrom(ctx, t.StepID)
}

// buildTicket checkpoints this engine at a step boundary.
func (e *Engine) buildTicket(stepID string) *Ticket {
	return &Ticket{
		FlowID:      e.flow.ID,
		FlowVersion: e.flow.Version,
		StepID:      stepID,
		Context:     e.fc.Snapshot(),
	}
}
