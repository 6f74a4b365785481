package runtime

import (
	"context"
	"reflect"
	"testing"

	"github.com/wyrdbound/grimoire/pkg/providers"
)

const pausableFlow = `
id: pausable
name: Pausable
version: 3
outputs:
  - type: int
    id: first
  - type: int
    id: second
resume_points: [s2]
steps:
  - id: s1
    type: dice_roll
    roll: "2d6"
    actions:
      - set_value: {path: outputs.first, value: "{{ result.total }}"}
  - id: s2
    type: dice_roll
    roll: "2d6"
    actions:
      - set_value: {path: outputs.second, value: "{{ result.total }}"}
  - id: done
    type: completion
`

// Pausing at a resume point and resuming immediately
// yields the same terminal outputs as running without pausing, given a
// deterministic dice collaborator.
func TestResumeRoundTrip(t *testing.T) {
	fl := loadFlow(t, pausableFlow)
	reg := NewRegistry()
	if err := reg.Add(fl); err != nil {
		t.Fatal(err)
	}

	// Reference run without pausing.
	ref := New(fl, providers.Host{Dice: providers.NewSeededDice(99)}, WithRegistry(reg))
	want, ticket, err := ref.Run(context.Background(), nil)
	if err != nil || ticket != nil {
		t.Fatalf("reference run: outputs=%v ticket=%v err=%v", want, ticket, err)
	}

	// Paused run with the same seed.
	pause := true
	host := providers.Host{
		Dice:  providers.NewSeededDice(99),
		Pause: providers.PauseFunc(func() bool { return pause }),
	}
	eng := New(fl, host, WithRegistry(reg))
	outputs, ticket, err := eng.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("paused run: %v", err)
	}
	if outputs != nil || ticket == nil {
		t.Fatalf("expected a ticket, got outputs=%v ticket=%v", outputs, ticket)
	}
	if ticket.StepID != "s2" || ticket.FlowID != "pausable" || ticket.FlowVersion != 3 {
		t.Fatalf("ticket = %+v", ticket)
	}

	// Round-trip the ticket through its opaque byte form.
	raw, err := EncodeTicket(ticket)
	if err != nil {
		t.Fatalf("EncodeTicket: %v", err)
	}
	restored, err := DecodeTicket(raw)
	if err != nil {
		t.Fatalf("DecodeTicket: %v", err)
	}

	pause = false
	got, ticket2, err := Resume(context.Background(), restored, reg, host)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if ticket2 != nil {
		t.Fatalf("Resume paused again at %q", ticket2.StepID)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("resumed outputs = %#v, want %#v", got, want)
	}
}

func TestResumeVersionMismatch(t *testing.T) {
	fl := loadFlow(t, pausableFlow)
	reg := NewRegistry()
	if err := reg.Add(fl); err != nil {
		t.Fatal(err)
	}
	ticket := &Ticket{
		FlowID:      "pausable",
		FlowVersion: 2, // registry has version 3
		StepID:      "s2",
		Context:     NewContext().Snapshot(),
	}
	_, _, err := Resume(context.Background(), ticket, reg, providers.Host{Dice: providers.NewSeededDice(1)})
	if CodeOf(err) != CodeVersionMismatch {
		t.Fatalf("err = %v, want VersionMismatch", err)
	}
}

func TestResumeUnknownFlow(t *testing.T) {
	ticket := &Ticket{
		FlowID:      "gone",
		FlowVersion: 1,
		StepID:      "s",
		Context:     NewContext().Snapshot(),
	}
	_, _, err := Resume(context.Background(), ticket, NewRegistry(), providers.Host{})
	if CodeOf(err) != CodeUnknownFlow {
		t.Fatalf("err = %v, want UnknownFlow", err)
	}
}

// A pause inside a sub-flow must checkpoint the whole call stack and
// resume through the parent's flow_call step.
func TestSubFlowPauseAndResume(t *testing.T) {
	child := `
id: paused-child
name: Paused Child
outputs:
  - type: int
    id: roll
resume_points: [inner]
steps:
  - id: warmup
    type: dice_roll
    roll: "1d6"
  - id: inner
    type: dice_roll
    roll: "1d6"
    actions:
      - set_value: {path: outputs.roll, value: "{{ result.total }}"}
`
	parent := `
id: pausing-parent
name: Pausing Parent
outputs:
  - type: int
    id: got
steps:
  - id: call
    type: flow_call
    flow: paused-child
    actions:
      - set_value: {path: outputs.got, value: "{{ result.roll }}"}
`
	reg := NewRegistry()
	if err := reg.Add(loadFlow(t, child)); err != nil {
		t.Fatal(err)
	}
	if err := reg.Add(loadFlow(t, parent)); err != nil {
		t.Fatal(err)
	}

	pause := true
	host := providers.Host{
		Dice:  providers.NewSeededDice(5),
		Pause: providers.PauseFunc(func() bool { return pause }),
	}
	parentFlow, _ := reg.Get("pausing-parent")
	eng := New(parentFlow, host, WithRegistry(reg))
	_, ticket, err := eng.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ticket == nil {
		t.Fatal("expected a ticket from the paused sub-flow")
	}
	if ticket.FlowID != "paused-child" || ticket.StepID != "inner" {
		t.Fatalf("leaf ticket = %s/%s", ticket.FlowID, ticket.StepID)
	}
	if len(ticket.Parents) != 1 || ticket.Parents[0].FlowID != "pausing-parent" || ticket.Parents[0].StepID != "call" {
		t.Fatalf("parent tickets = %+v", ticket.Parents)
	}

	pause = false
	outputs, ticket2, err := Resume(context.Background(), ticket, reg, host)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if ticket2 != nil {
		t.Fatal("Resume paused again")
	}
	got, ok := outputs["got"].(int)
	if !ok || got < 1 || got > 6 {
		t.Fatalf("outputs.got = %v (%T)", outputs["got"], outputs["got"])
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	fc := NewContext()
	fc.SetInput("who", "Rin")
	if err := fc.Set("outputs.character.hp", 9); err != nil {
		t.Fatal(err)
	}
	if err := fc.Set("variables.tags", []any{"rogue", "human"}); err != nil {
		t.Fatal(err)
	}
	fc.BindResult(map[string]any{"total": 4})

	snap := fc.Snapshot()
	// Mutating the context after the snapshot must not affect it.
	if err := fc.Set("outputs.character.hp", 1); err != nil {
		t.Fatal(err)
	}

	restored := NewContext()
	restored.Restore(snap)
	hp, err := restored.Get("outputs.character.hp")
	if err != nil || hp != 9 {
		t.Fatalf("restored hp = %v, %v", hp, err)
	}
	if v, _ := restored.Get("inputs.who"); v != "Rin" {
		t.Errorf("restored inputs.who = %v", v)
	}
	if r, ok := restored.Result(); !ok || !reflect.DeepEqual(r, map[string]any{"total": 4}) {
		t.Errorf("restored result = %v, %v", r, ok)
	}
}
