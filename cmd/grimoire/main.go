package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/wyrdbound/grimoire/pkg/providers"
	"github.com/wyrdbound/grimoire/pkg/runtime"
	"github.com/wyrdbound/grimoire/pkg/schema"
)

// Version is set at build time via ldflags.
var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "grimoire",
	Short: "Declarative flow engine for tabletop procedures",
	Long:  "grimoire — an engine that executes declarative flow documents: dice rolls, table draws, player choices, name generation, and sub-flows, with pause/resume.",
}

// --- validate ---

var validateCmd = &cobra.Command{
	Use:   "validate [flow.yaml]",
	Short: "Validate a flow YAML file against the schema",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	fl, warnings, errs := schema.ValidateFile(args[0])
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}
	if len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "✗ %s\n", e.Error())
		}
		return fmt.Errorf("%d validation error(s)", len(errs))
	}
	fmt.Printf("✓ %s is valid (%d steps)\n", fl.Name, len(fl.Steps))
	return nil
}

// --- run / resume flags ---

var (
	flagInputs   []string
	flagSeed     int64
	flagFlowsDir string
	flagTrace    string
	flagScripted []string
)

// buildHost wires the reference collaborators for a CLI run. Tables and
// model schemas are picked up from tables/ and models/ next to the flow
// when those directories exist.
func buildHost(baseDir string) (providers.Host, func(), error) {
	var ui providers.UserInterface
	if len(flagScripted) > 0 {
		ui = providers.NewScriptedUI(flagScripted, flagScripted)
	} else {
		ui = providers.NewTerminalUI()
	}

	host := providers.Host{
		Dice:  providers.NewSeededDice(flagSeed),
		Names: providers.NewSyllableNames(flagSeed),
		LLM:   providers.EchoLLM{},
		UI:    ui,
	}

	tablesDir := filepath.Join(baseDir, "tables")
	if info, err := os.Stat(tablesDir); err == nil && info.IsDir() {
		store, err := providers.NewYAMLTableStore(tablesDir, host.Dice)
		if err != nil {
			return host, nil, fmt.Errorf("load tables: %w", err)
		}
		host.Tables = store
	}
	modelsDir := filepath.Join(baseDir, "models")
	if info, err := os.Stat(modelsDir); err == nil && info.IsDir() {
		validator, err := providers.NewSchemaValidator(modelsDir)
		if err != nil {
			return host, nil, fmt.Errorf("load models: %w", err)
		}
		host.Validator = validator
	}

	cleanup := func() {}
	if flagTrace != "" {
		trace, err := runtime.NewTraceWriter(flagTrace)
		if err != nil {
			return host, nil, err
		}
		host.Events = trace
		cleanup = func() { trace.Close() }
	}
	return host, cleanup, nil
}

func parseInputs(pairs []string) (map[string]any, error) {
	inputs := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("input %q is not key=value", pair)
		}
		inputs[k] = v
	}
	return inputs, nil
}

// signalContext cancels on interrupt so in-flight collaborator calls
// stop and the engine reports Cancelled.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func finishRun(flowID string, outputs map[string]any, ticket *runtime.Ticket, err error) error {
	if err != nil {
		return err
	}
	if ticket != nil {
		data, err := runtime.EncodeTicket(ticket)
		if err != nil {
			return err
		}
		name := fmt.Sprintf("%s-%s.ticket", flowID, time.Now().Format("20060102T150405"))
		if err := os.WriteFile(name, data, 0644); err != nil {
			return fmt.Errorf("write ticket: %w", err)
		}
		fmt.Printf("⏸ flow paused at step %q\n", ticket.StepID)
		fmt.Printf("  Resume with: grimoire resume --flows <flows dir> %s\n", name)
		return nil
	}
	data, err := json.MarshalIndent(outputs, "", "  ")
	if err != nil {
		return err
	}
	fmt.Printf("✓ flow completed\n%s\n", data)
	return nil
}

// --- run ---

var runCmd = &cobra.Command{
	Use:   "run [flow.yaml]",
	Short: "Execute a flow",
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	path := args[0]
	fl, warnings, errs := schema.ValidateFile(path)
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid flow: %v", errs[0])
	}

	flowsDir := flagFlowsDir
	if flowsDir == "" {
		flowsDir = filepath.Dir(path)
	}
	reg, _, err := runtime.LoadDir(flowsDir)
	if err != nil {
		return err
	}

	inputs, err := parseInputs(flagInputs)
	if err != nil {
		return err
	}

	host, cleanup, err := buildHost(filepath.Dir(path))
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := signalContext()
	defer cancel()

	eng := runtime.New(fl, host, runtime.WithRegistry(reg))
	outputs, ticket, err := eng.Run(ctx, inputs)
	return finishRun(fl.ID, outputs, ticket, err)
}

// --- resume ---

var resumeCmd = &cobra.Command{
	Use:   "resume [run.ticket]",
	Short: "Resume a paused flow from a ticket file",
	Args:  cobra.ExactArgs(1),
	RunE:  runResume,
}

func runResume(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read ticket: %w", err)
	}
	ticket, err := runtime.DecodeTicket(data)
	if err != nil {
		return err
	}

	if flagFlowsDir == "" {
		return fmt.Errorf("resume requires --flows pointing at the flow directory")
	}
	reg, _, err := runtime.LoadDir(flagFlowsDir)
	if err != nil {
		return err
	}

	host, cleanup, err := buildHost(flagFlowsDir)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := signalContext()
	defer cancel()

	outputs, next, err := runtime.Resume(ctx, ticket, reg, host)
	return finishRun(ticket.FlowID, outputs, next, err)
}

// --- schema ---

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Export the flow JSON Schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := schema.GenerateJSONSchema()
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	},
}

// --- list ---

var listCmd = &cobra.Command{
	Use:   "list [dir]",
	Short: "List the flows in a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, warnings, err := runtime.LoadDir(args[0])
		if err != nil {
			return err
		}
		for _, w := range warnings {
			fmt.Fprintf(os.Stderr, "warning: %s\n", w)
		}
		for _, id := range reg.IDs() {
			fl, _ := reg.Get(id)
			fmt.Printf("%-24s %s (%d steps)\n", id, fl.Name, len(fl.Steps))
		}
		return nil
	},
}

// --- show ---

var showCmd = &cobra.Command{
	Use:   "show [flow.yaml]",
	Short: "Render a flow summary as markdown",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func runShow(cmd *cobra.Command, args []string) error {
	fl, _, errs := schema.ValidateFile(args[0])
	if len(errs) > 0 {
		return fmt.Errorf("invalid flow: %v", errs[0])
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", fl.Name)
	if fl.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", fl.Description)
	}
	fmt.Fprintf(&b, "`%s` v%d — %d steps\n\n", fl.ID, fl.Version, len(fl.Steps))
	if len(fl.Inputs) > 0 {
		b.WriteString("## Inputs\n\n")
		for _, in := range fl.Inputs {
			req := ""
			if in.Required {
				req = " (required)"
			}
			fmt.Fprintf(&b, "- `%s` %s%s\n", in.ID, in.Type, req)
		}
		b.WriteString("\n")
	}
	b.WriteString("## Steps\n\n")
	for _, s := range fl.Steps {
		name := s.Name
		if name == "" {
			name = s.ID
		}
		fmt.Fprintf(&b, "1. **%s** — `%s`", name, s.Type)
		if s.Condition != "" {
			fmt.Fprintf(&b, " _(when %s)_", s.Condition)
		}
		b.WriteString("\n")
	}

	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	if err != nil {
		fmt.Print(b.String())
		return nil
	}
	out, err := r.Render(b.String())
	if err != nil {
		fmt.Print(b.String())
		return nil
	}
	fmt.Print(out)
	return nil
}

func init() {
	runCmd.Flags().StringArrayVarP(&flagInputs, "input", "i", nil, "flow input as key=value (repeatable)")
	runCmd.Flags().Int64Var(&flagSeed, "seed", time.Now().UnixNano()%100000, "dice/name seed")
	runCmd.Flags().StringVar(&flagFlowsDir, "flows", "", "directory of flows for sub-flow resolution (default: the flow's directory)")
	runCmd.Flags().StringVar(&flagTrace, "trace", "", "write a JSONL event trace to this file")
	runCmd.Flags().StringArrayVar(&flagScripted, "answer", nil, "scripted answer for prompts (repeatable; disables interactive UI)")

	resumeCmd.Flags().StringVar(&flagFlowsDir, "flows", "", "directory of flows (must match the paused run)")
	resumeCmd.Flags().Int64Var(&flagSeed, "seed", 1, "dice/name seed")
	resumeCmd.Flags().StringVar(&flagTrace, "trace", "", "write a JSONL event trace to this file")
	resumeCmd.Flags().StringArrayVar(&flagScripted, "answer", nil, "scripted answer for prompts (repeatable)")

	rootCmd.AddCommand(validateCmd, runCmd, resumeCmd, schemaCmd, listCmd, showCmd)
	rootCmd.Version = version
}
