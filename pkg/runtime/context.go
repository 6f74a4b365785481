package runtime

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/wyrdbound/grimoire/pkg/refpath"
	"github.com/wyrdbound/grimoire/pkg/template"
)

// Context is the mutable state of a single flow invocation: inputs
// (read-only after population), outputs, variables, and the transient
// result/item bindings. A Context is owned by exactly one interpreter;
// parallel step units funnel their writes through its lock.
type Context struct {
	mu   sync.Mutex
	tree map[string]any

	result    any
	hasResult bool
	item      any
	hasItem   bool

	// writes tracks path ownership while a parallel section is active
	// so overlapping writes from sibling units are diagnosed.
	writes map[string]int
}

// NewContext returns an empty context.
func NewContext() *Context {
	return &Context{tree: map[string]any{
		refpath.RootInputs:    map[string]any{},
		refpath.RootOutputs:   map[string]any{},
		refpath.RootVariables: map[string]any{},
	}}
}

// SetInput stores a caller-supplied input before execution begins.
func (c *Context) SetInput(id string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tree[refpath.RootInputs].(map[string]any)[id] = deepCopy(value)
}

// Get reads the value at a context path.
func (c *Context) Get(path string) (any, error) {
	p, err := refpath.Parse(path)
	if err != nil {
		return nil, err
	}
	if err := checkRoot(p); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return refpath.Read(c.tree, p)
}

// Set writes the value at a context path, creating intermediate
// mappings. Writes to inputs are rejected.
func (c *Context) Set(path string, value any) error {
	return c.setAsUnit(-1, path, value)
}

// setAsUnit is Set with a parallel-unit owner for conflict tracking.
func (c *Context) setAsUnit(unit int, path string, value any) error {
	p, err := refpath.Parse(path)
	if err != nil {
		return err
	}
	if err := checkRoot(p); err != nil {
		return err
	}
	if p.Root() == refpath.RootInputs {
		return &refpath.Error{Code: refpath.CodeReadOnlyRoot, Path: path, Message: "inputs are read-only"}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writes != nil && unit >= 0 {
		if owner, ok := c.writes[p.String()]; ok && owner != unit {
			return &Error{
				Code:        CodeConcurrentWriteConflict,
				ActionIndex: -1,
				Message:     fmt.Sprintf("parallel units %d and %d both write %q", owner, unit, path),
			}
		}
		c.writes[p.String()] = unit
	}
	return refpath.Write(c.tree, p, value)
}

// Swap atomically exchanges the values at two existing paths.
func (c *Context) Swap(path1, path2 string) error {
	p1, err := refpath.Parse(path1)
	if err != nil {
		return err
	}
	p2, err := refpath.Parse(path2)
	if err != nil {
		return err
	}
	for _, p := range []refpath.Path{p1, p2} {
		if err := checkRoot(p); err != nil {
			return err
		}
		if p.Root() == refpath.RootInputs {
			return &refpath.Error{Code: refpath.CodeReadOnlyRoot, Path: p.String(), Message: "inputs are read-only"}
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return refpath.Swap(c.tree, p1, p2)
}

// beginParallel starts conflict tracking for a parallel section.
func (c *Context) beginParallel() {
	c.mu.Lock()
	c.writes = make(map[string]int)
	c.mu.Unlock()
}

// endParallel stops conflict tracking.
func (c *Context) endParallel() {
	c.mu.Lock()
	c.writes = nil
	c.mu.Unlock()
}

// BindResult re-assigns the step result binding.
func (c *Context) BindResult(v any) {
	c.mu.Lock()
	c.result, c.hasResult = v, true
	c.mu.Unlock()
}

// Result returns the current result binding.
func (c *Context) Result() (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result, c.hasResult
}

// BindItem sets the iteration binding inside a dice_sequence.
func (c *Context) BindItem(v any) {
	c.mu.Lock()
	c.item, c.hasItem = v, true
	c.mu.Unlock()
}

// ClearItem unsets the iteration binding.
func (c *Context) ClearItem() {
	c.mu.Lock()
	c.item, c.hasItem = nil, false
	c.mu.Unlock()
}

// Outputs returns a deep copy of the outputs subtree.
func (c *Context) Outputs() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return deepCopy(c.tree[refpath.RootOutputs]).(map[string]any)
}

// Snapshot is a deep, value-level copy of a context, sufficient to
// resume execution. Serialized inside resume tickets.
type Snapshot struct {
	Inputs    map[string]any `yaml:"inputs"            json:"inputs"`
	Outputs   map[string]any `yaml:"outputs"           json:"outputs"`
	Variables map[string]any `yaml:"variables"         json:"variables"`
	Result    any            `yaml:"result,omitempty"  json:"result,omitempty"`
	HasResult bool           `yaml:"has_result,omitempty" json:"has_result,omitempty"`
	Item      any            `yaml:"item,omitempty"    json:"item,omitempty"`
	HasItem   bool           `yaml:"has_item,omitempty" json:"has_item,omitempty"`
}

// Snapshot captures the full context state.
func (c *Context) Snapshot() *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &Snapshot{
		Inputs:    deepCopy(c.tree[refpath.RootInputs]).(map[string]any),
		Outputs:   deepCopy(c.tree[refpath.RootOutputs]).(map[string]any),
		Variables: deepCopy(c.tree[refpath.RootVariables]).(map[string]any),
		Result:    deepCopy(c.result),
		HasResult: c.hasResult,
		Item:      deepCopy(c.item),
		HasItem:   c.hasItem,
	}
}

// Restore replaces the context state with a snapshot's.
func (c *Context) Restore(s *Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tree = map[string]any{
		refpath.RootInputs:    deepCopy(orEmpty(s.Inputs)).(map[string]any),
		refpath.RootOutputs:   deepCopy(orEmpty(s.Outputs)).(map[string]any),
		refpath.RootVariables: deepCopy(orEmpty(s.Variables)).(map[string]any),
	}
	c.result, c.hasResult = deepCopy(s.Result), s.HasResult
	c.item, c.hasItem = deepCopy(s.Item), s.HasItem
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// Resolve implements template.Context. Structured roots (inputs,
// outputs, variables, result, item) resolve into their trees; bare
// names fall back to variables then inputs, so short references in
// conditions keep working.
func (c *Context) Resolve(ref string) (any, error) {
	p, err := refpath.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ref, template.ErrUnresolved)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch p.Root() {
	case refpath.RootInputs, refpath.RootOutputs, refpath.RootVariables:
		v, err := refpath.Read(c.tree, p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", ref, template.ErrUnresolved)
		}
		return v, nil
	case "result":
		if !c.hasResult {
			return nil, fmt.Errorf("result is not bound: %w", template.ErrUnresolved)
		}
		return descend(c.result, p.Rest(), ref)
	case "item":
		if !c.hasItem {
			return nil, fmt.Errorf("item is not bound: %w", template.ErrUnresolved)
		}
		return descend(c.item, p.Rest(), ref)
	}
	for _, root := range []string{refpath.RootVariables, refpath.RootInputs} {
		full := refpath.MustParse(root + "." + ref)
		if v, err := refpath.Read(c.tree, full); err == nil {
			return v, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", ref, template.ErrUnresolved)
}

// flatten merges variables and inputs (variables winning) with the
// transient bindings into one map for expression-language conditions.
func (c *Context) flatten() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	env := make(map[string]any)
	for k, v := range c.tree[refpath.RootInputs].(map[string]any) {
		env[k] = v
	}
	for k, v := range c.tree[refpath.RootVariables].(map[string]any) {
		env[k] = v
	}
	env[refpath.RootInputs] = c.tree[refpath.RootInputs]
	env[refpath.RootOutputs] = c.tree[refpath.RootOutputs]
	env[refpath.RootVariables] = c.tree[refpath.RootVariables]
	if c.hasResult {
		env["result"] = c.result
	}
	if c.hasItem {
		env["item"] = c.item
	}
	return env
}

func checkRoot(p refpath.Path) error {
	switch p.Root() {
	case refpath.RootInputs, refpath.RootOutputs, refpath.RootVariables:
		return nil
	}
	return &refpath.Error{
		Code:    refpath.CodePathNotFound,
		Path:    p.String(),
		Message: "path must be rooted at inputs, outputs, or variables",
	}
}

// descend walks the remaining segments of a reference below a bound
// value.
func descend(v any, segs []string, ref string) (any, error) {
	for _, seg := range segs {
		switch n := v.(type) {
		case map[string]any:
			child, ok := n[seg]
			if !ok {
				return nil, fmt.Errorf("%s: %w", ref, template.ErrUnresolved)
			}
			v = child
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(n) {
				return nil, fmt.Errorf("%s: %w", ref, template.ErrUnresolved)
			}
			v = n[idx]
		default:
			return nil, fmt.Errorf("%s: %w", ref, template.ErrUnresolved)
		}
	}
	return v, nil
}

// deepCopy clones the value trees stored in a context. Flow values are
// trees of maps, lists, and scalars by construction.
func deepCopy(v any) any {
	switch n := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(n))
		for k, val := range n {
			out[k] = deepCopy(val)
		}
		return out
	case []any:
		out := make([]any, len(n))
		for i, val := range n {
			out[i] = deepCopy(val)
		}
		return out
	default:
		return v
	}
}
