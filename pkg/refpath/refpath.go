// Package refpath parses and evaluates dotted reference paths against a
// tree of maps, lists, and scalars. Paths look like
// "outputs.character.abilities.str.bonus"; numeric-looking segments
// address list indices when the node they land on is a list.
package refpath

import (
	"fmt"
	"strconv"
	"strings"
)

// Roots that a context path may be anchored at.
const (
	RootInputs    = "inputs"
	RootOutputs   = "outputs"
	RootVariables = "variables"
)

// Error codes surfaced by path operations.
const (
	CodePathNotFound = "PathNotFound"
	CodeTypeConflict = "TypeConflict"
	CodeReadOnlyRoot = "ReadOnlyRoot"
)

// Error is a typed path-resolution failure.
type Error struct {
	Code    string
	Path    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s at %q: %s", e.Code, e.Path, e.Message)
}

func newError(code, path, format string, args ...any) *Error {
	return &Error{Code: code, Path: path, Message: fmt.Sprintf(format, args...)}
}

// Path is a parsed dotted reference.
type Path struct {
	raw  string
	segs []string
}

// Parse splits a dotted reference into segments. Every segment must be
// non-empty; the raw string is preserved for error reporting.
func Parse(raw string) (Path, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Path{}, newError(CodePathNotFound, raw, "empty path")
	}
	segs := strings.Split(trimmed, ".")
	for _, s := range segs {
		if s == "" {
			return Path{}, newError(CodePathNotFound, raw, "empty path segment")
		}
	}
	return Path{raw: trimmed, segs: segs}, nil
}

// MustParse is Parse for statically known paths; it panics on error.
func MustParse(raw string) Path {
	p, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the raw dotted form.
func (p Path) String() string { return p.raw }

// Root returns the first segment.
func (p Path) Root() string { return p.segs[0] }

// Segments returns all segments, root included.
func (p Path) Segments() []string { return p.segs }

// Rest returns the segments after the root.
func (p Path) Rest() []string { return p.segs[1:] }

// listIndex reports whether seg addresses an index of list and returns it.
func listIndex(seg string, list []any) (int, bool) {
	i, err := strconv.Atoi(seg)
	if err != nil || i < 0 {
		return 0, false
	}
	return i, i < len(list)
}

// Read walks the tree and returns the value at the path.
func Read(tree map[string]any, p Path) (any, error) {
	var node any = tree
	for i, seg := range p.segs {
		switch n := node.(type) {
		case map[string]any:
			v, ok := n[seg]
			if !ok {
				return nil, newError(CodePathNotFound, p.raw, "key %q not found", seg)
			}
			node = v
		case []any:
			idx, ok := listIndex(seg, n)
			if !ok {
				if _, err := strconv.Atoi(seg); err == nil {
					return nil, newError(CodePathNotFound, p.raw, "list index %s out of range (len %d)", seg, len(n))
				}
				return nil, newError(CodeTypeConflict, p.raw, "segment %q does not address a list index", seg)
			}
			node = n[idx]
		default:
			return nil, newError(CodeTypeConflict, p.raw, "segment %q traverses a scalar (%T)", p.segs[i], node)
		}
	}
	return node, nil
}

// Write stores value at the path, creating missing intermediate mapping
// nodes along the way. Lists are never grown implicitly: a numeric
// segment may only address an existing slot of an existing list.
func Write(tree map[string]any, p Path, value any) error {
	parent, err := writableParent(tree, p)
	if err != nil {
		return err
	}
	last := p.segs[len(p.segs)-1]
	switch n := parent.(type) {
	case map[string]any:
		n[last] = value
	case []any:
		idx, ok := listIndex(last, n)
		if !ok {
			return newError(CodeTypeConflict, p.raw, "cannot write list index %q (len %d)", last, len(n))
		}
		n[idx] = value
	default:
		return newError(CodeTypeConflict, p.raw, "parent of %q is a scalar (%T)", last, parent)
	}
	return nil
}

// writableParent walks (and creates) the tree down to the container that
// holds the final segment.
func writableParent(tree map[string]any, p Path) (any, error) {
	var node any = tree
	for _, seg := range p.segs[:len(p.segs)-1] {
		switch n := node.(type) {
		case map[string]any:
			child, ok := n[seg]
			if !ok || child == nil {
				// Creation-on-write always builds mapping nodes.
				m := make(map[string]any)
				n[seg] = m
				node = m
				continue
			}
			switch child.(type) {
			case map[string]any, []any:
				node = child
			default:
				return nil, newError(CodeTypeConflict, p.raw, "segment %q is blocked by a scalar (%T)", seg, child)
			}
		case []any:
			idx, ok := listIndex(seg, n)
			if !ok {
				return nil, newError(CodeTypeConflict, p.raw, "cannot traverse list with segment %q (len %d)", seg, len(n))
			}
			child := n[idx]
			switch child.(type) {
			case map[string]any, []any:
				node = child
			default:
				if child == nil {
					m := make(map[string]any)
					n[idx] = m
					node = m
					continue
				}
				return nil, newError(CodeTypeConflict, p.raw, "list slot %q is blocked by a scalar (%T)", seg, child)
			}
		default:
			return nil, newError(CodeTypeConflict, p.raw, "segment %q traverses a scalar (%T)", seg, node)
		}
	}
	return node, nil
}

// Swap atomically exchanges the values at two existing paths. Both sides
// must resolve before either is written.
func Swap(tree map[string]any, p1, p2 Path) error {
	v1, err := Read(tree, p1)
	if err != nil {
		return err
	}
	v2, err := Read(tree, p2)
	if err != nil {
		return err
	}
	if err := Write(tree, p1, v2); err != nil {
		return err
	}
	return Write(tree, p2, v1)
}
