package providers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// TableDoc is the YAML shape of a random table file.
type TableDoc struct {
	Name    string `yaml:"name"`
	Dice    string `yaml:"dice,omitempty"`
	Entries []any  `yaml:"entries"`
}

// YAMLTableStore serves random tables loaded from a directory of YAML
// files. Draws roll 1dN over the entry count unless the table declares
// its own dice expression, in which case the roll total (clamped to the
// table) picks the row.
type YAMLTableStore struct {
	dice   DiceRoller
	tables map[string]*TableDoc
}

// NewYAMLTableStore loads every *.yaml under dir as a table.
func NewYAMLTableStore(dir string, dice DiceRoller) (*YAMLTableStore, error) {
	store := &YAMLTableStore{dice: dice, tables: make(map[string]*TableDoc)}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read table dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read table %s: %w", e.Name(), err)
		}
		var doc TableDoc
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decode table %s: %w", e.Name(), err)
		}
		if doc.Name == "" {
			doc.Name = strings.TrimSuffix(e.Name(), ".yaml")
		}
		if len(doc.Entries) == 0 {
			return nil, fmt.Errorf("table %s has no entries", doc.Name)
		}
		store.tables[doc.Name] = &doc
	}
	return store, nil
}

// NewMemoryTableStore builds a store from in-memory tables, keyed by name.
func NewMemoryTableStore(dice DiceRoller, tables ...*TableDoc) *YAMLTableStore {
	store := &YAMLTableStore{dice: dice, tables: make(map[string]*TableDoc)}
	for _, t := range tables {
		store.tables[t.Name] = t
	}
	return store
}

// Roll draws one entry from the named table.
func (s *YAMLTableStore) Roll(ctx context.Context, table string) (TableResult, error) {
	doc, ok := s.tables[table]
	if !ok {
		return TableResult{}, fmt.Errorf("unknown table %q", table)
	}
	expr := doc.Dice
	if expr == "" {
		expr = fmt.Sprintf("1d%d", len(doc.Entries))
	}
	roll, err := s.dice.Roll(ctx, expr)
	if err != nil {
		return TableResult{}, fmt.Errorf("roll table %q: %w", table, err)
	}
	idx := roll.Total - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(doc.Entries) {
		idx = len(doc.Entries) - 1
	}
	return TableResult{Entry: doc.Entries[idx], Roll: roll}, nil
}
