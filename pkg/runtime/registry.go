package runtime

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/wyrdbound/grimoire/pkg/schema"
)

// Registry resolves flow ids for sub-flow invocation. Flows are loaded
// once and shared read-only.
type Registry struct {
	flows map[string]*schema.Flow
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{flows: make(map[string]*schema.Flow)}
}

// Add registers a flow. Re-registering an id is an error; two flows
// with the same id cannot both be call targets.
func (r *Registry) Add(fl *schema.Flow) error {
	if _, ok := r.flows[fl.ID]; ok {
		return fmt.Errorf("flow %q already registered", fl.ID)
	}
	r.flows[fl.ID] = fl
	return nil
}

// Get looks up a flow by id.
func (r *Registry) Get(id string) (*schema.Flow, bool) {
	fl, ok := r.flows[id]
	return fl, ok
}

// IDs returns the registered flow ids, sorted.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.flows))
	for id := range r.flows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LoadDir loads and validates every *.yaml flow under dir. Load
// warnings are returned alongside the registry; validation errors on
// any file abort the load.
func LoadDir(dir string) (*Registry, []string, error) {
	r := NewRegistry()
	var warnings []string
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("read flow dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		fl, w, errs := schema.ValidateFile(path)
		for _, msg := range w {
			warnings = append(warnings, fmt.Sprintf("%s: %s", e.Name(), msg))
		}
		if len(errs) > 0 {
			return nil, warnings, fmt.Errorf("invalid flow %s: %v", e.Name(), errs[0])
		}
		if err := r.Add(fl); err != nil {
			return nil, warnings, fmt.Errorf("load %s: %w", e.Name(), err)
		}
	}
	return r, warnings, nil
}
