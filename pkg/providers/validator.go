package providers

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// BasicValidator validates the built-in type identifiers (str, int,
// bool, float, list, dict) with idempotent normalization: "3" and 3.0
// both normalize to int 3; normalizing a normalized value is identity.
// Unknown type names pass through untouched so flows can carry model
// names the host validates elsewhere.
type BasicValidator struct{}

// NewBasicValidator returns the built-in type validator.
func NewBasicValidator() BasicValidator { return BasicValidator{} }

// Validate checks value against typeName.
func (BasicValidator) Validate(typeName string, value any) (any, []string, error) {
	switch typeName {
	case "str":
		if s, ok := value.(string); ok {
			return s, nil, nil
		}
		return value, []string{fmt.Sprintf("expected str, got %T", value)}, nil
	case "int":
		switch n := value.(type) {
		case int:
			return n, nil, nil
		case int64:
			return int(n), nil, nil
		case float64:
			if n == float64(int(n)) {
				return int(n), nil, nil
			}
		case string:
			if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
				return i, nil, nil
			}
		}
		return value, []string{fmt.Sprintf("expected int, got %T (%v)", value, value)}, nil
	case "float":
		switch n := value.(type) {
		case float64:
			return n, nil, nil
		case int:
			return float64(n), nil, nil
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
				return f, nil, nil
			}
		}
		return value, []string{fmt.Sprintf("expected float, got %T (%v)", value, value)}, nil
	case "bool":
		switch b := value.(type) {
		case bool:
			return b, nil, nil
		case string:
			switch strings.ToLower(strings.TrimSpace(b)) {
			case "true":
				return true, nil, nil
			case "false":
				return false, nil, nil
			}
		}
		return value, []string{fmt.Sprintf("expected bool, got %T (%v)", value, value)}, nil
	case "list":
		if _, ok := value.([]any); ok {
			return value, nil, nil
		}
		return value, []string{fmt.Sprintf("expected list, got %T", value)}, nil
	case "dict":
		if _, ok := value.(map[string]any); ok {
			return value, nil, nil
		}
		return value, []string{fmt.Sprintf("expected dict, got %T", value)}, nil
	default:
		return value, nil, nil
	}
}

// SchemaValidator extends BasicValidator with registered model types
// backed by JSON Schema documents, one <model>.json per file.
type SchemaValidator struct {
	basic  BasicValidator
	models map[string]*sjsonschema.Schema
}

// NewSchemaValidator compiles every *.json under dir as a model schema
// named after the file.
func NewSchemaValidator(dir string) (*SchemaValidator, error) {
	v := &SchemaValidator{models: make(map[string]*sjsonschema.Schema)}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read model dir: %w", err)
	}
	c := sjsonschema.NewCompiler()
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read model %s: %w", e.Name(), err)
		}
		var doc any
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decode model %s: %w", e.Name(), err)
		}
		name := strings.TrimSuffix(e.Name(), ".json")
		if err := c.AddResource(name+".json", doc); err != nil {
			return nil, fmt.Errorf("add model %s: %w", name, err)
		}
		names = append(names, name)
	}
	for _, name := range names {
		sch, err := c.Compile(name + ".json")
		if err != nil {
			return nil, fmt.Errorf("compile model %s: %w", name, err)
		}
		v.models[name] = sch
	}
	return v, nil
}

// Validate dispatches basic types to BasicValidator and model names to
// their compiled schemas.
func (v *SchemaValidator) Validate(typeName string, value any) (any, []string, error) {
	sch, ok := v.models[typeName]
	if !ok {
		return v.basic.Validate(typeName, value)
	}
	// Round-trip through JSON so the schema sees plain documents.
	data, err := json.Marshal(value)
	if err != nil {
		return value, nil, fmt.Errorf("marshal for validation: %w", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return value, nil, fmt.Errorf("unmarshal for validation: %w", err)
	}
	if err := sch.Validate(doc); err != nil {
		return value, []string{err.Error()}, nil
	}
	return value, nil, nil
}
