package validator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sealteam/sealteam/internal/models"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// toolDefinition mirrors the sidecar definition.json next to a dynamic
// tool's source: since Go tools are compiled rather than dynamically
// required, this file carries the "module exports a definition" half
// of the import-and-schema step.
type toolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// schemaStep loads definition.json next to the tool's source and
// checks that name and description are non-empty and input_schema
// compiles as a legal JSON Schema document, not just "an object".
func (v *Validator) schemaStep(entry models.ToolRegistryEntry) (*toolDefinition, error) {
	defPath := filepath.Join(v.workspace, entry.Path, "definition.json")
	data, err := os.ReadFile(defPath)
	if err != nil {
		return nil, fmt.Errorf("read definition.json: %w", err)
	}

	var def toolDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("decode definition.json: %w", err)
	}
	if def.Name == "" {
		return nil, fmt.Errorf("definition.json: name is empty")
	}
	if def.Description == "" {
		return nil, fmt.Errorf("definition.json: description is empty")
	}
	if len(def.InputSchema) == 0 {
		return nil, fmt.Errorf("definition.json: input_schema is missing")
	}
	if _, err := jsonschema.CompileString(entry.Name+".input_schema.json", string(def.InputSchema)); err != nil {
		return nil, fmt.Errorf("input_schema is not a legal JSON Schema document: %w", err)
	}

	sourcePath := filepath.Join(v.workspace, entry.Path, "tool.go")
	if _, err := os.Stat(sourcePath); err != nil {
		return nil, fmt.Errorf("tool source tool.go missing: %w", err)
	}
	testPath := filepath.Join(v.workspace, entry.Path, "tool_test.go")
	if _, err := os.Stat(testPath); err != nil {
		return nil, fmt.Errorf("companion test tool_test.go missing: %w", err)
	}

	return &def, nil
}
