package toolhost

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sealteam/sealteam/internal/models"
	"github.com/sealteam/sealteam/internal/store"
	"github.com/sealteam/sealteam/internal/validator"
)

// DynamicToolDir is the workspace-relative directory dynamic tool
// source, tests, and sidecar definitions are written into.
const DynamicToolDir = "tools/dynamic"

// createToolHandler writes a dynamic tool's Go source, companion test
// file, and sidecar definition.json, then registers it pending in
// tools/registry.json for the Tool Validator to pick up. Since Go tools
// are compiled rather than dynamically required, the source is not
// loaded here; ScanDynamic only loads entries the validator has already
// marked active.
func createToolHandler(deps BuiltinDeps) Handler {
	return func(ctx context.Context, input map[string]any) (string, error) {
		name := stringField(input, "name")
		if name == "" {
			return "", fmt.Errorf("create-tool: name is required")
		}
		source := stringField(input, "source")
		test := stringField(input, "test")
		if source == "" || test == "" {
			return "", fmt.Errorf("create-tool: source and test are required")
		}
		definition, _ := input["definition"].(map[string]any)
		if definition == nil {
			return "", fmt.Errorf("create-tool: definition is required")
		}

		dir := filepath.Join(deps.Workspace, DynamicToolDir, name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create-tool: mkdir: %w", err)
		}

		if err := os.WriteFile(filepath.Join(dir, "tool.go"), []byte(source), 0o644); err != nil {
			return "", fmt.Errorf("create-tool: write source: %w", err)
		}
		if err := os.WriteFile(filepath.Join(dir, "tool_test.go"), []byte(test), 0o644); err != nil {
			return "", fmt.Errorf("create-tool: write test: %w", err)
		}
		// Each dynamic tool is its own small module so the validator's
		// test-coverage step and the eventual `go build -buildmode=plugin`
		// can run it in isolation, independent of the agent workspace
		// containing any other go.mod.
		goMod := fmt.Sprintf("module dynamictool/%s\n\ngo 1.24.0\n", name)
		if err := os.WriteFile(filepath.Join(dir, "go.mod"), []byte(goMod), 0o644); err != nil {
			return "", fmt.Errorf("create-tool: write go.mod: %w", err)
		}
		defData, err := json.MarshalIndent(definition, "", "  ")
		if err != nil {
			return "", fmt.Errorf("create-tool: encode definition: %w", err)
		}
		if err := os.WriteFile(filepath.Join(dir, "definition.json"), defData, 0o644); err != nil {
			return "", fmt.Errorf("create-tool: write definition: %w", err)
		}

		if err := appendPendingRegistryEntry(deps.Workspace, name, filepath.Join(DynamicToolDir, name)); err != nil {
			return "", fmt.Errorf("create-tool: register: %w", err)
		}

		// The validation outcome is the tool-creation result the authoring
		// agent sees, so the pipeline runs synchronously here rather than
		// waiting for an out-of-band pass.
		results, err := validator.New(deps.Workspace).ValidatePending(ctx)
		if err != nil {
			return "", fmt.Errorf("create-tool: validate: %w", err)
		}
		for _, r := range results {
			if r.Name != name {
				continue
			}
			if r.Status == models.ToolActive {
				return fmt.Sprintf("tool %q validated and activated", name), nil
			}
			return "", fmt.Errorf("create-tool: validation failed, tool disabled: %s", r.Error)
		}
		return fmt.Sprintf("tool %q authored and queued for validation", name), nil
	}
}

func appendPendingRegistryEntry(workspace, name, relPath string) error {
	entries, err := readRegistry(workspace)
	if err != nil {
		return err
	}
	for i, e := range entries {
		if e.Name == name {
			entries[i].Status = models.ToolPending
			entries[i].Path = relPath
			entries[i].ValidatedAt = time.Time{}
			entries[i].Error = ""
			return writeRegistry(workspace, entries)
		}
	}
	entries = append(entries, models.ToolRegistryEntry{
		Name:   name,
		Path:   relPath,
		Status: models.ToolPending,
	})
	return writeRegistry(workspace, entries)
}

func writeRegistry(workspace string, entries []models.ToolRegistryEntry) error {
	path := filepath.Join(workspace, RegistryFile)
	if err := store.AtomicWriteJSON(path, entries); err != nil {
		return fmt.Errorf("write registry: %w", err)
	}
	return nil
}
