// Package validator implements the Tool Validator: a schema, security-
// scan, and test-coverage pipeline that every step must pass to
// transition a dynamically authored tool from pending to active.
package validator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/sealteam/sealteam/internal/models"
	"github.com/sealteam/sealteam/internal/store"
)

// Result is the outcome of validating one tool.
type Result struct {
	Name   string
	Status models.ToolRegistryStatus
	Error  string
}

// Validator runs the validation pipeline against tools registered
// pending in a workspace's tools/registry.json.
type Validator struct {
	workspace string
}

// New returns a Validator rooted at workspace.
func New(workspace string) *Validator {
	return &Validator{workspace: workspace}
}

// ValidatePending runs the pipeline over every pending entry in the
// registry and atomically updates each entry's status. The registry
// file is the single source of truth; ScanDynamic only ever loads
// active entries.
func (v *Validator) ValidatePending(ctx context.Context) ([]Result, error) {
	entries, err := readRegistry(v.workspace)
	if err != nil {
		return nil, fmt.Errorf("validate pending: %w", err)
	}

	var results []Result
	changed := false
	for i, entry := range entries {
		if entry.Status != models.ToolPending {
			continue
		}
		result := v.validateOne(ctx, entry)
		results = append(results, result)

		entries[i].Status = result.Status
		entries[i].ValidatedAt = time.Now()
		entries[i].Error = result.Error
		changed = true

		if result.Status == models.ToolDisabled {
			if rmErr := os.RemoveAll(filepath.Join(v.workspace, entry.Path)); rmErr != nil {
				slog.Warn("validator: failed to remove disabled tool sources", "tool", entry.Name, "error", rmErr)
			}
		}
	}

	if changed {
		if err := writeRegistry(v.workspace, entries); err != nil {
			return results, fmt.Errorf("validate pending: write registry: %w", err)
		}
	}
	return results, nil
}

// validateOne runs every pipeline step in order, stopping at the first
// failure; any failure disables the tool with the concatenated error.
func (v *Validator) validateOne(ctx context.Context, entry models.ToolRegistryEntry) Result {
	def, err := v.schemaStep(entry)
	if err != nil {
		return Result{Name: entry.Name, Status: models.ToolDisabled, Error: "schema: " + err.Error()}
	}

	if err := v.securityScanStep(entry); err != nil {
		return Result{Name: entry.Name, Status: models.ToolDisabled, Error: "security: " + err.Error()}
	}

	if err := v.testCoverageStep(ctx, entry); err != nil {
		return Result{Name: entry.Name, Status: models.ToolDisabled, Error: "tests: " + err.Error()}
	}

	_ = def
	return Result{Name: entry.Name, Status: models.ToolActive}
}

func readRegistry(workspace string) ([]models.ToolRegistryEntry, error) {
	return readRegistryFile(workspace)
}

func writeRegistry(workspace string, entries []models.ToolRegistryEntry) error {
	path := registryPath(workspace)
	if err := store.AtomicWriteJSON(path, entries); err != nil {
		return fmt.Errorf("write registry: %w", err)
	}
	return nil
}
