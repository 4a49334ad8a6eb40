package validator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sealteam/sealteam/internal/models"
)

// RegistryFile is the workspace-relative path of the dynamic tool
// registry, matching toolhost.RegistryFile (the two packages share the
// file, not an import, to keep the validator independent of the host).
const RegistryFile = "tools/registry.json"

func registryPath(workspace string) string {
	return filepath.Join(workspace, RegistryFile)
}

func readRegistryFile(workspace string) ([]models.ToolRegistryEntry, error) {
	data, err := os.ReadFile(registryPath(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read registry: %w", err)
	}
	var entries []models.ToolRegistryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode registry: %w", err)
	}
	return entries, nil
}
