package toolhost

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sealteam/sealteam/internal/models"
)

// readRegistry loads tools/registry.json, returning an empty slice if
// it does not yet exist (no dynamic tool has been authored).
func readRegistry(workspace string) ([]models.ToolRegistryEntry, error) {
	path := filepath.Join(workspace, RegistryFile)
	data, err := os.ReadFile(path)
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
