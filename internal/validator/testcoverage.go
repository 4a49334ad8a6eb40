package validator

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/sealteam/sealteam/internal/models"
)

const (
	testCoverageTimeout = 30 * time.Second
	maxCapturedOutput   = 16 * 1024
)

// testCoverageStep shells the tool's companion tool_test.go via `go
// test`, run in isolation against just that tool's package directory,
// with a bounded timeout and a size-bounded tail of combined
// stdout/stderr captured for the registry's error field on failure.
func (v *Validator) testCoverageStep(ctx context.Context, entry models.ToolRegistryEntry) error {
	ctx, cancel := context.WithTimeout(ctx, testCoverageTimeout)
	defer cancel()

	dir := filepath.Join(v.workspace, entry.Path)
	cmd := exec.CommandContext(ctx, "go", "test", "./...")
	cmd.Dir = dir

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		tail := out.Bytes()
		if len(tail) > maxCapturedOutput {
			tail = tail[len(tail)-maxCapturedOutput:]
		}
		return fmt.Errorf("go test failed: %w: %s", err, tail)
	}
	return nil
}
