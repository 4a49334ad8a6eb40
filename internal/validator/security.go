package validator

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/sealteam/sealteam/internal/models"
)

// forbiddenSubstrings are disallowed anywhere in a dynamic tool's
// source: shelling out and mutating the process environment stay off
// limits to agent-authored code.
var forbiddenSubstrings = []string{
	"os/exec",
	"os.Setenv(",
	"syscall.Exec",
}

// allowedEnvVar is the one environment key a dynamic tool may read.
const allowedEnvVar = "ANTHROPIC_API_KEY"

// allowedImports is the closed set of standard library packages a
// dynamic tool body may import; everything else is rejected except
// relative paths that stay inside the workspace.
var allowedImports = map[string]bool{
	"context":       true,
	"encoding/json": true,
	"errors":        true,
	"fmt":           true,
	"path":          true,
	"path/filepath": true,
	"net/url":       true,
	"crypto/sha256": true,
	"bytes":         true,
	"strings":       true,
	"strconv":       true,
	"time":          true,
	"sort":          true,
	"testing":       true,
}

var importLineRE = regexp.MustCompile(`^\s*"([^"]+)"\s*$`)
var osGetenvRE = regexp.MustCompile(`os\.Getenv\(\s*"([^"]*)"\s*\)`)

// securityScanStep line-scans the tool's source for forbidden
// substrings, a disallowed import, or an environment-variable access
// outside the ANTHROPIC_API_KEY whitelist. Relative import paths are
// cleaned before being checked, so a relative import cannot be
// disguised with "..".
func (v *Validator) securityScanStep(entry models.ToolRegistryEntry) error {
	sourcePath := filepath.Join(v.workspace, entry.Path, "tool.go")
	data, err := os.ReadFile(sourcePath)
	if err != nil {
		return fmt.Errorf("read source: %w", err)
	}
	source := string(data)

	for _, forbidden := range forbiddenSubstrings {
		if strings.Contains(source, forbidden) {
			return fmt.Errorf("forbidden construct %q found in source", forbidden)
		}
	}

	for _, match := range osGetenvRE.FindAllStringSubmatch(source, -1) {
		if match[1] != allowedEnvVar {
			return fmt.Errorf("environment access to %q is not whitelisted", match[1])
		}
	}

	if err := scanImports(source); err != nil {
		return err
	}
	return nil
}

func scanImports(source string) error {
	lines := strings.Split(source, "\n")
	inBlock := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "import ("):
			inBlock = true
			continue
		case inBlock && trimmed == ")":
			inBlock = false
			continue
		case inBlock:
			if m := importLineRE.FindStringSubmatch(trimmed); m != nil {
				if err := checkImportPath(m[1]); err != nil {
					return err
				}
			}
		case strings.HasPrefix(trimmed, "import "):
			path := strings.TrimSpace(strings.TrimPrefix(trimmed, "import"))
			if m := importLineRE.FindStringSubmatch(path); m != nil {
				if err := checkImportPath(m[1]); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func checkImportPath(path string) error {
	if allowedImports[path] {
		return nil
	}
	if strings.HasPrefix(path, "./") || strings.HasPrefix(path, "../") {
		cleaned := filepath.Clean(path)
		for _, seg := range strings.Split(cleaned, "/") {
			if seg == ".." {
				return fmt.Errorf("import %q escapes the workspace", path)
			}
		}
		return nil
	}
	return fmt.Errorf("import %q is not on the allow-list", path)
}
