// Package store implements the State Store: atomic read/write of
// per-iteration and per-session JSON state files, and discovery of the
// last completed step for crash recovery. A content-addressed-by-name
// scheme avoids any locking; files are never mutated, only overwritten
// whole.
package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/sealteam/sealteam/internal/models"
)

const writeRetryDelay = 100 * time.Millisecond

// StateDir returns the directory holding an agent's iteration state
// files, relative to agentDir.
func StateDir(agentDir string) string {
	return filepath.Join(agentDir, "state")
}

func iterationStatePath(agentDir string, iteration int, step models.Step) string {
	return filepath.Join(StateDir(agentDir), fmt.Sprintf("iteration-%d-%s.json", iteration, step))
}

// WriteIterationState atomically overwrites the state file for
// (iteration, step). On a transient I/O failure it retries once after
// ~100ms before surfacing the error.
func WriteIterationState(agentDir string, iteration int, step models.Step, state models.IterationState) error {
	path := iterationStatePath(agentDir, iteration, step)
	err := atomicWriteJSON(path, state)
	if err != nil {
		time.Sleep(writeRetryDelay)
		err = atomicWriteJSON(path, state)
	}
	if err != nil {
		slog.Error("state store: write failed",
			"agentDir", agentDir, "iteration", iteration, "step", step, "error", err)
		return fmt.Errorf("write iteration state %d/%s: %w", iteration, step, err)
	}
	return nil
}

// ReadIterationState reads the state file for (iteration, step). It
// returns (zero value, false, nil) if the file does not exist.
func ReadIterationState(agentDir string, iteration int, step models.Step) (models.IterationState, bool, error) {
	path := iterationStatePath(agentDir, iteration, step)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return models.IterationState{}, false, nil
		}
		return models.IterationState{}, false, fmt.Errorf("read iteration state %d/%s: %w", iteration, step, err)
	}
	var state models.IterationState
	if err := json.Unmarshal(data, &state); err != nil {
		return models.IterationState{}, false, fmt.Errorf("decode iteration state %d/%s: %w", iteration, step, err)
	}
	return state, true, nil
}

// stateFileName is a parsed "iteration-<n>-<step>.json" file name.
type stateFileName struct {
	iteration int
	step      models.Step
}

// LastCompletedStep scans the state directory and returns the maximum
// (iteration, step) in lexicographic order {plan < execute <
// plan-execute < reflect}. It returns (0, "", false) on a missing or
// empty directory.
func LastCompletedStep(agentDir string) (int, models.Step, bool, error) {
	dir := StateDir(agentDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, "", false, nil
		}
		return 0, "", false, fmt.Errorf("list state dir: %w", err)
	}

	var parsed []stateFileName
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		iter, step, ok := parseStateFilename(e.Name())
		if !ok {
			continue
		}
		parsed = append(parsed, stateFileName{iteration: iter, step: step})
	}
	if len(parsed) == 0 {
		return 0, "", false, nil
	}

	sort.Slice(parsed, func(i, j int) bool {
		if parsed[i].iteration != parsed[j].iteration {
			return parsed[i].iteration < parsed[j].iteration
		}
		return parsed[i].step.Less(parsed[j].step)
	})
	last := parsed[len(parsed)-1]
	return last.iteration, last.step, true, nil
}

// parseStateFilename parses "iteration-<n>-<step>.json". The manual
// split on the first '-' is needed because step names themselves
// contain a hyphen ("plan-execute").
func parseStateFilename(name string) (int, models.Step, bool) {
	const prefix, suffix = "iteration-", ".json"
	if len(name) <= len(prefix)+len(suffix) || name[:len(prefix)] != prefix || name[len(name)-len(suffix):] != suffix {
		return 0, "", false
	}
	body := name[len(prefix) : len(name)-len(suffix)]
	for i := 0; i < len(body); i++ {
		if body[i] != '-' {
			continue
		}
		digits, rest := body[:i], body[i+1:]
		if digits == "" || rest == "" {
			return 0, "", false
		}
		n := 0
		for _, c := range digits {
			if c < '0' || c > '9' {
				return 0, "", false
			}
			n = n*10 + int(c-'0')
		}
		return n, models.Step(rest), true
	}
	return 0, "", false
}

// SessionStatePath returns the path to the single session state file.
func SessionStatePath(workspace string) string {
	return filepath.Join(workspace, "session.json")
}

// WriteSessionState atomically overwrites the session state file, with
// the same single-retry durability as iteration state.
func WriteSessionState(workspace string, state models.SessionState) error {
	path := SessionStatePath(workspace)
	err := atomicWriteJSON(path, state)
	if err != nil {
		time.Sleep(writeRetryDelay)
		err = atomicWriteJSON(path, state)
	}
	if err != nil {
		slog.Error("state store: write session state failed", "workspace", workspace, "error", err)
		return fmt.Errorf("write session state: %w", err)
	}
	return nil
}

// ReadSessionState reads the session state file. It returns (zero
// value, false, nil) if the file does not exist.
func ReadSessionState(workspace string) (models.SessionState, bool, error) {
	data, err := os.ReadFile(SessionStatePath(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return models.SessionState{}, false, nil
		}
		return models.SessionState{}, false, fmt.Errorf("read session state: %w", err)
	}
	var state models.SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return models.SessionState{}, false, fmt.Errorf("decode session state: %w", err)
	}
	return state, true, nil
}

// AtomicWriteJSON marshals v as indented JSON and writes it to path via
// a temp-file-then-rename, so readers never observe a partial write.
// Exported so other packages managing their own small JSON state files
// (the tool registry) get the same durability without duplicating it.
func AtomicWriteJSON(path string, v any) error {
	return atomicWriteJSON(path, v)
}

func atomicWriteJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
