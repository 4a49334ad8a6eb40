package toolhost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/sealteam/sealteam/internal/bus"
	"github.com/sealteam/sealteam/internal/models"
)

// Spawner creates a new worker agent subprocess. The supervisor
// implements it; the host only needs the capability, not the process
// machinery, to keep the spawn tool's handler small.
type Spawner interface {
	Spawn(ctx context.Context, cfg models.AgentConfig) error
}

// BuiltinDeps is the per-agent context the built-in tool handlers bind:
// the agent's own name and workspace, the Message Bus, and (leader
// only) a Spawner.
type BuiltinDeps struct {
	Workspace string
	AgentName string
	Bus       *bus.Bus
	Spawner   Spawner
}

var allowedGitSubcommands = map[string]bool{
	"status": true, "add": true, "commit": true, "diff": true,
	"branch": true, "checkout": true, "merge": true, "log": true,
}

const webFetchTimeout = 15 * time.Second
const shellTimeout = 2 * time.Minute

// RegisterBuiltins adds every built-in local tool to h, bound to deps.
func RegisterBuiltins(h *Host, deps BuiltinDeps) {
	h.RegisterLocal(Tool{
		Definition: Definition{
			Name:        "spawn",
			Description: "Create a new worker agent subprocess running the life loop.",
			InputSchema: rawSchema(`{"type":"object","required":["name","role","purpose"],"properties":{
				"name":{"type":"string"},"role":{"type":"string"},"purpose":{"type":"string"},
				"allowedTools":{"type":"array","items":{"type":"string"}},
				"model":{"type":"string"},"tokenBudget":{"type":"integer"},
				"maxIterations":{"type":"integer"},"maxToolTurns":{"type":"integer"}}}`),
		},
		Handler: spawnHandler(deps),
	})

	h.RegisterLocal(Tool{
		Definition: Definition{
			Name:        "send",
			Description: "Enqueue a message to another agent, to every running agent (\"shared\"), or to the supervisor (\"main\").",
			InputSchema: rawSchema(`{"type":"object","required":["to","content"],"properties":{
				"to":{"type":"string"},"type":{"type":"string"},"content":{"type":"string"}}}`),
		},
		Handler: sendHandler(deps),
	})

	h.RegisterLocal(Tool{
		Definition: Definition{
			Name:        "git",
			Description: "Run a git subcommand (status, add, commit, diff, branch, checkout, merge, log) in the workspace.",
			InputSchema: rawSchema(`{"type":"object","required":["subcommand"],"properties":{
				"subcommand":{"type":"string"},"args":{"type":"array","items":{"type":"string"}}}}`),
		},
		Handler: gitHandler(deps),
	})

	h.RegisterLocal(Tool{
		Definition: Definition{
			Name:        "read-file",
			Description: "Read a file's contents relative to the workspace.",
			InputSchema: rawSchema(`{"type":"object","required":["path"],"properties":{"path":{"type":"string"}}}`),
		},
		Handler: readFileHandler(deps),
	})

	h.RegisterLocal(Tool{
		Definition: Definition{
			Name:        "write-file",
			Description: "Write (overwrite) a file's contents relative to the workspace.",
			InputSchema: rawSchema(`{"type":"object","required":["path","content"],"properties":{"path":{"type":"string"},"content":{"type":"string"}}}`),
		},
		Handler: writeFileHandler(deps),
	})

	h.RegisterLocal(Tool{
		Definition: Definition{
			Name:        "edit-file",
			Description: "Replace the first occurrence of a string in a file relative to the workspace.",
			InputSchema: rawSchema(`{"type":"object","required":["path","find","replace"],"properties":{"path":{"type":"string"},"find":{"type":"string"},"replace":{"type":"string"}}}`),
		},
		Handler: editFileHandler(deps),
	})

	h.RegisterLocal(Tool{
		Definition: Definition{
			Name:        "shell",
			Description: "Run an arbitrary shell command with the workspace as the current directory.",
			InputSchema: rawSchema(`{"type":"object","required":["command"],"properties":{"command":{"type":"string"}}}`),
		},
		Handler: shellHandler(deps),
	})

	h.RegisterLocal(Tool{
		Definition: Definition{
			Name:        "web-fetch",
			Description: "Fetch a public HTTP(S) URL and return its body as text.",
			InputSchema: rawSchema(`{"type":"object","required":["url"],"properties":{"url":{"type":"string"}}}`),
		},
		Handler: webFetchHandler(),
	})

	h.RegisterLocal(Tool{
		Definition: Definition{
			Name:        "create-tool",
			Description: "Author a new dynamic tool: writes its source, test, and definition files and registers it pending validation.",
			InputSchema: rawSchema(`{"type":"object","required":["name","source","test","definition"],"properties":{
				"name":{"type":"string"},"source":{"type":"string"},"test":{"type":"string"},"definition":{"type":"object"}}}`),
		},
		Handler: createToolHandler(deps),
	})

	h.RegisterServerHosted(Definition{
		Name:        "web-search",
		Description: "Provider-executed web search; results appear inline in the model's response.",
		InputSchema: rawSchema(`{"type":"object","required":["query"],"properties":{"query":{"type":"string"}}}`),
	})
}

func rawSchema(s string) json.RawMessage { return json.RawMessage(s) }

func spawnHandler(deps BuiltinDeps) Handler {
	return func(ctx context.Context, input map[string]any) (string, error) {
		if deps.Spawner == nil {
			return "", fmt.Errorf("spawn: this agent is not permitted to spawn workers")
		}
		cfg := models.AgentConfig{
			Name:          stringField(input, "name"),
			Role:          stringField(input, "role"),
			Purpose:       stringField(input, "purpose"),
			AllowedTools:  stringSliceField(input, "allowedTools"),
			Model:         stringField(input, "model"),
			Workspace:     deps.Workspace,
			QueueEndpoint: stringField(input, "queueEndpoint"),
			MaxIterations: intField(input, "maxIterations", 0),
			MaxToolTurns:  intField(input, "maxToolTurns", 0),
			TokenBudget:   int64(intField(input, "tokenBudget", 0)),
		}
		if cfg.Name == "" {
			return "", fmt.Errorf("spawn: name is required")
		}
		if err := deps.Spawner.Spawn(ctx, cfg); err != nil {
			return "", fmt.Errorf("spawn %s: %w", cfg.Name, err)
		}
		return fmt.Sprintf("spawned worker %q", cfg.Name), nil
	}
}

func sendHandler(deps BuiltinDeps) Handler {
	return func(ctx context.Context, input map[string]any) (string, error) {
		to := stringField(input, "to")
		if to == "" {
			return "", fmt.Errorf("send: to is required")
		}
		msgType := models.MessageType(stringField(input, "type"))
		if msgType == "" {
			msgType = models.MsgStatus
		}
		msg := models.QueueMessage{
			From:    deps.AgentName,
			To:      to,
			Type:    msgType,
			Content: stringField(input, "content"),
		}
		if err := deps.Bus.Send(ctx, msg, deps.Workspace); err != nil {
			return "", fmt.Errorf("send to %s: %w", to, err)
		}
		return fmt.Sprintf("sent to %s", to), nil
	}
}

func gitHandler(deps BuiltinDeps) Handler {
	return func(ctx context.Context, input map[string]any) (string, error) {
		sub := stringField(input, "subcommand")
		if !allowedGitSubcommands[sub] {
			return "", fmt.Errorf("git: subcommand %q is not allowed", sub)
		}
		args := append([]string{sub}, stringSliceField(input, "args")...)
		cmd := exec.CommandContext(ctx, "git", args...)
		cmd.Dir = deps.Workspace
		var out bytes.Buffer
		cmd.Stdout = &out
		cmd.Stderr = &out
		if err := cmd.Run(); err != nil {
			return out.String(), fmt.Errorf("git %s: %w", sub, err)
		}
		return out.String(), nil
	}
}

func readFileHandler(deps BuiltinDeps) Handler {
	return func(ctx context.Context, input map[string]any) (string, error) {
		path, err := safePath(deps.Workspace, stringField(input, "path"))
		if err != nil {
			return "", err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read-file: %w", err)
		}
		return string(data), nil
	}
}

func writeFileHandler(deps BuiltinDeps) Handler {
	return func(ctx context.Context, input map[string]any) (string, error) {
		path, err := safePath(deps.Workspace, stringField(input, "path"))
		if err != nil {
			return "", err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", fmt.Errorf("write-file: mkdir: %w", err)
		}
		if err := os.WriteFile(path, []byte(stringField(input, "content")), 0o644); err != nil {
			return "", fmt.Errorf("write-file: %w", err)
		}
		return fmt.Sprintf("wrote %s", stringField(input, "path")), nil
	}
}

func editFileHandler(deps BuiltinDeps) Handler {
	return func(ctx context.Context, input map[string]any) (string, error) {
		path, err := safePath(deps.Workspace, stringField(input, "path"))
		if err != nil {
			return "", err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("edit-file: %w", err)
		}
		find := stringField(input, "find")
		if !strings.Contains(string(data), find) {
			return "", fmt.Errorf("edit-file: %q not found in %s", find, stringField(input, "path"))
		}
		updated := strings.Replace(string(data), find, stringField(input, "replace"), 1)
		if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
			return "", fmt.Errorf("edit-file: %w", err)
		}
		return fmt.Sprintf("edited %s", stringField(input, "path")), nil
	}
}

func shellHandler(deps BuiltinDeps) Handler {
	return func(ctx context.Context, input map[string]any) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, shellTimeout)
		defer cancel()
		cmd := exec.CommandContext(ctx, "sh", "-c", stringField(input, "command"))
		cmd.Dir = deps.Workspace
		var out bytes.Buffer
		cmd.Stdout = &out
		cmd.Stderr = &out
		if err := cmd.Run(); err != nil {
			return out.String(), fmt.Errorf("shell: %w", err)
		}
		return out.String(), nil
	}
}

// safePath joins path onto workspace and rejects any result that
// escapes it.
func safePath(workspace, path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	joined := filepath.Join(workspace, path)
	cleanWorkspace := filepath.Clean(workspace)
	if joined != cleanWorkspace && !strings.HasPrefix(joined, cleanWorkspace+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the workspace", path)
	}
	return joined, nil
}

func stringField(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

func intField(m map[string]any, key string, def int) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}

func stringSliceField(m map[string]any, key string) []string {
	raw, ok := m[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
