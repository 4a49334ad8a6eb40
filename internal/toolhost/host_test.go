package toolhost

import (
	"context"
	"strings"
	"testing"

	"github.com/sealteam/sealteam/internal/bus"
	"github.com/sealteam/sealteam/internal/models"
)

func TestLocalToolDefsFiltersByAllowed(t *testing.T) {
	h := New(t.TempDir(), "bob")
	h.RegisterLocal(Tool{Definition: Definition{Name: "read-file"}, Handler: func(ctx context.Context, in map[string]any) (string, error) { return "", nil }})
	h.RegisterLocal(Tool{Definition: Definition{Name: "write-file"}, Handler: func(ctx context.Context, in map[string]any) (string, error) { return "", nil }})

	defs := h.LocalToolDefs([]string{"read-file", "shell"})
	if len(defs) != 1 || defs[0].Name != "read-file" {
		t.Fatalf("expected only read-file, got %+v", defs)
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	h := New(t.TempDir(), "bob")
	_, err := h.Execute(context.Background(), "nope", nil)
	if _, ok := err.(*ErrUnknownTool); !ok {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}
}

func TestExecuteServerHostedTool(t *testing.T) {
	h := New(t.TempDir(), "bob")
	h.RegisterServerHosted(Definition{Name: "web-search"})
	_, err := h.Execute(context.Background(), "web-search", nil)
	if _, ok := err.(*ErrServerHostedTool); !ok {
		t.Fatalf("expected ErrServerHostedTool, got %v", err)
	}
}

func TestBuiltinsReadWriteEditFile(t *testing.T) {
	ws := t.TempDir()
	h := New(ws, "bob")
	RegisterBuiltins(h, BuiltinDeps{Workspace: ws, AgentName: "bob", Bus: bus.New(bus.NewMemoryCapability())})

	ctx := context.Background()
	if _, err := h.Execute(ctx, "write-file", map[string]any{"path": "hello.txt", "content": "hello world"}); err != nil {
		t.Fatalf("write-file: %v", err)
	}
	out, err := h.Execute(ctx, "read-file", map[string]any{"path": "hello.txt"})
	if err != nil {
		t.Fatalf("read-file: %v", err)
	}
	if out != "hello world" {
		t.Fatalf("expected 'hello world', got %q", out)
	}
	if _, err := h.Execute(ctx, "edit-file", map[string]any{"path": "hello.txt", "find": "world", "replace": "there"}); err != nil {
		t.Fatalf("edit-file: %v", err)
	}
	out, _ = h.Execute(ctx, "read-file", map[string]any{"path": "hello.txt"})
	if out != "hello there" {
		t.Fatalf("expected 'hello there', got %q", out)
	}
}

func TestSafePathRejectsTraversal(t *testing.T) {
	ws := t.TempDir()
	h := New(ws, "bob")
	RegisterBuiltins(h, BuiltinDeps{Workspace: ws, AgentName: "bob", Bus: bus.New(bus.NewMemoryCapability())})

	_, err := h.Execute(context.Background(), "read-file", map[string]any{"path": "../../etc/passwd"})
	if err == nil {
		t.Fatal("expected path traversal to be rejected")
	}
}

func TestSendBuiltinRejectsSharedWithoutWorkspaceConfigured(t *testing.T) {
	h := New("", "bob")
	RegisterBuiltins(h, BuiltinDeps{Workspace: "", AgentName: "bob", Bus: bus.New(bus.NewMemoryCapability())})
	_, err := h.Execute(context.Background(), "send", map[string]any{"to": models.SharedAddress, "content": "hi"})
	if err == nil {
		t.Fatal("expected configuration error for shared send without workspace")
	}
}

func TestCreateToolReturnsValidationFailure(t *testing.T) {
	ws := t.TempDir()
	h := New(ws, "bob")
	RegisterBuiltins(h, BuiltinDeps{Workspace: ws, AgentName: "bob", Bus: bus.New(bus.NewMemoryCapability())})

	// The authored source shells out, which the validator's security scan
	// rejects; the failure must come back as the tool-creation result.
	source := `package main

import (
	"context"
	"os/exec"
)

func Handle(ctx context.Context, input map[string]any) (string, error) {
	out, err := exec.Command("date").Output()
	return string(out), err
}
`
	test := `package main

import "testing"

func TestHandle(t *testing.T) {}
`
	_, err := h.Execute(context.Background(), "create-tool", map[string]any{
		"name":   "clock",
		"source": source,
		"test":   test,
		"definition": map[string]any{
			"name":         "clock",
			"description":  "tells the time",
			"input_schema": map[string]any{"type": "object"},
		},
	})
	if err == nil {
		t.Fatal("expected validation failure to surface as the tool-creation result")
	}
	if !strings.Contains(err.Error(), "validation failed") {
		t.Fatalf("expected a validation-failure result, got %v", err)
	}
}

func TestScanDynamicNoRegistryIsNoop(t *testing.T) {
	h := New(t.TempDir(), "bob")
	if err := h.ScanDynamic(context.Background()); err != nil {
		t.Fatalf("expected no error when registry.json is absent, got %v", err)
	}
}
