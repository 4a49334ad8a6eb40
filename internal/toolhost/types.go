// Package toolhost implements the Tool Host: registration of built-in
// tools, binding of per-agent context into their handlers, execution,
// and discovery of dynamically authored tools activated by the Tool
// Validator.
package toolhost

import (
	"context"
	"encoding/json"
	"fmt"
)

// Definition is the uniform JSON schema descriptor exposed for every
// tool, local or server-hosted.
type Definition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Handler executes a local tool's body against a decoded input payload
// and returns the text result shown back to the model.
type Handler func(ctx context.Context, input map[string]any) (string, error)

// Tool pairs a Definition with its Handler. Server-hosted tools carry a
// nil Handler; the host advertises their Definition but never calls
// Handler for them.
type Tool struct {
	Definition Definition
	Handler    Handler
}

// IsServerHosted reports whether t is executed by the provider rather
// than the host.
func (t Tool) IsServerHosted() bool {
	return t.Handler == nil
}

// ErrUnknownTool is returned by Execute for a name the host has never
// registered.
type ErrUnknownTool struct{ Name string }

func (e *ErrUnknownTool) Error() string { return fmt.Sprintf("toolhost: unknown tool %q", e.Name) }

// ErrServerHostedTool is returned by Execute when asked to run a tool
// the provider executes, not the host.
type ErrServerHostedTool struct{ Name string }

func (e *ErrServerHostedTool) Error() string {
	return fmt.Sprintf("toolhost: %q is server-hosted and cannot be executed locally", e.Name)
}
