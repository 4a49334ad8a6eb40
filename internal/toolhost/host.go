package toolhost

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"plugin"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sealteam/sealteam/internal/models"
)

// RegistryFile is the path, relative to a workspace, of the dynamic
// tool registry written by the Tool Validator.
const RegistryFile = "tools/registry.json"

// Host registers built-in tools, loads active dynamic tools, and binds
// per-agent context (workspace, agent name, message bus) into handlers
// that need it.
type Host struct {
	workspace string
	agentName string

	mu      sync.RWMutex
	local   map[string]Tool
	server  map[string]Tool
	dynamic map[string]bool // tool name -> loaded, to avoid re-opening a plugin

	watcher    *fsnotify.Watcher
	watcherMux sync.Mutex
}

// New returns a Host with no tools registered. Built-ins are added via
// RegisterLocal/RegisterServerHosted by the caller that knows the
// agent's workspace and bus binding (see builtins.go).
func New(workspace, agentName string) *Host {
	return &Host{
		workspace: workspace,
		agentName: agentName,
		local:     make(map[string]Tool),
		server:    make(map[string]Tool),
		dynamic:   make(map[string]bool),
	}
}

// RegisterLocal adds a tool the host executes in-process.
func (h *Host) RegisterLocal(t Tool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.local[t.Definition.Name] = t
}

// RegisterServerHosted advertises a descriptor-only tool the provider
// executes; the host never calls its Handler (it has none).
func (h *Host) RegisterServerHosted(def Definition) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.server[def.Name] = Tool{Definition: def}
}

// LocalToolDefs returns definitions for the given allowed tool names
// that are locally executable, in the order requested.
func (h *Host) LocalToolDefs(allowed []string) []Definition {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var defs []Definition
	for _, name := range allowed {
		if t, ok := h.local[name]; ok {
			defs = append(defs, t.Definition)
		}
	}
	return defs
}

// ServerToolSpecs returns definitions for the given allowed tool names
// that are server-hosted, in the order requested.
func (h *Host) ServerToolSpecs(allowed []string) []Definition {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var defs []Definition
	for _, name := range allowed {
		if t, ok := h.server[name]; ok {
			defs = append(defs, t.Definition)
		}
	}
	return defs
}

// IsServerTool reports whether name is registered as server-hosted.
func (h *Host) IsServerTool(name string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.server[name]
	return ok
}

// Execute runs a locally registered tool by name.
func (h *Host) Execute(ctx context.Context, name string, input map[string]any) (string, error) {
	h.mu.RLock()
	t, ok := h.local[name]
	if !ok {
		if _, isServer := h.server[name]; isServer {
			h.mu.RUnlock()
			return "", &ErrServerHostedTool{Name: name}
		}
	}
	h.mu.RUnlock()
	if !ok {
		return "", &ErrUnknownTool{Name: name}
	}
	return t.Handler(ctx, input)
}

// ScanDynamic rereads tools/registry.json and loads any new active
// entries as Go plugins. It is called on every life-loop iteration and
// is additionally triggered by a filesystem watch on the registry file
// so a validator-completed activation is not delayed by a whole
// iteration boundary; neither call site replaces the other.
func (h *Host) ScanDynamic(ctx context.Context) error {
	entries, err := readRegistry(h.workspace)
	if err != nil {
		return fmt.Errorf("scan dynamic tools: %w", err)
	}
	for _, e := range entries {
		if e.Status != models.ToolActive {
			continue
		}
		h.mu.RLock()
		loaded := h.dynamic[e.Name]
		h.mu.RUnlock()
		if loaded {
			continue
		}
		if err := h.loadDynamicTool(e); err != nil {
			slog.Error("toolhost: failed to load dynamic tool", "name", e.Name, "path", e.Path, "error", err)
			continue
		}
	}
	return nil
}

// loadDynamicTool opens the compiled plugin at entry.Path and looks up
// its exported symbols: Definition (a *Definition) and Handle (a
// Handler-shaped func).
func (h *Host) loadDynamicTool(entry models.ToolRegistryEntry) error {
	full := filepath.Join(h.workspace, entry.Path)
	p, err := plugin.Open(full)
	if err != nil {
		return fmt.Errorf("open plugin: %w", err)
	}
	defSym, err := p.Lookup("Definition")
	if err != nil {
		return fmt.Errorf("lookup Definition: %w", err)
	}
	def, ok := defSym.(*Definition)
	if !ok {
		return fmt.Errorf("Definition symbol has wrong type")
	}
	handleSym, err := p.Lookup("Handle")
	if err != nil {
		return fmt.Errorf("lookup Handle: %w", err)
	}
	handle, ok := handleSym.(func(context.Context, map[string]any) (string, error))
	if !ok {
		return fmt.Errorf("Handle symbol has wrong type")
	}

	h.mu.Lock()
	h.local[def.Name] = Tool{Definition: *def, Handler: handle}
	h.dynamic[def.Name] = true
	h.mu.Unlock()
	return nil
}

// WatchRegistry starts an fsnotify watch on the registry file's
// directory, invoking ScanDynamic on every write event, until ctx is
// cancelled. It is a latency optimization layered on top of the
// per-iteration poll in ScanDynamic, not a replacement for it.
func (h *Host) WatchRegistry(ctx context.Context) error {
	dir := filepath.Join(h.workspace, filepath.Dir(RegistryFile))
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	h.watcherMux.Lock()
	h.watcher = watcher
	h.watcherMux.Unlock()

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !strings.HasSuffix(event.Name, filepath.Base(RegistryFile)) {
					continue
				}
				if err := h.ScanDynamic(ctx); err != nil {
					slog.Error("toolhost: watch-triggered scan failed", "error", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("toolhost: fsnotify error", "error", err)
			}
		}
	}()
	return nil
}
