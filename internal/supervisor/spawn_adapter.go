package supervisor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sealteam/sealteam/internal/models"
	"github.com/sealteam/sealteam/internal/store"
)

// WorkerSpawner adapts a ProcessSpawner into toolhost.Spawner, the
// narrow interface the leader's "spawn" tool handler calls. It runs
// inside the leader's own process: the worker becomes the leader's OS
// child directly, and the supervisor later adopts it by polling
// SessionState rather than by owning the child itself.
type WorkerSpawner struct {
	Spawner       ProcessSpawner
	Workspace     string
	QueueEndpoint string
	TeamModel     string
	WorkerBudget  int64
	MaxIterations int
	// MaxWorkers caps concurrently running workers (the --workers
	// flag); 0 means unlimited.
	MaxWorkers int
}

// Spawn implements toolhost.Spawner: it fills in any config fields the
// leader left blank, enforces the worker concurrency cap, records the
// new worker in SessionState, and starts the subprocess.
func (w *WorkerSpawner) Spawn(ctx context.Context, cfg models.AgentConfig) error {
	cfg = normalizeWorkerConfig(cfg, w.Workspace, w.TeamModel, w.WorkerBudget, w.MaxIterations)
	if cfg.QueueEndpoint == "" {
		cfg.QueueEndpoint = w.QueueEndpoint
	}

	if w.MaxWorkers > 0 {
		running, err := w.runningWorkerCount()
		if err != nil {
			return fmt.Errorf("check worker count: %w", err)
		}
		if running >= w.MaxWorkers {
			return fmt.Errorf("spawn %s: at the --workers limit (%d)", cfg.Name, w.MaxWorkers)
		}
	}

	if err := prepareWorkerClone(ctx, w.Workspace, cfg.Name); err != nil {
		return fmt.Errorf("prepare clone for %s: %w", cfg.Name, err)
	}

	handle, err := w.Spawner.SpawnAgent(ctx, cfg, "")
	if err != nil {
		return fmt.Errorf("spawn worker %s: %w", cfg.Name, err)
	}

	state, _, err := store.ReadSessionState(w.Workspace)
	if err != nil {
		return fmt.Errorf("read session state: %w", err)
	}
	state.Agents = append(state.Agents, models.AgentSessionEntry{
		Config:    cfg,
		PID:       handle.PID,
		Status:    models.AgentRunning,
		StartTime: time.Now(),
	})
	if err := store.WriteSessionState(w.Workspace, state); err != nil {
		return fmt.Errorf("write session state: %w", err)
	}
	return nil
}

// prepareWorkerClone clones the leader's repository into the worker's
// directory on its own agent/<name> branch, so every worker writes to
// an isolated branch the leader later merges. An existing clone (a
// respawned worker) is left untouched.
func prepareWorkerClone(ctx context.Context, workspace, name string) error {
	workerDir := filepath.Join(workspace, name)
	if _, err := os.Stat(filepath.Join(workerDir, ".git")); err == nil {
		return nil
	}
	leaderDir := filepath.Join(workspace, models.LeaderName)
	if _, err := os.Stat(filepath.Join(leaderDir, ".git")); err != nil {
		// No leader repository to clone from (bare test workspaces); the
		// worker still gets its own directory for state/ and deliverables.
		return os.MkdirAll(workerDir, 0o755)
	}
	if err := runGit(ctx, workspace, "clone", leaderDir, workerDir); err != nil {
		return fmt.Errorf("git clone: %w", err)
	}
	if err := runGit(ctx, workerDir, "checkout", "-b", "agent/"+name); err != nil {
		return fmt.Errorf("git checkout -b: %w", err)
	}
	return nil
}

func (w *WorkerSpawner) runningWorkerCount() (int, error) {
	state, ok, err := store.ReadSessionState(w.Workspace)
	if err != nil || !ok {
		return 0, err
	}
	count := 0
	for _, a := range state.Agents {
		if a.Status == models.AgentRunning && a.Config.Name != models.LeaderName {
			count++
		}
	}
	return count, nil
}

// normalizeWorkerConfig fills defaults the leader omitted and enforces
// the worker tool-turn ceiling; only the leader runs with a raised cap.
func normalizeWorkerConfig(cfg models.AgentConfig, workspace, teamModel string, budget int64, maxIterations int) models.AgentConfig {
	cfg.Workspace = workspace
	if cfg.Model == "" {
		cfg.Model = teamModel
	}
	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = budget
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = maxIterations
	}
	if cfg.MaxToolTurns <= 0 || cfg.MaxToolTurns > workerMaxToolTurns {
		cfg.MaxToolTurns = workerMaxToolTurns
	}
	if len(cfg.AllowedTools) == 0 {
		cfg.AllowedTools = workerAllowedTools
	}
	return cfg
}
