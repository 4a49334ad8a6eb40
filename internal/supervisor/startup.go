package supervisor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/sealteam/sealteam/internal/bus"
	"github.com/sealteam/sealteam/internal/models"
	"github.com/sealteam/sealteam/internal/store"
)

const gitignoreContents = "state/\nlogs/\n"

// prepareWorkspace creates the workspace's directory layout and, if
// bob/ is not already a git repository, initializes one with an
// ignore file for the per-agent state and log directories and an empty
// initial commit so the leader's first branch/merge operations have a
// parent to diff against.
func prepareWorkspace(ctx context.Context, workspace string) error {
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(workspace, "logs"), 0o755); err != nil {
		return fmt.Errorf("create logs dir: %w", err)
	}
	leaderDir := filepath.Join(workspace, models.LeaderName)
	if err := os.MkdirAll(leaderDir, 0o755); err != nil {
		return fmt.Errorf("create leader dir: %w", err)
	}
	if _, err := os.Stat(filepath.Join(leaderDir, ".git")); err == nil {
		return nil
	}

	if err := runGit(ctx, leaderDir, "init"); err != nil {
		return fmt.Errorf("git init: %w", err)
	}
	if err := os.WriteFile(filepath.Join(leaderDir, ".gitignore"), []byte(gitignoreContents), 0o644); err != nil {
		return fmt.Errorf("write .gitignore: %w", err)
	}
	if err := runGit(ctx, leaderDir, "add", ".gitignore"); err != nil {
		return fmt.Errorf("git add: %w", err)
	}
	if err := runGit(ctx, leaderDir, "-c", "user.email=sealteam@local", "-c", "user.name=sealteam", "commit", "-m", "initial workspace"); err != nil {
		return fmt.Errorf("git commit: %w", err)
	}
	return nil
}

func runGit(ctx context.Context, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w", out.String(), err)
	}
	return nil
}

// ConnectBus dials the configured queue endpoint and flushes any stale
// queues left by a prior, uncleanly-terminated run at the same
// workspace. Queue keys are not durable across sessions; disk state is
// the source of truth.
func ConnectBus(ctx context.Context, endpoint string) (*bus.Bus, error) {
	cap, err := bus.DialRESP(ctx, queueAddr(endpoint))
	if err != nil {
		return nil, fmt.Errorf("connect to queue at %s: %w", endpoint, err)
	}
	b := bus.New(cap)
	if _, err := b.FlushAll(ctx); err != nil {
		return nil, fmt.Errorf("flush stale queues: %w", err)
	}
	return b, nil
}

// queueAddr strips a valkey:// or redis:// scheme, since RESPClient
// dials a bare host:port over TCP.
func queueAddr(endpoint string) string {
	for _, scheme := range []string{"valkey://", "redis://"} {
		if strings.HasPrefix(endpoint, scheme) {
			return strings.TrimPrefix(endpoint, scheme)
		}
	}
	return endpoint
}

// Start runs the supervisor's startup sequence: workspace prep, bus
// connection, initial SessionState, and the leader spawn with its first
// task message. It does not block; call Run to drive the monitor loop.
func (s *Supervisor) Start(ctx context.Context) error {
	if err := prepareWorkspace(ctx, s.Config.Workspace); err != nil {
		return err
	}

	state := newSessionState(s.Config)
	if err := store.WriteSessionState(s.Config.Workspace, state); err != nil {
		return fmt.Errorf("write initial session state: %w", err)
	}

	leaderCfg := s.leaderConfig()
	handle, err := s.Spawner.SpawnAgent(ctx, leaderCfg, "")
	if err != nil {
		return fmt.Errorf("spawn leader: %w", err)
	}
	s.setTracked(models.LeaderName, &trackedProc{name: models.LeaderName, pid: handle.PID, exit: handle.Done})

	state.Agents = append(state.Agents, models.AgentSessionEntry{
		Config:    leaderCfg,
		PID:       handle.PID,
		Status:    models.AgentRunning,
		StartTime: time.Now(),
	})
	if err := store.WriteSessionState(s.Config.Workspace, state); err != nil {
		return fmt.Errorf("record leader in session state: %w", err)
	}

	task := models.QueueMessage{
		From:    models.MainAddress,
		To:      models.LeaderName,
		Type:    models.MsgTask,
		Content: s.Config.Goal,
	}
	if err := s.Bus.Send(ctx, task, s.Config.Workspace); err != nil {
		return fmt.Errorf("enqueue initial task: %w", err)
	}

	s.Logger.Info("supervisor started", "workspace", s.Config.Workspace, "leader_pid", handle.PID)
	return nil
}
