package supervisor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sealteam/sealteam/internal/models"
	"github.com/sealteam/sealteam/internal/store"
)

// shutdownGrace is how long a subprocess gets to react to SIGTERM
// before the supervisor escalates to SIGKILL.
const shutdownGrace = 5 * time.Second

// Shutdown sends SIGTERM to every tracked subprocess, waits up to
// shutdownGrace for each to exit, and SIGKILLs any stragglers. It marks
// the session failed and every still-running agent cancelled.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.shuttingDown {
		s.mu.Unlock()
		return nil
	}
	s.shuttingDown = true
	procs := make([]*trackedProc, 0, len(s.tracked))
	for _, p := range s.tracked {
		procs = append(procs, p)
	}
	s.mu.Unlock()

	for _, p := range procs {
		signalProcess(p.pid, syscall.SIGTERM)
	}
	// Untracked but still-running pids from SessionState (workers the
	// leader spawned that reconciliation has not adopted yet) get the
	// same SIGTERM; their exit is not awaited since no channel exists.
	if state, ok, err := store.ReadSessionState(s.Config.Workspace); err == nil && ok {
		tracked := make(map[int]bool, len(procs))
		for _, p := range procs {
			tracked[p.pid] = true
		}
		for _, a := range state.Agents {
			if a.Status == models.AgentRunning && !tracked[a.PID] && ProcessAlive(a.PID) {
				signalProcess(a.PID, syscall.SIGTERM)
			}
		}
	}

	deadline := time.After(shutdownGrace)
	for _, p := range procs {
		if p.exit == nil {
			continue
		}
		select {
		case <-p.exit:
		case <-deadline:
			signalProcess(p.pid, syscall.SIGKILL)
			select {
			case <-p.exit:
			case <-time.After(time.Second):
				// An adopted process's watcher may already have stopped;
				// SIGKILL is not survivable, so don't wait on it forever.
			}
		}
	}

	if err := s.markSessionShutdown(); err != nil {
		s.Logger.Error("failed to record shutdown state", "error", err)
		return err
	}
	s.Logger.Info("supervisor shut down")
	return nil
}

func signalProcess(pid int, sig syscall.Signal) {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return
	}
	_ = proc.Signal(sig)
}

func (s *Supervisor) markSessionShutdown() error {
	state, ok, err := store.ReadSessionState(s.Config.Workspace)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	state.Status = models.SessionFailed
	now := time.Now()
	for i := range state.Agents {
		if state.Agents[i].Status == models.AgentRunning {
			state.Agents[i].Status = models.AgentCancelled
			state.Agents[i].EndTime = &now
		}
	}
	return store.WriteSessionState(s.Config.Workspace, state)
}

// resumeSession reloads a prior SessionState from a previous workspace
// and respawns every agent that was not already completed or cancelled,
// probing liveness first so a still-running process is adopted rather
// than duplicated.
func (s *Supervisor) resumeSession(ctx context.Context) error {
	state, ok, err := store.ReadSessionState(s.Config.Workspace)
	if err != nil {
		return err
	}
	if !ok {
		return s.Start(ctx)
	}

	state.Status = models.SessionRunning
	for i := range state.Agents {
		entry := &state.Agents[i]
		if entry.Status == models.AgentCompleted || entry.Status == models.AgentCancelled {
			continue
		}
		name := entry.Config.Name

		if ProcessAlive(entry.PID) {
			// Still running from the prior session: adopt it with a
			// liveness watcher so its death reaches the monitor loop's
			// exit stream like any owned child's.
			s.setTracked(name, &trackedProc{name: name, pid: entry.PID, exit: WatchPID(ctx, entry.PID)})
			continue
		}

		agentDir := filepath.Join(state.Workspace, name)
		iter, step, found, lerr := store.LastCompletedStep(agentDir)
		if lerr != nil {
			return lerr
		}
		resumeFrom := ""
		if found {
			resumeFrom = resumeFromString(iter, step)
		}
		handle, serr := s.Spawner.SpawnAgent(ctx, entry.Config, resumeFrom)
		if serr != nil {
			entry.Status = models.AgentFailed
			now := time.Now()
			entry.EndTime = &now
			continue
		}
		entry.PID = handle.PID
		entry.Status = models.AgentRunning
		s.setTracked(name, &trackedProc{name: name, pid: handle.PID, exit: handle.Done})
	}

	return store.WriteSessionState(s.Config.Workspace, state)
}

func resumeFromString(iter int, step models.Step) string {
	return fmt.Sprintf("%d-%s", iter, step)
}
