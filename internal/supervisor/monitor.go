package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/sealteam/sealteam/internal/models"
	"github.com/sealteam/sealteam/internal/store"
)

const reconcileInterval = 5 * time.Second

// Run drives the supervisor end to end: Start, then the monitor loop
// until the session completes, a shutdown is requested, or ctx is
// cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	return s.monitor(ctx)
}

// Resume continues a session found at the supervisor's configured
// workspace, adopting still-alive agents and respawning dead ones from
// their last completed step, then drives the same monitor loop as Run.
func (s *Supervisor) Resume(ctx context.Context) error {
	if err := s.resumeSession(ctx); err != nil {
		return err
	}
	return s.monitor(ctx)
}

// monitor multiplexes three event sources over one select loop: the
// supervisor's own inbox, every tracked subprocess's exit, and a
// reconciliation tick.
func (s *Supervisor) monitor(ctx context.Context) error {
	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()

	exits := s.exitFanIn(ctx)
	inbox := s.mainInbox(ctx)

	for {
		select {
		case <-ctx.Done():
			return s.Shutdown(context.Background())

		case msg, ok := <-inbox:
			if !ok {
				inbox = nil
				continue
			}
			if msg.Type == models.MsgAllComplete {
				if err := s.finishSession(ctx, models.SessionCompleted); err != nil {
					return err
				}
				s.awaitTracked(ctx, exits)
				return nil
			}
			s.Logger.Info("supervisor received message", "from", msg.From, "type", msg.Type)

		case exit, ok := <-exits:
			if !ok {
				exits = nil
				continue
			}
			if err := s.handleExit(ctx, exit); err != nil {
				s.Logger.Error("handling subprocess exit failed", "pid", exit.PID, "error", err)
			}

		case <-ticker.C:
			if err := s.reconcile(ctx); err != nil {
				s.Logger.Error("reconciliation failed", "error", err)
			}
		}

		if s.trackedCount() == 0 {
			return s.finishSession(ctx, models.SessionCompleted)
		}
	}
}

// awaitTracked drains subprocess exits until the tracked set empties,
// bounded by the shutdown grace window so a wedged child cannot hold
// the supervisor open after the session has already completed.
func (s *Supervisor) awaitTracked(ctx context.Context, exits <-chan ProcessExit) {
	deadline := time.After(shutdownGrace)
	for s.trackedCount() > 0 {
		select {
		case exit := <-exits:
			if name := s.nameForPID(exit.PID); name != "" {
				s.dropTracked(name)
			}
		case <-deadline:
			return
		case <-ctx.Done():
			return
		}
	}
}

// mainInbox wraps Bus.Receive("main") in a channel so it composes with
// select alongside subprocess exits and the reconciliation ticker.
func (s *Supervisor) mainInbox(ctx context.Context) <-chan models.QueueMessage {
	ch := make(chan models.QueueMessage)
	go func() {
		defer close(ch)
		for ctx.Err() == nil {
			msg, ok, err := s.Bus.Receive(ctx, models.MainAddress, 5)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.Logger.Error("main inbox receive failed", "error", err)
				time.Sleep(time.Second)
				continue
			}
			if !ok {
				continue
			}
			select {
			case ch <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

// exitFanIn merges every tracked subprocess's Done channel, plus any
// registered after the fact, into one stream.
func (s *Supervisor) exitFanIn(ctx context.Context) <-chan ProcessExit {
	merged := make(chan ProcessExit, 8)
	s.mu.Lock()
	for _, p := range s.tracked {
		go forwardExit(ctx, p.exit, merged)
	}
	s.mu.Unlock()
	s.onTrack = func(p *trackedProc) { go forwardExit(ctx, p.exit, merged) }
	return merged
}

func forwardExit(ctx context.Context, exit <-chan ProcessExit, merged chan<- ProcessExit) {
	select {
	case e := <-exit:
		select {
		case merged <- e:
		case <-ctx.Done():
		}
	case <-ctx.Done():
	}
}

// handleExit looks up which tracked agent owned pid, inspects its last
// completed step, and either marks it done or respawns it with
// RESUME_FROM set.
func (s *Supervisor) handleExit(ctx context.Context, exit ProcessExit) error {
	name := s.nameForPID(exit.PID)
	if name == "" {
		return nil // a worker the leader spawned directly; reconcile() tracks those
	}
	s.dropTracked(name)

	agentDir := filepath.Join(s.Config.Workspace, name)
	iter, step, found, err := store.LastCompletedStep(agentDir)
	if err != nil {
		return err
	}

	state, _, err := store.ReadSessionState(s.Config.Workspace)
	if err != nil {
		return err
	}
	entry := state.AgentEntry(name)

	if found && step == models.StepReflect && reflectDecisionAt(agentDir, iter) == models.DecisionComplete {
		s.markAgentStatus(&state, entry, name, models.AgentCompleted)
		if name == models.LeaderName && exit.Err == nil {
			// Leader exited cleanly after completing: session fallback
			// in case the all-complete message was lost in flight.
			state.Status = models.SessionCompleted
		}
		return store.WriteSessionState(s.Config.Workspace, state)
	}
	if exit.Err == nil && !found {
		// exited cleanly with no recorded iterations: nothing to resume.
		s.markAgentStatus(&state, entry, name, models.AgentCompleted)
		return store.WriteSessionState(s.Config.Workspace, state)
	}

	s.Logger.Warn("agent exited unexpectedly, respawning", "agent", name, "lastIteration", iter, "lastStep", step, "exitErr", exit.Err)
	return s.respawn(ctx, name, iter, step, found)
}

// reflectDecisionAt re-decodes a reflect step's loosely-typed Output
// field back into its ReflectDecision shape.
func reflectDecisionAt(agentDir string, iteration int) models.ReflectDecisionKind {
	st, ok, err := store.ReadIterationState(agentDir, iteration, models.StepReflect)
	if err != nil || !ok {
		return ""
	}
	raw, err := json.Marshal(st.Output)
	if err != nil {
		return ""
	}
	var decision models.ReflectDecision
	if err := json.Unmarshal(raw, &decision); err != nil {
		return ""
	}
	return decision.Decision
}

func (s *Supervisor) respawn(ctx context.Context, name string, iter int, step models.Step, found bool) error {
	state, _, err := store.ReadSessionState(s.Config.Workspace)
	if err != nil {
		return err
	}
	entry := state.AgentEntry(name)
	if entry == nil {
		return nil // adopted worker with no config on record; nothing to respawn from here
	}

	resumeFrom := ""
	if found {
		resumeFrom = fmt.Sprintf("%d-%s", iter, step)
	}
	handle, err := s.Spawner.SpawnAgent(ctx, entry.Config, resumeFrom)
	if err != nil {
		s.markAgentStatus(&state, entry, name, models.AgentFailed)
		_ = store.WriteSessionState(s.Config.Workspace, state)
		return err
	}
	s.setTracked(name, &trackedProc{name: name, pid: handle.PID, exit: handle.Done})
	if s.onTrack != nil {
		s.onTrack(s.mustGetTracked(name))
	}

	entry.PID = handle.PID
	entry.Status = models.AgentRunning
	return store.WriteSessionState(s.Config.Workspace, state)
}

func (s *Supervisor) mustGetTracked(name string) *trackedProc {
	p, _ := s.getTracked(name)
	return p
}

func (s *Supervisor) markAgentStatus(state *models.SessionState, entry *models.AgentSessionEntry, name string, status models.AgentStatus) {
	if entry == nil {
		entry = state.AgentEntry(name)
	}
	if entry == nil {
		return
	}
	entry.Status = status
	now := time.Now()
	entry.EndTime = &now
}

// nameForPID reverse-looks-up a tracked agent name by pid.
func (s *Supervisor) nameForPID(pid int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, p := range s.tracked {
		if p.pid == pid {
			return name
		}
	}
	return ""
}

// reconcile adopts workers the leader spawned directly (they appear in
// SessionState but were never tracked by this process) and marks any
// whose pid has gone silent with no completed reflect as failed.
func (s *Supervisor) reconcile(ctx context.Context) error {
	state, ok, err := store.ReadSessionState(s.Config.Workspace)
	if err != nil || !ok {
		return err
	}

	dirty := false
	for i := range state.Agents {
		entry := &state.Agents[i]
		if entry.Status != models.AgentRunning {
			continue
		}
		name := entry.Config.Name
		if _, tracked := s.getTracked(name); tracked {
			continue
		}
		if ProcessAlive(entry.PID) {
			// A worker the leader spawned directly: adopt it with a
			// liveness watcher so its death re-enters handleExit.
			s.Logger.Info("adopting leader-spawned worker", "agent", name, "pid", entry.PID)
			s.setTracked(name, &trackedProc{name: name, pid: entry.PID, exit: WatchPID(ctx, entry.PID)})
			if s.onTrack != nil {
				s.onTrack(s.mustGetTracked(name))
			}
			continue
		}

		agentDir := filepath.Join(s.Config.Workspace, name)
		iter, step, found, lerr := store.LastCompletedStep(agentDir)
		if lerr != nil {
			continue
		}
		if found && step == models.StepReflect && reflectDecisionAt(agentDir, iter) == models.DecisionComplete {
			entry.Status = models.AgentCompleted
			now := time.Now()
			entry.EndTime = &now
			dirty = true
			continue
		}

		s.Logger.Warn("adopted worker went silent, respawning", "agent", name, "lastIteration", iter, "lastStep", step)
		resumeFrom := ""
		if found {
			resumeFrom = fmt.Sprintf("%d-%s", iter, step)
		}
		handle, serr := s.Spawner.SpawnAgent(ctx, entry.Config, resumeFrom)
		if serr != nil {
			entry.Status = models.AgentFailed
			now := time.Now()
			entry.EndTime = &now
			dirty = true
			continue
		}
		entry.PID = handle.PID
		s.setTracked(name, &trackedProc{name: name, pid: handle.PID, exit: handle.Done})
		if s.onTrack != nil {
			s.onTrack(s.mustGetTracked(name))
		}
		dirty = true
	}

	if dirty {
		return store.WriteSessionState(s.Config.Workspace, state)
	}
	return nil
}

// finishSession marks the session's terminal status once either an
// all-complete message arrives or every tracked process has exited.
func (s *Supervisor) finishSession(ctx context.Context, status models.SessionStatus) error {
	state, _, err := store.ReadSessionState(s.Config.Workspace)
	if err != nil {
		return err
	}
	state.Status = status
	if err := store.WriteSessionState(s.Config.Workspace, state); err != nil {
		return err
	}
	s.Logger.Info("session finished", "status", status)
	return nil
}
