package supervisor

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/sealteam/sealteam/internal/bus"
	"github.com/sealteam/sealteam/internal/models"
	"github.com/sealteam/sealteam/internal/store"
)

func testConfig(ws string) Config {
	return Config{
		Goal: "ship the thing", Workspace: ws, QueueEndpoint: "unused",
		Workers: 3, Budget: 1000, MaxIterations: 10, LeaderModel: "m1", TeamModel: "m2",
	}
}

func TestStartWritesSessionStateAndEnqueuesTask(t *testing.T) {
	if _, err := os.Stat("/usr/bin/git"); err != nil {
		if _, err := os.Stat("/usr/local/bin/git"); err != nil {
			t.Skip("git binary not available")
		}
	}

	ws := t.TempDir()
	b := bus.New(bus.NewMemoryCapability())
	spawner := newFakeSpawner()
	sup := New(testConfig(ws), b, spawner)

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if _, err := os.Stat(filepath.Join(ws, models.LeaderName, ".git")); err != nil {
		t.Fatalf("expected git repo at bob/: %v", err)
	}

	state, ok, err := store.ReadSessionState(ws)
	if err != nil || !ok {
		t.Fatalf("read session state: ok=%v err=%v", ok, err)
	}
	if state.Status != models.SessionRunning {
		t.Fatalf("expected running status, got %s", state.Status)
	}
	entry := state.AgentEntry(models.LeaderName)
	if entry == nil || entry.Status != models.AgentRunning {
		t.Fatalf("expected leader entry running, got %+v", entry)
	}

	msg, ok, err := b.ReceiveNonBlocking(context.Background(), models.LeaderName)
	if err != nil || !ok {
		t.Fatalf("expected initial task on bob's queue, ok=%v err=%v", ok, err)
	}
	if msg.Type != models.MsgTask || msg.Content != "ship the thing" {
		t.Fatalf("unexpected initial task: %+v", msg)
	}

	if spawner.spawnCount(models.LeaderName) != 1 {
		t.Fatalf("expected exactly one leader spawn, got %d", spawner.spawnCount(models.LeaderName))
	}
}

func TestHandleExitMarksCompletedOnReflectComplete(t *testing.T) {
	ws := t.TempDir()
	b := bus.New(bus.NewMemoryCapability())
	spawner := newFakeSpawner()
	sup := New(testConfig(ws), b, spawner)

	seedSessionState(t, ws, models.AgentSessionEntry{
		Config: models.AgentConfig{Name: "worker1", Workspace: ws}, PID: 555, Status: models.AgentRunning,
	})
	sup.setTracked("worker1", &trackedProc{name: "worker1", pid: 555})

	if err := store.WriteIterationState(filepath.Join(ws, "worker1"), 1, models.StepReflect, models.IterationState{
		Iteration: 1, Step: models.StepReflect, Timestamp: time.Now(),
		Output: models.ReflectDecision{Decision: models.DecisionComplete, Summary: models.IterationSummary{Outcome: "done"}},
	}); err != nil {
		t.Fatalf("write reflect state: %v", err)
	}

	if err := sup.handleExit(context.Background(), ProcessExit{PID: 555, Err: nil}); err != nil {
		t.Fatalf("handleExit: %v", err)
	}

	if _, tracked := sup.getTracked("worker1"); tracked {
		t.Fatal("expected worker1 to be dropped from tracked set")
	}
	state, _, err := store.ReadSessionState(ws)
	if err != nil {
		t.Fatalf("read session state: %v", err)
	}
	entry := state.AgentEntry("worker1")
	if entry == nil || entry.Status != models.AgentCompleted {
		t.Fatalf("expected worker1 marked completed, got %+v", entry)
	}
}

func TestHandleExitRespawnsFromLastCompletedStep(t *testing.T) {
	ws := t.TempDir()
	b := bus.New(bus.NewMemoryCapability())
	spawner := newFakeSpawner()
	sup := New(testConfig(ws), b, spawner)

	cfg := models.AgentConfig{Name: "worker1", Workspace: ws, Model: "m2", TokenBudget: 100, MaxIterations: 10}
	seedSessionState(t, ws, models.AgentSessionEntry{Config: cfg, PID: 555, Status: models.AgentRunning})
	sup.setTracked("worker1", &trackedProc{name: "worker1", pid: 555})

	if err := store.WriteIterationState(filepath.Join(ws, "worker1"), 1, models.StepExecute, models.IterationState{
		Iteration: 1, Step: models.StepExecute, Timestamp: time.Now(),
	}); err != nil {
		t.Fatalf("write execute state: %v", err)
	}

	if err := sup.handleExit(context.Background(), ProcessExit{PID: 555, Err: context.DeadlineExceeded}); err != nil {
		t.Fatalf("handleExit: %v", err)
	}

	if spawner.spawnCount("worker1") != 1 {
		t.Fatalf("expected one respawn, got %d", spawner.spawnCount("worker1"))
	}
	if got := spawner.spawns[len(spawner.spawns)-1].ResumeFrom; got != "1-execute" {
		t.Fatalf("expected resume from 1-execute, got %q", got)
	}

	if _, tracked := sup.getTracked("worker1"); !tracked {
		t.Fatal("expected worker1 re-tracked under its new pid")
	}
}

func TestWorkerSpawnerEnforcesMaxWorkers(t *testing.T) {
	ws := t.TempDir()
	spawner := newFakeSpawner()
	ws2 := &WorkerSpawner{Spawner: spawner, Workspace: ws, MaxWorkers: 1}

	seedSessionState(t, ws) // empty agents list

	if err := ws2.Spawn(context.Background(), models.AgentConfig{Name: "w1"}); err != nil {
		t.Fatalf("first spawn should succeed: %v", err)
	}
	if err := ws2.Spawn(context.Background(), models.AgentConfig{Name: "w2"}); err == nil {
		t.Fatal("expected second spawn to be rejected at the worker cap")
	}
}

func TestWorkerSpawnerNormalizesDefaults(t *testing.T) {
	ws := t.TempDir()
	spawner := newFakeSpawner()
	ws2 := &WorkerSpawner{Spawner: spawner, Workspace: ws, TeamModel: "default-model", WorkerBudget: 42, MaxIterations: 7}
	seedSessionState(t, ws)

	if err := ws2.Spawn(context.Background(), models.AgentConfig{Name: "w1"}); err != nil {
		t.Fatalf("spawn: %v", err)
	}

	state, _, err := store.ReadSessionState(ws)
	if err != nil {
		t.Fatalf("read session state: %v", err)
	}
	entry := state.AgentEntry("w1")
	if entry == nil {
		t.Fatal("expected w1 recorded")
	}
	if entry.Config.Model != "default-model" || entry.Config.TokenBudget != 42 || entry.Config.MaxIterations != 7 {
		t.Fatalf("expected normalized defaults, got %+v", entry.Config)
	}
	if len(entry.Config.AllowedTools) == 0 {
		t.Fatal("expected default worker tool set applied")
	}
}

func TestShutdownMarksSessionFailedAndAgentsCancelled(t *testing.T) {
	ws := t.TempDir()
	b := bus.New(bus.NewMemoryCapability())
	spawner := newFakeSpawner()
	sup := New(testConfig(ws), b, spawner)

	seedSessionState(t, ws, models.AgentSessionEntry{
		Config: models.AgentConfig{Name: "worker1"}, PID: 999999, Status: models.AgentRunning,
	})
	handle, err := spawner.SpawnAgent(context.Background(), models.AgentConfig{Name: "worker1"}, "")
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	sup.setTracked("worker1", &trackedProc{name: "worker1", pid: handle.PID, exit: handle.Done})

	errCh := make(chan error, 1)
	go func() { errCh <- sup.Shutdown(context.Background()) }()
	spawner.finish("worker1", ProcessExit{PID: handle.PID, ExitedAt: time.Now()})

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Shutdown: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown did not return after the tracked process exited")
	}

	state, _, err := store.ReadSessionState(ws)
	if err != nil {
		t.Fatalf("read session state: %v", err)
	}
	if state.Status != models.SessionFailed {
		t.Fatalf("expected session marked failed, got %s", state.Status)
	}
	entry := state.AgentEntry("worker1")
	if entry == nil || entry.Status != models.AgentCancelled {
		t.Fatalf("expected worker1 cancelled, got %+v", entry)
	}
}

func TestResumeSessionAdoptsAlivePidWithLivenessWatcher(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep binary not available")
	}

	ws := t.TempDir()
	b := bus.New(bus.NewMemoryCapability())
	spawner := newFakeSpawner()
	sup := New(testConfig(ws), b, spawner)

	// A real short-lived process stands in for an agent the prior
	// supervisor session left running.
	cmd := exec.Command("sleep", "1")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start stand-in process: %v", err)
	}
	pid := cmd.Process.Pid
	go func() { _ = cmd.Wait() }()

	seedSessionState(t, ws, models.AgentSessionEntry{
		Config: models.AgentConfig{Name: "worker1", Workspace: ws}, PID: pid, Status: models.AgentRunning,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := sup.resumeSession(ctx); err != nil {
		t.Fatalf("resumeSession: %v", err)
	}

	p, tracked := sup.getTracked("worker1")
	if !tracked {
		t.Fatal("expected the alive agent to be adopted into the tracked set")
	}
	if p.exit == nil {
		t.Fatal("expected the adopted agent to carry a liveness watcher")
	}
	if spawner.spawnCount("worker1") != 0 {
		t.Fatal("an alive agent must be adopted, not respawned")
	}

	select {
	case exit := <-p.exit:
		if exit.PID != pid {
			t.Fatalf("expected exit for pid %d, got %d", pid, exit.PID)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("liveness watcher never reported the process's exit")
	}
}

func seedSessionState(t *testing.T, ws string, agents ...models.AgentSessionEntry) {
	t.Helper()
	if err := store.WriteSessionState(ws, models.SessionState{
		Goal: "x", Workspace: ws, Status: models.SessionRunning, Agents: agents,
	}); err != nil {
		t.Fatalf("seed session state: %v", err)
	}
}
