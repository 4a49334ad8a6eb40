package lifeloop

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/sealteam/sealteam/internal/models"
	"github.com/sealteam/sealteam/internal/store"
)

func TestParseResumeFrom(t *testing.T) {
	iter, step, err := ParseResumeFrom("3-plan-execute")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if iter != 3 || step != models.StepPlanExecute {
		t.Fatalf("expected (3, plan-execute), got (%d, %s)", iter, step)
	}
}

func TestParseResumeFromRejectsMalformed(t *testing.T) {
	if _, _, err := ParseResumeFrom("noiteration"); err == nil {
		t.Fatal("expected error for missing hyphen")
	}
	if _, _, err := ParseResumeFrom("3-bogus"); err == nil {
		t.Fatal("expected error for unknown step")
	}
}

func TestResumeAfterReflectAdvancesIteration(t *testing.T) {
	ws := t.TempDir()
	agentDir := filepath.Join(ws, "A")
	complex := models.ComplexitySimple
	if err := store.WriteIterationState(agentDir, 2, models.StepPlan, models.IterationState{
		Iteration: 2, Step: models.StepPlan, Timestamp: time.Now(), Complexity: &complex,
	}); err != nil {
		t.Fatalf("write plan state: %v", err)
	}
	if err := store.WriteIterationState(agentDir, 2, models.StepExecute, models.IterationState{
		Iteration: 2, Step: models.StepExecute, Timestamp: time.Now(),
	}); err != nil {
		t.Fatalf("write execute state: %v", err)
	}
	if err := store.WriteIterationState(agentDir, 2, models.StepReflect, models.IterationState{
		Iteration: 2, Step: models.StepReflect, Timestamp: time.Now(),
	}); err != nil {
		t.Fatalf("write reflect state: %v", err)
	}

	l := &Loop{AgentDir: agentDir}
	rs := &runState{}
	if err := l.resume("2-reflect", rs); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if rs.iteration != 3 {
		t.Fatalf("expected to resume at iteration 3, got %d", rs.iteration)
	}
	if rs.lastComplex != models.ComplexitySimple {
		t.Fatalf("expected lastComplex simple from iteration 2's plan state, got %s", rs.lastComplex)
	}
	if len(rs.states) != 3 {
		t.Fatalf("expected 3 loaded states, got %d", len(rs.states))
	}
}

func TestResumeMidIterationRestartsAtPlan(t *testing.T) {
	ws := t.TempDir()
	agentDir := filepath.Join(ws, "A")
	if err := store.WriteIterationState(agentDir, 1, models.StepPlan, models.IterationState{
		Iteration: 1, Step: models.StepPlan, Timestamp: time.Now(),
	}); err != nil {
		t.Fatalf("write plan state: %v", err)
	}
	if err := store.WriteIterationState(agentDir, 1, models.StepExecute, models.IterationState{
		Iteration: 1, Step: models.StepExecute, Timestamp: time.Now(),
	}); err != nil {
		t.Fatalf("write execute state: %v", err)
	}

	l := &Loop{AgentDir: agentDir}
	rs := &runState{}
	if err := l.resume("1-execute", rs); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if rs.iteration != 1 {
		t.Fatalf("expected to resume at iteration 1 (re-run from plan), got %d", rs.iteration)
	}
	if rs.lastComplex != models.ComplexityComplex {
		t.Fatalf("expected standard path re-run, got %s", rs.lastComplex)
	}
}
