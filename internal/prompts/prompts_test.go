package prompts

import (
	"strings"
	"testing"

	"github.com/sealteam/sealteam/internal/models"
)

var testConfig = models.AgentConfig{
	Name:         "alice",
	Role:         "frontend specialist",
	Purpose:      "build the dashboard UI",
	AllowedTools: []string{"read-file", "write-file", "shell"},
}

func TestPlanIncludesRoleAndTools(t *testing.T) {
	got := Plan(testConfig)
	if !strings.Contains(got, "alice") || !strings.Contains(got, "frontend specialist") {
		t.Fatalf("expected role header, got %q", got)
	}
	if !strings.Contains(got, "read-file, write-file, shell") {
		t.Fatalf("expected allowed tools listed, got %q", got)
	}
	if !strings.Contains(got, "\"complexity\"") {
		t.Fatalf("expected plan to request a complexity field, got %q", got)
	}
}

func TestExecuteEmbedsPlan(t *testing.T) {
	got := Execute(testConfig, "refactor the header component")
	if !strings.Contains(got, "refactor the header component") {
		t.Fatalf("expected plan text embedded, got %q", got)
	}
}

func TestPlanExecuteRequestsNextComplexity(t *testing.T) {
	got := PlanExecute(testConfig)
	if !strings.Contains(got, "next") {
		t.Fatalf("expected next-iteration complexity hint, got %q", got)
	}
}

func TestReflectWithoutBudgetWarning(t *testing.T) {
	got := Reflect(testConfig, 0.8)
	if strings.Contains(got, "Budget warning") {
		t.Fatalf("did not expect budget warning at 80%% remaining, got %q", got)
	}
}

func TestReflectWithBudgetWarning(t *testing.T) {
	got := Reflect(testConfig, 0.1)
	if !strings.Contains(got, "Budget warning") {
		t.Fatalf("expected budget warning at 10%% remaining, got %q", got)
	}
	if !strings.Contains(got, "10%") {
		t.Fatalf("expected percentage in warning, got %q", got)
	}
}

func TestRoleHeaderOmitsToolsWhenEmpty(t *testing.T) {
	cfg := testConfig
	cfg.AllowedTools = nil
	got := roleHeader(cfg)
	if strings.Contains(got, "Available tools") {
		t.Fatalf("expected no tools section, got %q", got)
	}
}
