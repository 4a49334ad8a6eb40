// Package prompts builds the per-step system prompts the life loop
// sends to the LLM, assembled procedurally with strings.Builder.
package prompts

import (
	"fmt"
	"strings"

	"github.com/sealteam/sealteam/internal/models"
)

// BudgetWarningThreshold is the remaining-budget fraction below which
// the reflect prompt is augmented with a warning urging completion.
const BudgetWarningThreshold = 0.20

func roleHeader(cfg models.AgentConfig) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("You are %s, a %s.\n", cfg.Name, cfg.Role))
	sb.WriteString(fmt.Sprintf("Purpose: %s\n\n", cfg.Purpose))
	if len(cfg.AllowedTools) > 0 {
		sb.WriteString("Available tools: ")
		sb.WriteString(strings.Join(cfg.AllowedTools, ", "))
		sb.WriteString("\n\n")
	}
	return sb.String()
}

// Plan builds the system prompt for the standard path's plan step.
func Plan(cfg models.AgentConfig) string {
	var sb strings.Builder
	sb.WriteString(roleHeader(cfg))
	sb.WriteString("## Planning\n\n")
	sb.WriteString("Think through what this iteration should accomplish. ")
	sb.WriteString("Reply as JSON: {\"plan\": <string>, \"complexity\": \"simple\"|\"complex\"}.\n")
	sb.WriteString("Use \"simple\" when the remaining work fits a single tool-using pass; ")
	sb.WriteString("use \"complex\" when it needs a distinct plan/execute split.\n")
	return sb.String()
}

// Execute builds the system prompt for the standard path's execute
// step, embedding the plan produced by the preceding plan step.
func Execute(cfg models.AgentConfig, plan string) string {
	var sb strings.Builder
	sb.WriteString(roleHeader(cfg))
	sb.WriteString("## Execution\n\n")
	sb.WriteString("Carry out the following plan using the tools available to you:\n\n")
	sb.WriteString(plan)
	sb.WriteString("\n")
	return sb.String()
}

// PlanExecute builds the system prompt for the fast path's combined
// plan-and-execute step.
func PlanExecute(cfg models.AgentConfig) string {
	var sb strings.Builder
	sb.WriteString(roleHeader(cfg))
	sb.WriteString("## Plan and Execute\n\n")
	sb.WriteString("State your intent for this iteration and act on it in the same turn, ")
	sb.WriteString("using the tools available to you.\n")
	sb.WriteString("When you finish, also report the complexity you expect for the *next* ")
	sb.WriteString("iteration as JSON: {\"complexity\": \"simple\"|\"complex\"} (default \"simple\").\n")
	return sb.String()
}

// Reflect builds the system prompt for the reflect step. remainingBudgetFraction
// is the fraction of the agent's token budget still unspent; below
// BudgetWarningThreshold the prompt is augmented to urge completion.
func Reflect(cfg models.AgentConfig, remainingBudgetFraction float64) string {
	var sb strings.Builder
	sb.WriteString(roleHeader(cfg))
	sb.WriteString("## Reflection\n\n")
	sb.WriteString("Assess the outcome of this iteration and decide what happens next. ")
	sb.WriteString("Reply as JSON matching:\n")
	sb.WriteString(`{"decision": "continue"|"complete"|"error", "summary": {"iteration": <int>, "plan": <string>, "outcome": <string>, "filesChanged": [<string>], "decisions": [<string>]}, "nextMessage": <string, optional>, "errorDetails": <string, optional>}`)
	sb.WriteString("\n")

	if remainingBudgetFraction < BudgetWarningThreshold {
		sb.WriteString("\n### Budget warning\n\n")
		sb.WriteString(fmt.Sprintf("Only %.0f%% of your token budget remains. ", remainingBudgetFraction*100))
		sb.WriteString("Strongly prefer \"complete\" unless the remaining work is essential.\n")
	}
	return sb.String()
}
