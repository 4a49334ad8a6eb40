package lifeloop

import (
	"context"
	"time"

	"github.com/sealteam/sealteam/internal/compactor"
	"github.com/sealteam/sealteam/internal/llm"
	"github.com/sealteam/sealteam/internal/models"
	"github.com/sealteam/sealteam/internal/prompts"
	"github.com/sealteam/sealteam/internal/store"
)

// maxResponseTokens bounds every LLM call this loop issues.
const maxResponseTokens = 4096

// toLLMMessages converts assembled compactor history into the llm
// package's wire shape; the compactor stays independent of llm so it
// can be tested without a provider boundary in scope.
func toLLMMessages(messages []compactor.Message) []llm.Message {
	out := make([]llm.Message, len(messages))
	for i, m := range messages {
		out[i] = llm.Message{Role: m.Role, Content: m.Content}
	}
	return out
}

func incomingContent(incoming *models.QueueMessage, fallback string) string {
	if incoming != nil && incoming.Content != "" {
		return incoming.Content
	}
	return fallback
}

// runPlan executes the standard path's plan step.
func (l *Loop) runPlan(ctx context.Context, rs *runState, incoming *models.QueueMessage) (models.PlanOutput, models.IterationState, error) {
	system := prompts.Plan(l.Config)
	input := incomingContent(incoming, "Continue working toward the goal.")
	current := []compactor.Message{{Role: "user", Content: input}}
	messages := toLLMMessages(compactor.Assemble(rs.states, current, rs.iteration))

	inferCtx, span := l.Tracer.TraceLLMRequest(ctx, l.Config.Model, string(models.StepPlan))
	resp, err := l.LLM.Infer(inferCtx, llm.Request{
		Model: l.Config.Model, System: system, Messages: messages, MaxTokens: maxResponseTokens,
	})
	l.Tracer.RecordError(span, err)
	span.End()
	if err != nil {
		return models.PlanOutput{}, models.IterationState{}, err
	}
	l.Compactor.ReportUsage(resp.Usage.InputTokens)

	var out models.PlanOutput
	if !decodeJSONOrZero(resp.Text, &out) || out.Plan == "" {
		out = models.PlanOutput{Plan: resp.Text, Complexity: models.ComplexityComplex}
	}
	complexity := out.Complexity

	state := models.IterationState{
		Iteration:  rs.iteration,
		Step:       models.StepPlan,
		Timestamp:  time.Now(),
		Input:      input,
		Output:     out,
		TokensUsed: models.TokenUsage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens},
		Complexity: &complexity,
	}
	if err := store.WriteIterationState(l.AgentDir, rs.iteration, models.StepPlan, state); err != nil {
		l.Logger.Error("failed to persist plan state", "error", err)
	}
	return out, state, nil
}

// runExecute executes the standard path's execute step, including the
// tool sub-loop.
func (l *Loop) runExecute(ctx context.Context, rs *runState, plan string) (string, models.IterationState, error) {
	system := prompts.Execute(l.Config, plan)
	current := []compactor.Message{{Role: "user", Content: "Proceed with the plan above."}}
	messages := toLLMMessages(compactor.Assemble(rs.states, current, rs.iteration))

	text, usage, err := l.runToolSubLoop(ctx, models.StepExecute, system, messages)
	if err != nil {
		return "", models.IterationState{}, err
	}

	state := models.IterationState{
		Iteration:  rs.iteration,
		Step:       models.StepExecute,
		Timestamp:  time.Now(),
		Input:      plan,
		Output:     text,
		TokensUsed: usage,
	}
	if err := store.WriteIterationState(l.AgentDir, rs.iteration, models.StepExecute, state); err != nil {
		l.Logger.Error("failed to persist execute state", "error", err)
	}
	return text, state, nil
}

// runPlanExecute executes the fast path's combined step, returning the
// text produced plus the complexity that governs the *next* iteration.
func (l *Loop) runPlanExecute(ctx context.Context, rs *runState, incoming *models.QueueMessage) (string, models.Complexity, models.IterationState, error) {
	system := prompts.PlanExecute(l.Config)
	input := incomingContent(incoming, "Continue working toward the goal.")
	current := []compactor.Message{{Role: "user", Content: input}}
	messages := toLLMMessages(compactor.Assemble(rs.states, current, rs.iteration))

	text, usage, err := l.runToolSubLoop(ctx, models.StepPlanExecute, system, messages)
	if err != nil {
		return "", models.ComplexitySimple, models.IterationState{}, err
	}

	var parsed models.PlanExecuteOutput
	complexity := models.ComplexitySimple
	if decodeJSONOrZero(text, &parsed) && parsed.Complexity != "" {
		complexity = parsed.Complexity
	}

	state := models.IterationState{
		Iteration:  rs.iteration,
		Step:       models.StepPlanExecute,
		Timestamp:  time.Now(),
		Input:      input,
		Output:     text,
		TokensUsed: usage,
		Complexity: &complexity,
	}
	if err := store.WriteIterationState(l.AgentDir, rs.iteration, models.StepPlanExecute, state); err != nil {
		l.Logger.Error("failed to persist plan-execute state", "error", err)
	}
	return text, complexity, state, nil
}

// runReflect executes the reflect step common to both paths.
func (l *Loop) runReflect(ctx context.Context, rs *runState, priorOutput string) (models.ReflectDecision, models.IterationState, error) {
	frac := remainingBudgetFraction(rs.tokensUsed, l.Config.TokenBudget)
	system := prompts.Reflect(l.Config, frac)
	current := []compactor.Message{{Role: "user", Content: "Reflect on this iteration's outcome:\n\n" + priorOutput}}
	messages := toLLMMessages(compactor.Assemble(rs.states, current, rs.iteration))

	inferCtx, span := l.Tracer.TraceLLMRequest(ctx, l.Config.Model, string(models.StepReflect))
	resp, err := l.LLM.Infer(inferCtx, llm.Request{
		Model: l.Config.Model, System: system, Messages: messages, MaxTokens: maxResponseTokens,
	})
	l.Tracer.RecordError(span, err)
	span.End()
	if err != nil {
		return models.ReflectDecision{}, models.IterationState{}, err
	}
	l.Compactor.ReportUsage(resp.Usage.InputTokens)

	var decision models.ReflectDecision
	if !decodeJSONOrZero(resp.Text, &decision) || decision.Decision == "" {
		decision = models.ReflectDecision{
			Decision:    models.DecisionContinue,
			NextMessage: "Retry — reflection output was not valid JSON.",
		}
	}
	if decision.Summary.Iteration == 0 {
		decision.Summary.Iteration = rs.iteration
	}

	state := models.IterationState{
		Iteration:  rs.iteration,
		Step:       models.StepReflect,
		Timestamp:  time.Now(),
		Input:      priorOutput,
		Output:     decision,
		TokensUsed: models.TokenUsage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens},
	}
	if err := store.WriteIterationState(l.AgentDir, rs.iteration, models.StepReflect, state); err != nil {
		l.Logger.Error("failed to persist reflect state", "error", err)
	}
	return decision, state, nil
}
