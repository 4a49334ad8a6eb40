package lifeloop

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sealteam/sealteam/internal/models"
	"github.com/sealteam/sealteam/internal/store"
)

// ParseResumeFrom parses the RESUME_FROM env var's "i-step" format. The
// split is on the first hyphen only, since step names themselves
// contain a hyphen ("plan-execute").
func ParseResumeFrom(value string) (int, models.Step, error) {
	idx := strings.IndexByte(value, '-')
	if idx < 0 {
		return 0, "", fmt.Errorf("lifeloop: malformed RESUME_FROM %q", value)
	}
	iteration, err := strconv.Atoi(value[:idx])
	if err != nil {
		return 0, "", fmt.Errorf("lifeloop: malformed RESUME_FROM %q: %w", value, err)
	}
	step := models.Step(value[idx+1:])
	switch step {
	case models.StepPlan, models.StepExecute, models.StepPlanExecute, models.StepReflect:
	default:
		return 0, "", fmt.Errorf("lifeloop: unknown step in RESUME_FROM %q", value)
	}
	return iteration, step, nil
}

// allSteps enumerates step names in the order crash recovery loads them
// within a single iteration.
var allSteps = []models.Step{models.StepPlan, models.StepExecute, models.StepPlanExecute, models.StepReflect}

// resume loads every existing iteration-state file for iterations
// 1..i, then positions the loop at the correct iteration and path for
// the next step: a completed reflect advances to i+1 with the recorded
// complexity; anything earlier re-runs iteration i from plan.
func (l *Loop) resume(resumeFrom string, rs *runState) error {
	i, step, err := ParseResumeFrom(resumeFrom)
	if err != nil {
		return err
	}

	var loaded []models.IterationState
	var tokens int64
	for iter := 1; iter <= i; iter++ {
		for _, s := range allSteps {
			state, found, err := store.ReadIterationState(l.AgentDir, iter, s)
			if err != nil {
				return fmt.Errorf("lifeloop: load iteration %d step %s: %w", iter, s, err)
			}
			if !found {
				continue
			}
			loaded = append(loaded, state)
			tokens += int64(state.TokensUsed.InputTokens + state.TokensUsed.OutputTokens)
		}
	}
	rs.states = loaded
	rs.tokensUsed = tokens

	if step == models.StepReflect {
		rs.iteration = i + 1
		rs.lastComplex = models.ComplexityComplex
		if planState, found, err := store.ReadIterationState(l.AgentDir, i, models.StepPlan); err == nil && found && planState.Complexity != nil {
			rs.lastComplex = *planState.Complexity
		} else if peState, found, err := store.ReadIterationState(l.AgentDir, i, models.StepPlanExecute); err == nil && found && peState.Complexity != nil {
			rs.lastComplex = *peState.Complexity
		}
		return nil
	}

	rs.iteration = i
	rs.lastComplex = models.ComplexityComplex
	return nil
}
