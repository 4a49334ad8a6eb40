// Package lifeloop implements the per-agent life loop state machine:
// plan/execute/reflect (standard path) or plan-execute/reflect (fast
// path), the tool sub-loop, idle/cancel handling, and RESUME_FROM crash
// recovery. One Loop runs single-threaded and cooperatively within one
// OS process; I/O is the sole suspension point, and iterations never
// interleave.
package lifeloop

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/sealteam/sealteam/internal/bus"
	"github.com/sealteam/sealteam/internal/compactor"
	"github.com/sealteam/sealteam/internal/llm"
	"github.com/sealteam/sealteam/internal/models"
	"github.com/sealteam/sealteam/internal/observability"
	"github.com/sealteam/sealteam/internal/store"
	"github.com/sealteam/sealteam/internal/toolhost"
)

// MaxIdleCycles is the number of consecutive empty receives after which
// a status message is sent to the leader requesting direction.
const MaxIdleCycles = 30

// ReceiveTimeoutSeconds is the blocking receive timeout at the top of
// every iteration.
const ReceiveTimeoutSeconds = 5

// DefaultMaxToolTurns is used when an AgentConfig leaves MaxToolTurns
// unset (0); the leader is configured with a higher value by the
// supervisor at spawn time.
const DefaultMaxToolTurns = 25

// SelfRecoveryLimit is the number of consecutive "error" reflections
// tolerated before one error message is emitted to the leader and the
// counter resets.
const SelfRecoveryLimit = 3

// ToolEvent is a stage/tool/timestamp record emitted by the tool
// sub-loop onto Loop.Events, feeding the metrics endpoint's live gauge
// of in-flight tool calls.
type ToolEvent struct {
	Stage     string // "started", "succeeded", "failed"
	Agent     string
	Tool      string
	Timestamp time.Time
}

// Loop runs one agent's life loop against its own queue, its own state
// directory, and a shared (or per-agent, for tests) bus/tool host/LLM
// client.
type Loop struct {
	Config    models.AgentConfig
	Bus       *bus.Bus
	Host      *toolhost.Host
	LLM       llm.Client
	Compactor *compactor.Compactor
	AgentDir  string // <workspace>/<name>, where state/ lives
	Logger    *slog.Logger
	Tracer    *observability.Tracer
	Events    chan<- ToolEvent // optional; sends are non-blocking best-effort

	maxToolTurns int
}

// New constructs a Loop ready to Run. events may be nil.
func New(cfg models.AgentConfig, b *bus.Bus, host *toolhost.Host, client llm.Client, agentDir string, events chan<- ToolEvent) *Loop {
	maxTurns := cfg.MaxToolTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxToolTurns
	}
	tracer, _ := observability.NewTracer(observability.TraceConfig{ServiceName: "sealteam-agent"})
	return &Loop{
		Config:       cfg,
		Bus:          b,
		Host:         host,
		LLM:          client,
		Compactor:    compactor.New(cfg.Model),
		AgentDir:     agentDir,
		Logger:       slog.Default().With("agent", cfg.Name),
		Tracer:       tracer,
		Events:       events,
		maxToolTurns: maxTurns,
	}
}

// runState is the loop's mutable in-memory state across iterations; it
// is entirely reconstructible from disk, which is what makes RESUME_FROM
// possible.
type runState struct {
	iteration    int
	lastComplex  models.Complexity
	states       []models.IterationState
	tokensUsed   int64
	selfRecovery int
	idleCycles   int
}

// Run drives the life loop until the agent completes, is cancelled, or
// exhausts its budget/iteration cap. A nil error return means the loop
// reached a terminal state on its own terms (complete, cancelled, budget
// exhausted); it does not mean "success" in the user-facing sense.
func (l *Loop) Run(ctx context.Context, resumeFrom string) error {
	rs := &runState{iteration: 1, lastComplex: models.ComplexityComplex}

	if resumeFrom != "" {
		if err := l.resume(resumeFrom, rs); err != nil {
			return fmt.Errorf("lifeloop: resume: %w", err)
		}
		l.Logger.Info("resumed", "iteration", rs.iteration, "lastComplexity", rs.lastComplex)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if l.Config.TokenBudget > 0 && rs.tokensUsed >= l.Config.TokenBudget {
			l.emitTerminal(ctx, "token budget exhausted")
			return nil
		}
		if rs.iteration > l.Config.MaxIterations {
			l.emitTerminal(ctx, "max iterations exceeded")
			return nil
		}

		incoming, cancelled, err := l.receivePhase(ctx, rs)
		if err != nil {
			return fmt.Errorf("lifeloop: receive: %w", err)
		}
		if cancelled {
			return nil
		}

		if pressure := l.Compactor.CheckCompaction(rs.states, nil); pressure == compactor.PressureHard {
			rs.states = compactor.Compact(rs.states, rs.iteration)
		}

		if err := l.Host.ScanDynamic(ctx); err != nil {
			l.Logger.Warn("dynamic tool scan failed", "error", err)
		}

		decision, decisionErr := l.runIteration(ctx, rs, incoming)
		if decisionErr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// A fatal step error (exhausted retries, non-retryable LLM
			// failure) is caught at the iteration boundary and fed into the
			// same error/self-recovery transition a model-declared error
			// reflection takes.
			l.Logger.Error("iteration step failed", "iteration", rs.iteration, "error", decisionErr)
			decision = iterationOutcome{decision: models.ReflectDecision{
				Decision:     models.DecisionError,
				ErrorDetails: decisionErr.Error(),
				Summary: models.IterationSummary{
					Iteration: rs.iteration,
					Outcome:   "step failed: " + decisionErr.Error(),
				},
			}}
		}

		done, err := l.decide(ctx, rs, decision)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// receivePhase implements step 3-4 of the iteration preamble: a
// blocking receive, cancel handling, idle-cycle tracking, and
// non-cancel-message re-enqueue on the non-blocking fallback poll.
func (l *Loop) receivePhase(ctx context.Context, rs *runState) (*models.QueueMessage, bool, error) {
	msg, ok, err := l.Bus.Receive(ctx, l.Config.Name, ReceiveTimeoutSeconds)
	if err != nil {
		return nil, false, err
	}
	if ok {
		rs.idleCycles = 0
		if msg.Type == models.MsgCancel {
			return nil, true, l.handleCancel(ctx, rs, &msg)
		}
		return &msg, false, nil
	}

	// No message within the blocking timeout: poll once, non-blocking.
	if polled, ok2, perr := l.Bus.ReceiveNonBlocking(ctx, l.Config.Name); perr == nil && ok2 {
		if polled.Type == models.MsgCancel {
			return nil, true, l.handleCancel(ctx, rs, &polled)
		}
		// Not a cancel: this message belongs to a later iteration; put
		// it back so it is not lost.
		if sendErr := l.Bus.Send(ctx, polled, l.Config.Workspace); sendErr != nil {
			l.Logger.Warn("failed to re-enqueue non-cancel message", "error", sendErr)
		}
	}

	rs.idleCycles++
	if rs.idleCycles >= MaxIdleCycles {
		l.sendToLeader(ctx, models.MsgStatus, "idle: requesting direction")
		rs.idleCycles = 0
	}
	return nil, false, nil
}

// handleCancel implements the cooperative cancel path: best-effort
// commit any in-progress work, write a final reflect state, and notify
// the leader.
func (l *Loop) handleCancel(ctx context.Context, rs *runState, msg *models.QueueMessage) error {
	l.bestEffortCommit(ctx, fmt.Sprintf("wip: cancelled at iteration %d", rs.iteration))

	decision := models.ReflectDecision{
		Decision:  models.DecisionComplete,
		Cancelled: true,
		Summary: models.IterationSummary{
			Iteration: rs.iteration,
			Outcome:   "cancelled: " + msg.Content,
		},
	}
	state := models.IterationState{
		Iteration: rs.iteration,
		Step:      models.StepReflect,
		Timestamp: time.Now(),
		Output:    decision,
	}
	if err := store.WriteIterationState(l.AgentDir, rs.iteration, models.StepReflect, state); err != nil {
		l.Logger.Error("failed to persist cancellation state", "error", err)
	}
	content := "cancelled: " + msg.Content
	return l.Bus.Send(ctx, models.QueueMessage{
		From: l.Config.Name, To: models.LeaderName, Type: models.MsgComplete, Content: content,
	}, l.Config.Workspace)
}

// bestEffortCommit stages and commits whatever is in the agent's git
// repo at cancellation time. Failures (no repo, nothing staged, no git
// binary) are logged and swallowed: this is a best-effort save of
// in-progress work, not a correctness requirement of the cancel path.
func (l *Loop) bestEffortCommit(ctx context.Context, message string) {
	add := exec.CommandContext(ctx, "git", "add", "-A")
	add.Dir = l.AgentDir
	if out, err := add.CombinedOutput(); err != nil {
		l.Logger.Warn("best-effort git add failed", "error", err, "output", string(out))
		return
	}
	commit := exec.CommandContext(ctx, "git", "commit", "-m", message)
	commit.Dir = l.AgentDir
	if out, err := commit.CombinedOutput(); err != nil {
		l.Logger.Warn("best-effort git commit failed (possibly nothing to commit)", "error", err, "output", string(out))
	}
}

// iterationOutcome carries the reflect decision plus the path taken, for
// decide() to act on.
type iterationOutcome struct {
	decision models.ReflectDecision
}

// runIteration executes one full iteration's step calls (standard or
// fast path, per rs.lastComplex) and the reflect step, accumulating
// token usage and appending every step's IterationState to rs.states.
func (l *Loop) runIteration(ctx context.Context, rs *runState, incoming *models.QueueMessage) (iterationOutcome, error) {
	var lastOutputText string

	standardPath := rs.iteration == 1 || rs.lastComplex == models.ComplexityComplex
	if standardPath {
		planOut, planState, err := l.runPlan(ctx, rs, incoming)
		if err != nil {
			return iterationOutcome{}, &StepError{Step: models.StepPlan, Iteration: rs.iteration, Cause: err}
		}
		rs.states = append(rs.states, planState)
		rs.tokensUsed += int64(planState.TokensUsed.InputTokens + planState.TokensUsed.OutputTokens)
		rs.lastComplex = planOut.Complexity // selects the next iteration's path

		execText, execState, err := l.runExecute(ctx, rs, planOut.Plan)
		if err != nil {
			return iterationOutcome{}, &StepError{Step: models.StepExecute, Iteration: rs.iteration, Cause: err}
		}
		rs.states = append(rs.states, execState)
		rs.tokensUsed += int64(execState.TokensUsed.InputTokens + execState.TokensUsed.OutputTokens)
		lastOutputText = execText
	} else {
		peText, peComplexity, peState, err := l.runPlanExecute(ctx, rs, incoming)
		if err != nil {
			return iterationOutcome{}, &StepError{Step: models.StepPlanExecute, Iteration: rs.iteration, Cause: err}
		}
		rs.states = append(rs.states, peState)
		rs.tokensUsed += int64(peState.TokensUsed.InputTokens + peState.TokensUsed.OutputTokens)
		lastOutputText = peText
		rs.lastComplex = peComplexity // selects the next iteration's path
	}

	decision, reflectState, err := l.runReflect(ctx, rs, lastOutputText)
	if err != nil {
		return iterationOutcome{}, &StepError{Step: models.StepReflect, Iteration: rs.iteration, Cause: err}
	}
	rs.states = append(rs.states, reflectState)
	rs.tokensUsed += int64(reflectState.TokensUsed.InputTokens + reflectState.TokensUsed.OutputTokens)

	return iterationOutcome{decision: decision}, nil
}

// decide acts on a reflect decision's continue/complete/error
// transitions. It returns done=true when the loop should stop.
func (l *Loop) decide(ctx context.Context, rs *runState, outcome iterationOutcome) (bool, error) {
	switch outcome.decision.Decision {
	case models.DecisionComplete:
		content := outcome.decision.Summary.Outcome
		// Workers report completion to the leader; the leader reports the
		// whole session done to the supervisor's inbox.
		to, typ := models.LeaderName, models.MsgComplete
		if l.Config.Name == models.LeaderName {
			to, typ = models.MainAddress, models.MsgAllComplete
		}
		if err := l.Bus.Send(ctx, models.QueueMessage{
			From: l.Config.Name, To: to, Type: typ, Content: content,
		}, l.Config.Workspace); err != nil {
			return false, fmt.Errorf("lifeloop: emit complete: %w", err)
		}
		return true, nil

	case models.DecisionError:
		rs.selfRecovery++
		if rs.selfRecovery < SelfRecoveryLimit {
			if err := l.Bus.Send(ctx, models.QueueMessage{
				From: l.Config.Name, To: l.Config.Name, Type: models.MsgTask,
				Content: "retry: " + outcome.decision.ErrorDetails,
			}, l.Config.Workspace); err != nil {
				l.Logger.Warn("failed to enqueue self retry task", "error", err)
			}
		} else {
			exhausted := &RecoveryExhaustedError{Iteration: rs.iteration, Details: outcome.decision.ErrorDetails}
			if err := l.sendToLeader(ctx, models.MsgError, exhausted.Error()); err != nil {
				l.Logger.Warn("failed to notify leader of recovery exhaustion", "error", err)
			}
			rs.selfRecovery = 0
		}
		rs.iteration++
		return false, nil

	default: // continue
		if outcome.decision.NextMessage != "" {
			if err := l.Bus.Send(ctx, models.QueueMessage{
				From: l.Config.Name, To: l.Config.Name, Type: models.MsgTask, Content: outcome.decision.NextMessage,
			}, l.Config.Workspace); err != nil {
				l.Logger.Warn("failed to enqueue self-directed next message", "error", err)
			}
		}
		rs.selfRecovery = 0
		rs.iteration++
		return false, nil
	}
}

// emitTerminal sends the terminal budget/iteration-cap message: workers
// notify the leader with a status message, the leader notifies the
// supervisor's main inbox with all-complete.
func (l *Loop) emitTerminal(ctx context.Context, reason string) {
	if l.Config.Name == models.LeaderName {
		if err := l.Bus.Send(ctx, models.QueueMessage{
			From: l.Config.Name, To: models.MainAddress, Type: models.MsgAllComplete, Content: reason,
		}, l.Config.Workspace); err != nil {
			l.Logger.Warn("failed to emit all-complete", "error", err)
		}
		return
	}
	if err := l.sendToLeader(ctx, models.MsgStatus, reason); err != nil {
		l.Logger.Warn("failed to emit terminal status", "error", err)
	}
}

func (l *Loop) sendToLeader(ctx context.Context, typ models.MessageType, content string) error {
	return l.Bus.Send(ctx, models.QueueMessage{
		From: l.Config.Name, To: models.LeaderName, Type: typ, Content: content,
	}, l.Config.Workspace)
}

// remainingBudgetFraction reports the fraction of the token budget not
// yet spent, used by the reflect step's budget-warning block. A zero or
// negative budget is treated as unconstrained (fraction 1).
func remainingBudgetFraction(used, budget int64) float64 {
	if budget <= 0 {
		return 1
	}
	frac := 1 - float64(used)/float64(budget)
	if frac < 0 {
		return 0
	}
	return frac
}

// decodeJSONOrZero attempts to unmarshal text into v, returning whether
// it succeeded; callers fall back to a safe default on false rather
// than failing the step on unparsable model output.
func decodeJSONOrZero(text string, v any) bool {
	return json.Unmarshal([]byte(extractJSONObject(text)), v) == nil
}

// extractJSONObject returns the substring from the first '{' to the
// last '}' in text, tolerating models that wrap JSON in prose or code
// fences; if no braces are found, text is returned unchanged (the
// subsequent Unmarshal will fail, triggering the caller's safe default).
func extractJSONObject(text string) string {
	start := -1
	end := -1
	for i, r := range text {
		if r == '{' && start == -1 {
			start = i
		}
		if r == '}' {
			end = i
		}
	}
	if start == -1 || end == -1 || end < start {
		return text
	}
	return text[start : end+1]
}
