package lifeloop

import (
	"context"
	"fmt"
	"time"

	"github.com/sealteam/sealteam/internal/llm"
	"github.com/sealteam/sealteam/internal/models"
)

// toolPairWindow bounds in-loop growth: once more than this many
// tool-call/result pairs have accumulated past the initial context, the
// earliest pairs are summarized into a single compacted acknowledgment.
const toolPairWindow = 4

// runToolSubLoop implements the tool sub-loop shared by the execute and
// plan-execute steps: repeated Infer calls, tool execution via the
// host, and in-loop message compaction.
func (l *Loop) runToolSubLoop(ctx context.Context, step models.Step, system string, initial []llm.Message) (string, models.TokenUsage, error) {
	messages := append([]llm.Message(nil), initial...)
	initialContextSize := len(messages)

	toolDefs := l.Host.LocalToolDefs(l.Config.AllowedTools)
	serverDefs := l.Host.ServerToolSpecs(l.Config.AllowedTools)
	tools := make([]llm.ToolSpec, 0, len(toolDefs)+len(serverDefs))
	for _, d := range toolDefs {
		tools = append(tools, llm.ToolSpec{Name: d.Name, Description: d.Description, InputSchema: d.InputSchema})
	}
	for _, d := range serverDefs {
		tools = append(tools, llm.ToolSpec{Name: d.Name, Description: d.Description, InputSchema: d.InputSchema})
	}

	var total models.TokenUsage
	turns := 0
	for {
		inferCtx, span := l.Tracer.TraceLLMRequest(ctx, l.Config.Model, string(step))
		resp, err := l.LLM.Infer(inferCtx, llm.Request{
			Model: l.Config.Model, System: system, Messages: messages, Tools: tools, MaxTokens: maxResponseTokens,
		})
		l.Tracer.RecordError(span, err)
		span.End()
		if err != nil {
			return "", total, err
		}
		turns++
		total.InputTokens += resp.Usage.InputTokens
		total.OutputTokens += resp.Usage.OutputTokens
		l.Compactor.ReportUsage(resp.Usage.InputTokens)

		if len(resp.ToolUses) == 0 || resp.StopReason == llm.StopEndTurn {
			return resp.Text, total, nil
		}

		var results []llm.ToolResult
		for _, use := range resp.ToolUses {
			if l.Host.IsServerTool(use.Name) {
				continue
			}
			l.emitToolEvent("started", use.Name)
			execCtx, toolSpan := l.Tracer.TraceToolExecution(ctx, use.Name)
			out, execErr := l.Host.Execute(execCtx, use.Name, use.Input)
			l.Tracer.RecordError(toolSpan, execErr)
			toolSpan.End()
			if execErr != nil {
				out = fmt.Sprintf("Error: %v", execErr)
				l.emitToolEvent("failed", use.Name)
			} else {
				l.emitToolEvent("succeeded", use.Name)
			}
			results = append(results, llm.ToolResult{ToolUseID: use.ID, Content: out, IsError: execErr != nil})
		}

		messages = append(messages,
			llm.Message{Role: "assistant", Content: resp.Text, ToolUses: resp.ToolUses},
			llm.Message{Role: "user", ToolResults: results},
		)
		messages = compactToolMessages(messages, initialContextSize)

		if turns >= l.maxToolTurns {
			return "Tool loop terminated after N turns", total, nil
		}
	}
}

// compactToolMessages summarizes the earliest tool-call/result pairs
// past initialContextSize once more than toolPairWindow have
// accumulated, retaining only the most recent toolPairWindow pairs;
// messages before initialContextSize are never touched.
func compactToolMessages(messages []llm.Message, initialContextSize int) []llm.Message {
	tail := messages[initialContextSize:]
	pairs := len(tail) / 2
	if pairs <= toolPairWindow {
		return messages
	}

	compactedCount := pairs - toolPairWindow
	keepFrom := compactedCount * 2

	out := make([]llm.Message, 0, initialContextSize+2+(len(tail)-keepFrom))
	out = append(out, messages[:initialContextSize]...)
	out = append(out,
		llm.Message{Role: "assistant", Content: fmt.Sprintf("[Compacted %d tool turns]", compactedCount)},
		llm.Message{Role: "user", Content: fmt.Sprintf("[Compacted %d tool turns]", compactedCount)},
	)
	out = append(out, tail[keepFrom:]...)
	return out
}

func (l *Loop) emitToolEvent(stage, tool string) {
	if l.Events == nil {
		return
	}
	event := ToolEvent{Stage: stage, Agent: l.Config.Name, Tool: tool, Timestamp: time.Now()}
	select {
	case l.Events <- event:
	default:
	}
}
