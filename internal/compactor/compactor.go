// Package compactor implements the context compactor: bounded-context
// assembly from unbounded iteration history, plus the utilization
// check the life loop uses to decide when to compact. Assembly,
// summarization, and trimming are pure functions over
// []models.IterationState.
package compactor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sealteam/sealteam/internal/models"
)

// Compaction parameters.
const (
	FullDetailWindow  = 5   // W: iterations kept in full detail
	SemiOldCutoff     = 3   // T: iterations past which textual outputs are trimmed
	KeepHeadTailLines = 200 // lines kept at head/tail when trimming
	TrimThreshold     = 400 // lines above which trimming kicks in
	SoftRatio         = 0.70
	HardRatio         = 0.90
	CharsPerToken     = 4
)

// defaultContextWindows gives the fixed per-model context window size
// in tokens; DefaultContextWindow is used for any model not listed.
var defaultContextWindows = map[string]int{
	"claude-opus-4":   200000,
	"claude-sonnet-4": 200000,
	"claude-haiku-4":  200000,
}

// DefaultContextWindow is the fallback context window size in tokens.
const DefaultContextWindow = 200000

// Pressure is the result of CheckCompaction.
type Pressure string

const (
	PressureNone Pressure = "none"
	PressureSoft Pressure = "soft"
	PressureHard Pressure = "hard"
)

// Message is a role/content pair in the assembled message list handed
// to the LLM.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ContextWindowTokens resolves the fixed context window for a model,
// falling back to DefaultContextWindow for an unlisted model.
func ContextWindowTokens(model string) int {
	if w, ok := defaultContextWindows[model]; ok {
		return w
	}
	return DefaultContextWindow
}

// EstimateTokens applies the chars/4 heuristic to one string.
func EstimateTokens(s string) int {
	if s == "" {
		return 0
	}
	return (len(s) + CharsPerToken - 1) / CharsPerToken
}

// EstimateMessagesTokens sums EstimateTokens across a message list.
func EstimateMessagesTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += EstimateTokens(m.Content)
	}
	return total
}

// Compactor assembles bounded message lists from the unbounded
// iteration-state history and tracks token utilization against a
// model's context window. It is advisory only: the estimate is
// refreshed from the last reported usage when available, never treated
// as a safety-critical measurement.
type Compactor struct {
	model            string
	lastReportedUsed int // input tokens from the last Infer call's usage, if any
}

// New returns a Compactor tracking utilization for model.
func New(model string) *Compactor {
	return &Compactor{model: model}
}

// ReportUsage records the input token count from the most recent
// Infer call's reported usage, refining the chars/4 estimate.
func (c *Compactor) ReportUsage(inputTokens int) {
	c.lastReportedUsed = inputTokens
}

// CheckCompaction estimates current utilization against the model's
// context window and classifies it as none/soft/hard pressure.
func (c *Compactor) CheckCompaction(states []models.IterationState, currentMessages []Message) Pressure {
	used := c.estimateUtilizationTokens(states, currentMessages)
	window := ContextWindowTokens(c.model)
	ratio := float64(used) / float64(window)

	switch {
	case ratio >= HardRatio:
		return PressureHard
	case ratio >= SoftRatio:
		return PressureSoft
	default:
		return PressureNone
	}
}

func (c *Compactor) estimateUtilizationTokens(states []models.IterationState, currentMessages []Message) int {
	if c.lastReportedUsed > 0 {
		return c.lastReportedUsed
	}
	total := 0
	for _, s := range states {
		total += s.TokensUsed.InputTokens + s.TokensUsed.OutputTokens
	}
	total += EstimateMessagesTokens(currentMessages)
	return total
}

// Assemble groups iteration states by iteration number, emits a
// one-line summary for iterations older than the full-detail window,
// full (input, output) pairs for recent iterations (trimming
// semi-old textual outputs), and appends the current queue messages as
// a trailing user message.
func Assemble(states []models.IterationState, currentMessages []Message, currentIter int) []Message {
	byIteration := groupByIteration(states)
	var messages []Message

	for _, iter := range sortedIterations(byIteration) {
		steps := byIteration[iter]
		if iter <= currentIter-FullDetailWindow {
			messages = append(messages, summaryPair(iter, steps)...)
			continue
		}
		semiOld := iter <= currentIter-SemiOldCutoff
		for _, s := range steps {
			messages = append(messages, stepPair(s, semiOld)...)
		}
	}

	messages = append(messages, currentMessages...)
	return messages
}

func groupByIteration(states []models.IterationState) map[int][]models.IterationState {
	grouped := make(map[int][]models.IterationState)
	for _, s := range states {
		grouped[s.Iteration] = append(grouped[s.Iteration], s)
	}
	return grouped
}

func sortedIterations(grouped map[int][]models.IterationState) []int {
	iters := make([]int, 0, len(grouped))
	for k := range grouped {
		iters = append(iters, k)
	}
	for i := 1; i < len(iters); i++ {
		for j := i; j > 0 && iters[j-1] > iters[j]; j-- {
			iters[j-1], iters[j] = iters[j], iters[j-1]
		}
	}
	return iters
}

// summaryPair builds the "[Iteration i summary] ..." user line plus an
// assistant ack for an iteration outside the full-detail window,
// extracted from that iteration's reflect output (falling back to a
// truncated plan/execute output when no reflect state was reached).
func summaryPair(iteration int, steps []models.IterationState) []Message {
	var reflect *models.IterationState
	var fallback *models.IterationState
	for i := range steps {
		s := &steps[i]
		if s.Step == models.StepReflect {
			reflect = s
		} else if fallback == nil {
			fallback = s
		}
	}

	var line string
	if reflect != nil {
		if summary, ok := decodeSummary(reflect.Output); ok {
			line = fmt.Sprintf("[Iteration %d summary] Plan: %s | Outcome: %s | Files: %s | Decisions: %s",
				iteration, summary.Plan, summary.Outcome,
				strings.Join(summary.FilesChanged, ", "), strings.Join(summary.Decisions, ", "))
		}
	}
	if line == "" && fallback != nil {
		line = fmt.Sprintf("[Iteration %d summary] %s", iteration, truncateString(stringifyOutput(fallback.Output), 400))
	}
	if line == "" {
		line = fmt.Sprintf("[Iteration %d summary] (no output recorded)", iteration)
	}

	return []Message{
		{Role: "user", Content: line},
		{Role: "assistant", Content: "Acknowledged."},
	}
}

func decodeSummary(output any) (models.IterationSummary, bool) {
	data, err := json.Marshal(output)
	if err != nil {
		return models.IterationSummary{}, false
	}
	var decision models.ReflectDecision
	if err := json.Unmarshal(data, &decision); err != nil {
		return models.IterationSummary{}, false
	}
	return decision.Summary, decision.Summary.Outcome != "" || decision.Summary.Plan != ""
}

// stepPair renders one step's (input, output) as a (user, assistant)
// pair, trimming the textual output when semiOld and it exceeds
// TrimThreshold lines.
func stepPair(s models.IterationState, semiOld bool) []Message {
	input := stringifyOutput(s.Input)
	outputValue := s.Output
	if semiOld {
		outputValue = TrimValue(outputValue)
	}
	output := stringifyOutput(outputValue)
	if semiOld {
		output = TrimLines(output, KeepHeadTailLines)
	}
	return []Message{
		{Role: "user", Content: input},
		{Role: "assistant", Content: output},
	}
}

func stringifyOutput(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

func truncateString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
