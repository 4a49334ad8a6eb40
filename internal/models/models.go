// Package models defines the data types shared across the supervisor, the
// message bus, the state store, and the life loop: AgentConfig,
// QueueMessage, IterationState, ReflectDecision, SessionState, and
// ToolRegistryEntry, per the data model.
package models

import "time"

// Step identifies a life-loop step within an iteration.
type Step string

const (
	StepPlan        Step = "plan"
	StepExecute     Step = "execute"
	StepPlanExecute Step = "plan-execute"
	StepReflect     Step = "reflect"
)

// stepOrder gives the lexicographic ordering plan < execute <
// plan-execute < reflect used by lastCompletedStep.
var stepOrder = map[Step]int{
	StepPlan:        0,
	StepExecute:     1,
	StepPlanExecute: 2,
	StepReflect:     3,
}

// Less reports whether s sorts before other in step order.
func (s Step) Less(other Step) bool {
	return stepOrder[s] < stepOrder[other]
}

// Complexity is the plan step's self-assessed complexity, driving the
// adaptive two- vs three-phase scheduling.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityComplex Complexity = "complex"
)

// MessageType enumerates QueueMessage.Type values.
type MessageType string

const (
	MsgTask        MessageType = "task"
	MsgStatus      MessageType = "status"
	MsgReview      MessageType = "review"
	MsgComplete    MessageType = "complete"
	MsgError       MessageType = "error"
	MsgCancel      MessageType = "cancel"
	MsgAllComplete MessageType = "all-complete"
)

// SharedAddress is the logical "to" value expanded at send time into one
// copy per currently-running agent (excluding the sender).
const SharedAddress = "shared"

// LeaderName is the distinguished agent that decomposes the goal, spawns
// workers, and merges their branches.
const LeaderName = "bob"

// MainAddress is the supervisor's own inbox.
const MainAddress = "main"

// AgentConfig is immutable once created and is serialized into the
// spawned process's environment as AGENT_CONFIG.
type AgentConfig struct {
	Name          string   `json:"name"`
	Role          string   `json:"role"`
	Purpose       string   `json:"purpose"`
	AllowedTools  []string `json:"allowedTools"`
	Model         string   `json:"model"`
	TokenBudget   int64    `json:"tokenBudget"`
	MaxIterations int      `json:"maxIterations"`
	MaxToolTurns  int      `json:"maxToolTurns"`
	Workspace     string   `json:"workspace"`
	QueueEndpoint string   `json:"queueEndpoint"`
}

// QueueMessage is immutable once sent.
type QueueMessage struct {
	ID        string      `json:"id"`
	From      string      `json:"from"`
	To        string      `json:"to"`
	Type      MessageType `json:"type"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
}

// TokenUsage is the input/output token pair recorded per step.
type TokenUsage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// IterationState is written exactly once per (iteration, step) and never
// updated in place.
type IterationState struct {
	Iteration  int         `json:"iteration"`
	Step       Step        `json:"step"`
	Timestamp  time.Time   `json:"timestamp"`
	Input      any         `json:"input"`
	Output     any         `json:"output"`
	TokensUsed TokenUsage  `json:"tokensUsed"`
	Complexity *Complexity `json:"complexity,omitempty"`
}

// IterationSummary is the compact per-iteration record embedded in a
// ReflectDecision.
type IterationSummary struct {
	Iteration    int      `json:"iteration"`
	Plan         string   `json:"plan"`
	Outcome      string   `json:"outcome"`
	FilesChanged []string `json:"filesChanged"`
	Decisions    []string `json:"decisions"`
}

// ReflectDecisionKind enumerates ReflectDecision.Decision values.
type ReflectDecisionKind string

const (
	DecisionContinue ReflectDecisionKind = "continue"
	DecisionComplete ReflectDecisionKind = "complete"
	DecisionError    ReflectDecisionKind = "error"
)

// ReflectDecision is the output of a reflect step.
type ReflectDecision struct {
	Decision     ReflectDecisionKind `json:"decision"`
	Summary      IterationSummary    `json:"summary"`
	NextMessage  string              `json:"nextMessage,omitempty"`
	ErrorDetails string              `json:"errorDetails,omitempty"`
	Cancelled    bool                `json:"cancelled,omitempty"`
}

// PlanOutput is the parsed reply of a plan step.
type PlanOutput struct {
	Plan       string     `json:"plan"`
	Complexity Complexity `json:"complexity"`
}

// PlanExecuteOutput is the parsed reply of a plan-execute (fast path)
// step, whose Complexity field drives the *next* iteration's path
// selection.
type PlanExecuteOutput struct {
	Text       string     `json:"text"`
	Complexity Complexity `json:"complexity"`
}

// SessionStatus enumerates SessionState.Status values.
type SessionStatus string

const (
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// AgentStatus enumerates AgentSessionEntry.Status values.
type AgentStatus string

const (
	AgentRunning   AgentStatus = "running"
	AgentCompleted AgentStatus = "completed"
	AgentFailed    AgentStatus = "failed"
	AgentCancelled AgentStatus = "cancelled"
)

// AgentSessionEntry records one agent's bookkeeping within SessionState.
type AgentSessionEntry struct {
	Config    AgentConfig `json:"config"`
	PID       int         `json:"pid"`
	Status    AgentStatus `json:"status"`
	StartTime time.Time   `json:"startTime"`
	EndTime   *time.Time  `json:"endTime,omitempty"`
}

// SessionState is the single per-workspace bookkeeping file, written by
// both the supervisor and the spawn tool.
type SessionState struct {
	Goal          string              `json:"goal"`
	StartTime     time.Time           `json:"startTime"`
	Workspace     string              `json:"workspace"`
	QueueEndpoint string              `json:"queueEndpoint"`
	Status        SessionStatus       `json:"status"`
	Agents        []AgentSessionEntry `json:"agents"`
}

// AgentEntry returns a pointer to the entry for the given name, or nil.
func (s *SessionState) AgentEntry(name string) *AgentSessionEntry {
	for i := range s.Agents {
		if s.Agents[i].Config.Name == name {
			return &s.Agents[i]
		}
	}
	return nil
}

// RunningAgents returns the names of all agents with status "running",
// excluding the given name (used for shared fan-out).
func (s *SessionState) RunningAgents(excluding string) []string {
	names := make([]string, 0, len(s.Agents))
	for _, a := range s.Agents {
		if a.Status == AgentRunning && a.Config.Name != excluding {
			names = append(names, a.Config.Name)
		}
	}
	return names
}

// ToolRegistryStatus enumerates ToolRegistryEntry.Status values.
type ToolRegistryStatus string

const (
	ToolPending  ToolRegistryStatus = "pending"
	ToolActive   ToolRegistryStatus = "active"
	ToolDisabled ToolRegistryStatus = "disabled"
)

// ToolRegistryEntry is one row of tools/registry.json.
type ToolRegistryEntry struct {
	Name        string             `json:"name"`
	Path        string             `json:"path"`
	Status      ToolRegistryStatus `json:"status"`
	ValidatedAt time.Time          `json:"validatedAt"`
	Error       string             `json:"error,omitempty"`
}
