// Package supervisor implements the process that starts the leader
// agent, monitors and resurrects every tracked agent subprocess,
// reconciles SessionState, and handles graceful shutdown.
package supervisor

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sealteam/sealteam/internal/bus"
	"github.com/sealteam/sealteam/internal/models"
)

// Config is the supervisor's startup configuration, parsed from CLI
// flags and their environment fallbacks.
type Config struct {
	Goal          string
	Workspace     string
	QueueEndpoint string
	Workers       int
	Budget        int64
	MaxIterations int
	LeaderModel   string
	TeamModel     string
}

// clampWorkers clamps the worker count to the 1..12 range.
func (c Config) clampWorkers() int {
	switch {
	case c.Workers < 1:
		return 1
	case c.Workers > 12:
		return 12
	default:
		return c.Workers
	}
}

// trackedProc records one subprocess the supervisor spawned or adopted.
type trackedProc struct {
	name string
	pid  int
	exit <-chan ProcessExit
}

// Supervisor owns the bus connection, the spawner, and the tracked
// subprocess table.
type Supervisor struct {
	Config  Config
	Bus     *bus.Bus
	Spawner ProcessSpawner
	Logger  *slog.Logger

	mu           sync.Mutex
	tracked      map[string]*trackedProc
	shuttingDown bool
	// onTrack, set by exitFanIn, hooks newly (re)spawned processes into
	// the monitor loop's merged exit stream.
	onTrack func(*trackedProc)
}

// New constructs a Supervisor. spawner is typically a *ExecSpawner in
// production and a fake in tests.
func New(cfg Config, b *bus.Bus, spawner ProcessSpawner) *Supervisor {
	cfg.Workers = cfg.clampWorkers()
	return &Supervisor{
		Config:  cfg,
		Bus:     b,
		Spawner: spawner,
		Logger:  slog.Default().With("component", "supervisor"),
		tracked: make(map[string]*trackedProc),
	}
}

func (s *Supervisor) trackedNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.tracked))
	for name := range s.tracked {
		names = append(names, name)
	}
	return names
}

func (s *Supervisor) trackedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tracked)
}

func (s *Supervisor) setTracked(name string, p *trackedProc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracked[name] = p
}

func (s *Supervisor) dropTracked(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tracked, name)
}

func (s *Supervisor) getTracked(name string) (*trackedProc, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.tracked[name]
	return p, ok
}

// The leader gets twice the worker budget and a raised tool-turn cap.
func leaderTokenBudget(workerBudget int64) int64 { return workerBudget * 2 }

const leaderMaxToolTurns = 75
const workerMaxToolTurns = 25

// leaderAllowedTools is the leader's fixed tool set: orchestration plus
// every builtin.
var leaderAllowedTools = []string{
	"spawn", "send", "git", "read-file", "write-file", "edit-file", "shell", "web-fetch", "web-search", "create-tool",
}

// workerAllowedTools omits spawn; only the leader decomposes and
// delegates.
var workerAllowedTools = []string{
	"send", "git", "read-file", "write-file", "edit-file", "shell", "web-fetch", "web-search", "create-tool",
}

func newSessionState(cfg Config) models.SessionState {
	return models.SessionState{
		Goal:          cfg.Goal,
		StartTime:     time.Now(),
		Workspace:     cfg.Workspace,
		QueueEndpoint: cfg.QueueEndpoint,
		Status:        models.SessionRunning,
	}
}

// leaderConfig builds the leader's AgentConfig for the initial spawn.
func (s *Supervisor) leaderConfig() models.AgentConfig {
	return models.AgentConfig{
		Name:          models.LeaderName,
		Role:          "team leader",
		Purpose:       fmt.Sprintf("decompose and deliver: %s", s.Config.Goal),
		AllowedTools:  leaderAllowedTools,
		Model:         s.Config.LeaderModel,
		TokenBudget:   leaderTokenBudget(s.Config.Budget),
		MaxIterations: s.Config.MaxIterations,
		MaxToolTurns:  leaderMaxToolTurns,
		Workspace:     s.Config.Workspace,
		QueueEndpoint: s.Config.QueueEndpoint,
	}
}
