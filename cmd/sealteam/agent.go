package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/sealteam/sealteam/internal/bus"
	"github.com/sealteam/sealteam/internal/lifeloop"
	"github.com/sealteam/sealteam/internal/llm"
	"github.com/sealteam/sealteam/internal/metrics"
	"github.com/sealteam/sealteam/internal/models"
	"github.com/sealteam/sealteam/internal/observability"
	"github.com/sealteam/sealteam/internal/supervisor"
	"github.com/sealteam/sealteam/internal/toolhost"
	"github.com/spf13/cobra"
)

// newLLMClient constructs the Infer boundary for this process. No
// concrete provider ships in this module (spec's own scope excludes
// implementing LLM inference); a deployment wires its provider in by
// replacing this var, which keeps the agent subcommand otherwise fully
// testable against a fake.
var newLLMClient = func(cfg models.AgentConfig) (llm.Client, error) {
	return nil, fmt.Errorf("no LLM provider configured for model %q: set newLLMClient in a deployment build", cfg.Model)
}

// buildAgentCmd returns the hidden subcommand every spawned subprocess
// re-execs into: it never appears in --help, matching the supervisor's
// "child inherits AGENT_CONFIG via env, not argv" contract.
func buildAgentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:    "agent",
		Hidden: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAgent(cmd.Context())
		},
	}
	return cmd
}

func runAgent(ctx context.Context) error {
	raw := strings.TrimSpace(os.Getenv("AGENT_CONFIG"))
	if raw == "" {
		return fmt.Errorf("AGENT_CONFIG is required")
	}
	var cfg models.AgentConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return fmt.Errorf("decode AGENT_CONFIG: %w", err)
	}
	resumeFrom := strings.TrimSpace(os.Getenv("RESUME_FROM"))

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := slog.Default().With("agent", cfg.Name)
	if logFile, lerr := openAgentLog(cfg.Workspace, cfg.Name); lerr == nil {
		defer logFile.Close()
		logger = slog.New(slog.NewTextHandler(logFile, nil)).With("agent", cfg.Name)
	} else {
		logger.Warn("falling back to stderr logging", "error", lerr)
	}

	// Agents dial without FlushAll: the supervisor already flushed at
	// session start, and a flush here would drop messages already queued.
	conn, err := bus.DialRESP(ctx, strings.TrimPrefix(strings.TrimPrefix(cfg.QueueEndpoint, "valkey://"), "redis://"))
	if err != nil {
		return fmt.Errorf("connect to queue: %w", err)
	}
	b := bus.New(conn)
	defer b.Close()

	client, err := newLLMClient(cfg)
	if err != nil {
		return err
	}
	client = llm.WithRetry(client)

	host := toolhost.New(cfg.Workspace, cfg.Name)
	toolhost.RegisterBuiltins(host, builtinDeps(cfg, b))
	if err := host.ScanDynamic(ctx); err != nil {
		logger.Warn("initial dynamic tool scan failed", "error", err)
	}
	if err := host.WatchRegistry(ctx); err != nil {
		logger.Warn("registry watch unavailable, relying on per-iteration scans", "error", err)
	}

	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "sealteam-agent",
		ServiceVersion: version,
		Endpoint:       envString("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		EnableInsecure: envString("OTEL_EXPORTER_OTLP_INSECURE", "") == "true",
	})
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Warn("trace exporter shutdown failed", "error", err)
		}
	}()

	events := make(chan lifeloop.ToolEvent, 32)
	reg := metrics.New("sealteam_agent")
	agentDir := filepath.Join(cfg.Workspace, cfg.Name)
	go drainToolEvents(ctx, events, reg)

	if addr := strings.TrimSpace(os.Getenv("SEALTEAM_AGENT_METRICS_ADDR")); addr != "" {
		srv := metrics.NewServer(addr, reg)
		go func() {
			if err := srv.Start(ctx); err != nil {
				logger.Error("agent metrics server stopped", "error", err)
			}
		}()
	}

	loop := lifeloop.New(cfg, b, host, client, agentDir, events)
	loop.Logger = logger
	loop.Tracer = tracer
	return loop.Run(ctx, resumeFrom)
}

// openAgentLog opens (creating if needed) the per-agent plain-text log
// at <workspace>/logs/<name>.log.
func openAgentLog(workspace, name string) (*os.File, error) {
	dir := filepath.Join(workspace, "logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(filepath.Join(dir, name+".log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}

// builtinDeps binds the per-agent tool handlers; only the leader gets a
// Spawner, since workers may not decompose further.
func builtinDeps(cfg models.AgentConfig, b *bus.Bus) toolhost.BuiltinDeps {
	deps := toolhost.BuiltinDeps{Workspace: cfg.Workspace, AgentName: cfg.Name, Bus: b}
	if cfg.Name == models.LeaderName {
		deps.Spawner = &supervisor.WorkerSpawner{
			Spawner:       &supervisor.ExecSpawner{},
			Workspace:     cfg.Workspace,
			QueueEndpoint: cfg.QueueEndpoint,
			TeamModel:     envString("SEALTEAM_TEAM_MODEL", ""),
			WorkerBudget:  envInt64("SEALTEAM_DEFAULT_BUDGET", 100_000),
			MaxIterations: envInt("SEALTEAM_DEFAULT_MAX_ITERATIONS", 50),
			MaxWorkers:    envInt("SEALTEAM_MAX_AGENTS", 6),
		}
	}
	return deps
}

func drainToolEvents(ctx context.Context, events <-chan lifeloop.ToolEvent, reg *metrics.Registry) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Stage {
			case "started":
				reg.ToolCallsInFlight.Inc()
				reg.ToolCallsTotal.WithLabelValues(ev.Tool).Inc()
			case "succeeded":
				reg.ToolCallsInFlight.Dec()
			case "failed":
				reg.ToolCallsInFlight.Dec()
				reg.ToolCallFailures.WithLabelValues(ev.Tool).Inc()
			}
		}
	}
}
