// Command sealteam runs the crash-resumable, multi-process, multi-agent
// orchestration supervisor: it spawns a leader agent subprocess to
// decompose a goal, lets the leader spawn and coordinate worker
// subprocesses over a durable message bus, and respawns any agent that
// crashes from its last completed step.
//
// # Basic usage
//
//	sealteam "build a CLI that converts markdown to slides"
//
// # Environment variables
//
//   - ANTHROPIC_API_KEY: required; forwarded to every agent subprocess
//   - VALKEY_URL: queue endpoint (default valkey://localhost:6379)
//   - SEALTEAM_MAX_AGENTS, SEALTEAM_DEFAULT_BUDGET,
//     SEALTEAM_DEFAULT_MAX_ITERATIONS, SEALTEAM_WORKSPACE,
//     SEALTEAM_LEADER_MODEL, SEALTEAM_TEAM_MODEL: flag fallbacks
package main

import (
	"log/slog"
	"os"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}
