package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// cliFlags holds every root-command flag value; each flag's default
// falls back to its SEALTEAM_*/VALKEY_URL environment variable.
type cliFlags struct {
	workers       int
	budget        int64
	maxIterations int
	workspace     string
	valkeyURL     string
	leaderModel   string
	teamModel     string
	resumeFrom    string
}

func buildRootCmd() *cobra.Command {
	flags := &cliFlags{}

	rootCmd := &cobra.Command{
		Use:   `sealteam [flags] "<goal>"`,
		Short: "sealteam - crash-resumable multi-agent orchestration",
		Long: `sealteam spawns a leader agent that decomposes a goal, delegates to worker
agents over a durable message bus, and survives crashes by resuming each
agent from its last completed iteration step.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
		Args: func(cmd *cobra.Command, args []string) error {
			if flags.resumeFrom != "" {
				return cobra.MaximumNArgs(1)(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			goal := ""
			if len(args) == 1 {
				goal = args[0]
			}
			return runSupervisor(cmd, flags, goal)
		},
	}

	rootCmd.Flags().IntVar(&flags.workers, "workers", envInt("SEALTEAM_MAX_AGENTS", 6), "Max concurrent workers")
	rootCmd.Flags().Int64Var(&flags.budget, "budget", envInt64("SEALTEAM_DEFAULT_BUDGET", 100_000), "Per-agent token budget")
	rootCmd.Flags().IntVar(&flags.maxIterations, "max-iterations", envInt("SEALTEAM_DEFAULT_MAX_ITERATIONS", 50), "Per-agent iteration cap")
	rootCmd.Flags().StringVar(&flags.workspace, "workspace", envString("SEALTEAM_WORKSPACE", "./workspace"), "Output root")
	rootCmd.Flags().StringVar(&flags.valkeyURL, "valkey-url", envString("VALKEY_URL", "valkey://localhost:6379"), "Queue endpoint")
	rootCmd.Flags().StringVar(&flags.leaderModel, "leader-model", envString("SEALTEAM_LEADER_MODEL", ""), "Leader's LLM id")
	rootCmd.Flags().StringVar(&flags.teamModel, "team-model", envString("SEALTEAM_TEAM_MODEL", ""), "Worker LLM id")
	rootCmd.Flags().StringVar(&flags.resumeFrom, "resume-from", "", "Recover a session from an existing workspace path")

	rootCmd.AddCommand(buildAgentCmd(), buildVersionCmd())
	return rootCmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "sealteam %s (commit: %s, built: %s)\n", version, commit, date)
			return nil
		},
	}
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envInt64(key string, def int64) int64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}
