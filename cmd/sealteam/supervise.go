package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sealteam/sealteam/internal/supervisor"
	"github.com/spf13/cobra"
)

const metricsAddr = ":9090"

func runSupervisor(cmd *cobra.Command, flags *cliFlags, goal string) error {
	if strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")) == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required")
	}

	cfg := supervisor.Config{
		Goal:          goal,
		Workspace:     flags.workspace,
		QueueEndpoint: flags.valkeyURL,
		Workers:       flags.workers,
		Budget:        flags.budget,
		MaxIterations: flags.maxIterations,
		LeaderModel:   flags.leaderModel,
		TeamModel:     flags.teamModel,
	}
	if flags.resumeFrom != "" {
		cfg.Workspace = flags.resumeFrom
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	b, err := supervisor.ConnectBus(ctx, cfg.QueueEndpoint)
	if err != nil {
		return err
	}
	defer b.Close()

	spawner := &supervisor.ExecSpawner{ExtraEnv: []string{"ANTHROPIC_API_KEY=" + os.Getenv("ANTHROPIC_API_KEY")}}
	sup := supervisor.New(cfg, b, spawner)
	// Forward the resolved flag values so the leader's spawn tool applies
	// the same worker cap, budget, iteration cap and team model.
	spawner.ExtraEnv = append(spawner.ExtraEnv,
		fmt.Sprintf("SEALTEAM_MAX_AGENTS=%d", sup.Config.Workers),
		fmt.Sprintf("SEALTEAM_DEFAULT_BUDGET=%d", cfg.Budget),
		fmt.Sprintf("SEALTEAM_DEFAULT_MAX_ITERATIONS=%d", cfg.MaxIterations),
		"SEALTEAM_TEAM_MODEL="+cfg.TeamModel,
	)

	metricsCtx, stopMetrics := context.WithCancel(context.Background())
	defer stopMetrics()
	go func() {
		if err := sup.ServeMetrics(metricsCtx, metricsAddr); err != nil {
			sup.Logger.Error("metrics server stopped", "error", err)
		}
	}()

	if flags.resumeFrom != "" {
		return sup.Resume(ctx)
	}
	return sup.Run(ctx)
}
