package supervisor

import (
	"context"
	"time"

	"github.com/sealteam/sealteam/internal/metrics"
	"github.com/sealteam/sealteam/internal/models"
	"github.com/sealteam/sealteam/internal/store"
)

var sessionStatuses = []string{
	string(models.SessionRunning), string(models.SessionCompleted), string(models.SessionFailed),
}

// ServeMetrics starts a /healthz + /metrics HTTP server reporting
// tracked-agent count and session status, refreshed once per
// reconciliation tick. It returns once ctx is cancelled.
func (s *Supervisor) ServeMetrics(ctx context.Context, addr string) error {
	reg := metrics.New("sealteam_supervisor")
	srv := metrics.NewServer(addr, reg)

	go func() {
		ticker := time.NewTicker(reconcileInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.refreshMetrics(reg)
			}
		}
	}()

	return srv.Start(ctx)
}

func (s *Supervisor) refreshMetrics(reg *metrics.Registry) {
	reg.TrackedAgents.Set(float64(s.trackedCount()))
	state, ok, err := store.ReadSessionState(s.Config.Workspace)
	if err != nil || !ok {
		return
	}
	reg.SetSessionStatus(sessionStatuses, string(state.Status))
}
