package conversion

import (
	"context"
	"log/slog"
	"time"

	"bindery/internal/logging"
)

// Reaper periodically sweeps the orchestrator's registry: terminal jobs past
// the retention window are purged, and jobs stuck past the threshold are
// force-failed with their process terminated.
type Reaper struct {
	orchestrator *Orchestrator
	interval     time.Duration
	retention    time.Duration
	stuckAfter   time.Duration
	logger       *slog.Logger
}

// NewReaper constructs a reaper. Non-positive durations fall back to the
// defaults: 5m interval, 1h retention, 2h stuck threshold.
func NewReaper(orchestrator *Orchestrator, interval, retention, stuckAfter time.Duration, logger *slog.Logger) *Reaper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if retention <= 0 {
		retention = time.Hour
	}
	if stuckAfter <= 0 {
		stuckAfter = 2 * time.Hour
	}
	return &Reaper{
		orchestrator: orchestrator,
		interval:     interval,
		retention:    retention,
		stuckAfter:   stuckAfter,
		logger:       logging.NewComponentLogger(logger, "reaper"),
	}
}

// Run sweeps on a fixed interval until the context is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			purged, failed := r.orchestrator.Sweep(now.UTC(), r.retention, r.stuckAfter)
			if purged > 0 || failed > 0 {
				r.logger.Debug("sweep finished",
					logging.Int("purged", purged),
					logging.Int("force_failed", failed),
				)
			}
		}
	}
}
