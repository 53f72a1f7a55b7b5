package background

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper defines the periodic work: tombstoning due accounts and
// dispatching grace-period reminder emails.
type Sweeper interface {
	SweepPermanentDeletions(ctx context.Context) error
}

// SweepManager runs the deletion sweep on a fixed interval
type SweepManager struct {
	sweeper  Sweeper
	logger   *slog.Logger
	interval time.Duration
	stopCh   chan struct{}
}

// NewSweepManager creates a new sweep manager
func NewSweepManager(sweeper Sweeper, logger *slog.Logger, interval time.Duration) *SweepManager {
	return &SweepManager{
		sweeper:  sweeper,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic sweep task
func (sm *SweepManager) Start(ctx context.Context) {
	ticker := time.NewTicker(sm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	sm.runSweep(ctx)

	for {
		select {
		case <-ticker.C:
			sm.runSweep(ctx)
		case <-sm.stopCh:
			sm.logger.Info("deletion sweeper stopped")
			return
		case <-ctx.Done():
			sm.logger.Info("deletion sweeper context cancelled")
			return
		}
	}
}

func (sm *SweepManager) runSweep(ctx context.Context) {
	sm.logger.Info("starting account deletion sweep")

	sweepCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	if err := sm.sweeper.SweepPermanentDeletions(sweepCtx); err != nil {
		sm.logger.Error("account deletion sweep failed", slog.Any("error", err))
		return
	}

	sm.logger.Info("account deletion sweep completed")
}

// Stop signals the sweep manager to stop
func (sm *SweepManager) Stop() {
	close(sm.stopCh)
}
