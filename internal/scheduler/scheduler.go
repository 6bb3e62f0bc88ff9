package scheduler

import (
	"context"
	"log/slog"
	"time"

	"listing_feed/internal/domain"
)

const refreshTimeout = time.Minute

// Refresher defines the interface for snapshot refreshes.
type Refresher interface {
	Refresh(ctx context.Context) (*domain.RefreshStats, error)
}

// Scheduler refreshes the dashboard snapshot periodically, so inserts
// missed while the stream was down eventually show up.
type Scheduler struct {
	refresher Refresher
	interval  time.Duration
	logger    *slog.Logger
}

func NewScheduler(refresher Refresher, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		refresher: refresher,
		interval:  interval,
		logger:    logger.With("component", "scheduler"),
	}
}

// Start blocks until ctx is cancelled. The first refresh runs one interval
// after Start; the initial load is the caller's job. A non-positive
// interval disables refreshing.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.interval <= 0 {
		s.logger.Info("scheduler disabled")
		<-ctx.Done()
		return ctx.Err()
	}

	s.logger.Info("scheduler started", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runRefresh(ctx)
		}
	}
}

func (s *Scheduler) runRefresh(ctx context.Context) {
	refreshCtx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()

	stats, err := s.refresher.Refresh(refreshCtx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("refresh failed", "error", err)
		}
		return
	}
	s.logger.Debug("refresh completed", "added", stats.Added, "replaced", stats.Replaced)
}
