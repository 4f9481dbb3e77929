package trmnl

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Scheduler pushes the plan once at start and then on every interval tick.
type Scheduler struct {
	pusher   *Pusher
	interval time.Duration
	logger   *zap.Logger
}

// NewScheduler creates a Scheduler. The interval defaults to one hour.
func NewScheduler(pusher *Pusher, interval time.Duration, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{pusher: pusher, interval: interval, logger: logger.Named("trmnl.scheduler")}
}

// Run blocks until ctx is done. It returns immediately when pushing is disabled.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.pusher.Enabled() {
		s.logger.Info("display webhook not configured, scheduler disabled")
		return nil
	}
	s.logger.Info("starting display push scheduler", zap.Duration("interval", s.interval))

	s.pusher.Push(ctx, false)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.pusher.Push(ctx, false)
		}
	}
}
