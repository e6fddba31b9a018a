// internal/session/reaper.go
package session

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper is the slice of a manager the reaper needs.
type Sweeper interface {
	Cleanup(ctx context.Context) int
}

// Reaper runs Cleanup on each registered manager at a fixed interval. It is
// started once per process and stopped via context cancellation at shutdown.
type Reaper struct {
	interval time.Duration
	managers []Sweeper
	logger   *zap.Logger
}

func NewReaper(interval time.Duration, logger *zap.Logger, managers ...Sweeper) *Reaper {
	return &Reaper{interval: interval, managers: managers, logger: logger}
}

// Run blocks until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("session reaper stopped")
			return
		case <-ticker.C:
			total := 0
			for _, m := range r.managers {
				total += m.Cleanup(ctx)
			}
			if total > 0 {
				r.logger.Info("session reaper evicted idle or dead sessions",
					zap.Int("count", total))
			}
		}
	}
}
