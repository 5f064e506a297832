package jobs

import (
	"context"
	"time"

	"github.com/yungbote/resonance-backend/internal/logger"
	"github.com/yungbote/resonance-backend/internal/services"
)

// Sweeper periodically dissolves clusters past their expiry.
type Sweeper struct {
	log      *logger.Logger
	clusters services.ClusterService
	interval time.Duration
}

func NewSweeper(baseLog *logger.Logger, clusters services.ClusterService, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		log:      baseLog.With("component", "ClusterSweeper"),
		clusters: clusters,
		interval: interval,
	}
}

// Start launches the sweep loop until ctx is done. A panicking sweep is
// recovered and logged so one bad pass cannot kill the loop.
func (s *Sweeper) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep(ctx)
			}
		}
	}()
}

func (s *Sweeper) sweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("cluster sweep panicked", "panic", r)
		}
	}()

	dissolved, err := s.clusters.SweepExpired(ctx)
	if err != nil {
		s.log.Warn("cluster sweep failed", "error", err)
		return
	}
	if dissolved > 0 {
		s.log.Info("expired clusters dissolved", "count", dissolved)
	}
}
