// Package scheduler periodically submits definition-refresh jobs through the
// engine's admission path. It never runs a refresh itself.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"sbomscan/internal/engine"
)

// Scheduler triggers a definition refresh at a fixed interval.
type Scheduler struct {
	engine   *engine.Engine
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	nextRun time.Time
}

// New creates a Scheduler. Interval defaults to 12 hours.
func New(eng *engine.Engine, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 12 * time.Hour
	}
	return &Scheduler{engine: eng, interval: interval, logger: logger}
}

// Start begins the scheduling loop. An immediate refresh is triggered when no
// successful refresh exists yet; after that one runs per interval. A failed
// cycle is reported and never blocks the next one.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("starting refresh scheduler", "interval", s.interval)

	if s.engine.GetRefreshStatus().LastSuccess == nil {
		s.trigger()
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.setNextRun(time.Now().Add(s.interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stopping refresh scheduler")
			return
		case <-ticker.C:
			s.trigger()
			s.setNextRun(time.Now().Add(s.interval))
		}
	}
}

func (s *Scheduler) trigger() {
	id, created, err := s.engine.TriggerRefresh()
	if err != nil {
		s.logger.Error("failed to trigger scheduled refresh", "error", err)
		return
	}
	if !created {
		s.logger.Info("refresh already active, skipping cycle", "refresh", id)
		return
	}
	s.logger.Info("scheduled refresh triggered", "refresh", id)
}

func (s *Scheduler) setNextRun(t time.Time) {
	s.mu.Lock()
	s.nextRun = t
	s.mu.Unlock()
	s.engine.SetNextRefresh(t)
}

// NextRun returns when the next scheduled refresh will trigger.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRun
}
