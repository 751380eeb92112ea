package refresh

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Quantum-Spooky/kgsweb-sub000/internal/logging"
	"github.com/Quantum-Spooky/kgsweb-sub000/internal/metrics"
)

// Task is a named refresh job run by the scheduler alongside the tree
// roots (ticker text, menu image).
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Scheduler periodically forces a rebuild for every configured root,
// independent of reader traffic, so the next reader hits a warm cache.
// A failure refreshing one key never blocks the others; errors are
// logged and swallowed.
type Scheduler struct {
	orch     *Orchestrator
	roots    []string
	interval time.Duration
	tasks    []Task
}

// NewScheduler creates a scheduled refresh driver for the given roots.
func NewScheduler(orch *Orchestrator, roots []string, interval time.Duration) *Scheduler {
	return &Scheduler{
		orch:     orch,
		roots:    roots,
		interval: interval,
	}
}

// AddTask registers an extra refresh job to run each cycle.
func (s *Scheduler) AddTask(name string, run func(ctx context.Context) error) {
	s.tasks = append(s.tasks, Task{Name: name, Run: run})
}

// Run refreshes all keys once immediately, then on every tick until the
// context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	logging.Info("scheduled refresh started",
		zap.Int("roots", len(s.roots)),
		zap.Int("tasks", len(s.tasks)),
		zap.Duration("interval", s.interval))

	s.refreshAll(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logging.Info("scheduled refresh stopped")
			return
		case <-ticker.C:
			s.refreshAll(ctx)
		}
	}
}

func (s *Scheduler) refreshAll(ctx context.Context) {
	for _, rootID := range s.roots {
		if ctx.Err() != nil {
			return
		}
		if err := s.orch.ForceRefresh(ctx, rootID); err != nil {
			metrics.RecordScheduledRefresh(false)
			logging.Error("scheduled refresh failed",
				zap.String("root", rootID), zap.Error(err))
			continue
		}
		metrics.RecordScheduledRefresh(true)
	}
	for _, task := range s.tasks {
		if ctx.Err() != nil {
			return
		}
		if err := task.Run(ctx); err != nil {
			metrics.RecordScheduledRefresh(false)
			logging.Error("scheduled task failed",
				zap.String("task", task.Name), zap.Error(err))
			continue
		}
		metrics.RecordScheduledRefresh(true)
	}
}
