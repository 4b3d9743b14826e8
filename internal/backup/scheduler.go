package backup

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler creates snapshots on a cron schedule and prunes old ones.
type Scheduler struct {
	manager  *Manager
	schedule string
	retain   int
	cron     *cron.Cron
	mu       sync.Mutex
	logger   *slog.Logger
	running  bool
}

// NewScheduler builds a Scheduler. retain <= 0 keeps every snapshot.
func NewScheduler(manager *Manager, schedule string, retain int) *Scheduler {
	return &Scheduler{
		manager:  manager,
		schedule: schedule,
		retain:   retain,
		cron:     cron.New(),
		logger:   slog.Default().With("component", "backup.scheduler"),
	}
}

// Start schedules snapshot runs. An empty schedule does nothing. The
// scheduler stops when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule == "" {
		s.logger.Info("backup schedule not configured, skipping scheduler")
		return nil
	}
	if s.running {
		return fmt.Errorf("backup scheduler already running")
	}
	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.schedule, err)
	}
	if _, err := s.cron.AddFunc(s.schedule, func() { s.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule backups: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("backup scheduler started", "schedule", s.schedule, "retain", s.retain)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// RunOnce creates one snapshot and applies retention.
func (s *Scheduler) RunOnce(ctx context.Context) {
	info, err := s.manager.CreateSnapshot(ctx)
	if err != nil {
		s.logger.Error("scheduled snapshot failed", "error", err)
		return
	}
	s.logger.Debug("scheduled snapshot created", "id", info.ID)
	if s.retain <= 0 {
		return
	}
	if _, err := s.manager.Prune(ctx, s.retain); err != nil {
		s.logger.Error("scheduled prune failed", "error", err)
	}
}

// Stop stops the scheduler and waits for a running snapshot to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		<-s.cron.Stop().Done()
		s.running = false
		s.logger.Info("backup scheduler stopped")
	}
}

// IsRunning reports whether the scheduler is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next scheduled snapshot time.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
