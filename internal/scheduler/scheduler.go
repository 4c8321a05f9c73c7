// Package scheduler runs background cache maintenance on gocron.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

// Warmer pre-resolves cities into the cache.
type Warmer interface {
	Warm(ctx context.Context, cities []string) error
}

// Purger deletes expired entries from a cache store that does not expire them itself.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Scheduler owns the periodic jobs. Jobs never overlap with themselves.
type Scheduler struct {
	scheduler  *gocron.Scheduler
	logger     *zap.Logger
	jobTimeout time.Duration
}

// New creates a Scheduler. Each job run gets its own context bounded by jobTimeout.
func New(logger *zap.Logger, jobTimeout time.Duration) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if jobTimeout <= 0 {
		jobTimeout = 30 * time.Second
	}
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Scheduler{scheduler: s, logger: logger, jobTimeout: jobTimeout}
}

// ScheduleWarming warms cities once at start, then every interval.
func (s *Scheduler) ScheduleWarming(w Warmer, cities []string, interval time.Duration) error {
	if len(cities) == 0 {
		s.logger.Info("scheduler: no tracked cities; cache warming disabled")
		return nil
	}
	if interval <= 0 {
		return fmt.Errorf("scheduler: warming interval must be positive, got %v", interval)
	}
	_, err := s.scheduler.Every(interval).Tag("warming").Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
		defer cancel()
		if err := w.Warm(ctx, cities); err != nil {
			s.logger.Warn("scheduled cache warm failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule warming: %w", err)
	}
	return nil
}

// SchedulePurge removes expired entries every interval, starting one interval from now.
func (s *Scheduler) SchedulePurge(p Purger, interval time.Duration) error {
	if interval <= 0 {
		return errors.New("scheduler: purge interval must be positive")
	}
	_, err := s.scheduler.Every(interval).Tag("purge").WaitForSchedule().Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
		defer cancel()
		n, err := p.PurgeExpired(ctx)
		if err != nil {
			s.logger.Warn("scheduled cache purge failed", zap.Error(err))
			return
		}
		s.logger.Debug("expired cache entries purged", zap.Int64("rows", n))
	})
	if err != nil {
		return fmt.Errorf("schedule purge: %w", err)
	}
	return nil
}

// Jobs returns the number of scheduled jobs.
func (s *Scheduler) Jobs() int {
	return s.scheduler.Len()
}

// Start runs the scheduler in the background.
func (s *Scheduler) Start() {
	if s.scheduler.Len() == 0 {
		return
	}
	s.scheduler.StartAsync()
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler.IsRunning() {
		s.scheduler.Stop()
	}
}
