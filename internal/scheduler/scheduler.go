// Package scheduler drives the geocode worker on a fixed cadence and
// fronts the operational surface.
package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/foodshare/geoqueue/internal/domain"
	"github.com/foodshare/geoqueue/internal/worker"
)

// BatchRunner is the slice of the worker the scheduler drives.
type BatchRunner interface {
	RunBatch(ctx context.Context, batchSize int) (worker.Summary, error)
	ProcessOne(ctx context.Context, listingID int64, address string) (domain.Coordinates, error)
}

// Store is the slice of the queue store the scheduler reaches past the
// worker for.
type Store interface {
	ReleaseStuck(ctx context.Context, olderThan time.Duration) (int64, error)
	Stats(ctx context.Context) (domain.QueueStats, error)
	Cleanup(ctx context.Context, olderThanDays int) (int64, error)
}

type Options struct {
	Interval    time.Duration
	BatchSize   int
	StuckAfter  time.Duration
	CleanupDays int
}

type Scheduler struct {
	runner BatchRunner
	store  Store
	log    *zap.Logger

	interval    time.Duration
	batchSize   int
	stuckAfter  time.Duration
	cleanupDays int
	inFlight    atomic.Bool
}

func New(runner BatchRunner, store Store, log *zap.Logger, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = worker.DefaultBatchSize
	}
	if opts.StuckAfter <= 0 {
		opts.StuckAfter = time.Hour
	}
	if opts.CleanupDays <= 0 {
		opts.CleanupDays = domain.DefaultCleanupDays
	}
	return &Scheduler{
		runner:      runner,
		store:       store,
		log:         log,
		interval:    opts.Interval,
		batchSize:   opts.BatchSize,
		stuckAfter:  opts.StuckAfter,
		cleanupDays: opts.CleanupDays,
	}
}

// Run ticks until the context is canceled. A tick that fires while the
// previous batch is still in flight is skipped; at most one scheduled
// batch runs per instance. Other instances are safe regardless, since
// claims are exclusive.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("scheduler started",
		zap.Duration("interval", s.interval),
		zap.Int("batch_size", s.batchSize))

	tick := time.NewTicker(s.interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return nil
		case <-tick.C:
			s.tickOnce(ctx)
		}
	}
}

func (s *Scheduler) tickOnce(ctx context.Context) {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.log.Warn("previous batch still running, tick skipped")
		return
	}
	defer s.inFlight.Store(false)

	if n, err := s.store.ReleaseStuck(ctx, s.stuckAfter); err != nil {
		s.log.Error("stuck item sweep failed", zap.Error(err))
	} else if n > 0 {
		s.log.Warn("released stuck items", zap.Int64("count", n))
	}

	if _, err := s.runner.RunBatch(ctx, s.batchSize); err != nil {
		s.log.Error("scheduled batch failed", zap.Error(err))
	}
}

// RunBatch runs one batch on demand. It shares the store's claim
// exclusivity with scheduled ticks, not their single-flight guard.
func (s *Scheduler) RunBatch(ctx context.Context, batchSize int) (worker.Summary, error) {
	if batchSize <= 0 {
		batchSize = s.batchSize
	}
	return s.runner.RunBatch(ctx, batchSize)
}

func (s *Scheduler) Stats(ctx context.Context) (domain.QueueStats, error) {
	return s.store.Stats(ctx)
}

func (s *Scheduler) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	if olderThanDays <= 0 {
		olderThanDays = s.cleanupDays
	}
	return s.store.Cleanup(ctx, olderThanDays)
}

func (s *Scheduler) ProcessOne(ctx context.Context, listingID int64, address string) (domain.Coordinates, error) {
	return s.runner.ProcessOne(ctx, listingID, address)
}
