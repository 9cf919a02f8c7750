package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/jamiebones/cbt-enroll-api/internal/models"
	"github.com/jamiebones/cbt-enroll-api/internal/repository"
	"github.com/jamiebones/cbt-enroll-api/pkg/jobs"
)

type statsLedger interface {
	AggregateStatsByTest(ctx context.Context, testID string) ([]models.StatsRow, error)
}

type statsWriter interface {
	UpdateStats(ctx context.Context, id string, stats models.EnrollmentStats) error
}

type statsCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// StatsQueueConfig tunes the background refresh queue.
type StatsQueueConfig struct {
	Workers    int
	BufferSize int
	CacheTTL   time.Duration
}

// EnrollmentStatsService derives the denormalized enrollment counters on Test
// records. Refreshes are best-effort and run off a background queue so they
// never block or fail the mutation that triggered them.
type EnrollmentStatsService struct {
	ledger   statsLedger
	tests    statsWriter
	cache    statsCache
	queue    *jobs.Queue
	cacheTTL time.Duration
	metrics  *MetricsService
	logger   *zap.Logger
}

// NewEnrollmentStatsService constructs the stats service and its refresh queue.
func NewEnrollmentStatsService(ledger statsLedger, tests statsWriter, cache statsCache, cfg StatsQueueConfig, metrics *MetricsService, logger *zap.Logger) *EnrollmentStatsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}

	s := &EnrollmentStatsService{
		ledger:   ledger,
		tests:    tests,
		cache:    cache,
		cacheTTL: cfg.CacheTTL,
		metrics:  metrics,
		logger:   logger,
	}
	s.queue = jobs.NewQueue("enrollment-stats", s.handleJob, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.BufferSize,
		Logger:     logger,
	})
	return s
}

// Start launches the refresh workers.
func (s *EnrollmentStatsService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the refresh workers.
func (s *EnrollmentStatsService) Stop() {
	s.queue.Stop()
}

// Refresh schedules a recomputation of the test's counters. Fire-and-forget:
// enqueue failures are logged and swallowed.
func (s *EnrollmentStatsService) Refresh(testID string) {
	if testID == "" {
		return
	}
	err := s.queue.Enqueue(jobs.Job{
		ID:      fmt.Sprintf("stats-%s-%d", testID, time.Now().UnixNano()),
		Type:    "refresh",
		Payload: testID,
	})
	if err != nil {
		s.logger.Warn("failed to enqueue stats refresh", zap.String("test_id", testID), zap.Error(err))
	}
}

// Compute recomputes the counters from ledger state. Revenue counts each
// settled enrollment once, so double-delivered completions cannot inflate it.
func (s *EnrollmentStatsService) Compute(ctx context.Context, testID string) (models.EnrollmentStats, error) {
	start := time.Now()
	rows, err := s.ledger.AggregateStatsByTest(ctx, testID)
	s.metrics.ObserveDBQuery("enrollment_stats_aggregate", time.Since(start))
	if err != nil {
		return models.EnrollmentStats{TotalRevenue: decimal.Zero}, err
	}

	stats := models.EnrollmentStats{TotalRevenue: decimal.Zero}
	for _, row := range rows {
		if row.EnrollmentStatus != models.EnrollmentStatusCancelled {
			stats.TotalEnrollments += row.Count
		}
		if row.PaymentStatus == models.PaymentStatusPending {
			stats.PendingPayments += row.Count
		}
		if row.EnrollmentStatus == models.EnrollmentStatusEnrolled && row.PaymentStatus == models.PaymentStatusCompleted {
			stats.ActiveEnrollments += row.Count
			stats.TotalRevenue = stats.TotalRevenue.Add(row.Amount)
		}
	}
	return stats, nil
}

// GetStats serves the counters for dashboards, preferring the cache. Failures
// degrade to a zeroed summary; stats reads never error out.
func (s *EnrollmentStatsService) GetStats(ctx context.Context, testID string) models.EnrollmentStats {
	key := statsCacheKey(testID)

	var cached models.EnrollmentStats
	if s.cache != nil {
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return cached
		} else if !errors.Is(err, repository.ErrCacheMiss) {
			s.logger.Warn("stats cache read failed", zap.String("test_id", testID), zap.Error(err))
		}
	}

	stats, err := s.Compute(ctx, testID)
	if err != nil {
		s.logger.Error("stats aggregation failed", zap.String("test_id", testID), zap.Error(err))
		return models.EnrollmentStats{TotalRevenue: decimal.Zero}
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, stats, s.cacheTTL); err != nil {
			s.logger.Warn("stats cache write failed", zap.String("test_id", testID), zap.Error(err))
		}
	}
	return stats
}

func (s *EnrollmentStatsService) handleJob(ctx context.Context, job jobs.Job) error {
	testID, ok := job.Payload.(string)
	if !ok || testID == "" {
		return nil
	}

	stats, err := s.Compute(ctx, testID)
	if err != nil {
		s.logger.Error("stats aggregation failed", zap.String("test_id", testID), zap.Error(err))
		return err
	}

	if err := s.tests.UpdateStats(ctx, testID, stats); err != nil {
		s.logger.Error("stats write failed", zap.String("test_id", testID), zap.Error(err))
		return err
	}

	if s.cache != nil {
		if err := s.cache.Delete(ctx, statsCacheKey(testID)); err != nil {
			s.logger.Warn("stats cache invalidation failed", zap.String("test_id", testID), zap.Error(err))
		}
	}
	return nil
}

func statsCacheKey(testID string) string {
	return "enrollment:stats:" + testID
}
