package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-subs-api/internal/dto"
	appErrors "github.com/noah-isme/sma-subs-api/pkg/errors"
	"github.com/noah-isme/sma-subs-api/pkg/export"
)

type statsProvider interface {
	GetAssignmentStats(ctx context.Context, from, to time.Time) (*dto.AssignmentStats, error)
}

type statsCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

type datasetExporter interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfExporter interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// StatsService serves assignment statistics with a read-through cache and
// renders them as CSV or PDF downloads.
type StatsService struct {
	provider statsProvider
	cache    statsCache
	csv      datasetExporter
	pdf      pdfExporter
	metrics  *MetricsService
	cacheTTL time.Duration
	logger   *zap.Logger
}

// NewStatsService constructs a StatsService. A nil cache disables caching.
func NewStatsService(provider statsProvider, cache statsCache, metrics *MetricsService, cacheTTL time.Duration, logger *zap.Logger) *StatsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &StatsService{
		provider: provider,
		cache:    cache,
		csv:      export.NewCSVExporter(),
		pdf:      export.NewPDFExporter(),
		metrics:  metrics,
		cacheTTL: cacheTTL,
		logger:   logger,
	}
}

// Get returns assignment statistics for the range, served from cache when a
// fresh entry exists.
func (s *StatsService) Get(ctx context.Context, from, to time.Time) (*dto.AssignmentStats, error) {
	key := statsCacheKey(from, to)
	if s.cache != nil {
		var cached dto.AssignmentStats
		err := s.cache.Get(ctx, key, &cached)
		if err == nil {
			s.metrics.RecordCacheOperation(true)
			return &cached, nil
		}
		if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("stats cache read failed", zap.String("key", key), zap.Error(err))
		}
		s.metrics.RecordCacheOperation(false)
	}

	stats, err := s.provider.GetAssignmentStats(ctx, from, to)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, stats, s.cacheTTL); err != nil {
			s.logger.Warn("stats cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return stats, nil
}

// RenderCSV produces the statistics as a CSV document.
func (s *StatsService) RenderCSV(ctx context.Context, from, to time.Time) ([]byte, error) {
	stats, err := s.Get(ctx, from, to)
	if err != nil {
		return nil, err
	}
	return s.csv.Render(statsDataset(stats))
}

// RenderPDF produces the statistics as a PDF document.
func (s *StatsService) RenderPDF(ctx context.Context, from, to time.Time) ([]byte, error) {
	stats, err := s.Get(ctx, from, to)
	if err != nil {
		return nil, err
	}
	title := fmt.Sprintf("Substitution statistics %s to %s", from.Format("2006-01-02"), to.Format("2006-01-02"))
	return s.pdf.Render(statsDataset(stats), title)
}

func statsCacheKey(from, to time.Time) string {
	return fmt.Sprintf("stats:substitutions:%s:%s", from.Format("2006-01-02"), to.Format("2006-01-02"))
}

func statsDataset(stats *dto.AssignmentStats) export.Dataset {
	return export.Dataset{
		Headers: []string{"metric", "value"},
		Rows: []map[string]string{
			{"metric": "total_requests", "value": strconv.Itoa(stats.TotalRequests)},
			{"metric": "assigned", "value": strconv.Itoa(stats.Assigned)},
			{"metric": "auto_assigned", "value": strconv.Itoa(stats.AutoAssigned)},
			{"metric": "manually_assigned", "value": strconv.Itoa(stats.ManuallyAssigned)},
			{"metric": "pending", "value": strconv.Itoa(stats.Pending)},
			{"metric": "cancelled", "value": strconv.Itoa(stats.Cancelled)},
			{"metric": "success_rate", "value": strconv.FormatFloat(stats.SuccessRate, 'f', 4, 64)},
			{"metric": "avg_assigned_minutes", "value": strconv.FormatFloat(stats.AvgAssignedMinutes, 'f', 2, 64)},
		},
	}
}
