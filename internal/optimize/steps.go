package optimize

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Oualidl290/new-andalus-telemetry/internal/cache"
	"github.com/Oualidl290/new-andalus-telemetry/internal/collector"
	"github.com/Oualidl290/new-andalus-telemetry/internal/storage"
	"github.com/Oualidl290/new-andalus-telemetry/internal/telemetry"
)

// minSlowOccurrences is how many times an operation must show up slow before
// an index suggestion is emitted for it.
const minSlowOccurrences = 3

// lowHitRatio is the cache hit ratio under which remediation kicks in.
const lowHitRatio = 0.5

// DatabaseStep refreshes SQLite planner statistics on the content database
// and derives index suggestions from the slow-query history.
type DatabaseStep struct {
	db      *storage.ContentDB
	queries *collector.QueryTracker
	trace   *telemetry.TraceHelper
	logger  *zap.Logger
}

func NewDatabaseStep(db *storage.ContentDB, queries *collector.QueryTracker, trace *telemetry.TraceHelper, logger *zap.Logger) *DatabaseStep {
	return &DatabaseStep{db: db, queries: queries, trace: trace, logger: logger}
}

// analyze refreshes planner statistics, spanned when tracing is wired.
func (s *DatabaseStep) analyze(ctx context.Context) error {
	if s.trace == nil {
		return s.db.Analyze(ctx)
	}
	return s.trace.TraceDatabaseAnalyzeFunc(ctx, s.db.Path(), func(ctx context.Context) error {
		return s.db.Analyze(ctx)
	})
}

func (s *DatabaseStep) Optimize(ctx context.Context) (StepResult, error) {
	result := emptyStep()

	before := s.queries.Stats()
	result.Metrics.Before["slow_queries"] = float64(before.SlowQueries)
	result.Metrics.Before["avg_duration_ms"] = before.AvgDurationMs

	if s.db == nil {
		result.Optimizations = append(result.Optimizations, "no content database configured, analysis skipped")
	} else {
		if err := s.analyze(ctx); err != nil {
			return result, fmt.Errorf("analyzing content database: %w", err)
		}
		result.Optimizations = append(result.Optimizations, "refreshed query planner statistics")

		counts, err := s.db.TableCounts(ctx)
		if err != nil {
			s.logger.Warn("Table introspection failed", zap.Error(err))
		} else {
			result.Metrics.After["tables"] = float64(len(counts))
		}
	}

	slow := s.queries.Metrics(collector.MetricsOptions{SlowOnly: true})
	result.Optimizations = append(result.Optimizations, storage.SuggestIndexes(slow, minSlowOccurrences)...)

	after := s.queries.Stats()
	result.Metrics.After["slow_queries"] = float64(after.SlowQueries)
	result.Metrics.After["avg_duration_ms"] = after.AvgDurationMs
	return result, nil
}

// CacheStep inspects page cache effectiveness and resets the cache when the
// hit ratio has degraded enough that its contents are mostly dead weight.
type CacheStep struct {
	cache  *cache.PageCache
	logger *zap.Logger
}

func NewCacheStep(pc *cache.PageCache, logger *zap.Logger) *CacheStep {
	return &CacheStep{cache: pc, logger: logger}
}

func (s *CacheStep) Optimize(ctx context.Context) (StepResult, error) {
	result := emptyStep()
	if s.cache == nil {
		result.Optimizations = append(result.Optimizations, "no page cache configured, tuning skipped")
		return result, nil
	}

	stats := s.cache.Stats()
	result.Metrics.Before["hit_ratio"] = stats.HitRatio
	result.Metrics.Before["evictions"] = float64(stats.Evictions)

	lookups := stats.Hits + stats.Misses
	switch {
	case lookups == 0:
		result.Optimizations = append(result.Optimizations, "cache is cold, nothing to tune")
	case stats.HitRatio < lowHitRatio:
		s.cache.Clear()
		result.Optimizations = append(result.Optimizations,
			fmt.Sprintf("cleared cache: hit ratio %.2f below %.2f", stats.HitRatio, lowHitRatio))
	default:
		result.Optimizations = append(result.Optimizations,
			fmt.Sprintf("cache healthy at hit ratio %.2f", stats.HitRatio))
	}

	after := s.cache.Stats()
	result.Metrics.After["hit_ratio"] = after.HitRatio
	result.Metrics.After["evictions"] = float64(after.Evictions)
	return result, nil
}

// ImageStep turns image load telemetry into remediation suggestions. It does
// not rewrite assets; the suggestions feed the editorial dashboard.
type ImageStep struct {
	images *collector.ImageCollector
	logger *zap.Logger
}

func NewImageStep(images *collector.ImageCollector, logger *zap.Logger) *ImageStep {
	return &ImageStep{images: images, logger: logger}
}

func (s *ImageStep) Optimize(ctx context.Context) (StepResult, error) {
	result := emptyStep()

	stats := s.images.Stats()
	result.Metrics.Before["total_images"] = float64(stats.TotalImages)
	result.Metrics.Before["slow_images"] = float64(stats.SlowImages)
	result.Metrics.Before["large_images"] = float64(stats.LargeImages)

	if stats.TotalImages == 0 {
		result.Optimizations = append(result.Optimizations, "no image telemetry recorded")
		return result, nil
	}

	if stats.SlowImages > 0 {
		result.Optimizations = append(result.Optimizations,
			fmt.Sprintf("%d slow image loads: enable lazy loading and CDN delivery", stats.SlowImages))
	}
	if stats.LargeImages > 0 {
		result.Optimizations = append(result.Optimizations,
			fmt.Sprintf("%d oversized images: convert to WebP or AVIF and resize to display dimensions", stats.LargeImages))
	}
	if stats.SlowImages == 0 && stats.LargeImages == 0 {
		result.Optimizations = append(result.Optimizations, "image delivery within thresholds")
	}

	result.Metrics.After["total_images"] = float64(stats.TotalImages)
	result.Metrics.After["slow_images"] = float64(stats.SlowImages)
	result.Metrics.After["large_images"] = float64(stats.LargeImages)
	return result, nil
}
