package ranking

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"heartbeat-backend/internal/domain"
	"heartbeat-backend/internal/infra/metrics"
)

const defaultBatchSize = 500

// Synchronizer переносит maxConnections из основного хранилища в кэш рейтинга.
type Synchronizer struct {
	source    domain.RankingSource
	cache     domain.RankingCache
	analytics domain.BusinessMetricRepo
	log       zerolog.Logger
	batchSize int
	// overlap расширяет окно инкрементальной выборки назад, чтобы не терять
	// изменения, зафиксированные во время предыдущего прогона.
	overlap time.Duration
	now     func() time.Time
}

// NewSynchronizer создаёт синхронизатор. analytics может быть nil.
func NewSynchronizer(source domain.RankingSource, cache domain.RankingCache, analytics domain.BusinessMetricRepo, logger zerolog.Logger, batchSize int, interval time.Duration) *Synchronizer {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Synchronizer{
		source:    source,
		cache:     cache,
		analytics: analytics,
		log:       logger,
		batchSize: batchSize,
		overlap:   interval,
		now:       time.Now,
	}
}

// SyncScheduled переносит записи, изменённые с прошлой успешной синхронизации.
// Без отметки переносятся все записи.
func (s *Synchronizer) SyncScheduled(ctx context.Context) (int, error) {
	started := s.now().UTC()
	defer func() {
		metrics.RankingSyncSeconds.WithLabelValues("scheduled").Observe(time.Since(started).Seconds())
	}()

	watermark, err := s.cache.Watermark(ctx)
	if err != nil {
		return 0, fmt.Errorf("чтение отметки: %w", err)
	}
	var since time.Time
	if !watermark.IsZero() {
		since = watermark.Add(-s.overlap)
	}

	synced, err := s.walk(ctx, since, func(batch []domain.UserRankingRecord) error {
		return s.cache.UpsertScores(ctx, batch)
	})
	metrics.RankingSyncedEntries.WithLabelValues("scheduled").Add(float64(synced))
	if err != nil {
		s.log.Error().Err(err).Int("synced", synced).Msg("ranking: синхронизация прервана")
		return synced, err
	}
	if err := s.cache.SetWatermark(ctx, started); err != nil {
		return synced, fmt.Errorf("сохранение отметки: %w", err)
	}
	s.log.Info().Int("synced", synced).Time("since", since).Msg("ranking: синхронизация завершена")
	return synced, nil
}

// FullResync пересобирает рейтинг целиком и атомарно подменяет его.
func (s *Synchronizer) FullResync(ctx context.Context) (int, error) {
	started := s.now().UTC()
	defer func() {
		metrics.RankingSyncSeconds.WithLabelValues("full").Observe(time.Since(started).Seconds())
	}()

	rebuild, err := s.cache.BeginRebuild(ctx)
	if err != nil {
		return 0, fmt.Errorf("начало пересборки: %w", err)
	}
	synced, err := s.walk(ctx, time.Time{}, func(batch []domain.UserRankingRecord) error {
		return rebuild.Add(ctx, batch)
	})
	if err != nil {
		if abortErr := rebuild.Abort(context.WithoutCancel(ctx)); abortErr != nil {
			s.log.Warn().Err(abortErr).Msg("ranking: не удалось удалить временные ключи")
		}
		return synced, err
	}
	if err := rebuild.Commit(ctx); err != nil {
		return synced, err
	}
	metrics.RankingSyncedEntries.WithLabelValues("full").Add(float64(synced))
	if err := s.cache.SetWatermark(ctx, started); err != nil {
		s.log.Warn().Err(err).Msg("ranking: не удалось сохранить отметку после пересборки")
	}
	s.log.Info().Int("synced", synced).Msg("ranking: полная пересборка завершена")

	if s.analytics != nil {
		metric := domain.BusinessMetric{
			Event:    domain.BusinessMetricEventRankingResynced,
			Metadata: map[string]any{"entries": synced, "duration_ms": time.Since(started).Milliseconds()},
		}
		if err := s.analytics.RecordBusinessMetric(ctx, metric); err != nil {
			s.log.Error().Err(err).Str("event", metric.Event).Msg("ranking: не удалось сохранить бизнес-метрику")
		}
	}
	return synced, nil
}

func (s *Synchronizer) walk(ctx context.Context, since time.Time, apply func([]domain.UserRankingRecord) error) (int, error) {
	total := 0
	afterID := ""
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		batch, err := s.source.ListRankingRecords(ctx, since, afterID, s.batchSize)
		if err != nil {
			return total, fmt.Errorf("чтение записей рейтинга: %w", err)
		}
		if len(batch) == 0 {
			return total, nil
		}
		if err := apply(batch); err != nil {
			return total, fmt.Errorf("запись в кэш рейтинга: %w", err)
		}
		total += len(batch)
		afterID = batch[len(batch)-1].UserID
		if len(batch) < s.batchSize {
			return total, nil
		}
	}
}
