package ranking

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"heartbeat-backend/internal/domain"
	"heartbeat-backend/internal/infra/metrics"
)

// DefaultMaxLimit ограничивает размер ответа рейтинга.
const DefaultMaxLimit = 100

// QueryService отдаёт топ пользователей по maxConnections.
type QueryService struct {
	cache    domain.RankingCache
	source   domain.RankingSource
	users    domain.UserRepo
	results  *ResultCache
	log      zerolog.Logger
	maxLimit int
}

// NewQueryService создаёт сервис чтения рейтинга.
func NewQueryService(cache domain.RankingCache, source domain.RankingSource, users domain.UserRepo, results *ResultCache, logger zerolog.Logger, maxLimit int) *QueryService {
	if maxLimit <= 0 {
		maxLimit = DefaultMaxLimit
	}
	return &QueryService{cache: cache, source: source, users: users, results: results, log: logger, maxLimit: maxLimit}
}

// GetRanking возвращает не больше limit лучших пользователей. Первое место у наибольшего maxConnections.
// При недоступности кэша рейтинга данные читаются из основного хранилища.
func (q *QueryService) GetRanking(ctx context.Context, limit int) ([]domain.RankingEntry, error) {
	if limit <= 0 {
		return nil, domain.ErrInvalidLimit
	}
	if limit > q.maxLimit {
		limit = q.maxLimit
	}
	if entries, ok := q.results.Get(limit); ok {
		metrics.RankingQueries.WithLabelValues("memory").Inc()
		return entries, nil
	}

	records, err := q.cache.Top(ctx, limit)
	source := "cache"
	if err != nil {
		q.log.Warn().Err(err).Int("limit", limit).Msg("ranking: кэш рейтинга недоступен, читаем из основного хранилища")
		records, err = q.source.TopByMaxConnections(ctx, limit)
		if err != nil {
			metrics.RankingQueries.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("чтение рейтинга из основного хранилища: %w", err)
		}
		source = "primary"
	} else {
		q.fillNames(ctx, records)
	}
	metrics.RankingQueries.WithLabelValues(source).Inc()

	domain.SortRankingRecords(records)
	if len(records) > limit {
		records = records[:limit]
	}
	entries := make([]domain.RankingEntry, len(records))
	for i, rec := range records {
		entries[i] = domain.RankingEntry{
			UserID:         rec.UserID,
			DisplayName:    rec.DisplayName,
			MaxConnections: rec.MaxConnections,
			Rank:           i + 1,
		}
	}
	q.results.Put(limit, entries)
	return entries, nil
}

// fillNames дописывает имена, которых нет в денормализованной копии.
func (q *QueryService) fillNames(ctx context.Context, records []domain.UserRankingRecord) {
	var missing []string
	for _, rec := range records {
		if rec.DisplayName == "" {
			missing = append(missing, rec.UserID)
		}
	}
	if len(missing) == 0 || q.users == nil {
		return
	}
	names, err := q.users.DisplayNames(ctx, missing)
	if err != nil {
		q.log.Warn().Err(err).Int("missing", len(missing)).Msg("ranking: не удалось получить имена")
		return
	}
	for i := range records {
		if records[i].DisplayName == "" {
			records[i].DisplayName = names[records[i].UserID]
		}
	}
}
