package rankcache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"heartbeat-backend/internal/domain"
	"heartbeat-backend/internal/infra/metrics"
)

const (
	// RankingKey хранит отсортированное множество: member = userId, score = maxConnections.
	RankingKey   = "user_ranking"
	namesKey     = RankingKey + ":names"
	watermarkKey = RankingKey + ":synced_at"
	rebuildKey   = RankingKey + ":rebuild:"

	rebuildTTL = time.Hour
)

// Redis реализует domain.RankingCache.
type Redis struct {
	client *redis.Client
}

var _ domain.RankingCache = (*Redis)(nil)

// NewRedis создаёт адаптер кэша рейтинга.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// UpsertScores записывает счёт и отображаемое имя каждого пользователя.
func (r *Redis) UpsertScores(ctx context.Context, records []domain.UserRankingRecord) error {
	if len(records) == 0 {
		return nil
	}
	start := time.Now()
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		writeRecords(ctx, pipe, RankingKey, namesKey, records)
		return nil
	})
	metrics.ObserveNetworkRequest("redis", "zadd", RankingKey, start, err)
	if err != nil {
		return fmt.Errorf("запись рейтинга: %w", err)
	}
	return nil
}

// Top возвращает limit лучших пользователей по убыванию счёта, при равенстве по возрастанию id.
func (r *Redis) Top(ctx context.Context, limit int) ([]domain.UserRankingRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	start := time.Now()
	top, err := r.client.ZRevRangeWithScores(ctx, RankingKey, 0, int64(limit-1)).Result()
	metrics.ObserveNetworkRequest("redis", "zrevrange", RankingKey, start, err)
	if err != nil {
		return nil, fmt.Errorf("чтение рейтинга: %w", err)
	}
	if len(top) == 0 {
		return []domain.UserRankingRecord{}, nil
	}

	scores := make(map[string]float64, len(top))
	for _, z := range top {
		scores[memberString(z.Member)] = z.Score
	}

	// Redis упорядочивает равные счета по убыванию member, поэтому на границе
	// могли остаться за бортом пользователи с меньшим id и тем же счётом.
	if len(top) == limit {
		boundary := top[len(top)-1].Score
		s := strconv.FormatFloat(boundary, 'f', -1, 64)
		// равные счета Redis отдаёт по возрастанию member, так что хватает первых limit
		tiedStart := time.Now()
		tied, err := r.client.ZRangeByScore(ctx, RankingKey, &redis.ZRangeBy{Min: s, Max: s, Offset: 0, Count: int64(limit)}).Result()
		metrics.ObserveNetworkRequest("redis", "zrangebyscore", RankingKey, tiedStart, err)
		if err != nil {
			return nil, fmt.Errorf("чтение равных счетов: %w", err)
		}
		for _, member := range tied {
			scores[member] = boundary
		}
	}

	records := make([]domain.UserRankingRecord, 0, len(scores))
	for id, score := range scores {
		records = append(records, domain.UserRankingRecord{UserID: id, MaxConnections: int64(score)})
	}
	domain.SortRankingRecords(records)
	if len(records) > limit {
		records = records[:limit]
	}

	ids := make([]string, len(records))
	for i, rec := range records {
		ids[i] = rec.UserID
	}
	names, err := r.client.HMGet(ctx, namesKey, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("чтение имён рейтинга: %w", err)
	}
	for i, raw := range names {
		if name, ok := raw.(string); ok {
			records[i].DisplayName = name
		}
	}
	return records, nil
}

// Score возвращает счёт пользователя в кэше.
func (r *Redis) Score(ctx context.Context, userID string) (int64, error) {
	score, err := r.client.ZScore(ctx, RankingKey, userID).Result()
	if errors.Is(err, redis.Nil) {
		return 0, domain.ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return int64(score), nil
}

// Watermark возвращает время последней успешной синхронизации. Нулевое время, если её не было.
func (r *Redis) Watermark(ctx context.Context) (time.Time, error) {
	raw, err := r.client.Get(ctx, watermarkKey).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("чтение отметки синхронизации: %w", err)
	}
	return domain.MillisToTime(raw), nil
}

// SetWatermark сохраняет отметку синхронизации. Нулевое время сбрасывает её.
func (r *Redis) SetWatermark(ctx context.Context, at time.Time) error {
	if at.IsZero() {
		return r.client.Del(ctx, watermarkKey).Err()
	}
	return r.client.Set(ctx, watermarkKey, at.UnixMilli(), 0).Err()
}

// BeginRebuild начинает сборку рейтинга во временных ключах.
func (r *Redis) BeginRebuild(ctx context.Context) (domain.RankingRebuild, error) {
	suffix := uuid.NewString()
	return &rebuild{
		client:   r.client,
		scoreKey: rebuildKey + suffix,
		namesKey: rebuildKey + suffix + ":names",
	}, nil
}

type rebuild struct {
	client   *redis.Client
	scoreKey string
	namesKey string
	scores   int
	names    int
}

func (b *rebuild) Add(ctx context.Context, records []domain.UserRankingRecord) error {
	if len(records) == 0 {
		return nil
	}
	start := time.Now()
	_, err := b.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		writeRecords(ctx, pipe, b.scoreKey, b.namesKey, records)
		pipe.Expire(ctx, b.scoreKey, rebuildTTL)
		pipe.Expire(ctx, b.namesKey, rebuildTTL)
		return nil
	})
	metrics.ObserveNetworkRequest("redis", "zadd", "ranking_rebuild", start, err)
	if err != nil {
		return fmt.Errorf("запись пересборки рейтинга: %w", err)
	}
	b.scores += len(records)
	for _, rec := range records {
		if rec.DisplayName != "" {
			b.names++
		}
	}
	return nil
}

// Commit атомарно подменяет рабочие ключи собранными.
func (b *rebuild) Commit(ctx context.Context) error {
	start := time.Now()
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if b.scores > 0 {
			pipe.Rename(ctx, b.scoreKey, RankingKey)
			pipe.Persist(ctx, RankingKey)
		} else {
			pipe.Del(ctx, RankingKey)
		}
		if b.names > 0 {
			pipe.Rename(ctx, b.namesKey, namesKey)
			pipe.Persist(ctx, namesKey)
		} else {
			pipe.Del(ctx, namesKey)
		}
		return nil
	})
	metrics.ObserveNetworkRequest("redis", "rename", RankingKey, start, err)
	if err != nil {
		return fmt.Errorf("подмена рейтинга: %w", err)
	}
	return nil
}

func (b *rebuild) Abort(ctx context.Context) error {
	return b.client.Del(ctx, b.scoreKey, b.namesKey).Err()
}

func writeRecords(ctx context.Context, pipe redis.Pipeliner, scoreKey, nameKey string, records []domain.UserRankingRecord) {
	members := make([]redis.Z, 0, len(records))
	names := make(map[string]any, len(records))
	for _, rec := range records {
		members = append(members, redis.Z{Score: float64(rec.MaxConnections), Member: rec.UserID})
		if rec.DisplayName != "" {
			names[rec.UserID] = rec.DisplayName
		}
	}
	pipe.ZAdd(ctx, scoreKey, members...)
	if len(names) > 0 {
		pipe.HSet(ctx, nameKey, names)
	}
}

func memberString(member any) string {
	switch v := member.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}
