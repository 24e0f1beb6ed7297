package events

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"heartbeat-backend/internal/domain"
	"heartbeat-backend/internal/infra/metrics"
)

const (
	heartbeatPrefix = "heartbeats:"
	triggerPrefix   = "triggers:"

	fieldBPM       = "bpm"
	fieldTimestamp = "timestampMillis"
	fieldTrigger   = "trigger"
	fieldNonce     = "nonce"

	scanCount = 200
)

// deleteIfOlder удаляет хеш, если его timestampMillis строго меньше ARGV[1].
// Хеш без метки времени или с нечисловой меткой считается мусором.
var deleteIfOlder = redis.NewScript(`
local ts = redis.call('HGET', KEYS[1], 'timestampMillis')
if not ts then
  return redis.call('DEL', KEYS[1])
end
local n = tonumber(ts)
if n == nil or n < tonumber(ARGV[1]) then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// deleteIfSame удаляет триггер, только если в нём всё ещё записаны ARGV[1] (nonce)
// и ARGV[2] (timestampMillis).
var deleteIfSame = redis.NewScript(`
local nonce = redis.call('HGET', KEYS[1], 'nonce') or ''
local ts = redis.call('HGET', KEYS[1], 'timestampMillis') or ''
if nonce == ARGV[1] and ts == ARGV[2] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// Redis реализует domain.EventStore поверх хешей Redis.
type Redis struct {
	client *redis.Client
}

var _ domain.EventStore = (*Redis)(nil)

// NewRedis создаёт адаптер эфемерного хранилища.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func heartbeatKey(userID string) string { return heartbeatPrefix + userID }
func triggerKey(userID string) string   { return triggerPrefix + userID }

// SaveHeartbeat перезаписывает текущее значение пульса пользователя.
func (r *Redis) SaveHeartbeat(ctx context.Context, sample domain.HeartbeatSample) error {
	start := time.Now()
	err := r.client.HSet(ctx, heartbeatKey(sample.UserID),
		fieldBPM, sample.BPM,
		fieldTimestamp, sample.TimestampMillis,
	).Err()
	metrics.ObserveNetworkRequest("redis", "hset", "heartbeats", start, err)
	if err != nil {
		return fmt.Errorf("сохранение пульса: %w", err)
	}
	return nil
}

// GetHeartbeat возвращает текущее значение пульса.
func (r *Redis) GetHeartbeat(ctx context.Context, userID string) (domain.HeartbeatSample, error) {
	values, err := r.hgetAll(ctx, heartbeatKey(userID), "heartbeats")
	if err != nil {
		return domain.HeartbeatSample{}, err
	}
	bpm, err := strconv.Atoi(values[fieldBPM])
	if err != nil {
		return domain.HeartbeatSample{}, fmt.Errorf("разбор bpm %s: %w", userID, err)
	}
	ts, err := strconv.ParseInt(values[fieldTimestamp], 10, 64)
	if err != nil {
		return domain.HeartbeatSample{}, fmt.Errorf("разбор времени пульса %s: %w", userID, err)
	}
	return domain.HeartbeatSample{UserID: userID, BPM: bpm, TimestampMillis: ts}, nil
}

// SaveTrigger взводит триггер уведомлений.
func (r *Redis) SaveTrigger(ctx context.Context, trigger domain.NotificationTrigger) error {
	start := time.Now()
	err := r.client.HSet(ctx, triggerKey(trigger.UserID),
		fieldTrigger, 1,
		fieldTimestamp, trigger.TimestampMillis,
		fieldNonce, trigger.Nonce,
	).Err()
	metrics.ObserveNetworkRequest("redis", "hset", "triggers", start, err)
	if err != nil {
		return fmt.Errorf("сохранение триггера: %w", err)
	}
	return nil
}

// GetTrigger возвращает триггер пользователя.
func (r *Redis) GetTrigger(ctx context.Context, userID string) (domain.NotificationTrigger, error) {
	values, err := r.hgetAll(ctx, triggerKey(userID), "triggers")
	if err != nil {
		return domain.NotificationTrigger{}, err
	}
	ts, err := strconv.ParseInt(values[fieldTimestamp], 10, 64)
	if err != nil {
		// метка повреждена, но сам факт наличия триггера важнее её содержимого
		ts = 0
	}
	return domain.NotificationTrigger{UserID: userID, TimestampMillis: ts, Nonce: values[fieldNonce]}, nil
}

// DeleteTrigger удаляет прочитанную запись триггера, если её не перезаписали.
// Повторное удаление не ошибка.
func (r *Redis) DeleteTrigger(ctx context.Context, trigger domain.NotificationTrigger) error {
	start := time.Now()
	err := deleteIfSame.Run(ctx, r.client, []string{triggerKey(trigger.UserID)},
		trigger.Nonce, strconv.FormatInt(trigger.TimestampMillis, 10)).Err()
	metrics.ObserveNetworkRequest("redis", "del", "triggers", start, err)
	if err != nil {
		return fmt.Errorf("удаление триггера: %w", err)
	}
	return nil
}

// ListPendingTriggers возвращает все взведённые триггеры.
func (r *Redis) ListPendingTriggers(ctx context.Context) ([]domain.NotificationTrigger, error) {
	var triggers []domain.NotificationTrigger
	err := r.scan(ctx, triggerPrefix+"*", func(key string) error {
		userID := strings.TrimPrefix(key, triggerPrefix)
		trigger, err := r.GetTrigger(ctx, userID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		triggers = append(triggers, trigger)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return triggers, nil
}

// DeleteOlderThan удаляет пульс и триггеры с меткой времени строго меньше cutoff.
func (r *Redis) DeleteOlderThan(ctx context.Context, cutoff time.Time) (domain.SweepResult, error) {
	var result domain.SweepResult
	cutoffMillis := cutoff.UnixMilli()

	heartbeats, err := r.deleteMatching(ctx, heartbeatPrefix+"*", cutoffMillis)
	result.Heartbeats = heartbeats
	if err != nil {
		return result, fmt.Errorf("очистка пульса: %w", err)
	}
	triggers, err := r.deleteMatching(ctx, triggerPrefix+"*", cutoffMillis)
	result.Triggers = triggers
	if err != nil {
		return result, fmt.Errorf("очистка триггеров: %w", err)
	}
	return result, nil
}

func (r *Redis) deleteMatching(ctx context.Context, pattern string, cutoffMillis int64) (int, error) {
	deleted := 0
	err := r.scan(ctx, pattern, func(key string) error {
		n, err := deleteIfOlder.Run(ctx, r.client, []string{key}, cutoffMillis).Int()
		if err != nil {
			return err
		}
		deleted += n
		return nil
	})
	return deleted, err
}

func (r *Redis) scan(ctx context.Context, pattern string, fn func(key string) error) error {
	iter := r.client.Scan(ctx, 0, pattern, scanCount).Iterator()
	for iter.Next(ctx) {
		if err := fn(iter.Val()); err != nil {
			return err
		}
	}
	return iter.Err()
}

func (r *Redis) hgetAll(ctx context.Context, key, target string) (map[string]string, error) {
	start := time.Now()
	values, err := r.client.HGetAll(ctx, key).Result()
	metrics.ObserveNetworkRequest("redis", "hgetall", target, start, err)
	if err != nil {
		return nil, fmt.Errorf("чтение %s: %w", key, err)
	}
	if len(values) == 0 {
		return nil, domain.ErrNotFound
	}
	return values, nil
}
