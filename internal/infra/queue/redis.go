package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"heartbeat-backend/internal/domain"
	"heartbeat-backend/internal/infra/metrics"
)

// RedisTriggerQueue реализует очередь триггеров на базе Redis lists.
type RedisTriggerQueue struct {
	client *redis.Client
	key    string
	wait   time.Duration
}

var _ domain.TriggerQueue = (*RedisTriggerQueue)(nil)

// NewRedisTriggerQueue создаёт очередь по указанному ключу.
func NewRedisTriggerQueue(client *redis.Client, key string) *RedisTriggerQueue {
	return &RedisTriggerQueue{client: client, key: key, wait: time.Second}
}

// Enqueue публикует событие в очередь.
func (q *RedisTriggerQueue) Enqueue(ctx context.Context, event domain.TriggerEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	start := time.Now()
	err = q.client.LPush(ctx, q.key, payload).Err()
	metrics.ObserveNetworkRequest("redis", "lpush", q.key, start, err)
	if err != nil {
		return fmt.Errorf("push event: %w", err)
	}
	return nil
}

// Receive блокирующе читает событие. При неуспешной обработке событие возвращается в очередь.
func (q *RedisTriggerQueue) Receive(ctx context.Context) (domain.TriggerEvent, domain.TriggerAckFunc, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.TriggerEvent{}, nil, err
		}

		res, err := q.client.BRPop(ctx, q.wait, q.key).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return domain.TriggerEvent{}, nil, ctx.Err()
				}
				continue
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return domain.TriggerEvent{}, nil, err
		}
		if len(res) != 2 {
			return domain.TriggerEvent{}, nil, errors.New("redis queue: unexpected response")
		}
		payload := res[1]
		var event domain.TriggerEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			return domain.TriggerEvent{}, nil, fmt.Errorf("decode event: %w", err)
		}
		ack := func(success bool) error {
			if success {
				return nil
			}
			return q.client.LPush(context.WithoutCancel(ctx), q.key, payload).Err()
		}
		return event, ack, nil
	}
}
