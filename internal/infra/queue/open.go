package queue

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"heartbeat-backend/internal/domain"
)

const (
	BackendRabbitMQ = "rabbitmq"
	BackendRedis    = "redis"
)

// Open выбирает реализацию очереди триггеров. Возвращаемая функция освобождает соединение брокера.
func Open(backend, rabbitURL, key string, client *redis.Client) (domain.TriggerQueue, func() error, error) {
	switch backend {
	case BackendRabbitMQ, "":
		rq, err := NewRabbitTriggerQueue(rabbitURL, key)
		if err != nil {
			return nil, nil, err
		}
		return rq, rq.Close, nil
	case BackendRedis:
		if client == nil {
			return nil, nil, fmt.Errorf("очередь %s требует клиента Redis", backend)
		}
		return NewRedisTriggerQueue(client, key), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("неизвестный бэкенд очереди %q", backend)
	}
}
