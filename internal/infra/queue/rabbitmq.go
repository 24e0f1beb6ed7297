package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"heartbeat-backend/internal/domain"
	"heartbeat-backend/internal/infra/metrics"
)

const defaultPrefetch = 16

// RabbitTriggerQueue реализует очередь триггеров поверх AMQP.
type RabbitTriggerQueue struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string

	mu         sync.Mutex
	deliveries <-chan amqp.Delivery
}

var _ domain.TriggerQueue = (*RabbitTriggerQueue)(nil)

// NewRabbitTriggerQueue подключается к брокеру и объявляет устойчивую очередь.
func NewRabbitTriggerQueue(amqpURL, queue string) (*RabbitTriggerQueue, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.Qos(defaultPrefetch, 0, false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	return &RabbitTriggerQueue{conn: conn, ch: ch, queue: queue}, nil
}

// Enqueue публикует событие с постоянной доставкой.
func (q *RabbitTriggerQueue) Enqueue(ctx context.Context, event domain.TriggerEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	start := time.Now()
	err = q.ch.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    start,
		Body:         payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", q.queue, start, err)
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Receive ждёт следующее событие. Подтверждение выполняется вызовом ack.
func (q *RabbitTriggerQueue) Receive(ctx context.Context) (domain.TriggerEvent, domain.TriggerAckFunc, error) {
	deliveries, err := q.consume()
	if err != nil {
		return domain.TriggerEvent{}, nil, err
	}
	for {
		select {
		case <-ctx.Done():
			return domain.TriggerEvent{}, nil, ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return domain.TriggerEvent{}, nil, errors.New("rabbitmq: delivery channel closed")
			}
			var event domain.TriggerEvent
			if err := json.Unmarshal(d.Body, &event); err != nil {
				_ = d.Reject(false)
				return domain.TriggerEvent{}, nil, fmt.Errorf("decode event: %w", err)
			}
			ack := func(success bool) error {
				if success {
					return d.Ack(false)
				}
				return d.Nack(false, true)
			}
			return event, ack, nil
		}
	}
}

// Close закрывает канал и соединение.
func (q *RabbitTriggerQueue) Close() error {
	_ = q.ch.Close()
	return q.conn.Close()
}

func (q *RabbitTriggerQueue) consume() (<-chan amqp.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.deliveries != nil {
		return q.deliveries, nil
	}
	deliveries, err := q.ch.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume: %w", err)
	}
	q.deliveries = deliveries
	return deliveries, nil
}
