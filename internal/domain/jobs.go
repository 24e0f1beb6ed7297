package domain

import "context"

// TriggerEvent сообщает воркеру, что для пользователя создан триггер.
type TriggerEvent struct {
	UserID          string `json:"user_id"`
	TimestampMillis int64  `json:"timestamp_millis"`
}

// TriggerQueue описывает очередь событий о триггерах.
type TriggerQueue interface {
	Enqueue(ctx context.Context, event TriggerEvent) error
	Receive(ctx context.Context) (TriggerEvent, TriggerAckFunc, error)
}

// TriggerAckFunc подтверждает успешную обработку или запрашивает повтор доставки события.
type TriggerAckFunc func(success bool) error
