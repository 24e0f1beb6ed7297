package main

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"heartbeat-backend/internal/domain"
)

// triggerHandler обрабатывает триггер одного пользователя.
type triggerHandler interface {
	HandleTrigger(ctx context.Context, userID string) (domain.FanoutResult, error)
}

type triggerWorker struct {
	log     zerolog.Logger
	queue   domain.TriggerQueue
	events  domain.TriggerStore
	handler triggerHandler
	backoff time.Duration
}

// Run читает события из очереди до отмены контекста.
func (w *triggerWorker) Run(ctx context.Context) {
	for {
		event, ack, err := w.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			w.log.Error().Err(err).Msg("dispatcher: ошибка чтения очереди")
			w.sleep(ctx)
			continue
		}

		eventLog := w.log.With().Str("user", event.UserID).Int64("trigger_ts", event.TimestampMillis).Logger()
		if event.UserID == "" {
			eventLog.Error().Msg("dispatcher: событие без пользователя, подтверждаем и пропускаем")
			if err := ack(true); err != nil {
				eventLog.Error().Err(err).Msg("dispatcher: не удалось подтвердить событие")
			}
			continue
		}

		// при ошибке триггер остаётся в хранилище, повторная доставка обработает его снова
		if _, err := w.handler.HandleTrigger(ctx, event.UserID); err != nil {
			eventLog.Warn().Err(err).Msg("dispatcher: обработка не удалась, вернём событие в очередь")
			if ackErr := ack(false); ackErr != nil {
				eventLog.Error().Err(ackErr).Msg("dispatcher: не удалось вернуть событие")
			}
			w.sleep(ctx)
			continue
		}
		if err := ack(true); err != nil {
			eventLog.Error().Err(err).Msg("dispatcher: не удалось подтвердить событие")
		}
	}
}

// CatchUp обрабатывает триггеры, оставшиеся в хранилище без события в очереди.
func (w *triggerWorker) CatchUp(ctx context.Context) int {
	pending, err := w.events.ListPendingTriggers(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("dispatcher: не удалось получить ожидающие триггеры")
		return 0
	}
	handled := 0
	for _, trigger := range pending {
		if ctx.Err() != nil {
			break
		}
		if _, err := w.handler.HandleTrigger(ctx, trigger.UserID); err != nil {
			w.log.Warn().Err(err).Str("user", trigger.UserID).Msg("dispatcher: догоняющая обработка не удалась")
			continue
		}
		handled++
	}
	if len(pending) > 0 {
		w.log.Info().Int("pending", len(pending)).Int("handled", handled).Msg("dispatcher: догоняющий проход завершён")
	}
	return handled
}

// RunCatchUp периодически запускает CatchUp.
func (w *triggerWorker) RunCatchUp(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.CatchUp(ctx)
		}
	}
}

func (w *triggerWorker) sleep(ctx context.Context) {
	backoff := w.backoff
	if backoff <= 0 {
		backoff = time.Second
	}
	select {
	case <-ctx.Done():
	case <-time.After(backoff):
	}
}
