package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"heartbeat-backend/internal/domain"
	"heartbeat-backend/internal/infra/metrics"
)

// DefaultCooldown задаёт минимальный интервал между триггерами одного пользователя.
const DefaultCooldown = 5 * time.Minute

// Service принимает пульс от клиентов и взводит триггеры уведомлений.
type Service struct {
	events    domain.EventStore
	cooldowns domain.Cache
	queue     domain.TriggerQueue
	analytics domain.BusinessMetricRepo
	log       zerolog.Logger
	cooldown  time.Duration
}

// NewService создаёт сервис приёма пульса. queue и analytics могут быть nil.
func NewService(events domain.EventStore, cooldowns domain.Cache, queue domain.TriggerQueue, analytics domain.BusinessMetricRepo, logger zerolog.Logger, cooldown time.Duration) *Service {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Service{
		events:    events,
		cooldowns: cooldowns,
		queue:     queue,
		analytics: analytics,
		log:       logger,
		cooldown:  cooldown,
	}
}

// Record сохраняет пульс и, если истёк интервал, взводит триггер.
func (s *Service) Record(ctx context.Context, sample domain.HeartbeatSample) (bool, error) {
	if !sample.Valid() {
		return false, domain.ErrInvalidHeartbeat
	}
	if sample.TimestampMillis <= 0 {
		sample.TimestampMillis = time.Now().UnixMilli()
	}
	if err := s.events.SaveHeartbeat(ctx, sample); err != nil {
		return false, fmt.Errorf("сохранение пульса: %w", err)
	}

	key := cooldownKey(sample.UserID)
	acquired, err := s.cooldowns.Acquire(ctx, key, s.cooldown)
	if err != nil {
		return false, fmt.Errorf("проверка интервала триггера: %w", err)
	}
	if !acquired {
		metrics.HeartbeatsIngested.WithLabelValues("cooldown").Inc()
		return false, nil
	}

	trigger := domain.NotificationTrigger{UserID: sample.UserID, TimestampMillis: sample.TimestampMillis, Nonce: uuid.NewString()}
	if err := s.arm(ctx, trigger); err != nil {
		if releaseErr := s.cooldowns.Release(context.WithoutCancel(ctx), key); releaseErr != nil {
			s.log.Warn().Err(releaseErr).Str("user_id", sample.UserID).Msg("ingest: не удалось снять интервал")
		}
		metrics.HeartbeatsIngested.WithLabelValues("error").Inc()
		return false, err
	}
	metrics.HeartbeatsIngested.WithLabelValues("armed").Inc()
	s.log.Debug().Str("user_id", sample.UserID).Int("bpm", sample.BPM).Msg("ingest: триггер взведён")

	if s.analytics != nil {
		metric := domain.BusinessMetric{
			Event:    domain.BusinessMetricEventHeartbeatIngested,
			UserID:   sample.UserID,
			Metadata: map[string]any{"bpm": sample.BPM, "timestamp_millis": sample.TimestampMillis},
		}
		if err := s.analytics.RecordBusinessMetric(ctx, metric); err != nil {
			s.log.Error().Err(err).Str("event", metric.Event).Msg("ingest: не удалось сохранить бизнес-метрику")
		}
	}
	return true, nil
}

func (s *Service) arm(ctx context.Context, trigger domain.NotificationTrigger) error {
	if err := s.events.SaveTrigger(ctx, trigger); err != nil {
		return fmt.Errorf("сохранение триггера: %w", err)
	}
	if s.queue == nil {
		return nil
	}
	event := domain.TriggerEvent{UserID: trigger.UserID, TimestampMillis: trigger.TimestampMillis}
	if err := s.queue.Enqueue(ctx, event); err != nil {
		return fmt.Errorf("публикация триггера: %w", err)
	}
	return nil
}

func cooldownKey(userID string) string {
	return "cooldown:trigger:" + userID
}

