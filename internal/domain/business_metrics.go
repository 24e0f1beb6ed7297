package domain

import (
	"context"
	"time"
)

// BusinessMetric описывает бизнесовое событие, которое сохраняется для последующего анализа.
type BusinessMetric struct {
	Event      string
	UserID     string
	Metadata   map[string]any
	OccurredAt time.Time
}

const (
	// BusinessMetricEventNotificationFanout фиксирует рассылку уведомлений подписчикам.
	BusinessMetricEventNotificationFanout = "notification_fanout"
	// BusinessMetricEventRankingResynced фиксирует полную пересборку рейтинга.
	BusinessMetricEventRankingResynced = "ranking_resynced"
	// BusinessMetricEventHeartbeatIngested фиксирует приём пульса с взведённым триггером.
	BusinessMetricEventHeartbeatIngested = "heartbeat_ingested"
)

// BusinessMetricRepo сохраняет бизнесовые события.
type BusinessMetricRepo interface {
	RecordBusinessMetric(ctx context.Context, metric BusinessMetric) error
}
