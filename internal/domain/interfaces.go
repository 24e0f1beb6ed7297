package domain

import (
	"context"
	"time"
)

// HeartbeatStore хранит текущие значения пульса в эфемерном хранилище.
type HeartbeatStore interface {
	SaveHeartbeat(ctx context.Context, sample HeartbeatSample) error
	// GetHeartbeat возвращает ErrNotFound, если значения нет.
	GetHeartbeat(ctx context.Context, userID string) (HeartbeatSample, error)
}

// TriggerStore хранит триггеры уведомлений.
type TriggerStore interface {
	SaveTrigger(ctx context.Context, trigger NotificationTrigger) error
	// GetTrigger возвращает ErrNotFound, если триггера нет.
	GetTrigger(ctx context.Context, userID string) (NotificationTrigger, error)
	// DeleteTrigger удаляет именно эту запись триггера: перевзведённый триггер остаётся.
	// Отсутствие триггера не ошибка.
	DeleteTrigger(ctx context.Context, trigger NotificationTrigger) error
	ListPendingTriggers(ctx context.Context) ([]NotificationTrigger, error)
}

// EventStore объединяет операции эфемерного хранилища событий.
type EventStore interface {
	HeartbeatStore
	TriggerStore
	// DeleteOlderThan удаляет пульс и триггеры со временем строго меньше cutoff.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (SweepResult, error)
}

// FollowerRepo читает подписчиков пользователя.
type FollowerRepo interface {
	ListFollowers(ctx context.Context, userID string) ([]FollowerEdge, error)
}

// UserRepo читает профили пользователей.
type UserRepo interface {
	GetUser(ctx context.Context, userID string) (User, error)
	DisplayNames(ctx context.Context, userIDs []string) (map[string]string, error)
}

// RankingSource выдаёт записи рейтинга из основного хранилища.
type RankingSource interface {
	// ListRankingRecords постранично возвращает записи, изменённые не раньше since,
	// упорядоченные по идентификатору после afterID. Нулевой since означает все записи.
	ListRankingRecords(ctx context.Context, since time.Time, afterID string, limit int) ([]UserRankingRecord, error)
	// TopByMaxConnections используется как запасной путь при недоступности кэша рейтинга.
	TopByMaxConnections(ctx context.Context, limit int) ([]UserRankingRecord, error)
}

// RankingCache хранит отсортированное множество рейтинга.
type RankingCache interface {
	UpsertScores(ctx context.Context, records []UserRankingRecord) error
	Top(ctx context.Context, limit int) ([]UserRankingRecord, error)
	Score(ctx context.Context, userID string) (int64, error)
	BeginRebuild(ctx context.Context) (RankingRebuild, error)
	Watermark(ctx context.Context) (time.Time, error)
	SetWatermark(ctx context.Context, at time.Time) error
}

// RankingRebuild собирает рейтинг заново и атомарно подменяет текущий.
type RankingRebuild interface {
	Add(ctx context.Context, records []UserRankingRecord) error
	Commit(ctx context.Context) error
	Abort(ctx context.Context) error
}

// PushSender доставляет push-уведомление одному получателю.
type PushSender interface {
	Send(ctx context.Context, msg PushMessage) error
}

// Cache используется для простых TTL-хранилищ.
type Cache interface {
	Once(ctx context.Context, key string, ttl time.Duration, fn func() error) (bool, error)
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}
