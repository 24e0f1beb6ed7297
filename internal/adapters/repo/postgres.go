package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"heartbeat-backend/internal/domain"
	"heartbeat-backend/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.UserRepo           = (*Postgres)(nil)
	_ domain.FollowerRepo       = (*Postgres)(nil)
	_ domain.RankingSource      = (*Postgres)(nil)
	_ domain.BusinessMetricRepo = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// GetUser возвращает профиль пользователя.
func (p *Postgres) GetUser(ctx context.Context, userID string) (domain.User, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var (
		user      domain.User
		updatedAt *time.Time
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id, name, invite_code, allow_qr_registration, max_connections, max_connections_updated_at
FROM users WHERE id = $1
`, userID).Scan(&user.ID, &user.Name, &user.InviteCode, &user.AllowQRRegistration, &user.MaxConnections, &updatedAt)
	metrics.ObserveNetworkRequest("postgres", "users_get", "users", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.User{}, err
	}
	if updatedAt != nil {
		user.MaxConnectionsUpdatedAt = *updatedAt
	}
	return user, nil
}

// DisplayNames возвращает имена пользователей по идентификаторам. Отсутствующие пропускаются.
func (p *Postgres) DisplayNames(ctx context.Context, userIDs []string) (map[string]string, error) {
	names := make(map[string]string, len(userIDs))
	if len(userIDs) == 0 {
		return names, nil
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT id, name FROM users WHERE id = ANY($1)`, userIDs)
	metrics.ObserveNetworkRequest("postgres", "users_names", "users", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		names[id] = name
	}
	return names, rows.Err()
}

// ListFollowers возвращает подписчиков пользователя.
func (p *Postgres) ListFollowers(ctx context.Context, userID string) ([]domain.FollowerEdge, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT follower_id, COALESCE(push_token, ''), notification_enabled, created_at
FROM followers
WHERE target_user_id = $1
ORDER BY follower_id
`, userID)
	metrics.ObserveNetworkRequest("postgres", "followers_list", "followers", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []domain.FollowerEdge
	for rows.Next() {
		var edge domain.FollowerEdge
		if err := rows.Scan(&edge.FollowerID, &edge.PushToken, &edge.NotificationEnabled, &edge.CreatedAt); err != nil {
			return nil, err
		}
		edges = append(edges, edge)
	}
	return edges, rows.Err()
}

// ListRankingRecords постранично возвращает записи рейтинга, упорядоченные по id.
func (p *Postgres) ListRankingRecords(ctx context.Context, since time.Time, afterID string, limit int) ([]domain.UserRankingRecord, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var sinceArg *time.Time
	if !since.IsZero() {
		sinceArg = &since
	}
	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, name, max_connections, COALESCE(max_connections_updated_at, 'epoch'::timestamptz)
FROM users
WHERE id > $1
  AND ($2::timestamptz IS NULL OR max_connections_updated_at >= $2)
ORDER BY id
LIMIT $3
`, afterID, sinceArg, limit)
	metrics.ObserveNetworkRequest("postgres", "ranking_list", "users", start, err)
	if err != nil {
		return nil, err
	}
	return scanRankingRecords(rows)
}

// TopByMaxConnections читает рейтинг напрямую из основного хранилища.
func (p *Postgres) TopByMaxConnections(ctx context.Context, limit int) ([]domain.UserRankingRecord, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, name, max_connections, COALESCE(max_connections_updated_at, 'epoch'::timestamptz)
FROM users
ORDER BY max_connections DESC, id ASC
LIMIT $1
`, limit)
	metrics.ObserveNetworkRequest("postgres", "ranking_top", "users", start, err)
	if err != nil {
		return nil, err
	}
	return scanRankingRecords(rows)
}

func scanRankingRecords(rows pgx.Rows) ([]domain.UserRankingRecord, error) {
	defer rows.Close()
	var records []domain.UserRankingRecord
	for rows.Next() {
		var rec domain.UserRankingRecord
		if err := rows.Scan(&rec.UserID, &rec.DisplayName, &rec.MaxConnections, &rec.MaxConnectionsUpdatedAt); err != nil {
			return nil, fmt.Errorf("разбор записи рейтинга: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// RecordBusinessMetric сохраняет бизнесовую метрику в БД.
func (p *Postgres) RecordBusinessMetric(ctx context.Context, metric domain.BusinessMetric) error {
	if metric.Event == "" {
		return nil
	}
	if metric.OccurredAt.IsZero() {
		metric.OccurredAt = time.Now().UTC()
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var userID *string
	if metric.UserID != "" {
		userID = &metric.UserID
	}
	var payload []byte
	if metric.Metadata != nil {
		if data, err := json.Marshal(metric.Metadata); err == nil {
			payload = data
		}
	}

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO business_metrics (event, user_id, metadata, occurred_at)
VALUES ($1, $2, $3, $4)
`, metric.Event, userID, payload, metric.OccurredAt)
	metrics.ObserveNetworkRequest("postgres", "business_metrics_insert", "business_metrics", start, err)
	return err
}
