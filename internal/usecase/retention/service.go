package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"heartbeat-backend/internal/domain"
	"heartbeat-backend/internal/infra/metrics"
)

// DefaultRetention задаёт срок хранения пульса и триггеров.
const DefaultRetention = time.Hour

// Sweeper удаляет из хранилища событий устаревшие записи.
type Sweeper struct {
	events    domain.EventStore
	log       zerolog.Logger
	retention time.Duration
	now       func() time.Time
}

// NewSweeper создаёт сервис очистки.
func NewSweeper(events domain.EventStore, logger zerolog.Logger, retention time.Duration) *Sweeper {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Sweeper{events: events, log: logger, retention: retention, now: time.Now}
}

// Sweep удаляет записи со временем строго меньше now - retention.
func (s *Sweeper) Sweep(ctx context.Context) (domain.SweepResult, error) {
	cutoff := s.now().Add(-s.retention)
	res, err := s.events.DeleteOlderThan(ctx, cutoff)
	metrics.SweepDeleted.WithLabelValues("heartbeat").Add(float64(res.Heartbeats))
	metrics.SweepDeleted.WithLabelValues("trigger").Add(float64(res.Triggers))
	if err != nil {
		s.log.Error().Err(err).Int("heartbeats", res.Heartbeats).Int("triggers", res.Triggers).Msg("retention: очистка прервана")
		return res, fmt.Errorf("очистка событий: %w", err)
	}
	s.log.Info().
		Time("cutoff", cutoff).
		Int("heartbeats", res.Heartbeats).
		Int("triggers", res.Triggers).
		Msg("retention: очистка завершена")
	return res, nil
}
