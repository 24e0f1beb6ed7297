package retention

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"heartbeat-backend/internal/domain"
)

type memEvents struct {
	heartbeats map[string]int64
	triggers   map[string]int64
	cutoff     time.Time
	err        error
}

func (m *memEvents) SaveHeartbeat(context.Context, domain.HeartbeatSample) error { return nil }
func (m *memEvents) GetHeartbeat(context.Context, string) (domain.HeartbeatSample, error) {
	return domain.HeartbeatSample{}, domain.ErrNotFound
}
func (m *memEvents) SaveTrigger(context.Context, domain.NotificationTrigger) error { return nil }
func (m *memEvents) GetTrigger(context.Context, string) (domain.NotificationTrigger, error) {
	return domain.NotificationTrigger{}, domain.ErrNotFound
}
func (m *memEvents) DeleteTrigger(context.Context, domain.NotificationTrigger) error { return nil }
func (m *memEvents) ListPendingTriggers(context.Context) ([]domain.NotificationTrigger, error) {
	return nil, nil
}

func (m *memEvents) DeleteOlderThan(_ context.Context, cutoff time.Time) (domain.SweepResult, error) {
	m.cutoff = cutoff
	if m.err != nil {
		return domain.SweepResult{}, m.err
	}
	var res domain.SweepResult
	for id, ts := range m.heartbeats {
		if ts < cutoff.UnixMilli() {
			delete(m.heartbeats, id)
			res.Heartbeats++
		}
	}
	for id, ts := range m.triggers {
		if ts < cutoff.UnixMilli() {
			delete(m.triggers, id)
			res.Triggers++
		}
	}
	return res, nil
}

func TestSweepKeepsBoundaryRecords(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cutoff := now.Add(-time.Hour).UnixMilli()
	events := &memEvents{
		heartbeats: map[string]int64{"old": cutoff - 1, "edge": cutoff, "fresh": now.UnixMilli()},
		triggers:   map[string]int64{"old": cutoff - 1, "edge": cutoff},
	}
	s := NewSweeper(events, zerolog.Nop(), time.Hour)
	s.now = func() time.Time { return now }

	res, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if res.Heartbeats != 1 || res.Triggers != 1 {
		t.Fatalf("неожиданный результат очистки: %+v", res)
	}
	if _, ok := events.heartbeats["edge"]; !ok {
		t.Fatalf("запись ровно на границе должна остаться")
	}
	if _, ok := events.triggers["edge"]; !ok {
		t.Fatalf("триггер ровно на границе должен остаться")
	}
	if events.cutoff.UnixMilli() != cutoff {
		t.Fatalf("ожидали границу %d, получили %d", cutoff, events.cutoff.UnixMilli())
	}
}

func TestSweepPropagatesError(t *testing.T) {
	events := &memEvents{err: errors.New("scan failed")}
	s := NewSweeper(events, zerolog.Nop(), 0)
	if _, err := s.Sweep(context.Background()); err == nil {
		t.Fatalf("ожидали ошибку")
	}
	if s.retention != DefaultRetention {
		t.Fatalf("ожидали срок хранения по умолчанию")
	}
}
