package push

import (
	"context"

	"github.com/rs/zerolog"

	"heartbeat-backend/internal/domain"
)

// Log пишет уведомления в журнал. Используется, когда внешние транспорты не настроены.
type Log struct {
	log zerolog.Logger
}

// NewLog создаёт журналирующий транспорт.
func NewLog(logger zerolog.Logger) *Log {
	return &Log{log: logger}
}

func (l *Log) Send(_ context.Context, msg domain.PushMessage) error {
	l.log.Info().
		Str("token", mask(msg.Token)).
		Str("title", msg.Title).
		Str("body", msg.Body).
		Interface("data", msg.Data).
		Msg("push: уведомление")
	return nil
}

func mask(token string) string {
	if len(token) <= 8 {
		return "***"
	}
	return token[:4] + "***" + token[len(token)-4:]
}
