package push

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"heartbeat-backend/internal/domain"
	"heartbeat-backend/internal/infra/metrics"
)

// TelegramPrefix отмечает токены, которые доставляются в чат Telegram.
const TelegramPrefix = "tg:"

// BotClient описывает часть API бота, нужную для отправки сообщений.
type BotClient interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram доставляет уведомления сообщением в чат. Токен содержит chat id.
type Telegram struct {
	bot BotClient
}

// NewTelegram создаёт транспорт поверх бота.
func NewTelegram(bot BotClient) *Telegram {
	return &Telegram{bot: bot}
}

// Send отправляет уведомление в чат.
func (t *Telegram) Send(ctx context.Context, msg domain.PushMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chatID, err := strconv.ParseInt(strings.TrimPrefix(msg.Token, TelegramPrefix), 10, 64)
	if err != nil {
		return fmt.Errorf("некорректный chat id %q: %w", msg.Token, err)
	}
	text := msg.Body
	if msg.Title != "" {
		text = msg.Title + "\n" + msg.Body
	}
	start := time.Now()
	_, err = t.bot.Send(tgbotapi.NewMessage(chatID, text))
	metrics.ObserveNetworkRequest("telegram", "send_message", "bot_api", start, err)
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
