package domain

import (
	"sort"
	"strconv"
	"time"
)

const (
	// MinBPM и MaxBPM задают допустимый диапазон пульса.
	MinBPM = 0
	MaxBPM = 220
)

// HeartbeatSample хранит последнее значение пульса пользователя.
type HeartbeatSample struct {
	UserID          string
	BPM             int
	TimestampMillis int64
}

// Valid сообщает, находится ли пульс в допустимом диапазоне.
func (h HeartbeatSample) Valid() bool {
	return h.UserID != "" && h.BPM >= MinBPM && h.BPM <= MaxBPM
}

// NotificationTrigger сигнализирует, что подписчиков пользователя нужно уведомить.
type NotificationTrigger struct {
	UserID          string
	TimestampMillis int64
	// Nonce выдаётся сервером на каждую запись триггера и отличает перевзвод от повтора.
	Nonce string
}

// FollowerEdge описывает подписчика пользователя и его канал доставки.
type FollowerEdge struct {
	FollowerID          string
	PushToken           string
	NotificationEnabled bool
	CreatedAt           time.Time
}

// Deliverable сообщает, можно ли отправить подписчику уведомление.
func (f FollowerEdge) Deliverable() bool {
	return f.NotificationEnabled && f.PushToken != ""
}

// User описывает профиль пользователя в основном хранилище.
type User struct {
	ID                      string
	Name                    string
	InviteCode              string
	AllowQRRegistration     bool
	MaxConnections          int64
	MaxConnectionsUpdatedAt time.Time
}

// UserRankingRecord содержит данные пользователя, нужные для рейтинга.
type UserRankingRecord struct {
	UserID                  string
	DisplayName             string
	MaxConnections          int64
	MaxConnectionsUpdatedAt time.Time
}

// SortRankingRecords упорядочивает записи по убыванию maxConnections, при равенстве по возрастанию id.
func SortRankingRecords(records []UserRankingRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].MaxConnections != records[j].MaxConnections {
			return records[i].MaxConnections > records[j].MaxConnections
		}
		return records[i].UserID < records[j].UserID
	})
}

// RankingEntry описывает одну позицию рейтинга.
type RankingEntry struct {
	UserID         string `json:"user_id"`
	DisplayName    string `json:"display_name"`
	MaxConnections int64  `json:"max_connections"`
	Rank           int    `json:"rank"`
}

// PushMessage описывает push-уведомление для одного получателя.
type PushMessage struct {
	Token string
	Title string
	Body  string
	Data  map[string]string
}

// NewHeartbeatPush собирает уведомление о пульсе отправителя.
func NewHeartbeatPush(token string, sample HeartbeatSample, senderName string) PushMessage {
	return PushMessage{
		Token: token,
		Title: senderName,
		Body:  "♥ " + strconv.Itoa(sample.BPM) + " BPM",
		Data: map[string]string{
			"bpm":         strconv.Itoa(sample.BPM),
			"sender_id":   sample.UserID,
			"sender_name": senderName,
		},
	}
}

// FanoutResult подводит итог рассылки по одному триггеру.
type FanoutResult struct {
	Sent    int
	Failed  int
	Skipped int
}

// SweepResult содержит количество удалённых записей.
type SweepResult struct {
	Heartbeats int
	Triggers   int
}

// MillisToTime переводит миллисекунды эпохи во время UTC.
func MillisToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
