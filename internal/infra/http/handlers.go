package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"heartbeat-backend/internal/domain"
)

// RankingReader отдаёт рейтинг.
type RankingReader interface {
	GetRanking(ctx context.Context, limit int) ([]domain.RankingEntry, error)
}

// HeartbeatRecorder принимает пульс.
type HeartbeatRecorder interface {
	Record(ctx context.Context, sample domain.HeartbeatSample) (bool, error)
}

// RankingResyncer пересобирает рейтинг.
type RankingResyncer interface {
	FullResync(ctx context.Context) (int, error)
}

// Handlers содержит обработчики публичного и административного API.
type Handlers struct {
	Ranking      RankingReader
	Heartbeats   HeartbeatRecorder
	Resync       RankingResyncer
	AdminToken   string
	DefaultLimit int
	// OnResync вызывается после успешной пересборки, например для сброса кэша ответов.
	OnResync func()
	Log      zerolog.Logger
}

type heartbeatRequest struct {
	UserID          string `json:"user_id"`
	BPM             *int   `json:"bpm"`
	TimestampMillis int64  `json:"timestamp_millis"`
}

// Register подключает маршруты к роутеру.
func (h *Handlers) Register(r chi.Router) {
	r.Route("/api/v1", func(api chi.Router) {
		api.Get("/ranking", h.getRanking)
		api.Post("/heartbeats", h.postHeartbeat)
		api.Group(func(admin chi.Router) {
			admin.Use(AdminAuthMiddleware(h.AdminToken))
			admin.Post("/admin/ranking/resync", h.postResync)
		})
	})
}

func (h *Handlers) getRanking(w http.ResponseWriter, r *http.Request) {
	limit := h.DefaultLimit
	if limit <= 0 {
		limit = 10
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "limit должен быть числом")
			return
		}
		limit = parsed
	}
	entries, err := h.Ranking.GetRanking(r.Context(), limit)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidLimit) {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.Log.Error().Err(err).Str("request_id", RequestID(r)).Msg("api: рейтинг недоступен")
		WriteError(w, http.StatusServiceUnavailable, "рейтинг временно недоступен")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"ranking": entries})
}

func (h *Handlers) postHeartbeat(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req heartbeatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "некорректное тело запроса")
		return
	}
	if req.BPM == nil {
		WriteError(w, http.StatusBadRequest, "bpm обязателен")
		return
	}
	sample := domain.HeartbeatSample{UserID: req.UserID, BPM: *req.BPM, TimestampMillis: req.TimestampMillis}
	armed, err := h.Heartbeats.Record(r.Context(), sample)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidHeartbeat) {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.Log.Error().Err(err).Str("user_id", req.UserID).Msg("api: не удалось принять пульс")
		WriteError(w, http.StatusInternalServerError, "не удалось принять пульс")
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]bool{"trigger_armed": armed})
}

func (h *Handlers) postResync(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Resync.FullResync(r.Context())
	if err != nil {
		h.Log.Error().Err(err).Msg("api: пересборка рейтинга не удалась")
		WriteError(w, http.StatusInternalServerError, "пересборка не удалась")
		return
	}
	if h.OnResync != nil {
		h.OnResync()
	}
	WriteJSON(w, http.StatusOK, map[string]any{"status": "ok", "entries": entries})
}
