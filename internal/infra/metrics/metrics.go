package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	TriggersHandled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "triggers_handled_total",
		Help: "Обработанные триггеры уведомлений по исходу",
	}, []string{"outcome"})

	PushSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "push_notifications_total",
		Help: "Отправленные push-уведомления по транспорту и статусу",
	}, []string{"transport", "status"})

	RankingSyncSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ranking_sync_seconds",
		Help:    "Длительность синхронизации рейтинга",
		Buckets: prometheus.DefBuckets,
	}, []string{"mode"})

	RankingSyncedEntries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ranking_synced_entries_total",
		Help: "Количество записей, перенесённых в кэш рейтинга",
	}, []string{"mode"})

	RankingQueries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ranking_queries_total",
		Help: "Запросы рейтинга по источнику ответа",
	}, []string{"source"})

	SweepDeleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "retention_deleted_total",
		Help: "Записи, удалённые очисткой по сроку хранения",
	}, []string{"kind"})

	HeartbeatsIngested = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "heartbeats_ingested_total",
		Help: "Принятые значения пульса",
	}, []string{"trigger"})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		TriggersHandled,
		PushSent,
		RankingSyncSeconds,
		RankingSyncedEntries,
		RankingQueries,
		SweepDeleted,
		HeartbeatsIngested,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObservePush учитывает попытку отправки уведомления.
func ObservePush(transport string, err error) {
	status := "sent"
	if err != nil {
		status = "failed"
	}
	PushSent.WithLabelValues(transport, status).Inc()
}
