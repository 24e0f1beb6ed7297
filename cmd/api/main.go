package main

import (
	"context"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"heartbeat-backend/internal/adapters/events"
	"heartbeat-backend/internal/adapters/rankcache"
	"heartbeat-backend/internal/adapters/repo"
	"heartbeat-backend/internal/infra/cache"
	"heartbeat-backend/internal/infra/config"
	"heartbeat-backend/internal/infra/db"
	httpinfra "heartbeat-backend/internal/infra/http"
	applog "heartbeat-backend/internal/infra/log"
	"heartbeat-backend/internal/infra/metrics"
	"heartbeat-backend/internal/infra/queue"
	"heartbeat-backend/internal/usecase/ingest"
	"heartbeat-backend/internal/usecase/ranking"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: нет подключения к БД")
	}
	defer pool.Close()
	repoAdapter := repo.NewPostgres(pool)

	redisClient, err := cache.NewClient(ctx, cache.ConfigOptions(cfg, ""))
	if err != nil {
		logger.Fatal().Err(err).Msg("api: нет подключения к Redis")
	}
	defer redisClient.Close()

	rankingClient := redisClient
	if cfg.RankingRedisAddr != "" {
		rankingClient, err = cache.NewClient(ctx, cache.ConfigOptions(cfg, cfg.RankingRedisAddr))
		if err != nil {
			logger.Fatal().Err(err).Msg("api: нет подключения к Redis рейтинга")
		}
		defer rankingClient.Close()
	}

	triggerQueue, closeQueue, err := queue.Open(cfg.Queues.Backend, cfg.Queues.RabbitURL, cfg.Queues.Triggers, redisClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: не удалось инициализировать очередь триггеров")
	}
	defer closeQueue()

	rankingCache := rankcache.NewRedis(rankingClient)
	results := ranking.NewResultCache(cfg.Intervals.RankingCacheTTL)
	querySvc := ranking.NewQueryService(rankingCache, repoAdapter, repoAdapter, results, applog.Component(logger, "ranking"), cfg.Limits.RankingMax)
	syncer := ranking.NewSynchronizer(repoAdapter, rankingCache, repoAdapter, applog.Component(logger, "ranking_sync"), cfg.Limits.SyncBatch, cfg.Intervals.RankingSync)
	ingestSvc := ingest.NewService(
		events.NewRedis(redisClient),
		cache.NewRedis(redisClient),
		triggerQueue,
		repoAdapter,
		applog.Component(logger, "ingest"),
		cfg.Intervals.TriggerCooldown,
	)

	srv := httpinfra.NewServer(applog.Component(logger, "http"), httpinfra.Options{
		CORSAllowOrigins:  cfg.CORSAllowOrigins,
		RateLimitRequests: cfg.Limits.RateLimitRequests,
		RateLimitWindow:   cfg.Limits.RateLimitWindow,
	})
	handlers := &httpinfra.Handlers{
		Ranking:      querySvc,
		Heartbeats:   ingestSvc,
		Resync:       syncer,
		AdminToken:   cfg.AdminToken,
		DefaultLimit: cfg.Limits.RankingDefault,
		OnResync:     results.Invalidate,
		Log:          applog.Component(logger, "http"),
	}
	handlers.Register(srv.Router)

	go func() {
		logger.Info().Msg("api: старт")
		if err := srv.Start(":" + strconv.Itoa(cfg.Port)); err != nil {
			logger.Error().Err(err).Msg("api: сервер остановлен")
			stop()
		}
	}()
	<-ctx.Done()
	logger.Info().Msg("api: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
