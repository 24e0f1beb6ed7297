package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"heartbeat-backend/internal/adapters/events"
	"heartbeat-backend/internal/adapters/rankcache"
	"heartbeat-backend/internal/adapters/repo"
	"heartbeat-backend/internal/infra/cache"
	"heartbeat-backend/internal/infra/config"
	"heartbeat-backend/internal/infra/db"
	applog "heartbeat-backend/internal/infra/log"
	"heartbeat-backend/internal/infra/metrics"
	"heartbeat-backend/internal/usecase/ranking"
	"heartbeat-backend/internal/usecase/retention"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, applog.Component(logger, "metrics"), cfg.MetricsAddr)

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: нет подключения к БД")
	}
	defer pool.Close()
	repoAdapter := repo.NewPostgres(pool)

	redisClient, err := cache.NewClient(ctx, cache.ConfigOptions(cfg, ""))
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: нет подключения к Redis")
	}
	defer redisClient.Close()

	rankingClient := redisClient
	if cfg.RankingRedisAddr != "" {
		rankingClient, err = cache.NewClient(ctx, cache.ConfigOptions(cfg, cfg.RankingRedisAddr))
		if err != nil {
			logger.Fatal().Err(err).Msg("scheduler: нет подключения к Redis рейтинга")
		}
		defer rankingClient.Close()
	}

	syncer := ranking.NewSynchronizer(repoAdapter, rankcache.NewRedis(rankingClient), repoAdapter, applog.Component(logger, "ranking_sync"), cfg.Limits.SyncBatch, cfg.Intervals.RankingSync)
	sweeper := retention.NewSweeper(events.NewRedis(redisClient), applog.Component(logger, "retention"), cfg.Intervals.Retention)

	logger.Info().
		Dur("sync_interval", cfg.Intervals.RankingSync).
		Dur("sweep_interval", cfg.Intervals.Sweep).
		Msg("scheduler: старт")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		every(gctx, cfg.Intervals.RankingSync, logger, "ranking_sync", func(ctx context.Context) error {
			_, err := syncer.SyncScheduled(ctx)
			return err
		})
		return nil
	})
	g.Go(func() error {
		every(gctx, cfg.Intervals.Sweep, logger, "sweep", func(ctx context.Context) error {
			_, err := sweeper.Sweep(ctx)
			return err
		})
		return nil
	})
	_ = g.Wait()
	logger.Info().Msg("scheduler: остановлен")
}

// every запускает job сразу и затем с периодом interval. Задания разных тикеров не блокируют друг друга.
func every(ctx context.Context, interval time.Duration, logger zerolog.Logger, name string, job func(context.Context) error) {
	run := func() {
		if err := job(ctx); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Str("job", name).Msg("scheduler: задание завершилось ошибкой")
		}
	}
	run()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}
