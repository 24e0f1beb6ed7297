package main

import (
	"context"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"heartbeat-backend/internal/adapters/events"
	"heartbeat-backend/internal/adapters/push"
	"heartbeat-backend/internal/adapters/repo"
	"heartbeat-backend/internal/infra/cache"
	"heartbeat-backend/internal/infra/config"
	"heartbeat-backend/internal/infra/db"
	applog "heartbeat-backend/internal/infra/log"
	"heartbeat-backend/internal/infra/metrics"
	"heartbeat-backend/internal/infra/queue"
	"heartbeat-backend/internal/usecase/notify"
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
		logger.Fatal().Err(err).Msg("dispatcher: нет подключения к БД")
	}
	defer pool.Close()
	repoAdapter := repo.NewPostgres(pool)

	redisClient, err := cache.NewClient(ctx, cache.ConfigOptions(cfg, ""))
	if err != nil {
		logger.Fatal().Err(err).Msg("dispatcher: нет подключения к Redis")
	}
	defer redisClient.Close()

	triggerQueue, closeQueue, err := queue.Open(cfg.Queues.Backend, cfg.Queues.RabbitURL, cfg.Queues.Triggers, redisClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("dispatcher: не удалось инициализировать очередь триггеров")
	}
	defer closeQueue()

	sender := buildSender(ctx, cfg, logger)
	eventStore := events.NewRedis(redisClient)
	service := notify.NewService(
		eventStore,
		repoAdapter,
		repoAdapter,
		sender,
		cache.NewRedis(redisClient),
		repoAdapter,
		applog.Component(logger, "notify"),
		notify.Config{Concurrency: cfg.Push.Concurrency, DedupTTL: cfg.Intervals.DispatchDedupTTL},
	)

	worker := &triggerWorker{
		log:     applog.Component(logger, "dispatcher"),
		queue:   triggerQueue,
		events:  eventStore,
		handler: service,
	}

	logger.Info().Str("backend", cfg.Queues.Backend).Msg("dispatcher: запуск обработки очереди")
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		worker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		worker.RunCatchUp(gctx, cfg.Intervals.TriggerCatchUp)
		return nil
	})
	_ = g.Wait()
	logger.Info().Msg("dispatcher: остановлен")
}

func buildSender(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger) *push.Router {
	pushLog := applog.Component(logger, "push")
	fallback := push.Route{Transport: "log", Sender: push.NewLog(pushLog)}
	if cfg.Push.FCMProjectID != "" {
		fcmSender, err := push.NewFCM(ctx, cfg.Push.FCMProjectID, cfg.Push.FCMCredentialsFile)
		if err != nil {
			logger.Fatal().Err(err).Msg("dispatcher: не удалось создать клиента FCM")
		}
		fallback = push.Route{Transport: "fcm", Sender: fcmSender}
	} else {
		logger.Warn().Msg("dispatcher: FCM не настроен (FCM_PROJECT_ID), уведомления пишутся в журнал")
	}

	var routes []push.Route
	if cfg.Push.TelegramToken != "" {
		botAPI, err := tgbotapi.NewBotAPI(cfg.Push.TelegramToken)
		if err != nil {
			logger.Fatal().Err(err).Msg("dispatcher: не удалось создать бота")
		}
		routes = append(routes, push.Route{Prefix: push.TelegramPrefix, Transport: "telegram", Sender: push.NewTelegram(botAPI)})
	}
	return push.NewRouter(fallback, cfg.Push.GlobalRPS, routes...)
}
