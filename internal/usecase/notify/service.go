package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"heartbeat-backend/internal/domain"
	"heartbeat-backend/internal/infra/metrics"
)

const (
	defaultConcurrency = 8
	defaultDedupTTL    = time.Hour
)

// Config задаёт параметры рассылки.
type Config struct {
	// Concurrency ограничивает число одновременных отправок в рамках одного триггера.
	Concurrency int
	// DedupTTL определяет, сколько живёт отметка об обработке конкретной записи триггера.
	DedupTTL time.Duration
}

// Service рассылает подписчикам уведомления о пульсе пользователя.
type Service struct {
	events    domain.EventStore
	followers domain.FollowerRepo
	users     domain.UserRepo
	sender    domain.PushSender
	dedup     domain.Cache
	analytics domain.BusinessMetricRepo
	log       zerolog.Logger
	cfg       Config
}

// NewService создаёт сервис рассылки. dedup и analytics могут быть nil.
func NewService(events domain.EventStore, followers domain.FollowerRepo, users domain.UserRepo, sender domain.PushSender, dedup domain.Cache, analytics domain.BusinessMetricRepo, logger zerolog.Logger, cfg Config) *Service {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = defaultDedupTTL
	}
	return &Service{
		events:    events,
		followers: followers,
		users:     users,
		sender:    sender,
		dedup:     dedup,
		analytics: analytics,
		log:       logger,
		cfg:       cfg,
	}
}

// HandleTrigger обрабатывает триггер пользователя: рассылает уведомления и удаляет триггер.
// Повторный или параллельный вызов для той же записи триггера ничего не отправляет.
// Если до отправок дело не дошло, триггер остаётся и ошибка возвращается для повтора.
func (s *Service) HandleTrigger(ctx context.Context, userID string) (domain.FanoutResult, error) {
	log := s.log.With().Str("user", userID).Logger()

	trigger, err := s.events.GetTrigger(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		log.Debug().Msg("notify: триггер уже обработан")
		metrics.TriggersHandled.WithLabelValues("absent").Inc()
		return domain.FanoutResult{}, nil
	}
	if err != nil {
		metrics.TriggersHandled.WithLabelValues("error").Inc()
		return domain.FanoutResult{}, fmt.Errorf("чтение триггера: %w", err)
	}

	var (
		result domain.FanoutResult
		runErr error
	)
	run := func() error {
		result, runErr = s.fanout(ctx, userID, log)
		return runErr
	}

	if s.dedup == nil {
		_ = run()
	} else {
		key := dedupKey(trigger)
		ran, err := s.dedup.Once(ctx, key, s.cfg.DedupTTL, run)
		if err != nil && !ran {
			// без отметки нельзя гарантировать единственность, поэтому рассылку пропускаем
			log.Error().Err(err).Msg("notify: не удалось занять отметку обработки")
			metrics.TriggersHandled.WithLabelValues("error").Inc()
			return domain.FanoutResult{}, fmt.Errorf("отметка обработки: %w", err)
		}
		if !ran {
			log.Debug().Int64("trigger_ts", trigger.TimestampMillis).Msg("notify: запись триггера уже обрабатывается")
			metrics.TriggersHandled.WithLabelValues("duplicate").Inc()
			return domain.FanoutResult{}, nil
		}
	}

	if runErr != nil {
		metrics.TriggersHandled.WithLabelValues("error").Inc()
		return result, runErr
	}
	s.cleanup(trigger, log)
	metrics.TriggersHandled.WithLabelValues("handled").Inc()
	s.observe(ctx, userID, result, log)
	return result, nil
}

func (s *Service) fanout(ctx context.Context, userID string, log zerolog.Logger) (domain.FanoutResult, error) {
	var result domain.FanoutResult

	sample, err := s.events.GetHeartbeat(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		log.Debug().Msg("notify: пульс отсутствует, рассылка не нужна")
		return result, nil
	}
	if err != nil {
		log.Warn().Err(err).Msg("notify: не удалось прочитать пульс")
		return result, nil
	}
	if !sample.Valid() {
		log.Warn().Int("bpm", sample.BPM).Msg("notify: некорректный пульс, рассылка пропущена")
		return result, nil
	}

	edges, err := s.followers.ListFollowers(ctx, userID)
	if err != nil {
		return result, fmt.Errorf("получение подписчиков: %w", err)
	}

	recipients := make([]domain.FollowerEdge, 0, len(edges))
	for _, edge := range edges {
		if !edge.Deliverable() {
			result.Skipped++
			continue
		}
		recipients = append(recipients, edge)
	}
	if len(recipients) == 0 {
		return result, nil
	}

	senderName := s.displayName(ctx, userID, log)

	outcomes := make([]error, len(recipients))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, edge := range recipients {
		g.Go(func() error {
			msg := domain.NewHeartbeatPush(edge.PushToken, sample, senderName)
			if err := s.sender.Send(gctx, msg); err != nil {
				outcomes[i] = err
				log.Warn().Err(err).Str("follower", edge.FollowerID).Msg("notify: доставка не удалась")
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, err := range outcomes {
		if err != nil {
			result.Failed++
		} else {
			result.Sent++
		}
	}
	log.Info().Int("sent", result.Sent).Int("failed", result.Failed).Int("skipped", result.Skipped).Int("bpm", sample.BPM).Msg("notify: рассылка завершена")
	return result, nil
}

func (s *Service) displayName(ctx context.Context, userID string, log zerolog.Logger) string {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			log.Warn().Err(err).Msg("notify: не удалось получить имя отправителя")
		}
		return userID
	}
	if user.Name == "" {
		return userID
	}
	return user.Name
}

// cleanup удаляет обработанную запись триггера независимо от исхода доставки.
func (s *Service) cleanup(trigger domain.NotificationTrigger, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.events.DeleteTrigger(ctx, trigger); err != nil {
		log.Error().Err(err).Msg("notify: не удалось удалить триггер")
	}
}

func (s *Service) observe(ctx context.Context, userID string, result domain.FanoutResult, log zerolog.Logger) {
	if s.analytics == nil || result.Sent+result.Failed == 0 {
		return
	}
	metric := domain.BusinessMetric{
		Event:  domain.BusinessMetricEventNotificationFanout,
		UserID: userID,
		Metadata: map[string]any{
			"sent":    result.Sent,
			"failed":  result.Failed,
			"skipped": result.Skipped,
		},
	}
	if err := s.analytics.RecordBusinessMetric(ctx, metric); err != nil {
		log.Error().Err(err).Str("event", metric.Event).Msg("notify: не удалось сохранить бизнес-метрику")
	}
}

func dedupKey(trigger domain.NotificationTrigger) string {
	if trigger.Nonce != "" {
		return "dispatch:" + trigger.UserID + ":" + trigger.Nonce
	}
	return "dispatch:" + trigger.UserID + ":" + strconv.FormatInt(trigger.TimestampMillis, 10)
}
