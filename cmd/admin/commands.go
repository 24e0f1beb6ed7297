package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"heartbeat-backend/internal/adapters/events"
	"heartbeat-backend/internal/adapters/rankcache"
	"heartbeat-backend/internal/adapters/repo"
	"heartbeat-backend/internal/domain"
	"heartbeat-backend/internal/infra/cache"
	"heartbeat-backend/internal/infra/config"
	"heartbeat-backend/internal/infra/db"
	applog "heartbeat-backend/internal/infra/log"
	"heartbeat-backend/internal/usecase/ranking"
	"heartbeat-backend/internal/usecase/retention"
)

// deps содержит зависимости одной команды.
type deps struct {
	cfg     config.AppConfig
	log     zerolog.Logger
	pool    *pgxpool.Pool
	redis   *redis.Client
	ranking *redis.Client
}

func (r *deps) close() {
	if r.ranking != nil && r.ranking != r.redis {
		_ = r.ranking.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}
	if r.pool != nil {
		r.pool.Close()
	}
}

func (r *deps) store() *repo.Postgres { return repo.NewPostgres(r.pool) }

func (r *deps) synchronizer() *ranking.Synchronizer {
	return ranking.NewSynchronizer(r.store(), rankcache.NewRedis(r.ranking), r.store(), applog.Component(r.log, "ranking_sync"), r.cfg.Limits.SyncBatch, r.cfg.Intervals.RankingSync)
}

type connectFunc func(ctx context.Context) (*deps, error)

func connect(ctx context.Context) (*deps, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	rt := &deps{cfg: cfg, log: applog.NewLogger(cfg.AppEnv)}
	rt.pool, err = db.Connect(cfg.PGDSN)
	if err != nil {
		return nil, fmt.Errorf("подключение к БД: %w", err)
	}
	rt.redis, err = cache.NewClient(ctx, cache.ConfigOptions(cfg, ""))
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("подключение к Redis: %w", err)
	}
	rt.ranking = rt.redis
	if cfg.RankingRedisAddr != "" {
		rt.ranking, err = cache.NewClient(ctx, cache.ConfigOptions(cfg, cfg.RankingRedisAddr))
		if err != nil {
			rt.ranking = nil
			rt.close()
			return nil, fmt.Errorf("подключение к Redis рейтинга: %w", err)
		}
	}
	return rt, nil
}

func newRootCommand() *cobra.Command {
	return newRootCommandWith(connect)
}

func newRootCommandWith(open connectFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "admin",
		Short:         "Обслуживание рейтинга и хранилища событий",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newResyncCommand(open))
	cmd.AddCommand(newSyncCommand(open))
	cmd.AddCommand(newSweepCommand(open))
	cmd.AddCommand(newRankingCommand(open))
	return cmd
}

func newResyncCommand(open connectFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "resync",
		Short: "Полностью пересобрать рейтинг из основного хранилища",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()
			n, err := rt.synchronizer().FullResync(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "пересобрано записей: %d\n", n)
			return nil
		},
	}
}

func newSyncCommand(open connectFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Выполнить плановую синхронизацию рейтинга",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()
			n, err := rt.synchronizer().SyncScheduled(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "синхронизировано записей: %d\n", n)
			return nil
		},
	}
}

func newSweepCommand(open connectFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Удалить устаревшие значения пульса и триггеры",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()
			sweeper := retention.NewSweeper(events.NewRedis(rt.redis), applog.Component(rt.log, "retention"), rt.cfg.Intervals.Retention)
			res, err := sweeper.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "удалено: пульс %d, триггеры %d\n", res.Heartbeats, res.Triggers)
			return nil
		},
	}
}

func newRankingCommand(open connectFunc) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "ranking",
		Short: "Показать текущий рейтинг",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()
			q := ranking.NewQueryService(rankcache.NewRedis(rt.ranking), rt.store(), rt.store(), ranking.NewResultCache(0), applog.Component(rt.log, "ranking"), rt.cfg.Limits.RankingMax)
			entries, err := q.GetRanking(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printRanking(cmd.OutOrStdout(), entries)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "число позиций")
	return cmd
}

func printRanking(w io.Writer, entries []domain.RankingEntry) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{"ranking": entries})
}
