package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"heartbeat-backend/internal/domain"
	"heartbeat-backend/internal/infra/config"
	"heartbeat-backend/internal/infra/metrics"
)

// Options задаёт параметры подключения к Redis.
type Options struct {
	Addr         string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// ConfigOptions собирает параметры подключения из конфига. Непустой addr заменяет адрес.
func ConfigOptions(cfg config.AppConfig, addr string) Options {
	opts := Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	}
	if addr != "" {
		opts.Addr = addr
	}
	return opts
}

// NewClient создаёт клиента Redis и проверяет соединение.
func NewClient(ctx context.Context, opts Options) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// RedisCache реализует domain.Cache через Redis.
type RedisCache struct {
	client *redis.Client
}

var _ domain.Cache = (*RedisCache)(nil)

// NewRedis создаёт кэш.
func NewRedis(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Once выполняет функцию, если ключ ещё не задан. При ошибке функции ключ снимается,
// чтобы следующая попытка могла выполниться.
func (c *RedisCache) Once(ctx context.Context, key string, ttl time.Duration, fn func() error) (bool, error) {
	ok, err := c.Acquire(ctx, key, ttl)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if err := fn(); err != nil {
		_ = c.Release(ctx, key)
		return true, err
	}
	return true, nil
}

// Acquire занимает ключ на ttl. Возвращает false, если ключ уже занят.
func (c *RedisCache) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	start := time.Now()
	ok, err := c.client.SetNX(ctx, key, "1", ttl).Result()
	metrics.ObserveNetworkRequest("redis", "setnx", "cache", start, err)
	return ok, err
}

// Release освобождает ключ.
func (c *RedisCache) Release(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}
