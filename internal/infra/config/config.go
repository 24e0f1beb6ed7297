package config

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	Port        int    `envconfig:"PORT" default:"8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`
	AdminToken  string `envconfig:"ADMIN_TOKEN"`

	PGDSN string `envconfig:"PG_DSN"`

	Redis struct {
		Addr         string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
		Password     string        `envconfig:"REDIS_PASSWORD"`
		DB           int           `envconfig:"REDIS_DB" default:"0"`
		DialTimeout  time.Duration `envconfig:"REDIS_DIAL_TIMEOUT" default:"5s"`
		ReadTimeout  time.Duration `envconfig:"REDIS_READ_TIMEOUT" default:"2s"`
		WriteTimeout time.Duration `envconfig:"REDIS_WRITE_TIMEOUT" default:"2s"`
	} `envconfig:""`

	// RankingRedisAddr позволяет вынести кэш рейтинга на отдельный инстанс Redis.
	RankingRedisAddr string `envconfig:"RANKING_REDIS_ADDR"`

	Queues struct {
		Backend   string `envconfig:"TRIGGER_QUEUE_BACKEND" default:"rabbitmq"`
		RabbitURL string `envconfig:"RABBITMQ_URL"`
		Triggers  string `envconfig:"TRIGGER_QUEUE_KEY" default:"heartbeat_triggers"`
	} `envconfig:""`

	Push struct {
		FCMCredentialsFile string  `envconfig:"FCM_CREDENTIALS_FILE"`
		FCMProjectID       string  `envconfig:"FCM_PROJECT_ID"`
		TelegramToken      string  `envconfig:"TG_BOT_TOKEN"`
		GlobalRPS          float64 `envconfig:"PUSH_GLOBAL_RPS" default:"50"`
		Concurrency        int     `envconfig:"PUSH_CONCURRENCY" default:"8"`
	} `envconfig:""`

	Intervals struct {
		RankingSync      time.Duration `envconfig:"RANKING_SYNC_INTERVAL" default:"5m"`
		RankingCacheTTL  time.Duration `envconfig:"RANKING_CACHE_TTL" default:"5m"`
		Sweep            time.Duration `envconfig:"SWEEP_INTERVAL" default:"24h"`
		Retention        time.Duration `envconfig:"RETENTION_WINDOW" default:"1h"`
		TriggerCooldown  time.Duration `envconfig:"TRIGGER_COOLDOWN" default:"5m"`
		TriggerCatchUp   time.Duration `envconfig:"TRIGGER_CATCHUP_INTERVAL" default:"1m"`
		DispatchDedupTTL time.Duration `envconfig:"DISPATCH_DEDUP_TTL" default:"1h"`
	} `envconfig:""`

	Limits struct {
		RankingMax        int           `envconfig:"RANKING_MAX_LIMIT" default:"100"`
		RankingDefault    int           `envconfig:"RANKING_DEFAULT_LIMIT" default:"10"`
		SyncBatch         int           `envconfig:"RANKING_SYNC_BATCH" default:"500"`
		RateLimitRequests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"120"`
		RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`
	} `envconfig:""`

	CORSAllowOrigins []string `envconfig:"CORS_ALLOW_ORIGINS" default:"*"`
}

// Load загружает конфиг из окружения, предварительно подхватив .env при наличии.
func Load() AppConfig {
	_ = godotenv.Load()
	cfg, err := Parse()
	if err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}

// Parse читает конфиг из окружения без завершения процесса.
func Parse() (AppConfig, error) {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}
