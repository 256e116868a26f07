package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"chainintel/pkg/errors"
)

type Config struct {
	App           AppConfig
	Postgres      PostgresConfig
	ClickHouse    ClickHouseConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	Telegram      TelegramConfig
	Webhook       WebhookConfig
	SMTP          SMTPConfig
	Chain         ChainConfig
	Risk          RiskConfig
	Notify        NotifyConfig
	Replay        ReplayConfig
	Pipeline      PipelineConfig
	AI            AIConfig
	HTTP          HTTPConfig
	ErrorTracking ErrorTrackingConfig
	Workers       WorkerConfig
}

type AppConfig struct {
	Name     string `envconfig:"APP_NAME" default:"chainintel"`
	Version  string `envconfig:"APP_VERSION" default:"dev"`
	Env      string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Debug    bool   `envconfig:"DEBUG" default:"false"`
}

type PostgresConfig struct {
	Host     string `envconfig:"POSTGRES_HOST" required:"true"`
	Port     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	User     string `envconfig:"POSTGRES_USER" required:"true"`
	Password string `envconfig:"POSTGRES_PASSWORD" required:"true"`
	Database string `envconfig:"POSTGRES_DB" required:"true"`
	SSLMode  string `envconfig:"POSTGRES_SSL_MODE" default:"disable"`
	MaxConns int    `envconfig:"POSTGRES_MAX_CONNS" default:"25"`
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

type ClickHouseConfig struct {
	Enabled  bool   `envconfig:"CLICKHOUSE_ENABLED" default:"true"`
	Host     string `envconfig:"CLICKHOUSE_HOST" default:"localhost"`
	Port     int    `envconfig:"CLICKHOUSE_PORT" default:"9000"`
	User     string `envconfig:"CLICKHOUSE_USER" default:"default"`
	Password string `envconfig:"CLICKHOUSE_PASSWORD"`
	Database string `envconfig:"CLICKHOUSE_DB" default:"chainintel"`

	BatchSize     int           `envconfig:"CLICKHOUSE_BATCH_SIZE" default:"500"`
	FlushInterval time.Duration `envconfig:"CLICKHOUSE_FLUSH_INTERVAL" default:"5s"`
}

type RedisConfig struct {
	Host       string        `envconfig:"REDIS_HOST" required:"true"`
	Port       int           `envconfig:"REDIS_PORT" default:"6379"`
	Password   string        `envconfig:"REDIS_PASSWORD"`
	DB         int           `envconfig:"REDIS_DB" default:"0"`
	ProfileTTL time.Duration `envconfig:"REDIS_PROFILE_TTL" default:"10m"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type KafkaConfig struct {
	Enabled bool     `envconfig:"KAFKA_ENABLED" default:"false"`
	Brokers []string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	GroupID string   `envconfig:"KAFKA_GROUP_ID" default:"chainintel"`
}

type TelegramConfig struct {
	BotToken string `envconfig:"TELEGRAM_BOT_TOKEN"`
	// Messages per second across all chats
	RateLimit float64 `envconfig:"TELEGRAM_RATE_LIMIT" default:"25"`
}

type WebhookConfig struct {
	Timeout  time.Duration `envconfig:"WEBHOOK_TIMEOUT" default:"10s"`
	Username string        `envconfig:"WEBHOOK_USERNAME" default:"chainintel"`
}

type SMTPConfig struct {
	Host     string `envconfig:"SMTP_HOST"`
	Port     int    `envconfig:"SMTP_PORT" default:"587"`
	Username string `envconfig:"SMTP_USERNAME"`
	Password string `envconfig:"SMTP_PASSWORD"`
	From     string `envconfig:"SMTP_FROM" default:"alerts@chainintel.local"`
}

func (c SMTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type ChainConfig struct {
	ID            int64  `envconfig:"CHAIN_ID" default:"1"`
	RPCURL        string `envconfig:"CHAIN_RPC_URL" required:"true"`
	WSURL         string `envconfig:"CHAIN_WS_URL"`
	Confirmations uint64 `envconfig:"CHAIN_CONFIRMATIONS" default:"0"`

	IncludeNativeTransfers bool          `envconfig:"CHAIN_INCLUDE_NATIVE_TRANSFERS" default:"false"`
	StallTimeout           time.Duration `envconfig:"CHAIN_STALL_TIMEOUT" default:"60s"`
	Live                   bool          `envconfig:"CHAIN_LIVE" default:"true"`
}

// RiskConfig overrides the default rule set.
// Amounts are in whole native units (18 decimals).
type RiskConfig struct {
	LargeTransferThresholds map[int64]string `envconfig:"RISK_LARGE_TRANSFER_THRESHOLDS" default:"1:100,56:1000,137:10000"`

	FlowWeight        float64 `envconfig:"RISK_FLOW_WEIGHT" default:"0.30"`
	BehaviorWeight    float64 `envconfig:"RISK_BEHAVIOR_WEIGHT" default:"0.30"`
	AssociationWeight float64 `envconfig:"RISK_ASSOCIATION_WEIGHT" default:"0.25"`
	HistoricalWeight  float64 `envconfig:"RISK_HISTORICAL_WEIGHT" default:"0.15"`

	FrequentTxCount   int64         `envconfig:"RISK_FREQUENT_TX_COUNT" default:"10"`
	IrregularCount    int           `envconfig:"RISK_IRREGULAR_COUNT" default:"5"`
	IrregularWindow   time.Duration `envconfig:"RISK_IRREGULAR_WINDOW" default:"10m"`
	NewAccountAge     time.Duration `envconfig:"RISK_NEW_ACCOUNT_AGE" default:"24h"`
	DormantAge        time.Duration `envconfig:"RISK_DORMANT_AGE" default:"4320h"`
	RiskNeighborRatio float64       `envconfig:"RISK_NEIGHBOR_RATIO" default:"0.3"`
	AIScoreWeight     float64       `envconfig:"RISK_AI_SCORE_WEIGHT" default:"0"`
	HistoryLimit      int           `envconfig:"RISK_HISTORY_LIMIT" default:"50"`
	HistoryWindow     time.Duration `envconfig:"RISK_HISTORY_WINDOW" default:"24h"`
}

type NotifyConfig struct {
	// JSON file with receivers and level channels. Empty means the embedded default.
	RulesFile string `envconfig:"NOTIFY_RULES_FILE"`

	EmergencyScore   float64          `envconfig:"NOTIFY_EMERGENCY_SCORE" default:"90"`
	EmergencyAmounts map[int64]string `envconfig:"NOTIFY_EMERGENCY_AMOUNTS" default:"1:1000,56:10000,137:100000"`

	BatchWindow        time.Duration `envconfig:"NOTIFY_BATCH_WINDOW" default:"5m"`
	BatchMinOperations int           `envconfig:"NOTIFY_BATCH_MIN_OPERATIONS" default:"3"`
	BatchMaxOperations int           `envconfig:"NOTIFY_BATCH_MAX_OPERATIONS" default:"10"`

	RateHigh   time.Duration `envconfig:"NOTIFY_RATE_HIGH" default:"1m"`
	RateMedium time.Duration `envconfig:"NOTIFY_RATE_MEDIUM" default:"5m"`
	RateLow    time.Duration `envconfig:"NOTIFY_RATE_LOW" default:"15m"`
}

type ReplayConfig struct {
	BatchSize        int           `envconfig:"REPLAY_BATCH_SIZE" default:"10"`
	QueryChunkBlocks uint64        `envconfig:"REPLAY_QUERY_CHUNK_BLOCKS" default:"500"`
	MaxRetries       int           `envconfig:"REPLAY_MAX_RETRIES" default:"3"`
	RetryDelay       time.Duration `envconfig:"REPLAY_RETRY_DELAY" default:"5s"`
	CronEnabled      bool          `envconfig:"REPLAY_CRON_ENABLED" default:"true"`
	CronSpec         string        `envconfig:"REPLAY_CRON_SPEC" default:"0 * * * *"`
	LookbackBlocks   uint64        `envconfig:"REPLAY_LOOKBACK_BLOCKS" default:"5760"`
}

type PipelineConfig struct {
	AlertLevel      string        `envconfig:"PIPELINE_ALERT_LEVEL" default:"HIGH"`
	SeenCacheSize   int           `envconfig:"PIPELINE_SEEN_CACHE_SIZE" default:"10000"`
	LiveConcurrency int           `envconfig:"PIPELINE_LIVE_CONCURRENCY" default:"16"`
	CallTimeout     time.Duration `envconfig:"PIPELINE_CALL_TIMEOUT" default:"10s"`
}

type AIConfig struct {
	OpenAIKey   string        `envconfig:"AI_OPENAI_API_KEY"`
	OpenAIModel string        `envconfig:"AI_OPENAI_MODEL" default:"gpt-4o-mini"`
	Timeout     time.Duration `envconfig:"AI_TIMEOUT" default:"8s"`
}

type HTTPConfig struct {
	Port int `envconfig:"HTTP_PORT" default:"8080"`
}

type ErrorTrackingConfig struct {
	Enabled     bool   `envconfig:"ERROR_TRACKING_ENABLED" default:"true"`
	Provider    string `envconfig:"ERROR_TRACKING_PROVIDER" default:"sentry"`
	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"SENTRY_ENVIRONMENT" default:"production"`
}

// WorkerConfig contains intervals for background workers
type WorkerConfig struct {
	BatchSweepInterval time.Duration `envconfig:"WORKER_BATCH_SWEEP_INTERVAL" default:"1m"`

	ReconcileInterval   time.Duration `envconfig:"WORKER_RECONCILE_INTERVAL" default:"5m"`
	ReconcileMaxRetries int           `envconfig:"WORKER_RECONCILE_MAX_RETRIES" default:"5"`
	ReconcileBatchSize  int           `envconfig:"WORKER_RECONCILE_BATCH_SIZE" default:"100"`
	ReconcileStaleAfter time.Duration `envconfig:"WORKER_RECONCILE_STALE_AFTER" default:"15m"`

	RiskDigestInterval time.Duration `envconfig:"WORKER_RISK_DIGEST_INTERVAL" default:"5m"`
	RiskDigestWindow   time.Duration `envconfig:"WORKER_RISK_DIGEST_WINDOW" default:"1h"`
}

// Load reads configuration from environment variables
// It first tries to load .env file (useful for local development)
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not exists)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to process env config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cross-field constraints envconfig cannot express
func (c *Config) Validate() error {
	if c.Replay.BatchSize <= 0 {
		return errors.NewValidationError("REPLAY_BATCH_SIZE", "must be positive", c.Replay.BatchSize)
	}
	if c.Replay.MaxRetries <= 0 {
		return errors.NewValidationError("REPLAY_MAX_RETRIES", "must be positive", c.Replay.MaxRetries)
	}
	if c.Notify.BatchMinOperations <= 0 || c.Notify.BatchMaxOperations < c.Notify.BatchMinOperations {
		return errors.NewValidationError("NOTIFY_BATCH_MAX_OPERATIONS", "must be >= min operations", c.Notify.BatchMaxOperations)
	}
	if c.Pipeline.SeenCacheSize <= 0 {
		return errors.NewValidationError("PIPELINE_SEEN_CACHE_SIZE", "must be positive", c.Pipeline.SeenCacheSize)
	}
	if c.Pipeline.LiveConcurrency <= 0 {
		return errors.NewValidationError("PIPELINE_LIVE_CONCURRENCY", "must be positive", c.Pipeline.LiveConcurrency)
	}
	return nil
}
