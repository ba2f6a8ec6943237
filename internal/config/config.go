package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// Server
	Port         string        `envconfig:"PORT" default:"8080"`
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"30s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"30s"`
	IdleTimeout  time.Duration `envconfig:"IDLE_TIMEOUT" default:"120s"`

	// Database
	PostgresURL    string `envconfig:"POSTGRES_URL" required:"true"`
	MigrationsPath string `envconfig:"MIGRATIONS_PATH" default:"migrations"`

	// Redis
	RedisURL string `envconfig:"REDIS_URL" required:"true"`

	// NATS
	NATSURL string `envconfig:"NATS_URL" required:"true"`

	// Worker
	Channel           string        `envconfig:"CHANNEL" default:"EMAIL"`
	WorkerCount       int           `envconfig:"WORKER_COUNT" default:"8"`
	ShutdownGrace     time.Duration `envconfig:"SHUTDOWN_GRACE" default:"30s"`
	ProviderTimeout   time.Duration `envconfig:"PROVIDER_TIMEOUT" default:"30s"`
	WhatsAppSendDelay time.Duration `envconfig:"WHATSAPP_INTER_MESSAGE_DELAY" default:"3s"`

	// Provider defaults (per-site keys take precedence)
	SendGridBaseURL   string `envconfig:"SENDGRID_BASE_URL" default:"https://api.sendgrid.com"`
	SendGridAPIKey    string `envconfig:"SENDGRID_API_KEY"`
	SendGridFromEmail string `envconfig:"SENDGRID_FROM_EMAIL"`
	SendGridFromName  string `envconfig:"SENDGRID_FROM_NAME"`
	WASenderBaseURL   string `envconfig:"WASENDER_BASE_URL" default:"https://wasenderapi.com"`
	WASenderAPIKey    string `envconfig:"WASENDER_API_KEY"`

	// Secrets (encrypts per-site provider keys at rest; plaintext storage when empty)
	EncryptionSecret string `envconfig:"ENCRYPTION_SECRET"`

	// Rate limiting
	RateLimitRPS   int `envconfig:"RATE_LIMIT_RPS" default:"100"`
	RateLimitBurst int `envconfig:"RATE_LIMIT_BURST" default:"200"`

	// Retry & scheduler loop
	RetryInterval      time.Duration `envconfig:"RETRY_INTERVAL" default:"60s"`
	RetryBatchSize     int           `envconfig:"RETRY_BATCH_SIZE" default:"100"`
	TransientBaseDelay time.Duration `envconfig:"TRANSIENT_BASE_DELAY" default:"1s"`
	TransientMaxDelay  time.Duration `envconfig:"TRANSIENT_MAX_DELAY" default:"60s"`
	TransientAttempts  int           `envconfig:"TRANSIENT_MAX_ATTEMPTS" default:"3"`
	RateLimitBaseDelay time.Duration `envconfig:"RATE_LIMIT_BASE_DELAY" default:"5s"`
	RateLimitMaxDelay  time.Duration `envconfig:"RATE_LIMIT_MAX_DELAY" default:"300s"`
	RateLimitAttempts  int           `envconfig:"RATE_LIMIT_MAX_ATTEMPTS" default:"5"`
	BackoffMultiplier  float64       `envconfig:"RETRY_BACKOFF_MULTIPLIER" default:"2.0"`
	PermanentToDLQ     bool          `envconfig:"PERMANENT_TO_DLQ_IMMEDIATELY" default:"true"`
	PendingStaleAfter  time.Duration `envconfig:"PENDING_STALE_AFTER" default:"5m"`

	// Observability
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
	MetricsPort    string `envconfig:"METRICS_PORT" default:"9090"`
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
