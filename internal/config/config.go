package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type DBConfig struct {
	DSN               string        `envconfig:"DB_DSN" required:"true"`
	MaxConns          int32         `envconfig:"DB_POOL_MAX_CONNS" default:"10"`
	MinConns          int32         `envconfig:"DB_POOL_MIN_CONNS" default:"0"`
	MaxConnLifetime   time.Duration `envconfig:"DB_POOL_MAX_CONN_LIFETIME" default:"30m"`
	MaxConnIdleTime   time.Duration `envconfig:"DB_POOL_MAX_CONN_IDLE_TIME" default:"5m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_POOL_HEALTH_CHECK_PERIOD" default:"30s"`
}

// RedisConfig is optional; an empty address disables the contact cache.
type RedisConfig struct {
	Addr            string        `envconfig:"REDIS_ADDR"`
	Password        string        `envconfig:"REDIS_PASSWORD"`
	DB              int           `envconfig:"REDIS_DB" default:"0"`
	ContactCacheTTL time.Duration `envconfig:"CONTACT_CACHE_TTL" default:"5m"`
}

type LinkedInConfig struct {
	ClientID     string `envconfig:"LINKEDIN_CLIENT_ID"`
	ClientSecret string `envconfig:"LINKEDIN_CLIENT_SECRET"`
	RedirectURL  string `envconfig:"LINKEDIN_REDIRECT_URL" default:"http://localhost:8080/v1/linkedin/callback"`
	APIBaseURL   string `envconfig:"LINKEDIN_API_BASE_URL" default:"https://api.linkedin.com"`
	AuthBaseURL  string `envconfig:"LINKEDIN_AUTH_BASE_URL" default:"https://www.linkedin.com"`
	RPS          int    `envconfig:"LINKEDIN_RPS_PER_POD" default:"5"`
	Burst        int    `envconfig:"LINKEDIN_BURST" default:"5"`
}

func (c LinkedInConfig) Enabled() bool { return c.ClientID != "" && c.ClientSecret != "" }

type SMTPConfig struct {
	Host            string `envconfig:"SMTP_HOST"`
	Port            int    `envconfig:"SMTP_PORT" default:"587"`
	Username        string `envconfig:"SMTP_USERNAME"`
	Password        string `envconfig:"SMTP_PASSWORD"`
	From            string `envconfig:"SMTP_FROM"`
	FromName        string `envconfig:"SMTP_FROM_NAME"`
	MessageIDDomain string `envconfig:"SMTP_MESSAGE_ID_DOMAIN" default:"confcrm.local"`
	RPS             int    `envconfig:"SMTP_RPS_PER_POD" default:"10"`
	Burst           int    `envconfig:"SMTP_BURST" default:"10"`
}

func (c SMTPConfig) Enabled() bool { return c.Host != "" && c.From != "" }

type AIConfig struct {
	APIKey string `envconfig:"GEMINI_API_KEY"`
	Model  string `envconfig:"GEMINI_MODEL" default:"gemini-2.5-flash"`
}

type SQSConfig struct {
	AWSRegion          string `envconfig:"AWS_REGION" required:"true"`
	QueueURL           string `envconfig:"SQS_EVENTS_QUEUE_URL" required:"true"`
	LocalstackEndpoint string `envconfig:"LOCALSTACK_ENDPOINT"`
}

type AuthConfig struct {
	JWTSecret string `envconfig:"JWT_SECRET" required:"true"`
	JWTIssuer string `envconfig:"JWT_ISSUER" default:"confcrm"`
}

type APIConfig struct {
	DBConfig
	RedisConfig
	LinkedInConfig
	AIConfig
	AuthConfig

	Port       string `envconfig:"PORT" default:"8080"`
	LogFormat  string `envconfig:"LOG_FORMAT" default:"json"`
	SentryDSN  string `envconfig:"SENTRY_DSN"`
	PageSize   int    `envconfig:"DEFAULT_PAGE_SIZE" default:"20"`
	SeedPublic bool   `envconfig:"SEED_PUBLIC_TEMPLATES" default:"true"`
}

type SchedulerConfig struct {
	DBConfig
	RedisConfig
	LinkedInConfig
	SMTPConfig

	Port      string `envconfig:"PORT" default:"8081"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
	SentryDSN string `envconfig:"SENTRY_DSN"`
	WorkerID  string `envconfig:"SCHEDULER_WORKER_ID"`

	Interval           time.Duration `envconfig:"SCHEDULER_INTERVAL" default:"1m"`
	BatchSize          int           `envconfig:"SCHEDULER_BATCH_SIZE" default:"100"`
	Concurrency        int           `envconfig:"SCHEDULER_CONCURRENCY" default:"8"`
	LeaseTTL           time.Duration `envconfig:"SCHEDULER_LEASE_TTL" default:"5m"`
	MaxAttempts        int           `envconfig:"SCHEDULER_MAX_ATTEMPTS" default:"5"`
	SendTimeout        time.Duration `envconfig:"SCHEDULER_SEND_TIMEOUT" default:"30s"`
	StateCleanupPeriod time.Duration `envconfig:"OAUTH_STATE_CLEANUP_INTERVAL" default:"10m"`
	BreakerFailures    uint32        `envconfig:"CHANNEL_BREAKER_FAILURES" default:"10"`
	BreakerOpenFor     time.Duration `envconfig:"CHANNEL_BREAKER_OPEN_FOR" default:"20s"`
}

// Validate checks cross-field constraints envconfig cannot express.
func (c SchedulerConfig) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("SCHEDULER_INTERVAL must be positive, got %s", c.Interval)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("SCHEDULER_MAX_ATTEMPTS must be at least 1, got %d", c.MaxAttempts)
	}
	if c.LeaseTTL <= 2*c.SendTimeout {
		return fmt.Errorf("SCHEDULER_LEASE_TTL (%s) must exceed twice SCHEDULER_SEND_TIMEOUT (%s)", c.LeaseTTL, c.SendTimeout)
	}
	return nil
}

type WebhookConfig struct {
	SQSConfig

	Port      string `envconfig:"PORT" default:"8082"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
	SentryDSN string `envconfig:"SENTRY_DSN"`
	Secret    string `envconfig:"WEBHOOK_SECRET" required:"true"`
}

type EventsConfig struct {
	DBConfig
	SQSConfig

	Port          string `envconfig:"PORT" default:"8083"`
	LogFormat     string `envconfig:"LOG_FORMAT" default:"json"`
	SentryDSN     string `envconfig:"SENTRY_DSN"`
	Concurrency   int    `envconfig:"EVENTS_CONCURRENCY" default:"10"`
	SQSWaitTime   int32  `envconfig:"SQS_WAIT_TIME_SECONDS" default:"10"`
	SQSMaxMsgs    int32  `envconfig:"SQS_MAX_MESSAGES" default:"10"`
	SQSVizTimeout int32  `envconfig:"SQS_VISIBILITY_TIMEOUT" default:"30"`
}

// loadDotEnv reads .env (or ENV_FILE) when present. Variables already set in
// the environment win.
func loadDotEnv() {
	path := os.Getenv("ENV_FILE")
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		return
	}
	if err := godotenv.Load(path); err != nil {
		panic(fmt.Errorf("load %s: %w", path, err))
	}
}

// Load fills cfg from the environment and returns the first error.
func Load(cfg any) error {
	loadDotEnv()
	return envconfig.Process("", cfg)
}

func LoadAPI() APIConfig {
	var cfg APIConfig
	if err := Load(&cfg); err != nil {
		panic(err)
	}
	return cfg
}

func LoadScheduler() SchedulerConfig {
	var cfg SchedulerConfig
	if err := Load(&cfg); err != nil {
		panic(err)
	}
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	return cfg
}

func LoadWebhook() WebhookConfig {
	var cfg WebhookConfig
	if err := Load(&cfg); err != nil {
		panic(err)
	}
	return cfg
}

func LoadEvents() EventsConfig {
	var cfg EventsConfig
	if err := Load(&cfg); err != nil {
		panic(err)
	}
	return cfg
}
