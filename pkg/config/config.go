package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "billing"

	AppEnvDev  = "development"
	AppEnvProd = "production"

	EnvAppEnv = "BILLING_APP_ENV"
	EnvDBDSN  = "BILLING_DB_DSN"
	EnvDBHost = "BILLING_DB_HOST"
	EnvDBUser = "BILLING_DB_USER"
	EnvDBName = "BILLING_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App      AppConfig
	Service  ServiceConfig
	DB       DBConfig
	Redis    RedisConfig
	JWT      JWTConfig
	GCP      GCPConfig
	PubSub   PubSubConfig
	Outbox   OutboxConfig
	Ledger   LedgerConfig
	Loyalty  LoyaltyConfig
	Invoice  InvoiceConfig
	Cron     CronConfig
	Eventing EventingConfig
	Features FeatureFlags
}

type FeatureFlags struct {
	AutoMigrate bool `envconfig:"BILLING_FEATURE_AUTO_MIGRATE" default:"false"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"BILLING_APP_ENV" required:"true"`
	Port         string `envconfig:"BILLING_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"BILLING_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"BILLING_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"BILLING_SERVICE_KIND" default:"api"`

	// BranchID identifies which branch replica this process serves. The
	// branch sync consumer skips movements that originated here.
	BranchID string `envconfig:"BILLING_BRANCH_ID"`
}

type DBConfig struct {
	DSN    string `envconfig:"BILLING_DB_DSN"`
	Driver string `envconfig:"BILLING_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"BILLING_DB_HOST"`
	LegacyPort     int    `envconfig:"BILLING_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"BILLING_DB_USER"`
	LegacyPassword string `envconfig:"BILLING_DB_PASSWORD"`
	LegacyName     string `envconfig:"BILLING_DB_NAME"`
	LegacySSLMode  string `envconfig:"BILLING_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"BILLING_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"BILLING_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"BILLING_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"BILLING_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"BILLING_REDIS_URL" required:"true"`
	Address      string        `envconfig:"BILLING_REDIS_ADDR"`
	Password     string        `envconfig:"BILLING_REDIS_PASSWORD"`
	DB           int           `envconfig:"BILLING_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"BILLING_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"BILLING_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"BILLING_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"BILLING_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"BILLING_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"BILLING_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"BILLING_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"BILLING_JWT_EXPIRATION_MINUTES" default:"60"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"BILLING_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"BILLING_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"BILLING_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	MovementsTopic        string `envconfig:"BILLING_PUBSUB_MOVEMENTS_TOPIC" default:"stock-movements"`
	MovementsSubscription string `envconfig:"BILLING_PUBSUB_MOVEMENTS_SUBSCRIPTION"`
	AlertsTopic           string `envconfig:"BILLING_PUBSUB_ALERTS_TOPIC" default:"stock-alerts"`
	DomainTopic           string `envconfig:"BILLING_PUBSUB_DOMAIN_TOPIC" default:"domain-events"`
	DomainSubscription    string `envconfig:"BILLING_PUBSUB_DOMAIN_SUBSCRIPTION"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"BILLING_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"BILLING_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"BILLING_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type LedgerConfig struct {
	// ConflictRetries bounds how often an optimistic-version race is retried
	// before CONCURRENCY_CONFLICT is surfaced to the caller.
	ConflictRetries int           `envconfig:"BILLING_LEDGER_CONFLICT_RETRIES" default:"5"`
	RetryBackoff    time.Duration `envconfig:"BILLING_LEDGER_RETRY_BACKOFF" default:"25ms"`
	ReservationTTL  time.Duration `envconfig:"BILLING_LEDGER_RESERVATION_TTL" default:"24h"`
}

type LoyaltyConfig struct {
	// Rate is points per currency unit of the settled grand total, e.g.
	// "0.01" awards 1 point per 100.00 settled.
	Rate string `envconfig:"BILLING_LOYALTY_RATE" default:"0.01"`
}

type InvoiceConfig struct {
	NumberPrefix string `envconfig:"BILLING_INVOICE_NUMBER_PREFIX" default:"INV"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"BILLING_CRON_INTERVAL" default:"5m"`
	LockKey  string        `envconfig:"BILLING_CRON_LOCK_KEY" default:"billing:cron:leader"`
	LockTTL  time.Duration `envconfig:"BILLING_CRON_LOCK_TTL" default:"10m"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"BILLING_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
