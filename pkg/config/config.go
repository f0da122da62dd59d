package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
	Outbox       OutboxConfig
	Square       SquareConfig
	Settlement   SettlementConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := cfg.Settlement.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string   `envconfig:"LEDGER_APP_ENV" required:"true"`
	Port         string   `envconfig:"LEDGER_APP_PORT" default:"8080"`
	LogLevel     string   `envconfig:"LEDGER_LOG_LEVEL" default:"info"`
	LogWarnStack bool     `envconfig:"LEDGER_LOG_WARN_STACK" default:"false"`
	LogFormat    string   `envconfig:"LEDGER_LOG_FORMAT" default:"json"`
	CORSOrigins  []string `envconfig:"LEDGER_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "prod")
}

type ServiceConfig struct {
	Kind string `envconfig:"LEDGER_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"LEDGER_DB_DSN"`
	Driver string `envconfig:"LEDGER_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"LEDGER_DB_HOST"`
	LegacyPort     int    `envconfig:"LEDGER_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"LEDGER_DB_USER"`
	LegacyPassword string `envconfig:"LEDGER_DB_PASSWORD"`
	LegacyName     string `envconfig:"LEDGER_DB_NAME"`
	LegacySSLMode  string `envconfig:"LEDGER_DB_SSLMODE" default:"disable"`

	SQLitePath string `envconfig:"LEDGER_SQLITE_PATH" default:"settlement-ledger.db"`

	MaxOpenConns    int           `envconfig:"LEDGER_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"LEDGER_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"LEDGER_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"LEDGER_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	SlowQueryThreshold time.Duration `envconfig:"LEDGER_DB_SLOW_QUERY_THRESHOLD" default:"250ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"LEDGER_REDIS_URL" required:"true"`
	Address      string        `envconfig:"LEDGER_REDIS_ADDR"`
	Password     string        `envconfig:"LEDGER_REDIS_PASSWORD"`
	DB           int           `envconfig:"LEDGER_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"LEDGER_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"LEDGER_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"LEDGER_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"LEDGER_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"LEDGER_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"LEDGER_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"LEDGER_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"LEDGER_JWT_EXPIRATION_MINUTES" default:"60"`
}

// Expiration returns the configured token lifetime.
func (j JWTConfig) Expiration() time.Duration {
	if j.ExpirationMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(j.ExpirationMinutes) * time.Minute
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"LEDGER_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"LEDGER_AUTO_MIGRATE" default:"false"`
	PaymentSync bool `envconfig:"LEDGER_FEATURE_PAYMENT_SYNC" default:"false"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"LEDGER_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
	HTTPIdempotencyTTL   time.Duration `envconfig:"LEDGER_HTTP_IDEMPOTENCY_TTL" default:"24h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"LEDGER_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"LEDGER_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"LEDGER_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	SettlementTopic          string `envconfig:"LEDGER_PUBSUB_SETTLEMENT_TOPIC" default:"ledger-settlement-events"`
	SettlementSubscription   string `envconfig:"LEDGER_PUBSUB_SETTLEMENT_SUBSCRIPTION" default:"ledger-settlement-projection"`
	PayoutRequestTopic       string `envconfig:"LEDGER_PUBSUB_PAYOUT_REQUEST_TOPIC" default:"ledger-payout-requests"`
	PayoutResultSubscription string `envconfig:"LEDGER_PUBSUB_PAYOUT_RESULT_SUBSCRIPTION" default:"ledger-payout-results"`
	AlertTopic               string `envconfig:"LEDGER_PUBSUB_ALERT_TOPIC" default:"ledger-operator-alerts"`
}

type BigQueryConfig struct {
	Dataset          string `envconfig:"LEDGER_BIGQUERY_DATASET" default:"settlement"`
	SettlementTable  string `envconfig:"LEDGER_BIGQUERY_SETTLEMENT_TABLE" default:"settlement_events"`
	ProjectionSource string `envconfig:"LEDGER_BIGQUERY_PROJECTION_SOURCE" default:"settlement-ledger"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"LEDGER_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"LEDGER_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"LEDGER_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Retention      time.Duration `envconfig:"LEDGER_OUTBOX_RETENTION" default:"720h"`
	BacklogWarn    int64         `envconfig:"LEDGER_OUTBOX_BACKLOG_WARN" default:"1000"`
}

type SquareConfig struct {
	AccessToken string        `envconfig:"LEDGER_SQUARE_ACCESS_TOKEN"`
	Env         string        `envconfig:"LEDGER_SQUARE_ENV" default:"sandbox"`
	Timeout     time.Duration `envconfig:"LEDGER_SQUARE_TIMEOUT" default:"10s"`
}

// Environment returns the normalized Square environment (sandbox/production).
func (s SquareConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

// SettlementConfig holds the platform-wide commission and payout rules.
type SettlementConfig struct {
	DefaultCommissionRate string        `envconfig:"LEDGER_COMMISSION_DEFAULT_RATE" default:"10.00"`
	PlatformFeeFlat       string        `envconfig:"LEDGER_PLATFORM_FEE_FLAT" default:"0.00"`
	DefaultCurrency       string        `envconfig:"LEDGER_DEFAULT_CURRENCY" default:"USD"`
	ReturnWindow          time.Duration `envconfig:"LEDGER_RETURN_WINDOW" default:"336h"`
	PayoutMinimum         string        `envconfig:"LEDGER_PAYOUT_MINIMUM" default:"0.01"`
	InvoiceTaxRate        string        `envconfig:"LEDGER_INVOICE_TAX_RATE" default:"0.00"`
	InvoiceDueIn          time.Duration `envconfig:"LEDGER_INVOICE_DUE_IN" default:"720h"`
}

// DefaultRate parses the platform default commission rate.
func (s SettlementConfig) DefaultRate() decimal.Decimal {
	return decimal.RequireFromString(s.DefaultCommissionRate)
}

// PlatformFee parses the flat per-item platform fee.
func (s SettlementConfig) PlatformFee() decimal.Decimal {
	return decimal.RequireFromString(s.PlatformFeeFlat)
}

// TaxRate parses the percentage charged on top of invoiced platform revenue.
func (s SettlementConfig) TaxRate() decimal.Decimal {
	return decimal.RequireFromString(s.InvoiceTaxRate)
}

// MinimumPayout parses the smallest payout batching will create.
func (s SettlementConfig) MinimumPayout() decimal.Decimal {
	return decimal.RequireFromString(s.PayoutMinimum)
}

func (s SettlementConfig) validate() error {
	for env, raw := range map[string]string{
		EnvCommissionDefaultRate: s.DefaultCommissionRate,
		EnvPlatformFeeFlat:       s.PlatformFeeFlat,
		EnvPayoutMinimum:         s.PayoutMinimum,
		EnvInvoiceTaxRate:        s.InvoiceTaxRate,
	} {
		value, err := decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("%s must be a decimal: %w", env, err)
		}
		if value.IsNegative() {
			return fmt.Errorf("%s must not be negative", env)
		}
	}
	if s.DefaultRate().GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("%s must not exceed 100", EnvCommissionDefaultRate)
	}
	if s.TaxRate().GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("%s must not exceed 100", EnvInvoiceTaxRate)
	}
	if s.InvoiceDueIn <= 0 {
		return fmt.Errorf("%s must be positive", EnvInvoiceDueIn)
	}
	return nil
}

// CronConfig drives the scheduled settlement jobs.
type CronConfig struct {
	Interval          time.Duration `envconfig:"LEDGER_CRON_INTERVAL" default:"15m"`
	LockKey           string        `envconfig:"LEDGER_CRON_LOCK_KEY" default:"cron:settlement"`
	LockTTL           time.Duration `envconfig:"LEDGER_CRON_LOCK_TTL" default:"14m"`
	ReconcileLookback time.Duration `envconfig:"LEDGER_RECONCILE_LOOKBACK" default:"48h"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if db.DSN != "" || useSQLite {
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

// LoadJWT reads only the token settings, for tools that never touch the
// database or brokers.
func LoadJWT() (JWTConfig, error) {
	var cfg JWTConfig
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return JWTConfig{}, fmt.Errorf("parsing jwt config: %w", err)
	}
	return cfg, nil
}
