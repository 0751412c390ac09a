package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix namespaces every environment variable consumed by the service.
const EnvPrefix = "BUNSHOP"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvDBDSN  = "BUNSHOP_DB_DSN"
	EnvDBHost = "BUNSHOP_DB_HOST"
	EnvDBUser = "BUNSHOP_DB_USER"
	EnvDBName = "BUNSHOP_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	Reservation  ReservationConfig
	Stripe       StripeConfig
	Cron         CronConfig
	FeatureFlags FeatureFlagsConfig
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
	Env          string `envconfig:"BUNSHOP_APP_ENV" required:"true"`
	Port         string `envconfig:"BUNSHOP_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"BUNSHOP_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"BUNSHOP_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"BUNSHOP_DB_DSN"`
	Driver string `envconfig:"BUNSHOP_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"BUNSHOP_DB_HOST"`
	LegacyPort     int    `envconfig:"BUNSHOP_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"BUNSHOP_DB_USER"`
	LegacyPassword string `envconfig:"BUNSHOP_DB_PASSWORD"`
	LegacyName     string `envconfig:"BUNSHOP_DB_NAME"`
	LegacySSLMode  string `envconfig:"BUNSHOP_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"BUNSHOP_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"BUNSHOP_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"BUNSHOP_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"BUNSHOP_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"BUNSHOP_REDIS_URL" required:"true"`
	Address      string        `envconfig:"BUNSHOP_REDIS_ADDR"`
	Password     string        `envconfig:"BUNSHOP_REDIS_PASSWORD"`
	DB           int           `envconfig:"BUNSHOP_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"BUNSHOP_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"BUNSHOP_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"BUNSHOP_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"BUNSHOP_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"BUNSHOP_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// ReservationConfig tunes the capacity reservation engine.
type ReservationConfig struct {
	PendingTTLMinutes int `envconfig:"BUNSHOP_ORDER_PENDING_TTL_MIN" default:"20"`
	DefaultCutoffHour int `envconfig:"BUNSHOP_DEFAULT_CUTOFF_HOUR" default:"12"`
}

// PendingTTL returns the pending order lifetime as a duration.
func (r ReservationConfig) PendingTTL() time.Duration {
	minutes := r.PendingTTLMinutes
	if minutes <= 0 {
		minutes = 20
	}
	return time.Duration(minutes) * time.Minute
}

type StripeConfig struct {
	APIKey         string        `envconfig:"BUNSHOP_STRIPE_API_KEY"`
	Secret         string        `envconfig:"BUNSHOP_STRIPE_SECRET"`
	Env            string        `envconfig:"BUNSHOP_STRIPE_ENV" default:"test"`
	Currency       string        `envconfig:"BUNSHOP_STRIPE_CURRENCY" default:"pln"`
	SuccessURL     string        `envconfig:"BUNSHOP_STRIPE_SUCCESS_URL"`
	CancelURL      string        `envconfig:"BUNSHOP_STRIPE_CANCEL_URL"`
	SessionTimeout time.Duration `envconfig:"BUNSHOP_STRIPE_SESSION_TIMEOUT" default:"10s"`
	SessionRetries uint64        `envconfig:"BUNSHOP_STRIPE_SESSION_RETRIES" default:"3"`
	WebhookIdemTTL time.Duration `envconfig:"BUNSHOP_STRIPE_WEBHOOK_IDEM_TTL" default:"72h"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type CronConfig struct {
	Interval time.Duration `envconfig:"BUNSHOP_CRON_INTERVAL" default:"1m"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"BUNSHOP_AUTO_MIGRATE" default:"false"`
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
