package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Env string `env:"ENV,default=development"`

	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Dispatcher DispatcherConfig
	WhatsApp   WhatsAppConfig
	AI         AIConfig
	Auth       AuthConfig
}

type ServerConfig struct {
	Address         string        `env:"SERVER_ADDRESS,default=:8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=15s"`
}

type DatabaseConfig struct {
	Driver      string `env:"DATABASE_DRIVER,default=postgres"`
	PostgresURL string `env:"POSTGRES_URL"`
	SQLitePath  string `env:"SQLITE_PATH,default=reminders.db"`
	MaxConns    int32  `env:"DB_MAX_CONNS,default=10"`
}

type RedisConfig struct {
	Enabled  bool
	Address  string        `env:"REDIS_ADDR"`
	Password string        `env:"REDIS_PASSWORD"`
	DB       int           `env:"REDIS_DB,default=0"`
	TTL      time.Duration `env:"REDIS_TTL,default=24h"`
}

type DispatcherConfig struct {
	Interval   time.Duration `env:"DISPATCH_INTERVAL,default=30s"`
	BatchSize  int           `env:"DISPATCH_BATCH_SIZE,default=50"`
	AutoStart  bool          `env:"DISPATCH_AUTOSTART,default=true"`
	LockTTL    time.Duration `env:"DISPATCH_LOCK_TTL,default=25s"`
	ClaimLease time.Duration `env:"DISPATCH_CLAIM_LEASE,default=10m"`
}

type WhatsAppConfig struct {
	Provider           string `env:"WHATSAPP_PROVIDER,default=devlog"`
	ContentMax         int    `env:"CONTENT_MAX,default=1600"`
	DefaultCountryCode string `env:"DEFAULT_COUNTRY_CODE,default=972"`
	ReceiptSecret      string `env:"DELIVERY_WEBHOOK_SECRET"`
	// TimeZone is used to show session times in reminder text.
	TimeZone string `env:"SESSION_TIMEZONE,default=UTC"`

	WebhookURL string `env:"WEBHOOK_URL"`

	GreenAPIURL        string `env:"GREEN_API_URL,default=https://api.green-api.com"`
	GreenAPIInstanceID string `env:"GREEN_API_INSTANCE_ID"`
	GreenAPIToken      string `env:"GREEN_API_TOKEN"`

	TwilioURL        string `env:"TWILIO_API_URL,default=https://api.twilio.com"`
	TwilioAccountSID string `env:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken  string `env:"TWILIO_AUTH_TOKEN"`
	TwilioFromNumber string `env:"TWILIO_WHATSAPP_NUMBER"`
}

type AIConfig struct {
	APIKey      string        `env:"OPENAI_API_KEY"`
	BaseURL     string        `env:"OPENAI_BASE_URL"`
	Model       string        `env:"AI_MODEL,default=gpt-4o-mini"`
	Temperature float32       `env:"AI_TEMPERATURE,default=0.7"`
	MaxTokens   int           `env:"AI_MAX_TOKENS,default=300"`
	Timeout     time.Duration `env:"AI_TIMEOUT,default=30s"`
}

type AuthConfig struct {
	JWTSecret  string        `env:"JWT_SECRET_KEY"`
	TokenTTL   time.Duration `env:"ACCESS_TOKEN_TTL,default=30m"`
	BcryptCost int           `env:"BCRYPT_COST,default=10"`
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// LoadAll reads the configuration from the process environment.
func LoadAll() (*Config, error) {
	return Load(context.Background(), envconfig.OsLookuper())
}

func Load(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}
	if err := envconfig.ProcessWith(ctx, cfg, l); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.Redis.Enabled = cfg.Redis.Address != ""
	cfg.Database.Driver = strings.ToLower(cfg.Database.Driver)
	cfg.WhatsApp.Provider = strings.ToLower(cfg.WhatsApp.Provider)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	var errs []error

	switch cfg.Database.Driver {
	case "postgres":
		if cfg.Database.PostgresURL == "" {
			errs = append(errs, errors.New("missing required env var: POSTGRES_URL"))
		}
	case "sqlite":
		if cfg.Database.SQLitePath == "" {
			errs = append(errs, errors.New("missing required env var: SQLITE_PATH"))
		}
	default:
		errs = append(errs, fmt.Errorf("DATABASE_DRIVER must be postgres or sqlite, got %q", cfg.Database.Driver))
	}

	if cfg.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("missing required env var: JWT_SECRET_KEY"))
	}
	if cfg.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("ACCESS_TOKEN_TTL must be > 0"))
	}

	if cfg.Dispatcher.BatchSize <= 0 {
		errs = append(errs, errors.New("DISPATCH_BATCH_SIZE must be > 0"))
	}
	if cfg.Dispatcher.Interval <= 0 {
		errs = append(errs, errors.New("DISPATCH_INTERVAL must be > 0"))
	}
	if cfg.Dispatcher.ClaimLease <= 0 {
		errs = append(errs, errors.New("DISPATCH_CLAIM_LEASE must be > 0"))
	}
	if cfg.WhatsApp.ContentMax <= 0 {
		errs = append(errs, errors.New("CONTENT_MAX must be > 0"))
	}

	if _, err := time.LoadLocation(cfg.WhatsApp.TimeZone); err != nil {
		errs = append(errs, fmt.Errorf("SESSION_TIMEZONE: %w", err))
	}

	errs = append(errs, validateProvider(cfg.WhatsApp)...)

	return joinErrors(errs)
}

func validateProvider(w WhatsAppConfig) []error {
	var errs []error
	need := func(key, val string) {
		if val == "" {
			errs = append(errs, fmt.Errorf("missing required env var: %s (WHATSAPP_PROVIDER=%s)", key, w.Provider))
		}
	}

	switch w.Provider {
	case "devlog":
	case "webhook":
		need("WEBHOOK_URL", w.WebhookURL)
	case "green_api":
		need("GREEN_API_INSTANCE_ID", w.GreenAPIInstanceID)
		need("GREEN_API_TOKEN", w.GreenAPIToken)
	case "twilio":
		need("TWILIO_ACCOUNT_SID", w.TwilioAccountSID)
		need("TWILIO_AUTH_TOKEN", w.TwilioAuthToken)
		need("TWILIO_WHATSAPP_NUMBER", w.TwilioFromNumber)
	default:
		errs = append(errs, fmt.Errorf("unknown WHATSAPP_PROVIDER %q", w.Provider))
	}
	return errs
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
