package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds all process configuration.
type Config struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`

	DatabaseURL string `env:"DATABASE_URL,required"`
	DBMaxConns  int32  `env:"DB_MAX_CONNS" envDefault:"20"`

	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	Minio MinioConfig `envPrefix:"MINIO_"`
	Email EmailConfig `envPrefix:"EMAIL_"`
	SMTP  SMTPConfig  `envPrefix:"SMTP_"`

	NotifyInApp           bool   `env:"NOTIFY_IN_APP" envDefault:"true"`
	NotifyWebhookURL      string `env:"NOTIFY_WEBHOOK_URL"`
	NotifySlackWebhookURL string `env:"NOTIFY_SLACK_WEBHOOK_URL"`

	GracePeriodDays         int      `env:"GRACE_PERIOD_DAYS" envDefault:"7"`
	AnomalySessionThreshold int      `env:"ANOMALY_SESSION_THRESHOLD" envDefault:"1000"`
	LowUtilizationThreshold float64  `env:"LOW_UTILIZATION_THRESHOLD" envDefault:"0.3"`
	InvoiceDueDays          int      `env:"INVOICE_DUE_DAYS" envDefault:"15"`
	ReportRecipients        []string `env:"REPORT_RECIPIENTS" envSeparator:","`
	AppBaseURL              string   `env:"APP_BASE_URL" envDefault:"http://localhost:3000"`

	AdminJWTSecret      string        `env:"ADMIN_JWT_SECRET,required"`
	JobOverridesFile    string        `env:"JOB_OVERRIDES_FILE"`
	JobFailureThreshold int           `env:"JOB_FAILURE_THRESHOLD" envDefault:"3"`
	ShutdownTimeout     time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

type MinioConfig struct {
	Endpoint  string `env:"ENDPOINT"`
	AccessKey string `env:"ACCESS_KEY"`
	SecretKey string `env:"SECRET_KEY"`
	UseSSL    bool   `env:"USE_SSL" envDefault:"false"`
	Bucket    string `env:"BUCKET" envDefault:"licenseops"`
	Region    string `env:"REGION" envDefault:"us-east-1"`
}

// Enabled reports whether archiving to object storage is configured.
func (m MinioConfig) Enabled() bool {
	return m.Endpoint != ""
}

type EmailConfig struct {
	Provider      string  `env:"PROVIDER" envDefault:"smtp"`
	APIURL        string  `env:"API_URL"`
	APIKey        string  `env:"API_KEY"`
	From          string  `env:"FROM" envDefault:"noreply@licenseops.local"`
	ReplyTo       string  `env:"REPLY_TO"`
	RatePerSecond float64 `env:"RATE_PER_SECOND" envDefault:"5"`
}

type SMTPConfig struct {
	Host string `env:"HOST"`
	Port int    `env:"PORT" envDefault:"587"`
	User string `env:"USER"`
	Pass string `env:"PASS"`
	TLS  bool   `env:"TLS" envDefault:"true"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// Attempt to load .env file for local development.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Email.Provider {
	case "smtp":
		if c.SMTP.Host == "" {
			return fmt.Errorf("SMTP_HOST is required when EMAIL_PROVIDER=smtp")
		}
	case "api":
		if c.Email.APIURL == "" {
			return fmt.Errorf("EMAIL_API_URL is required when EMAIL_PROVIDER=api")
		}
	default:
		return fmt.Errorf("unknown EMAIL_PROVIDER %q", c.Email.Provider)
	}
	if c.GracePeriodDays < 0 {
		return fmt.Errorf("GRACE_PERIOD_DAYS must not be negative")
	}
	if c.LowUtilizationThreshold < 0 || c.LowUtilizationThreshold > 1 {
		return fmt.Errorf("LOW_UTILIZATION_THRESHOLD must be within [0, 1]")
	}
	return nil
}

// SlogLevel maps LOG_LEVEL onto a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
