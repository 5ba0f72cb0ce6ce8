package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	Stripe    StripeConfig
	Billing   BillingConfig
	Redis     RedisConfig
	Email     EmailConfig
	Archive   ArchiveConfig
	Telemetry TelemetryConfig
	PlansFile string
	LogLevel  logrus.Level
}

type ServerConfig struct {
	Port        string
	CORSOrigins string
	AppURL      string
}

type DatabaseConfig struct {
	// URL is a Postgres DSN. The in-memory store is used when empty.
	URL string
}

type JWTConfig struct {
	Secret string
}

type StripeConfig struct {
	// SecretKey empty selects the sandbox provider.
	SecretKey     string
	WebhookSecret string
	BaseURL       string
}

type BillingConfig struct {
	ProviderTimeout  time.Duration
	StoreTimeout     time.Duration
	PlanCacheTTL     time.Duration
	ProviderRPS      float64
	ProviderBurst    int
	ReminderSchedule string
}

type RedisConfig struct {
	URL     string
	LockTTL time.Duration
}

type EmailConfig struct {
	ResendAPIKey string
	From         string
	BaseURL      string
}

type ArchiveConfig struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

type TelemetryConfig struct {
	OTLPEndpoint string
	Insecure     bool
	SampleRate   float64
}

func Load() *Config {
	godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "3000"),
			CORSOrigins: getEnv("CORS_ORIGINS", "*"),
			AppURL:      getEnv("APP_URL", "http://localhost:5173"),
		},
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", "your-secret-key"),
		},
		Stripe: StripeConfig{
			SecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
			BaseURL:       getEnv("STRIPE_BASE_URL", ""),
		},
		Billing: BillingConfig{
			ProviderTimeout:  getDuration("PROVIDER_TIMEOUT", 10*time.Second),
			StoreTimeout:     getDuration("STORE_TIMEOUT", 5*time.Second),
			PlanCacheTTL:     getDuration("PLAN_CACHE_TTL", 5*time.Minute),
			ProviderRPS:      getFloat("PROVIDER_RPS", 20),
			ProviderBurst:    getInt("PROVIDER_BURST", 5),
			ReminderSchedule: getEnv("REMINDER_SCHEDULE", "0 9 * * *"),
		},
		Redis: RedisConfig{
			URL:     getEnv("REDIS_URL", ""),
			LockTTL: getDuration("LOCK_TTL", 30*time.Second),
		},
		Email: EmailConfig{
			ResendAPIKey: getEnv("RESEND_API_KEY", ""),
			From:         getEnv("EMAIL_FROM", "ContentLift <billing@contentlift.app>"),
			BaseURL:      getEnv("RESEND_BASE_URL", "https://api.resend.com"),
		},
		Archive: ArchiveConfig{
			Bucket:          getEnv("EVENT_ARCHIVE_BUCKET", ""),
			Region:          getEnv("AWS_REGION", "us-east-1"),
			Endpoint:        getEnv("S3_ENDPOINT", ""),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Insecure:     getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			SampleRate:   getFloat("OTEL_SAMPLE_RATE", 1),
		},
		PlansFile: getEnv("PLANS_FILE", "config/plans.yaml"),
		LogLevel:  getLevel("LOG_LEVEL", logrus.InfoLevel),
	}
}

// DevMode reports whether any production backend is missing.
func (c *Config) DevMode() bool {
	return c.Database.URL == "" || c.Stripe.SecretKey == ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
		logrus.WithField("key", key).Warnf("invalid duration %q, using %s", value, defaultValue)
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
		logrus.WithField("key", key).Warnf("invalid integer %q, using %d", value, defaultValue)
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
		logrus.WithField("key", key).Warnf("invalid number %q, using %g", value, defaultValue)
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getLevel(key string, defaultValue logrus.Level) logrus.Level {
	if value := os.Getenv(key); value != "" {
		if lvl, err := logrus.ParseLevel(value); err == nil {
			return lvl
		}
	}
	return defaultValue
}
