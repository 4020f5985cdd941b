package config

import (
	"errors"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Dedup backends
const (
	DedupMemory = "memory"
	DedupStore  = "store"
)

type Config struct {
	// HTTP
	Port    int
	BaseURL string

	// Stripe
	StripeSecretKey  string
	WebhookSecret    string
	WebhookEndpoint  string
	WebhookTolerance time.Duration
	AccountCountry   string
	Currency         string
	BusinessURL      string

	// Provider circuit breaker
	BreakerMaxFailures uint32
	BreakerTimeout     time.Duration

	// Database
	DBDriver string
	DBDSN    string

	// Dedup
	DedupBackend       string
	DedupWindow        time.Duration
	DedupMaxEntries    int
	DedupSweepInterval time.Duration

	// Telegram alerts
	TelegramBotToken    string
	TelegramAlertChatID int64

	// HTTP limits
	CORSOrigins       []string
	RateLimitRequests int
	RateLimitWindow   time.Duration

	LogLevel string
}

func Load() *Config {
	cfg := &Config{
		// HTTP
		Port:    getEnvInt("PORT", 8080),
		BaseURL: withTrailingSlash(getEnv("BASE_URL", "http://localhost:8080/")),

		// Stripe
		StripeSecretKey:  getEnv("STRIPE_SECRET_KEY", ""),
		WebhookSecret:    getEnv("WEBHOOK_SECRET", ""),
		WebhookEndpoint:  getEnv("WEBHOOK_ENDPOINT", ""),
		WebhookTolerance: getEnvDuration("WEBHOOK_TOLERANCE", 5*time.Minute),
		AccountCountry:   getEnv("ACCOUNT_COUNTRY", "RO"),
		Currency:         strings.ToLower(getEnv("CURRENCY", "ron")),
		BusinessURL:      getEnv("BUSINESS_URL", "https://h4kig.us/"),

		BreakerMaxFailures: uint32(getEnvInt("BREAKER_MAX_FAILURES", 5)),
		BreakerTimeout:     getEnvDuration("BREAKER_TIMEOUT", 30*time.Second),

		// Database
		DBDriver: getEnv("DB_DRIVER", "sqlite3"),
		DBDSN:    getEnv("DB_DSN", "./paylink.db"),

		// Dedup: Stripe retries undelivered webhooks for up to three days.
		DedupBackend:       getEnv("DEDUP_BACKEND", DedupMemory),
		DedupWindow:        getEnvDuration("DEDUP_WINDOW", 72*time.Hour),
		DedupMaxEntries:    getEnvInt("DEDUP_MAX_ENTRIES", 100000),
		DedupSweepInterval: getEnvDuration("DEDUP_SWEEP_INTERVAL", time.Minute),

		// Telegram
		TelegramBotToken:    getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramAlertChatID: getEnvInt64("TELEGRAM_ALERT_CHAT_ID", 0),

		CORSOrigins:       getEnvList("CORS_ORIGINS", []string{"*"}),
		RateLimitRequests: getEnvInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return cfg
}

// Validate reports the first missing or inconsistent setting.
func (c *Config) Validate() error {
	if c.StripeSecretKey == "" {
		return errors.New("config: STRIPE_SECRET_KEY is required")
	}
	if c.WebhookSecret == "" {
		return errors.New("config: WEBHOOK_SECRET is required")
	}
	if c.DBDriver != "sqlite3" && c.DBDriver != "pgx" {
		return errors.New("config: DB_DRIVER must be sqlite3 or pgx")
	}
	if c.DedupBackend != DedupMemory && c.DedupBackend != DedupStore {
		return errors.New("config: DEDUP_BACKEND must be memory or store")
	}
	if c.DedupWindow <= 0 {
		return errors.New("config: DEDUP_WINDOW must be positive")
	}
	if c.DedupSweepInterval <= 0 {
		return errors.New("config: DEDUP_SWEEP_INTERVAL must be positive")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errors.New("config: PORT out of range")
	}
	return nil
}

// TelegramEnabled reports whether seller alerts should be sent.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramBotToken != "" && c.TelegramAlertChatID != 0
}

// SlogLevel maps LogLevel onto slog levels, defaulting to info.
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

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil && d > 0 {
			return d
		}
	}
	return defaultVal
}

func getEnvList(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}

func withTrailingSlash(s string) string {
	if strings.HasSuffix(s, "/") {
		return s
	}
	return s + "/"
}
