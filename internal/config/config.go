// Package config loads process configuration from the environment (and a
// .env file in development), the way the teacher project does.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every environment-sourced setting the core needs. It is
// constructed once at startup and passed explicitly to the services that
// need it; nothing reads os.Getenv outside this package.
type Config struct {
	LogLevel string

	PostgresDSN   string
	TokenPassword string // used to derive the AES key for encrypting cookies/card tokens at rest

	ParserConfigPath string

	// Payment gateway credentials (§4.9, §6).
	GatewayPublicID string
	GatewaySecret   string
	GatewayTestMode bool

	// Notifier (§4.12, §6 notifier capability).
	TelegramBotToken       string
	NotificationsEnabled   bool
	ShortNotificationDelay time.Duration
	LongNotificationDelay  time.Duration
	MiniAppURL             string

	// HTTP client tunables (§4.1).
	MaxConcurrentRequests int
	MaxParallelRequests   int
	RequestTimeout        time.Duration
	ConnectTimeout        time.Duration
	SocketReadTimeout     time.Duration
	SocketConnectTimeout  time.Duration
	KeepAlive             time.Duration
	DNSCacheTTL           time.Duration
	MetricsWindow         time.Duration

	// Circuit breaker (§4.2).
	CircuitFailureThreshold int
	CircuitRecoveryTimeout  time.Duration

	// Rate limiter (§4.4).
	RateLimitBaseDelay  time.Duration
	RateLimitJitterMax  float64
	RateLimitExtraMin   time.Duration
	RateLimitExtraMax   time.Duration

	// Cache/freshness knobs (§4.8, §4.14).
	ProfileFreshnessTTL time.Duration
	TaskStatusTTL       time.Duration

	// Blob store (§4.7).
	BlobStoreRoot     string
	BlobCleanupDays   int

	// Optional comment fallback capability (§4.5, §9 Open Question 3).
	CommentFallbackEnabled bool

	BaseURL string
}

// Load reads configuration from the environment, applying the teacher's
// godotenv-then-os.Getenv convention, and validates required fields.
func Load() (*Config, error) {
	_ = godotenv.Load() // optional in production; missing .env is not fatal here

	cfg := &Config{
		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),

		PostgresDSN:   os.Getenv("POSTGRES_DSN"),
		TokenPassword: os.Getenv("TOKEN_PASSWORD"),

		ParserConfigPath: getEnvOrDefault("PARSER_CONFIG_PATH", "data/parser_config.json"),

		GatewayPublicID: os.Getenv("GATEWAY_PUBLIC_ID"),
		GatewaySecret:   os.Getenv("GATEWAY_SECRET"),
		GatewayTestMode: getEnvBool("GATEWAY_TEST_MODE", true),

		TelegramBotToken:       os.Getenv("TELEGRAM_BOT_TOKEN"),
		NotificationsEnabled:   getEnvBool("NOTIFICATIONS_ENABLED", true),
		ShortNotificationDelay: getEnvDuration("SHORT_NOTIFICATION_DELAY", 7*time.Minute),
		LongNotificationDelay:  getEnvDuration("LONG_NOTIFICATION_DELAY", 96*time.Hour),
		MiniAppURL:             os.Getenv("MINI_APP_URL"),

		MaxConcurrentRequests: getEnvInt("MAX_CONCURRENT_REQUESTS", 10),
		MaxParallelRequests:   getEnvInt("MAX_PARALLEL_REQUESTS", 3),
		RequestTimeout:        getEnvDuration("REQUEST_TIMEOUT", 15*time.Second),
		ConnectTimeout:        getEnvDuration("CONNECT_TIMEOUT", 5*time.Second),
		SocketReadTimeout:     getEnvDuration("SOCKET_READ_TIMEOUT", 10*time.Second),
		SocketConnectTimeout:  getEnvDuration("SOCKET_CONNECT_TIMEOUT", 5*time.Second),
		KeepAlive:             getEnvDuration("KEEP_ALIVE", 15*time.Second),
		DNSCacheTTL:           getEnvDuration("DNS_CACHE_TTL", 300*time.Second),
		MetricsWindow:         getEnvDuration("METRICS_WINDOW", time.Minute),

		CircuitFailureThreshold: getEnvInt("CIRCUIT_FAILURE_THRESHOLD", 5),
		CircuitRecoveryTimeout:  getEnvDuration("CIRCUIT_RECOVERY_TIMEOUT", 60*time.Second),

		RateLimitBaseDelay: getEnvDuration("RATE_LIMIT_BASE_DELAY", 500*time.Millisecond),
		RateLimitJitterMax: getEnvFloat("RATE_LIMIT_JITTER_MAX", 1.0),
		RateLimitExtraMin:  getEnvDuration("RATE_LIMIT_EXTRA_MIN", 0),
		RateLimitExtraMax:  getEnvDuration("RATE_LIMIT_EXTRA_MAX", 750*time.Millisecond),

		ProfileFreshnessTTL: getEnvDuration("PROFILE_FRESHNESS_TTL", 24*time.Hour),
		TaskStatusTTL:       getEnvDuration("TASK_STATUS_TTL", time.Hour),

		BlobStoreRoot:   getEnvOrDefault("BLOB_STORE_ROOT", "data/blobs"),
		BlobCleanupDays: getEnvInt("BLOB_CLEANUP_DAYS", 30),

		CommentFallbackEnabled: getEnvBool("COMMENT_FALLBACK_ENABLED", false),

		BaseURL: os.Getenv("BASE_URL"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	required := map[string]string{
		"TOKEN_PASSWORD": c.TokenPassword,
	}
	for key, value := range required {
		if value == "" {
			return fmt.Errorf("required environment variable %s is not set", key)
		}
	}
	return nil
}

// HasDatabaseConfig reports whether a Postgres DSN was configured.
func (c *Config) HasDatabaseConfig() bool { return c.PostgresDSN != "" }

// HasGatewayConfig reports whether payment-gateway credentials are present.
func (c *Config) HasGatewayConfig() bool {
	return c.GatewayPublicID != "" && c.GatewaySecret != ""
}

// HasNotifierConfig reports whether the Telegram notifier can be started.
func (c *Config) HasNotifierConfig() bool {
	return c.NotificationsEnabled && c.TelegramBotToken != ""
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
