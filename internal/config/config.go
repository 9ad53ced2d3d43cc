// Package config provides environment configuration for the relay.
package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers.
const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
	StoreNATS   = "nats"
)

// Update intake modes.
const (
	UpdateModePolling = "polling"
	UpdateModeWebhook = "webhook"
)

// Send modes a user can be defaulted to.
const (
	ModeAnonymous = "anonymous"
	ModeNamed     = "named"
)

// Config holds all configuration for the application.
type Config struct {
	// Telegram
	BotToken        string
	OperatorID      int64
	UpdateMode      string
	WebhookURL      string
	WebhookSecret   string
	OutboundRate    float64
	OutboundBurst   int
	DispatchWorkers int

	// Relay behaviour
	SendTimeout     time.Duration
	PersistTimeout  time.Duration
	ClassifyTimeout time.Duration
	DefaultMode     string
	HistoryLimit    int

	// Storage
	StoreDriver   string
	StatePath     string
	SQLitePath    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisKey      string

	// NATS settings
	NATSURL       string
	NATSCAFile    string
	NATSCertFile  string
	NATSKeyFile   string
	NATSToken     string
	NATSKVBucket  string
	EventsEnabled bool

	// Moderation
	ModerationProvider string
	OpenAIAPIKey       string
	AnthropicAPIKey    string
	ModerationModel    string

	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// JWT settings
	JWTSecret string

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from a .env file, if present, and the environment.
func Load() *Config {
	_ = godotenv.Load(".env")

	return &Config{
		// Telegram
		BotToken:        getEnv("BOT_TOKEN", ""),
		OperatorID:      getInt64Env("OPERATOR_ID", 0),
		UpdateMode:      getEnv("UPDATE_MODE", UpdateModePolling),
		WebhookURL:      getEnv("WEBHOOK_URL", ""),
		WebhookSecret:   getEnv("WEBHOOK_SECRET", ""),
		OutboundRate:    getFloatEnv("OUTBOUND_RATE", 25),
		OutboundBurst:   getIntEnv("OUTBOUND_BURST", 5),
		DispatchWorkers: getIntEnv("DISPATCH_WORKERS", 16),

		// Relay
		SendTimeout:     getDurationEnv("SEND_TIMEOUT", 10*time.Second),
		PersistTimeout:  getDurationEnv("PERSIST_TIMEOUT", 5*time.Second),
		ClassifyTimeout: getDurationEnv("CLASSIFY_TIMEOUT", 5*time.Second),
		DefaultMode:     getEnv("DEFAULT_MODE", ModeAnonymous),
		HistoryLimit:    getIntEnv("HISTORY_LIMIT", 100),

		// Storage
		StoreDriver:   getEnv("STORE_DRIVER", StoreFile),
		StatePath:     getEnv("STATE_PATH", "data/relay_state.json"),
		SQLitePath:    getEnv("SQLITE_PATH", "data/relay.db"),
		RedisAddr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),
		RedisKey:      getEnv("REDIS_KEY", "relay:state"),

		// NATS
		NATSURL:       getEnv("NATS_URL", ""),
		NATSCAFile:    getEnv("NATS_CA_FILE", ""),
		NATSCertFile:  getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:   getEnv("NATS_KEY_FILE", ""),
		NATSToken:     getEnv("NATS_TOKEN", ""),
		NATSKVBucket:  getEnv("NATS_KV_BUCKET", "RELAY_STATE"),
		EventsEnabled: getBoolEnv("EVENTS_ENABLED", false),

		// Moderation
		ModerationProvider: getEnv("MODERATION_PROVIDER", "none"),
		OpenAIAPIKey:       getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey:    getEnv("ANTHROPIC_API_KEY", ""),
		ModerationModel:    getEnv("MODERATION_MODEL", ""),

		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 30*time.Second),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", "development-secret-change-in-production"),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

// Validate reports settings the process cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.BotToken == "" {
		errs = append(errs, errors.New("BOT_TOKEN is required"))
	}
	if c.OperatorID == 0 {
		errs = append(errs, errors.New("OPERATOR_ID is required"))
	}
	switch c.StoreDriver {
	case StoreFile, StoreSQLite, StoreRedis:
	case StoreNATS:
		if c.NATSURL == "" {
			errs = append(errs, errors.New("NATS_URL is required for the nats store driver"))
		}
	default:
		errs = append(errs, errors.New("STORE_DRIVER must be one of file, sqlite, redis, nats"))
	}
	if c.UpdateMode == UpdateModeWebhook {
		if c.WebhookURL == "" {
			errs = append(errs, errors.New("WEBHOOK_URL is required in webhook mode"))
		}
		if c.WebhookSecret == "" {
			errs = append(errs, errors.New("WEBHOOK_SECRET is required in webhook mode"))
		}
	}
	if c.EventsEnabled && c.NATSURL == "" {
		errs = append(errs, errors.New("NATS_URL is required when EVENTS_ENABLED is set"))
	}
	if c.DefaultMode != ModeAnonymous && c.DefaultMode != ModeNamed {
		errs = append(errs, errors.New("DEFAULT_MODE must be anonymous or named"))
	}
	if c.HistoryLimit <= 0 {
		errs = append(errs, errors.New("HISTORY_LIMIT must be positive"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getInt64Env(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
