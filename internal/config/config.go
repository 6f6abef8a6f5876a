package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	NodeID      int64

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Redis       RedisConfig
	RateLimit   RateLimitConfig
	Idempotency IdempotencyConfig

	AdminAPIKeyHash    string
	OperatorAPIKeyHash string
	WebhookKey         string
	PolicyPath         string
	SeedDemoData       bool
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type RateLimitConfig struct {
	Enabled       bool
	CheckoutRate  float64
	CheckoutBurst int
}

type IdempotencyConfig struct {
	TTL             time.Duration
	CleanupInterval time.Duration
	CleanupBatch    int
}

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewPolicyHolder),
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "orderflow"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		NodeID:            getenvInt64("SNOWFLAKE_NODE", 1),
		OTLPEndpoint:      getenv("OTLP_ENDPOINT", "localhost:4317"),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "orderflow"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		Redis: RedisConfig{
			Enabled:  getenvBool("REDIS_ENABLED", false),
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "localhost:6379")),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       getenvInt("REDIS_DB", 0),
		},
		RateLimit: RateLimitConfig{
			Enabled:       getenvBool("CHECKOUT_RATE_LIMIT_ENABLED", false),
			CheckoutRate:  getenvFloat("CHECKOUT_RATE_PER_SECOND", 2),
			CheckoutBurst: getenvInt("CHECKOUT_RATE_BURST", 10),
		},
		Idempotency: IdempotencyConfig{
			TTL:             getenvDuration("IDEMPOTENCY_TTL", 24*time.Hour),
			CleanupInterval: getenvDuration("IDEMPOTENCY_CLEANUP_INTERVAL", 10*time.Minute),
			CleanupBatch:    getenvInt("IDEMPOTENCY_CLEANUP_BATCH", 500),
		},
		AdminAPIKeyHash:    strings.TrimSpace(getenv("ADMIN_API_KEY_HASH", "")),
		OperatorAPIKeyHash: strings.TrimSpace(getenv("OPERATOR_API_KEY_HASH", "")),
		WebhookKey:         strings.TrimSpace(getenv("PAYMENT_WEBHOOK_KEY", "")),
		PolicyPath:         strings.TrimSpace(getenv("CHECKOUT_POLICY_PATH", "")),
		SeedDemoData:       getenvBool("SEED_DEMO_DATA", false),
	}

	if cfg.RateLimit.Enabled && !cfg.Redis.Enabled {
		log.Printf("[config] CHECKOUT_RATE_LIMIT_ENABLED ignored: redis is disabled")
		cfg.RateLimit.Enabled = false
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
