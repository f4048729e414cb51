package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	CartStoreMemory = "memory"
	CartStoreRedis  = "redis"
	CartStoreMongo  = "mongo"

	PaymentModeDirect = "direct"
	PaymentModeRemote = "remote"
)

type Config struct {
	HTTPPort           string
	PaymentsPort       string
	GRPCPort           string
	LogLevel           string
	RequestTimeout     time.Duration
	ShutdownTimeout    time.Duration
	MaxRequestBodySize int64

	CartStore     string
	RedisAddr     string
	RedisPassword string
	MongoURI      string
	MongoDatabase string
	// SessionIdleTimeout drops in-memory cart controllers unused for this long; zero keeps them.
	SessionIdleTimeout time.Duration
	// MemoryCartTTL expires carts in the memory store like the Redis TTL does.
	MemoryCartTTL time.Duration

	CatalogPath string

	Postgres     PostgresConfig
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string

	PaymentMode    string
	PaymentsURL    string
	PaymentTimeout time.Duration
	Stripe         StripeConfig
	PayPal         PayPalConfig
	Breaker        BreakerConfig
}

type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
}

// Enabled reports whether a PostgreSQL ledger is configured.
func (p PostgresConfig) Enabled() bool {
	return p.Host != ""
}

type StripeConfig struct {
	SecretKey     string
	APIURL        string
	PaymentMethod string
}

func (s StripeConfig) Enabled() bool {
	return s.SecretKey != ""
}

type PayPalConfig struct {
	ClientID     string
	ClientSecret string
	APIURL       string
}

func (p PayPalConfig) Enabled() bool {
	return p.ClientID != "" && p.ClientSecret != ""
}

type BreakerConfig struct {
	ConsecutiveFailures uint32
	Timeout             time.Duration
}

// Load reads the environment, after applying a .env file from the working directory if present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var errs []error
	cfg := &Config{
		HTTPPort:           getEnv("HTTP_PORT", "8080"),
		PaymentsPort:       getEnv("PAYMENTS_HTTP_PORT", "8081"),
		GRPCPort:           getEnv("GRPC_PORT", "50051"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		RequestTimeout:     getEnvDuration("REQUEST_TIMEOUT", 30*time.Second, &errs),
		ShutdownTimeout:    getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second, &errs),
		MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY_SIZE", 1<<20, &errs)), // 1MB

		CartStore:     strings.ToLower(getEnv("CART_STORE", CartStoreMemory)),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		MongoURI:      getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase: getEnv("MONGO_DATABASE", "furnistore"),

		SessionIdleTimeout: getEnvDuration("SESSION_IDLE_TIMEOUT", 30*time.Minute, &errs),
		MemoryCartTTL:      getEnvDuration("MEMORY_CART_TTL", 24*time.Hour, &errs),

		CatalogPath: getEnv("CATALOG_DB", "catalog.db"),

		Postgres: PostgresConfig{
			Host:     getEnv("POSTGRES_HOST", ""),
			Port:     getEnvInt("POSTGRES_PORT", 5432, &errs),
			User:     getEnv("POSTGRES_USER", "postgres"),
			Password: getEnv("POSTGRES_PASSWORD", ""),
			DBName:   getEnv("POSTGRES_DB", "furnistore"),
		},
		KafkaBrokers: getEnvList("KAFKA_BROKERS"),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "checkout-completed"),
		KafkaGroupID: getEnv("KAFKA_GROUP_ID", defaultGroupID()),

		PaymentMode:    strings.ToLower(getEnv("PAYMENT_MODE", PaymentModeDirect)),
		PaymentsURL:    getEnv("PAYMENTS_URL", "http://localhost:8081"),
		PaymentTimeout: getEnvDuration("PAYMENT_TIMEOUT", 10*time.Second, &errs),
		Stripe: StripeConfig{
			SecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
			APIURL:        getEnv("STRIPE_API_URL", ""),
			PaymentMethod: getEnv("STRIPE_PAYMENT_METHOD", ""),
		},
		PayPal: PayPalConfig{
			ClientID:     getEnv("PAYPAL_CLIENT_ID", ""),
			ClientSecret: getEnv("PAYPAL_CLIENT_SECRET", ""),
			APIURL:       getEnv("PAYPAL_API_URL", "https://api-m.sandbox.paypal.com"),
		},
		Breaker: BreakerConfig{
			ConsecutiveFailures: uint32(getEnvInt("BREAKER_FAILURES", 5, &errs)),
			Timeout:             getEnvDuration("BREAKER_TIMEOUT", 30*time.Second, &errs),
		},
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.CartStore {
	case CartStoreMemory, CartStoreRedis, CartStoreMongo:
	default:
		return fmt.Errorf("CART_STORE must be one of memory, redis, mongo; got %q", c.CartStore)
	}
	switch c.PaymentMode {
	case PaymentModeDirect, PaymentModeRemote:
	default:
		return fmt.Errorf("PAYMENT_MODE must be direct or remote; got %q", c.PaymentMode)
	}
	if c.PaymentTimeout <= 0 {
		return errors.New("PAYMENT_TIMEOUT must be positive")
	}
	return nil
}

// defaultGroupID is unique per host so every instance receives every checkout event.
func defaultGroupID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "storefront"
	}
	return "storefront-" + host
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int, errs *[]error) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		*errs = append(*errs, fmt.Errorf("%s: invalid non-negative integer %q", key, value))
		return defaultValue
	}
	return n
}

func getEnvDuration(key string, defaultValue time.Duration, errs *[]error) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return d
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
