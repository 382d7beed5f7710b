package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"go-fulfillment/pkg/db"
)

// Store drivers
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Payment providers
const (
	ProviderNone    = "none"
	ProviderStripe  = "stripe"
	ProviderSandbox = "sandbox"
)

// Config holds all configuration for the application
type Config struct {
	ServiceName string

	// HTTP
	HTTPPort        string
	PublicBaseURL   string
	ShutdownTimeout time.Duration

	// gRPC
	GRPCPort    string
	GRPCTimeout time.Duration

	// Storage
	StoreDriver   string
	DBHost        string
	DBPort        string
	DBUser        string
	DBPassword    string
	DBName        string
	DBSSLMode     string
	DBAutoMigrate bool

	// RabbitMQ, empty URL disables events
	RabbitMQURL string

	// Redis, empty address keeps the session ledger in memory
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	SessionLedgerTTL time.Duration

	// Auth
	JWTSecret string

	// Payments
	PaymentProvider        string
	StripeSecretKey        string
	StripeAllowedCountries []string
	PaymentCurrency        string
	PaymentGatewayTimeout  time.Duration
	CashOnly               bool
	SandboxAutoComplete    bool

	// Admission wait
	AdmissionPollInterval time.Duration
	AdmissionWaitDeadline time.Duration

	// TLS
	GRPCMTLSEnabled bool
	TLSCertFile     string
	TLSKeyFile      string
	TLSCAFile       string

	// Logging
	LogLevel  string
	LogFormat string

	// Timeouts
	DBTimeout           time.Duration
	HTTPTimeout         time.Duration
	HealthCheckInterval time.Duration
}

// Load loads configuration from environment variables
func Load() *Config {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	return &Config{
		ServiceName: getEnv("SERVICE_NAME", "fulfillment"),

		// HTTP
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		PublicBaseURL:   strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),

		// gRPC
		GRPCPort:    getEnv("GRPC_PORT", "50052"),
		GRPCTimeout: getEnvDuration("GRPC_TIMEOUT", 10*time.Second),

		// Storage
		StoreDriver:   strings.ToLower(getEnv("STORE_DRIVER", StoreMemory)),
		DBHost:        getEnv("DB_HOST", "localhost"),
		DBPort:        getEnv("DB_PORT", "5432"),
		DBUser:        getEnv("DB_USER", "postgres"),
		DBPassword:    getEnv("DB_PASSWORD", "postgres"),
		DBName:        getEnv("DB_NAME", "fulfillment"),
		DBSSLMode:     getEnv("DB_SSLMODE", "disable"),
		DBAutoMigrate: getEnvBool("DB_AUTO_MIGRATE", true),

		// RabbitMQ
		RabbitMQURL: getEnv("RABBITMQ_URL", ""),

		// Redis
		RedisAddr:        getEnv("REDIS_ADDR", ""),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		RedisDB:          getEnvInt("REDIS_DB", 0),
		SessionLedgerTTL: getEnvDuration("SESSION_LEDGER_TTL", 48*time.Hour),

		// Auth
		JWTSecret: getEnv("JWT_SECRET", ""),

		// Payments
		PaymentProvider:        strings.ToLower(getEnv("PAYMENT_PROVIDER", ProviderSandbox)),
		StripeSecretKey:        getEnv("STRIPE_SECRET_KEY", ""),
		StripeAllowedCountries: getEnvList("STRIPE_ALLOWED_COUNTRIES", nil),
		PaymentCurrency:        strings.ToLower(getEnv("PAYMENT_CURRENCY", "usd")),
		PaymentGatewayTimeout:  getEnvDuration("PAYMENT_GATEWAY_TIMEOUT", 15*time.Second),
		CashOnly:               getEnvBool("CASH_ONLY", false),
		SandboxAutoComplete:    getEnvBool("SANDBOX_AUTO_COMPLETE", true),

		// Admission wait
		AdmissionPollInterval: getEnvDuration("ADMISSION_POLL_INTERVAL", 3*time.Second),
		AdmissionWaitDeadline: getEnvDuration("ADMISSION_WAIT_DEADLINE", 5*time.Minute),

		// TLS
		GRPCMTLSEnabled: getEnvBool("GRPC_MTLS_ENABLED", false),
		TLSCertFile:     getEnv("TLS_CERT_FILE", "certs/fulfillment.crt"),
		TLSKeyFile:      getEnv("TLS_KEY_FILE", "certs/fulfillment.key"),
		TLSCAFile:       getEnv("TLS_CA_FILE", "certs/ca.crt"),

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		// Timeouts
		DBTimeout:           getEnvDuration("DB_TIMEOUT", 30*time.Second),
		HTTPTimeout:         getEnvDuration("HTTP_TIMEOUT", 30*time.Second),
		HealthCheckInterval: getEnvDuration("HEALTH_CHECK_INTERVAL", 10*time.Second),
	}
}

// Validate reports settings that cannot work together
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreMemory, StorePostgres:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	switch c.PaymentProvider {
	case ProviderNone, ProviderStripe, ProviderSandbox:
	default:
		return fmt.Errorf("unknown PAYMENT_PROVIDER %q", c.PaymentProvider)
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.AdmissionPollInterval <= 0 || c.AdmissionWaitDeadline <= 0 {
		return fmt.Errorf("admission interval and deadline must be positive")
	}
	if c.AdmissionPollInterval > c.AdmissionWaitDeadline {
		return fmt.Errorf("ADMISSION_POLL_INTERVAL exceeds ADMISSION_WAIT_DEADLINE")
	}
	return nil
}

// Database returns the connection settings for pkg/db
func (c *Config) Database() db.Config {
	return db.Config{
		Host:     c.DBHost,
		Port:     c.DBPort,
		User:     c.DBUser,
		Password: c.DBPassword,
		DBName:   c.DBName,
		SSLMode:  c.DBSSLMode,
		Timeout:  c.DBTimeout,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("3s", "5m") or bare seconds ("300")
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
