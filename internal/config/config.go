package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// Redis configuration (provider auth-token cache)
	Redis RedisConfig

	// Kafka configuration (domain events)
	Kafka KafkaConfig

	// JWT configuration (identity-service tokens)
	JWT JWTConfig

	// CORS configuration
	CORS CORSConfig

	// Payment provider configuration
	Stripe StripeConfig
	PayPal PayPalConfig

	// Background sweep configuration
	Sweep SweepConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port        string
	Environment string // development, staging, production
	LogLevel    string // debug, info, warn, error
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	URL                string
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
}

// RedisConfig holds the provider token-cache connection
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// KafkaConfig holds the domain-event publisher configuration.
// When Brokers is empty the publisher is disabled and events are log-only.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// JWTConfig holds verification settings for tokens issued by the external
// identity service. This core never issues tokens.
type JWTConfig struct {
	Secret string
	Issuer string
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// StripeConfig holds the Stripe checkout integration
type StripeConfig struct {
	APIKey        string
	SigningSecret string // webhook signature verification
	BaseURL       string
	SuccessURL    string
	CancelURL     string
}

// PayPalConfig holds the PayPal orders integration
type PayPalConfig struct {
	ClientID  string
	Secret    string
	BaseURL   string
	WebhookID string
	ReturnURL string
}

// SweepConfig controls the background reconciliation jobs
type SweepConfig struct {
	Enabled        bool          // run cron jobs inside the server process
	PendingTimeout time.Duration // pending older than this gets re-queried at the provider
	AbandonAfter   time.Duration // pending older than this with no outcome fails as abandoned
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8080"),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
		},
		Database: DatabaseConfig{
			URL:                getEnv("DATABASE_URL", ""),
			MaxConnections:     getEnvAsInt("DATABASE_MAX_CONNECTIONS", 10),
			MaxIdleConnections: getEnvAsInt("DATABASE_MAX_IDLE_CONNECTIONS", 5),
			ConnMaxLifetime:    time.Duration(getEnvAsInt("DATABASE_CONN_MAX_LIFETIME", 300)) * time.Second,
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvAsSlice("KAFKA_BROKERS", nil),
			Topic:   getEnv("KAFKA_TOPIC_BOOKING_EVENTS", "booking.events"),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", ""),
			Issuer: getEnv("JWT_ISSUER", "driveshare-identity"),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvAsSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"}),
			AllowedHeaders: getEnvAsSlice("CORS_ALLOWED_HEADERS", []string{"Content-Type", "Authorization"}),
		},
		Stripe: StripeConfig{
			APIKey:        getEnv("STRIPE_API_KEY", ""),
			SigningSecret: getEnv("STRIPE_SIGNING_SECRET", ""),
			BaseURL:       getEnv("STRIPE_BASE_URL", "https://api.stripe.com"),
			SuccessURL:    getEnv("STRIPE_SUCCESS_URL", ""),
			CancelURL:     getEnv("STRIPE_CANCEL_URL", ""),
		},
		PayPal: PayPalConfig{
			ClientID:  getEnv("PAYPAL_CLIENT_ID", ""),
			Secret:    getEnv("PAYPAL_SECRET", ""),
			BaseURL:   getEnv("PAYPAL_BASE_URL", "https://api-m.sandbox.paypal.com"),
			WebhookID: getEnv("PAYPAL_WEBHOOK_ID", ""),
			ReturnURL: getEnv("PAYPAL_RETURN_URL", ""),
		},
		Sweep: SweepConfig{
			Enabled:        getEnvAsBool("SWEEP_ENABLED", true),
			PendingTimeout: time.Duration(getEnvAsInt("PAYMENT_PENDING_TIMEOUT_MINUTES", 30)) * time.Minute,
			AbandonAfter:   time.Duration(getEnvAsInt("PAYMENT_ABANDON_AFTER_MINUTES", 1440)) * time.Minute,
		},
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.Sweep.PendingTimeout <= 0 {
		return fmt.Errorf("PAYMENT_PENDING_TIMEOUT_MINUTES must be positive")
	}

	if c.Sweep.AbandonAfter <= c.Sweep.PendingTimeout {
		return fmt.Errorf("PAYMENT_ABANDON_AFTER_MINUTES must exceed PAYMENT_PENDING_TIMEOUT_MINUTES")
	}

	if c.Server.Environment == "production" {
		if c.Stripe.APIKey != "" && c.Stripe.SigningSecret == "" {
			return fmt.Errorf("STRIPE_SIGNING_SECRET is required when Stripe is configured in production")
		}
		if c.PayPal.ClientID != "" && c.PayPal.WebhookID == "" {
			return fmt.Errorf("PAYPAL_WEBHOOK_ID is required when PayPal is configured in production")
		}
	}

	return nil
}

// Helper functions to get environment variables

func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Invalid integer value for %s, using default: %d", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		log.Printf("Invalid boolean value for %s, using default: %v", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
