package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	Env         string
	DatabaseURL string

	JWTSecret     string
	WebhookSecret string

	Redis RedisConfig

	Payment PaymentConfig

	Projects ProjectsConfig

	SweepInterval     time.Duration
	SweepGrace        time.Duration
	PaymentTimeout    time.Duration
	MaxPaymentRetries int

	IdempotencyTTL time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type PaymentConfig struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
}

type ProjectsConfig struct {
	BidCardURL     string
	RecommenderURL string
	ServiceAPIKey  string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	return &Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("ENV", "development"),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		JWTSecret:     getEnvOrPanic("JWT_SECRET"),
		WebhookSecret: getEnvOrPanic("PAYMENT_WEBHOOK_SECRET"),

		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       0,
		},

		Payment: PaymentConfig{
			BaseURL:      getEnv("PAYMENT_BASE_URL", ""),
			TokenURL:     getEnv("PAYMENT_TOKEN_URL", ""),
			ClientID:     getEnv("PAYMENT_CLIENT_ID", ""),
			ClientSecret: getEnv("PAYMENT_CLIENT_SECRET", ""),
		},

		Projects: ProjectsConfig{
			BidCardURL:     getEnv("BIDCARD_SERVICE_URL", ""),
			RecommenderURL: getEnv("RECOMMENDER_SERVICE_URL", ""),
			ServiceAPIKey:  getEnv("PLATFORM_SERVICE_API_KEY", ""),
		},

		SweepInterval:     getDuration("SWEEP_INTERVAL", time.Minute),
		SweepGrace:        getDuration("SWEEP_GRACE", 30*time.Second),
		PaymentTimeout:    getDuration("PAYMENT_TIMEOUT", 30*time.Minute),
		MaxPaymentRetries: 3,

		IdempotencyTTL: getDuration("IDEMPOTENCY_TTL", 24*time.Hour),
	}, nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvOrPanic(key string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		panic("required environment variable not set: " + key)
	}
	return value
}

func getDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
