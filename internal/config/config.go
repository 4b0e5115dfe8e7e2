package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv        string
	Port          string
	DatabaseURL   string
	RedisURL      string
	JWTSecret     string
	TokenTTL      time.Duration
	SessionSecret string
	LogLevel      string
	LogFormat     string

	// Interval between orphaned-room sweeps. Zero disables the sweeper.
	SweepInterval time.Duration

	MaxConns       int64
	MaxConnsPerIP  int
	ConnRatePerIP  float64
	ConnBurstPerIP int

	// Per-connection event throttle.
	EventsPerSecond float64
	EventBurst      int
}

func Load() (*Config, error) {
	// Missing .env is fine; deployments set process env directly.
	_ = godotenv.Load()

	cfg := &Config{
		AppEnv:        getEnv("APP_ENV", "development"),
		Port:          getEnv("PORT", "8080"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisURL:      getEnv("REDIS_URL", ""),
		JWTSecret:     getEnv("JWT_SECRET", ""),
		SessionSecret: getEnv("SESSION_SECRET", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "json"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if len(cfg.JWTSecret) < 16 {
		return nil, fmt.Errorf("JWT_SECRET must be at least 16 characters")
	}
	if cfg.SessionSecret == "" {
		return nil, fmt.Errorf("SESSION_SECRET is required")
	}

	var err error
	if cfg.TokenTTL, err = getEnvDuration("TOKEN_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.TokenTTL <= 0 {
		return nil, fmt.Errorf("TOKEN_TTL must be positive")
	}
	if cfg.SweepInterval, err = getEnvDuration("SWEEP_INTERVAL", 10*time.Minute); err != nil {
		return nil, err
	}

	maxConns, err := getEnvInt("MAX_CONNECTIONS", 10000)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = int64(maxConns)
	if cfg.MaxConnsPerIP, err = getEnvInt("MAX_CONNECTIONS_PER_IP", 32); err != nil {
		return nil, err
	}
	if cfg.ConnRatePerIP, err = getEnvFloat("CONNECTION_RATE_PER_IP", 5); err != nil {
		return nil, err
	}
	if cfg.ConnBurstPerIP, err = getEnvInt("CONNECTION_BURST_PER_IP", 10); err != nil {
		return nil, err
	}
	if cfg.EventsPerSecond, err = getEnvFloat("EVENTS_PER_SECOND", 25); err != nil {
		return nil, err
	}
	if cfg.EventBurst, err = getEnvInt("EVENT_BURST", 50); err != nil {
		return nil, err
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number: %w", key, err)
	}
	return f, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration like 30s or 10m: %w", key, err)
	}
	return d, nil
}
