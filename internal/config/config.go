package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the server settings read from the environment
type Config struct {
	HTTPAddr          string
	DatabaseURL       string
	JWTSecret         string
	JWTTTL            time.Duration
	KafkaBrokers      []string
	KafkaTopic        string
	LogLevel          string
	EventBuffer       int
	BroadcastInterval time.Duration
	AllowedOrigins    []string
	Resolvers         []string
}

// Load reads the configuration, falling back to development defaults
func Load() (Config, error) {
	var (
		cfg Config
		err error
	)
	if cfg.HTTPAddr, err = GetEnv("HTTP_ADDR", ":8080"); err != nil {
		return cfg, err
	}
	if cfg.DatabaseURL, err = GetEnv("DATABASE_URL", ""); err != nil {
		return cfg, err
	}
	if cfg.JWTSecret, err = GetEnv("JWT_SECRET", "my-secret-key"); err != nil {
		return cfg, err
	}
	if cfg.JWTTTL, err = GetEnv("JWT_TTL", 24*time.Hour); err != nil {
		return cfg, err
	}
	if cfg.KafkaBrokers, err = GetEnv("KAFKA_BROKERS", []string{}); err != nil {
		return cfg, err
	}
	if cfg.KafkaTopic, err = GetEnv("KAFKA_TOPIC", "market-events"); err != nil {
		return cfg, err
	}
	if cfg.LogLevel, err = GetEnv("LOG_LEVEL", "info"); err != nil {
		return cfg, err
	}
	if cfg.EventBuffer, err = GetEnv("EVENT_BUFFER", 1024); err != nil {
		return cfg, err
	}
	if cfg.BroadcastInterval, err = GetEnv("BROADCAST_INTERVAL", 5*time.Second); err != nil {
		return cfg, err
	}
	if cfg.AllowedOrigins, err = GetEnv("ALLOWED_ORIGINS", []string{"*"}); err != nil {
		return cfg, err
	}
	if cfg.Resolvers, err = GetEnv("RESOLVERS", []string{}); err != nil {
		return cfg, err
	}

	if cfg.EventBuffer <= 0 {
		return cfg, fmt.Errorf("EVENT_BUFFER must be positive, got %d", cfg.EventBuffer)
	}
	return cfg, nil
}

// GetEnv returns the environment variable key parsed as T, or defaultValue
// when it is unset
func GetEnv[T any](key string, defaultValue T) (T, error) {
	v, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue, nil
	}

	var err error
	var parsed any

	switch any(defaultValue).(type) {
	case string:
		return any(v).(T), nil
	case int:
		parsed, err = strconv.Atoi(v)
	case bool:
		parsed, err = strconv.ParseBool(v)
	case time.Duration:
		parsed, err = time.ParseDuration(v)
	case []string:
		parsed = splitList(v)
	default:
		return defaultValue, fmt.Errorf("unsupported type for env var %s: %T", key, defaultValue)
	}

	if err != nil {
		return defaultValue, fmt.Errorf("failed to parse env %s as %T: %w", key, defaultValue, err)
	}
	return parsed.(T), nil
}

func splitList(v string) []string {
	out := []string{}
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
