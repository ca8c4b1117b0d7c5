package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port              int
	StoreBackend      string
	DatabaseURL       string
	MongoURI          string
	MongoDB           string
	NatsURL           string
	NatsToken         string
	LogLevel          string
	SessionSecret     string
	LoginAPIToken     string
	SecureCookies     bool
	OpenAIAPIKey      string
	OpenAIBaseURL     string
	OpenAIModel       string
	AnthropicAPIKey   string
	AnthropicModel    string
	SendRatePerMinute int
	SessionIdleTTL    time.Duration
	GatewayTimeout    time.Duration
}

func Load() Config {
	return Config{
		Port:              envInt("DEBCHAT_PORT", 8080),
		StoreBackend:      envStr("STORE_BACKEND", "memory"),
		DatabaseURL:       envStr("DATABASE_URL", ""),
		MongoURI:          envStr("MONGO_URI", ""),
		MongoDB:           envStr("MONGO_DB", "dbai"),
		NatsURL:           envStr("NATS_URL", ""),
		NatsToken:         envStr("NATS_TOKEN", ""),
		LogLevel:          envStr("LOG_LEVEL", "info"),
		SessionSecret:     envStr("SESSION_SECRET", ""),
		LoginAPIToken:     envStr("LOGIN_API_TOKEN", ""),
		SecureCookies:     envBool("SECURE_COOKIES", false),
		OpenAIAPIKey:      envStr("OPENAI_API_KEY", ""),
		OpenAIBaseURL:     envStr("OPENAI_BASE_URL", ""),
		OpenAIModel:       envStr("OPENAI_MODEL", "gpt-5"),
		AnthropicAPIKey:   envStr("ANTHROPIC_API_KEY", ""),
		AnthropicModel:    envStr("ANTHROPIC_MODEL", "claude-sonnet-4-20250514"),
		SendRatePerMinute: envInt("SEND_RATE_PER_MINUTE", 20),
		SessionIdleTTL:    envDuration("SESSION_IDLE_TTL", 2*time.Hour),
		GatewayTimeout:    envDuration("GATEWAY_TIMEOUT", 120*time.Second),
	}
}

// LoadEnvFile copies values from a dotenv file into the environment. Variables
// that are already set win. A missing file is not an error.
func LoadEnvFile(path string) error {
	vals, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	for k, v := range vals {
		if os.Getenv(k) != "" {
			continue
		}
		if err := os.Setenv(k, v); err != nil {
			return fmt.Errorf("set %s: %w", k, err)
		}
	}
	return nil
}

// Validate checks the settings the selected store backend depends on.
func (c Config) Validate() error {
	switch c.StoreBackend {
	case "memory":
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres store")
		}
	case "mongo":
		if c.MongoURI == "" {
			return errors.New("MONGO_URI is required for the mongo store")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.SendRatePerMinute < 1 {
		return fmt.Errorf("SEND_RATE_PER_MINUTE must be positive, got %d", c.SendRatePerMinute)
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
