package main

import (
	"os"
	"strconv"
	"time"
)

// Config is the process configuration, read from the environment after an
// optional .env load.
type Config struct {
	Port string

	RetellAPIKey string
	RetellAgent  string

	OpenAIAPIKey string
	OpenAIModel  string

	SearchURL    string
	SearchAPIKey string

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string

	CacheTTL        time.Duration
	CacheMaxEntries int
	CacheSweep      time.Duration
	ContextTTL      time.Duration

	GatewayAttempts int
	GatewayDelay    time.Duration
	GatewayRate     float64

	EnableFirestore bool
}

// LoadConfig reads the environment into a Config with defaults.
func LoadConfig() Config {
	return Config{
		Port:             envOr("PORT", "8081"),
		RetellAPIKey:     os.Getenv("RETELL_API_KEY"),
		RetellAgent:      os.Getenv("RETELL_AGENT_ID"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:      os.Getenv("OPENAI_MODEL"),
		SearchURL:        envOr("SEARCH_API_URL", "http://localhost:8090"),
		SearchAPIKey:     os.Getenv("SEARCH_API_KEY"),
		TwilioAccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFromNumber: os.Getenv("TWILIO_FROM_NUMBER"),
		CacheTTL:         envDuration("CACHE_TTL", 10*time.Minute),
		CacheMaxEntries:  envInt("CACHE_MAX_ENTRIES", 500),
		CacheSweep:       envDuration("CACHE_SWEEP_INTERVAL", time.Minute),
		ContextTTL:       envDuration("CONTEXT_TTL", 15*time.Minute),
		GatewayAttempts:  envInt("GATEWAY_MAX_ATTEMPTS", 3),
		GatewayDelay:     envDuration("GATEWAY_RETRY_DELAY", 500*time.Millisecond),
		GatewayRate:      envFloat("GATEWAY_RATE_LIMIT", 20),
		EnableFirestore:  envBool("ENABLE_FIRESTORE", false),
	}
}

func envOr(key, fallback string) string {
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

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
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

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
