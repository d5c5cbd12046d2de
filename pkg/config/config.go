package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the signal core.
type Config struct {
	Port string

	// Transport endpoints (websocket). An empty endpoint disables the
	// remote link; the loopback transport is used instead.
	MarketDataURL string
	SignalInURL   string
	FireOutURL    string
	ConfirmInURL  string
	HeartbeatURL  string

	NodeID      string
	UseMockFeed bool
	MockSymbols []string

	// Timeouts and windows. Load applies defaults so nothing ever waits
	// forever.
	DispatchTimeout   time.Duration
	VitalityCacheTTL  time.Duration
	HeartbeatWindow   time.Duration
	HeartbeatInterval time.Duration
	QuoteSilenceLimit time.Duration
	RetentionWindow   time.Duration

	// Fire channel pacing (dispatch attempts per second, burst).
	FireRateLimit float64
	FireRateBurst int

	// Policy file (tiers + symbol specs).
	PolicyPath string

	// Persistence
	DBPath     string
	LedgerPath string

	// Auth for the operator API.
	JWTSecret string
	AdminKey  string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the process still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:              getEnv("PORT", "8090"),
		MarketDataURL:     os.Getenv("MARKET_DATA_URL"),
		SignalInURL:       os.Getenv("SIGNAL_IN_URL"),
		FireOutURL:        os.Getenv("FIRE_OUT_URL"),
		ConfirmInURL:      os.Getenv("CONFIRM_IN_URL"),
		HeartbeatURL:      os.Getenv("HEARTBEAT_URL"),
		NodeID:            os.Getenv("NODE_ID"),
		UseMockFeed:       getEnv("USE_MOCK_FEED", "true") == "true",
		MockSymbols:       splitAndTrim(getEnv("MOCK_SYMBOLS", "EURUSD,GBPUSD")),
		DispatchTimeout:   getEnvDuration("DISPATCH_TIMEOUT", 15*time.Second),
		VitalityCacheTTL:  getEnvDuration("VITALITY_CACHE_TTL", 30*time.Second),
		HeartbeatWindow:   getEnvDuration("HEARTBEAT_WINDOW", 60*time.Second),
		HeartbeatInterval: getEnvDuration("HEARTBEAT_INTERVAL", 10*time.Second),
		QuoteSilenceLimit: getEnvDuration("QUOTE_SILENCE_LIMIT", 4*time.Hour),
		RetentionWindow:   getEnvDuration("RETENTION_WINDOW", 24*time.Hour),
		FireRateLimit:     getEnvFloat("FIRE_RATE_LIMIT", 10),
		FireRateBurst:     getEnvInt("FIRE_RATE_BURST", 20),
		PolicyPath:        getEnv("POLICY_PATH", "./config/policy.yaml"),
		DBPath:            getEnv("DB_PATH", "./data/signalcore.db"),
		LedgerPath:        getEnv("LEDGER_PATH", "./data/outcomes.jsonl"),
		JWTSecret:         getEnv("JWT_SECRET", "dev-secret"),
		AdminKey:          os.Getenv("ADMIN_KEY"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
