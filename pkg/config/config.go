package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the decision engine.
type Config struct {
	Port string

	// Database
	DBPath string

	// Logging
	LogLevel       string
	LogDevelopment bool

	// Scheduling
	SupervisorInterval time.Duration // how often active tenants are reconciled
	CycleInterval      time.Duration // per-tenant decision tick
	OrderCheckInterval time.Duration // conditional order price checks
	StopTimeout        time.Duration // wait for a tenant loop to exit

	// Decision cycle
	HistoryPeriods  int
	InitialCapital  float64
	MaxHoldDuration time.Duration

	// Tenant seed file (YAML); missing file is not an error
	TenantsFile string

	// AI analyst; empty endpoint selects the local heuristic
	AIEndpoint string
	AIAPIKey   string
	AITimeout  time.Duration

	// Simulated venue and market
	SimSlippageBps    float64 // slippage applied on fills (bps)
	SimGwLatencyMinMs int     // simulated gateway latency lower bound
	SimGwLatencyMaxMs int     // simulated gateway latency upper bound
	SimVolatility     float64 // per-step random-walk volatility
	SimSeed           int64   // 0 seeds from the clock
	MarketRateLimit   float64 // market-data requests per second
	MarketRateBurst   int

	// HTTP
	APIRateLimit        float64 // requests per second per client IP
	APIRateBurst        int
	APIRequestTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	// Database path: prefer DB_PATH, then DATABASE_PATH for backward compatibility.
	dbPath := getEnv("DB_PATH", "")
	if dbPath == "" {
		dbPath = getEnv("DATABASE_PATH", "./data/tradebot.db")
	}

	return &Config{
		Port:                getEnv("PORT", "8080"),
		DBPath:              dbPath,
		LogLevel:            strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogDevelopment:      getEnvBool("LOG_DEVELOPMENT", false),
		SupervisorInterval:  getEnvDuration("SUPERVISOR_INTERVAL", 5*time.Second),
		CycleInterval:       getEnvDuration("CYCLE_INTERVAL", 60*time.Second),
		OrderCheckInterval:  getEnvDuration("ORDER_CHECK_INTERVAL", 60*time.Second),
		StopTimeout:         getEnvDuration("STOP_TIMEOUT", 15*time.Second),
		HistoryPeriods:      getEnvInt("HISTORY_PERIODS", 500),
		InitialCapital:      getEnvFloat("INITIAL_CAPITAL", 10000),
		MaxHoldDuration:     getEnvDuration("MAX_HOLD_DURATION", 24*time.Hour),
		TenantsFile:         getEnv("TENANTS_FILE", "tenants.yaml"),
		AIEndpoint:          os.Getenv("AI_ENDPOINT"),
		AIAPIKey:            os.Getenv("AI_API_KEY"),
		AITimeout:           getEnvDuration("AI_TIMEOUT", 20*time.Second),
		SimSlippageBps:      getEnvFloat("SIM_SLIPPAGE_BPS", 20),
		SimGwLatencyMinMs:   getEnvInt("SIM_GATEWAY_LATENCY_MIN_MS", 0),
		SimGwLatencyMaxMs:   getEnvInt("SIM_GATEWAY_LATENCY_MAX_MS", 0),
		SimVolatility:       getEnvFloat("SIM_VOLATILITY", 0.005),
		SimSeed:             int64(getEnvInt("SIM_SEED", 0)),
		MarketRateLimit:     getEnvFloat("MARKET_RATE_LIMIT", 20),
		MarketRateBurst:     getEnvInt("MARKET_RATE_BURST", 40),
		APIRateLimit:        getEnvFloat("API_RATE_LIMIT", 20),
		APIRateBurst:        getEnvInt("API_RATE_BURST", 50),
		APIRequestTimeout:   getEnvDuration("API_REQUEST_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod: getEnvDuration("SHUTDOWN_GRACE_PERIOD", 20*time.Second),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}
