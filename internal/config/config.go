// Package config loads the engine's environment-driven settings.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the hedging engine.
type Config struct {
	// Loop / decision parameters
	LoopInterval              time.Duration
	OrderbookDepth            int
	SingleOrderDiffThreshold  float64 // USDT
	MaxRuntime                time.Duration // 0 = run forever
	CancelOnStop              bool
	StopKeepStrategyOrders    int
	PostOnlyMaxRetry          int
	PostOnlyCooldown          time.Duration
	PartialFillTimeout        time.Duration
	StuckHours                time.Duration
	MMRAlertThreshold         float64

	SymbolsFilePath string

	// Account A credentials
	AccountAAPIKey    string
	AccountAAPISecret string
	// Account B credentials
	AccountBAPIKey    string
	AccountBAPISecret string
	MainAccountID     string
	UseTestnet        bool

	// Admin HTTP surface
	AdminPort      int
	AdminJWTSecret string

	// Alert transport
	AlertWebhookURL string
	AlertChatID     string
	AlertAPIKey     string

	// Audit log
	AuditDBPath string

	// Balance rebalancer (cmd/rebalancer)
	RebalancePollInterval time.Duration
	RebalanceThresholdUSD float64
	RebalanceAsset        string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		LoopInterval:             getEnvDuration("LOOP_INTERVAL_SEC", 2*time.Second),
		OrderbookDepth:           getEnvInt("ORDERBOOK_DEPTH", 10),
		SingleOrderDiffThreshold: getEnvFloat("SINGLE_ORDER_DIFF_THRESHOLD_USDT", 20),
		MaxRuntime:               getEnvDuration("MAX_RUNTIME_SEC", 0),
		CancelOnStop:             getEnvBool("CANCEL_ON_STOP", true),
		StopKeepStrategyOrders:   getEnvInt("STOP_KEEP_STRATEGY_ORDERS", 0),
		PostOnlyMaxRetry:         getEnvInt("POST_ONLY_MAX_RETRY", 5),
		PostOnlyCooldown:         getEnvDuration("POST_ONLY_COOLDOWN_SEC", 300*time.Second),
		PartialFillTimeout:       getEnvDuration("PARTIAL_FILL_TIMEOUT_SEC", 1800*time.Second),
		StuckHours:               getEnvHours("STUCK_HOURS", 6*time.Hour),
		MMRAlertThreshold:        getEnvFloat("MMR_ALERT_THRESHOLD", 0.70),

		SymbolsFilePath: getEnv("SYMBOLS_FILE_PATH", "./symbols.json"),

		AccountAAPIKey:    os.Getenv("ACCOUNT_A_API_KEY"),
		AccountAAPISecret: os.Getenv("ACCOUNT_A_API_SECRET"),
		AccountBAPIKey:    os.Getenv("ACCOUNT_B_API_KEY"),
		AccountBAPISecret: os.Getenv("ACCOUNT_B_API_SECRET"),
		MainAccountID:     os.Getenv("MAIN_ACCOUNT_ID"),
		UseTestnet:        getEnvBool("USE_TESTNET", false),

		AdminPort:      getEnvInt("ADMIN_PORT", 8090),
		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", "dev-secret"),

		AlertWebhookURL: getEnv("ALERT_WEBHOOK_URL", ""),
		AlertChatID:     getEnv("ALERT_CHAT_ID", ""),
		AlertAPIKey:     getEnv("ALERT_API_KEY", ""),

		AuditDBPath: getEnvAllowEmpty("AUDIT_DB_PATH", "./data/hedge_audit.db"),

		RebalancePollInterval: getEnvDuration("REBALANCE_POLL_INTERVAL_SEC", 300*time.Second),
		RebalanceThresholdUSD: getEnvFloat("REBALANCE_THRESHOLD_USDT", 500),
		RebalanceAsset:        getEnv("REBALANCE_ASSET", "USDT"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAllowEmpty is getEnv for keys where an explicitly empty value is meaningful
// (AUDIT_DB_PATH="" disables the audit log); only an unset key takes the default.
func getEnvAllowEmpty(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
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
		return strings.ToLower(v) == "true"
	}
	return def
}

// getEnvDuration reads an integer count of seconds from the environment.
// A value of 0 is a meaningful "disabled" sentinel for some keys (MaxRuntime).
func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return time.Duration(i) * time.Second
		}
	}
	return def
}

// getEnvHours reads an integer count of hours from the environment; STUCK_HOURS is the
// one duration key not denominated in seconds.
func getEnvHours(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return time.Duration(i) * time.Hour
		}
	}
	return def
}
