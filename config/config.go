package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"cryptoLedger/internal/adapters/logger" // Import the logger package for LogLevel
	"cryptoLedger/internal/app"
)

// AccountCredentials holds one owner's API keys for one exchange.
type AccountCredentials struct {
	Owner     string
	APIKey    string
	SecretKey string
}

// Config holds all application configuration.
type Config struct {
	// Database
	DBPath string

	// Logging
	LogLevel logger.LogLevel

	// HTTP API
	HTTPAddr         string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration

	// Binance accounts, one per owner listed in OWNERS
	Accounts        []AccountCredentials
	IsTestnet       bool
	BinanceBaseURL  string   // Overrides the production/testnet endpoint
	QuoteAssets     []string // Quote assets scanned for trades
	Symbols         []string // Explicit trading pairs, empty for discovery
	WeightPerMinute int
	MaxRetries      int
	RetryDelay      time.Duration

	// Bybit accounts for the owners in OWNERS that have Bybit keys
	BybitAccounts          []AccountCredentials
	BybitBaseURL           string
	BybitRequestsPerSecond int

	// Ingestion
	IngestMode     app.WindowMode
	ForceUniqueIDs bool
	// StatementOwners maps statement User_ID values to owner codes.
	StatementOwners map[string]string

	// Pricing
	PriceCacheTTL    time.Duration
	PriceConcurrency int
	PriceTimeout     time.Duration // Per-lookup deadline for live prices
	PriceRetries     int           // Retries of a throttled or dropped live price lookup
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/ledger.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Logging
	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))

	// HTTP API
	cfg.HTTPAddr = getEnv("HTTP_ADDR", ":8080")
	readSeconds, err := getEnvAsIntRequired("HTTP_READ_TIMEOUT_SECONDS", 15)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid HTTP_READ_TIMEOUT_SECONDS: %v", err))
	} else if readSeconds <= 0 {
		errs = append(errs, "HTTP_READ_TIMEOUT_SECONDS must be positive")
	}
	cfg.HTTPReadTimeout = time.Duration(readSeconds) * time.Second

	// A Full refresh runs synchronously inside POST /api/ingest.
	writeSeconds, err := getEnvAsIntRequired("HTTP_WRITE_TIMEOUT_SECONDS", 60)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid HTTP_WRITE_TIMEOUT_SECONDS: %v", err))
	} else if writeSeconds <= 0 {
		errs = append(errs, "HTTP_WRITE_TIMEOUT_SECONDS must be positive")
	}
	cfg.HTTPWriteTimeout = time.Duration(writeSeconds) * time.Second

	// Binance accounts
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", false)
	for _, owner := range getEnvAsList("OWNERS") {
		prefix := strings.ToUpper(owner)
		creds := AccountCredentials{
			Owner:     owner,
			APIKey:    getEnv(prefix+"_BIN_API_KEY", ""),
			SecretKey: getEnv(prefix+"_BIN_SECRET_KEY", ""),
		}
		if creds.APIKey == "" || creds.SecretKey == "" {
			errs = append(errs, fmt.Sprintf("%s_BIN_API_KEY and %s_BIN_SECRET_KEY must be set for owner %s", prefix, prefix, owner))
			continue
		}
		cfg.Accounts = append(cfg.Accounts, creds)
	}

	cfg.BinanceBaseURL = getEnv("BINANCE_BASE_URL", "")

	cfg.QuoteAssets = getEnvAsList("BINANCE_QUOTE_ASSETS")
	if len(cfg.QuoteAssets) == 0 {
		cfg.QuoteAssets = []string{"USDT", "USDC", "ETH", "BTC", "BNB"}
	}
	cfg.Symbols = getEnvAsList("BINANCE_SYMBOLS")

	cfg.WeightPerMinute, err = getEnvAsIntRequired("BINANCE_WEIGHT_PER_MINUTE", 6000)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid BINANCE_WEIGHT_PER_MINUTE: %v", err))
	} else if cfg.WeightPerMinute <= 0 {
		errs = append(errs, "BINANCE_WEIGHT_PER_MINUTE must be positive")
	}

	cfg.MaxRetries, err = getEnvAsIntRequired("MAX_RETRIES", 5)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_RETRIES: %v", err))
	} else if cfg.MaxRetries < 0 {
		errs = append(errs, "MAX_RETRIES cannot be negative")
	}

	retryDelaySeconds := getEnvAsInt("RETRY_DELAY_SECONDS", 60)
	if retryDelaySeconds <= 0 {
		errs = append(errs, "RETRY_DELAY_SECONDS must be positive")
	}
	cfg.RetryDelay = time.Duration(retryDelaySeconds) * time.Second

	// Bybit accounts; owners without Bybit keys are skipped
	for _, owner := range getEnvAsList("OWNERS") {
		prefix := strings.ToUpper(owner)
		creds := AccountCredentials{
			Owner:     owner,
			APIKey:    getEnv(prefix+"_BYBIT_API_KEY", ""),
			SecretKey: getEnv(prefix+"_BYBIT_SECRET_KEY", ""),
		}
		hasKey, hasSecret := isSetCredential(creds.APIKey), isSetCredential(creds.SecretKey)
		switch {
		case hasKey && hasSecret:
			cfg.BybitAccounts = append(cfg.BybitAccounts, creds)
		case hasKey != hasSecret:
			errs = append(errs, fmt.Sprintf("%s_BYBIT_API_KEY and %s_BYBIT_SECRET_KEY must be set together for owner %s", prefix, prefix, owner))
		}
	}
	cfg.BybitBaseURL = getEnv("BYBIT_BASE_URL", "")

	cfg.BybitRequestsPerSecond, err = getEnvAsIntRequired("BYBIT_REQUESTS_PER_SECOND", 10)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid BYBIT_REQUESTS_PER_SECOND: %v", err))
	} else if cfg.BybitRequestsPerSecond <= 0 {
		errs = append(errs, "BYBIT_REQUESTS_PER_SECOND must be positive")
	}

	// Ingestion
	cfg.IngestMode, err = app.ParseWindowMode(getEnv("INGEST_MODE", string(app.ModeWeekly)))
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid INGEST_MODE: %v", err))
	}
	cfg.ForceUniqueIDs = getEnvAsBool("FORCE_UNIQUE_IDS", false)

	cfg.StatementOwners = make(map[string]string)
	for _, pair := range getEnvAsList("STATEMENT_USER_OWNERS") {
		userID, owner, ok := strings.Cut(pair, ":")
		userID, owner = strings.TrimSpace(userID), strings.TrimSpace(owner)
		if !ok || userID == "" || owner == "" {
			errs = append(errs, fmt.Sprintf("invalid STATEMENT_USER_OWNERS entry %q, expected userID:OWNER", pair))
			continue
		}
		cfg.StatementOwners[userID] = owner
	}

	// Pricing
	ttlSeconds, err := getEnvAsIntRequired("PRICE_CACHE_TTL_SECONDS", 60)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid PRICE_CACHE_TTL_SECONDS: %v", err))
	} else if ttlSeconds <= 0 {
		errs = append(errs, "PRICE_CACHE_TTL_SECONDS must be positive")
	}
	cfg.PriceCacheTTL = time.Duration(ttlSeconds) * time.Second

	cfg.PriceConcurrency, err = getEnvAsIntRequired("PRICE_LOOKUP_CONCURRENCY", 8)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid PRICE_LOOKUP_CONCURRENCY: %v", err))
	} else if cfg.PriceConcurrency <= 0 {
		errs = append(errs, "PRICE_LOOKUP_CONCURRENCY must be positive")
	}

	timeoutSeconds, err := getEnvAsIntRequired("PRICE_TIMEOUT_SECONDS", 10)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid PRICE_TIMEOUT_SECONDS: %v", err))
	} else if timeoutSeconds <= 0 {
		errs = append(errs, "PRICE_TIMEOUT_SECONDS must be positive")
	}
	cfg.PriceTimeout = time.Duration(timeoutSeconds) * time.Second

	cfg.PriceRetries, err = getEnvAsIntRequired("PRICE_RETRIES", 0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid PRICE_RETRIES: %v", err))
	} else if cfg.PriceRetries < 0 {
		errs = append(errs, "PRICE_RETRIES cannot be negative")
	}

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
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
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// isSetCredential treats "none" as an absent key.
func isSetCredential(v string) bool {
	v = strings.TrimSpace(v)
	return v != "" && !strings.EqualFold(v, "none")
}

// getEnvAsList splits a comma-separated value, dropping empty entries.
func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
