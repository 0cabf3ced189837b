package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoLedger/internal/adapters/logger"
	"cryptoLedger/internal/app"
)

var configKeys = []string{
	"DB_PATH", "LOG_LEVEL", "HTTP_ADDR", "HTTP_READ_TIMEOUT_SECONDS", "HTTP_WRITE_TIMEOUT_SECONDS",
	"OWNERS", "IS_TESTNET", "BINANCE_QUOTE_ASSETS", "BINANCE_SYMBOLS", "BINANCE_WEIGHT_PER_MINUTE",
	"MAX_RETRIES", "RETRY_DELAY_SECONDS", "INGEST_MODE", "FORCE_UNIQUE_IDS", "STATEMENT_USER_OWNERS",
	"PRICE_CACHE_TTL_SECONDS", "PRICE_LOOKUP_CONCURRENCY", "PRICE_TIMEOUT_SECONDS", "PRICE_RETRIES",
	"BINANCE_BASE_URL", "BYBIT_BASE_URL", "BYBIT_REQUESTS_PER_SECOND",
	"J_BIN_API_KEY", "J_BIN_SECRET_KEY", "VKEE_BIN_API_KEY", "VKEE_BIN_SECRET_KEY",
	"J_BYBIT_API_KEY", "J_BYBIT_SECRET_KEY", "VKEE_BYBIT_API_KEY", "VKEE_BYBIT_SECRET_KEY",
}

// clearEnv blanks every key LoadConfig reads so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range configKeys {
		t.Setenv(key, "")
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "./data/ledger.db", cfg.DBPath)
	assert.Equal(t, logger.LevelInfo, cfg.LogLevel)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 15*time.Second, cfg.HTTPReadTimeout)
	assert.Equal(t, 60*time.Second, cfg.HTTPWriteTimeout)
	assert.Empty(t, cfg.Accounts)
	assert.False(t, cfg.IsTestnet)
	assert.Equal(t, []string{"USDT", "USDC", "ETH", "BTC", "BNB"}, cfg.QuoteAssets)
	assert.Empty(t, cfg.Symbols)
	assert.Equal(t, 6000, cfg.WeightPerMinute)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, time.Minute, cfg.RetryDelay)
	assert.Equal(t, app.ModeWeekly, cfg.IngestMode)
	assert.False(t, cfg.ForceUniqueIDs)
	assert.Empty(t, cfg.StatementOwners)
	assert.Equal(t, time.Minute, cfg.PriceCacheTTL)
	assert.Equal(t, 8, cfg.PriceConcurrency)
	assert.Equal(t, 10*time.Second, cfg.PriceTimeout)
	assert.Equal(t, 0, cfg.PriceRetries)
	assert.Empty(t, cfg.BinanceBaseURL)
	assert.Empty(t, cfg.BybitAccounts)
	assert.Empty(t, cfg.BybitBaseURL)
	assert.Equal(t, 10, cfg.BybitRequestsPerSecond)
}

func TestLoadConfig_Accounts(t *testing.T) {
	clearEnv(t)
	t.Setenv("OWNERS", "J, VKEE")
	t.Setenv("J_BIN_API_KEY", "jk")
	t.Setenv("J_BIN_SECRET_KEY", "js")
	t.Setenv("VKEE_BIN_API_KEY", "vk")
	t.Setenv("VKEE_BIN_SECRET_KEY", "vs")
	t.Setenv("STATEMENT_USER_OWNERS", "18065187:J,99:VKEE")
	t.Setenv("INGEST_MODE", "2 months")
	t.Setenv("BINANCE_SYMBOLS", "solusdt,ETHBTC")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, []AccountCredentials{
		{Owner: "J", APIKey: "jk", SecretKey: "js"},
		{Owner: "VKEE", APIKey: "vk", SecretKey: "vs"},
	}, cfg.Accounts)
	assert.Equal(t, map[string]string{"18065187": "J", "99": "VKEE"}, cfg.StatementOwners)
	assert.Equal(t, app.ModeTwoMonths, cfg.IngestMode)
	assert.Equal(t, []string{"solusdt", "ETHBTC"}, cfg.Symbols)
	assert.Empty(t, cfg.BybitAccounts)
}

func TestLoadConfig_BybitAccounts(t *testing.T) {
	clearEnv(t)
	t.Setenv("OWNERS", "J,VKEE")
	t.Setenv("J_BIN_API_KEY", "jk")
	t.Setenv("J_BIN_SECRET_KEY", "js")
	t.Setenv("VKEE_BIN_API_KEY", "vk")
	t.Setenv("VKEE_BIN_SECRET_KEY", "vs")
	t.Setenv("J_BYBIT_API_KEY", "jbk")
	t.Setenv("J_BYBIT_SECRET_KEY", "jbs")
	t.Setenv("VKEE_BYBIT_API_KEY", "none")
	t.Setenv("VKEE_BYBIT_SECRET_KEY", "none")
	t.Setenv("BYBIT_BASE_URL", "http://localhost:9999")
	t.Setenv("PRICE_TIMEOUT_SECONDS", "3")
	t.Setenv("PRICE_RETRIES", "1")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, []AccountCredentials{{Owner: "J", APIKey: "jbk", SecretKey: "jbs"}}, cfg.BybitAccounts)
	assert.Len(t, cfg.Accounts, 2)
	assert.Equal(t, "http://localhost:9999", cfg.BybitBaseURL)
	assert.Equal(t, 3*time.Second, cfg.PriceTimeout)
	assert.Equal(t, 1, cfg.PriceRetries)
}

func TestLoadConfig_CollectsAllErrors(t *testing.T) {
	clearEnv(t)
	t.Setenv("OWNERS", "J")
	t.Setenv("HTTP_READ_TIMEOUT_SECONDS", "abc")
	t.Setenv("BINANCE_WEIGHT_PER_MINUTE", "0")
	t.Setenv("MAX_RETRIES", "-1")
	t.Setenv("INGEST_MODE", "Hourly")
	t.Setenv("STATEMENT_USER_OWNERS", "18065187")
	t.Setenv("PRICE_LOOKUP_CONCURRENCY", "0")
	t.Setenv("PRICE_TIMEOUT_SECONDS", "0")
	t.Setenv("PRICE_RETRIES", "-2")
	t.Setenv("J_BYBIT_API_KEY", "only-key")

	cfg, err := LoadConfig()
	require.Error(t, err)
	assert.Nil(t, cfg)

	for _, want := range []string{
		"J_BIN_API_KEY",
		"HTTP_READ_TIMEOUT_SECONDS",
		"BINANCE_WEIGHT_PER_MINUTE must be positive",
		"MAX_RETRIES cannot be negative",
		"INGEST_MODE",
		"STATEMENT_USER_OWNERS",
		"PRICE_LOOKUP_CONCURRENCY must be positive",
		"PRICE_TIMEOUT_SECONDS must be positive",
		"PRICE_RETRIES cannot be negative",
		"J_BYBIT_API_KEY and J_BYBIT_SECRET_KEY must be set together",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestGetEnvAsList(t *testing.T) {
	t.Setenv("LIST_KEY", " a, ,b ,, c")
	assert.Equal(t, []string{"a", "b", "c"}, getEnvAsList("LIST_KEY"))

	t.Setenv("LIST_KEY", "")
	assert.Empty(t, getEnvAsList("LIST_KEY"))
}
