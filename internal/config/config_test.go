package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"marketdata/internal/config"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_DefaultsWhenMissing(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, config.Default(), cfg)
	require.False(t, cfg.DartEnabled())
}

func TestLoad_FileThenEnv(t *testing.T) {
	// Arrange: file sets ttl and poll interval, env overrides the poll interval
	path := writeFile(t, `
server:
  port: "9090"
facade:
  quote_ttl: 2s
subscription:
  poll_interval: 10s
upbit:
  symbol_map:
    BTC: USDT-BTC
  limits:
    max_requests_per_minute: 30
dart:
  corp_codes:
    "123456": "00999999"
`)
	t.Setenv("POLL_INTERVAL", "1s")
	t.Setenv("DART_API_KEY", "secret")
	t.Setenv("UPBIT_LIMITS_BURST", "3")
	t.Setenv("WATCHLIST", "BTC,005930")
	t.Setenv("REDIS_CHANNEL", "quotes")

	// Act
	cfg, err := config.Load(path)

	// Assert
	require.NoError(t, err)
	require.Equal(t, "9090", cfg.Server.Port)
	require.Equal(t, 2*time.Second, cfg.Facade.QuoteTTL)
	require.Equal(t, time.Second, cfg.Subscription.PollInterval)
	require.Equal(t, 30, cfg.Upbit.Limits.MaxRequestsPerMinute)
	require.Equal(t, 3, cfg.Upbit.Limits.Burst)
	require.Equal(t, "00999999", cfg.Dart.CorpCodes["123456"])
	require.Equal(t, []string{"BTC", "005930"}, cfg.Server.Watchlist)
	require.Equal(t, "USDT-BTC", cfg.Upbit.SymbolMap["BTC"])
	require.Equal(t, "quotes", cfg.Redis.Channel)
	require.True(t, cfg.DartEnabled())
	require.Equal(t, 8*time.Second, cfg.Facade.BatchTimeout, "untouched defaults survive")
}

func TestLoad_ParseError(t *testing.T) {
	path := writeFile(t, "facade: [not a map")
	_, err := config.Load(path)
	require.ErrorContains(t, err, "parse config")
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	require.NoError(t, cfg.Validate())

	cfg.Facade.BatchTimeout = cfg.Facade.ProviderTimeout
	cfg.Retry.MaxAttempts = 0
	err := cfg.Validate()
	require.ErrorContains(t, err, "batch_timeout")
	require.ErrorContains(t, err, "max_attempts")

	cfg = config.Default()
	cfg.Subscription.TickTimeout = cfg.Facade.BatchTimeout
	require.ErrorContains(t, cfg.Validate(), "tick_timeout")
}

func TestDefault_PollOutlastsBatch(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	require.Greater(t, cfg.Subscription.TickTimeout, cfg.Facade.BatchTimeout)
	require.NotEmpty(t, cfg.Facade.Indices)
	require.Contains(t, cfg.Facade.MoverUniverse, "247540.KQ")
}
