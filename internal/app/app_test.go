package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"marketdata/internal/config"
	"marketdata/internal/facade"
	"marketdata/internal/httpx"
	"marketdata/internal/symbol"
)

func TestRoutes_Default(t *testing.T) {
	t.Parallel()

	routes := Routes(config.Default(), httpx.New(time.Second))

	require.Len(t, routes, 4)
	require.Equal(t, "upbit", routes[symbol.Crypto].Name())
	require.Equal(t, "yahoo-krx", routes[symbol.KRX].Name())
	require.Equal(t, "yahoo", routes[symbol.NASDAQ].Name())
	require.Same(t, routes[symbol.NASDAQ], routes[symbol.Equity])
}

func TestRoutes_Disabled(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Upbit.Enabled = false
	routes := Routes(cfg, httpx.New(time.Second))
	require.NotContains(t, routes, symbol.Crypto)
	require.Contains(t, routes, symbol.KRX)

	cfg.Yahoo.Enabled = false
	require.Empty(t, Routes(cfg, httpx.New(time.Second)))
}

func TestAttemptTimeout(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	require.Equal(t, cfg.Facade.ProviderTimeout/3, attemptTimeout(cfg))

	cfg.Retry.MaxAttempts = 10
	require.Equal(t, time.Second, attemptTimeout(cfg))
}

func TestSubscriptionConfig_OutlastsBatch(t *testing.T) {
	t.Parallel()

	// Arrange
	cfg := config.Default()
	cfg.Subscription.TickTimeout = time.Second
	cfg.Facade.BatchTimeout = 8 * time.Second

	// Act
	got := subscriptionConfig(cfg)

	// Assert
	require.Equal(t, 9*time.Second, got.TickTimeout)
	require.Equal(t, cfg.Subscription.PollInterval, got.PollInterval)
	require.Equal(t, cfg.Subscription.MailboxSize, got.MailboxSize)

	cfg.Subscription.TickTimeout = 30 * time.Second
	require.Equal(t, 30*time.Second, subscriptionConfig(cfg).TickTimeout)
}

func TestFacadeConfig(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Facade.MaxEntries = 42
	cfg.Facade.Indices = []config.MarketIndex{{Name: "KOSDAQ", Symbol: "^KQ11"}}
	cfg.Facade.MoverUniverse = []string{"247540.KQ"}

	got := facadeConfig(cfg)

	require.Equal(t, 42, got.MaxEntries)
	require.Equal(t, []facade.Index{{Name: "KOSDAQ", Symbol: "^KQ11"}}, got.Indices)
	require.Equal(t, []string{"247540.KQ"}, got.MoverUniverse)
	require.Equal(t, cfg.Facade.BatchTimeout, got.BatchTimeout)
}

func TestSinkConfig(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Redis.KeyPrefix = "px:"
	cfg.Redis.Channel = "quotes"

	got := sinkConfig(cfg)

	require.Equal(t, "px:", got.KeyPrefix)
	require.Equal(t, "quotes", got.Channel)
	require.Equal(t, cfg.Redis.TTL, got.TTL)
}

// New swaps the package logger, so these run serially.

func TestNew_DartNeedsKey(t *testing.T) {
	cfg := config.Default()

	a, err := New(cfg)
	require.NoError(t, err)
	require.False(t, a.Facade.IsDartAvailable())
	require.NoError(t, a.Close(t.Context()))

	cfg.Dart.APIKey = "your-api-key"
	a, err = New(cfg)
	require.NoError(t, err)
	require.False(t, a.Facade.IsDartAvailable())
	require.NoError(t, a.Close(t.Context()))

	cfg.Dart.APIKey = "0123456789abcdef"
	a, err = New(cfg)
	require.NoError(t, err)
	require.True(t, a.Facade.IsDartAvailable())
	require.NotNil(t, a.dartCache)
	require.NoError(t, a.Close(t.Context()))
}

func TestStartWatchlist(t *testing.T) {
	// No upstream is enabled, so polling never leaves the process.
	cfg := config.Default()
	cfg.Upbit.Enabled = false
	cfg.Yahoo.Enabled = false
	cfg.Subscription.PollInterval = time.Hour
	cfg.Server.Watchlist = []string{"btc", "005930", "BTC"}

	a, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, a.StartWatchlist())
	require.Equal(t, 1, a.Manager.Stats().Tasks)
	require.Equal(t, "005930,BTC", a.watch.Key)
	require.Nil(t, a.redis)

	require.NoError(t, a.Close(t.Context()))
	require.Equal(t, 0, a.Manager.Stats().Tasks)
}

func TestStartWatchlist_Invalid(t *testing.T) {
	cfg := config.Default()
	cfg.Upbit.Enabled = false
	cfg.Yahoo.Enabled = false
	cfg.Server.Watchlist = []string{"BTC", "$$$"}

	a, err := New(cfg)
	require.NoError(t, err)
	defer a.Close(t.Context())

	require.ErrorIs(t, a.StartWatchlist(), symbol.ErrInvalidSymbol)
}
