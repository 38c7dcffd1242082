package aggregate

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"marketdata/internal/provider"
)

func bar(t time.Time, close int64) provider.Candle {
	return provider.Candle{Symbol: "BTC", Interval: provider.Hour1, Time: t, Close: decimal.NewFromInt(close)}
}

func TestCandles_SortsDedupesAndTrims(t *testing.T) {
	t0 := time.Date(2025, 1, 2, 3, 0, 0, 0, time.UTC)
	in := []provider.Candle{
		bar(t0.Add(3*time.Hour), 4),
		bar(t0.Add(1*time.Hour), 2),
		bar(t0, 1),
		bar(t0.Add(2*time.Hour), 3),
		bar(t0.Add(1*time.Hour), 20),
	}

	out := Candles(in, 3)

	require.Len(t, out, 3)
	require.True(t, out[0].Time.Equal(t0.Add(time.Hour)))
	require.True(t, out[0].Close.Equal(decimal.NewFromInt(20)), "later duplicate should win")
	require.True(t, out[2].Time.Equal(t0.Add(3*time.Hour)))
	for i := 1; i < len(out); i++ {
		require.True(t, out[i-1].Time.Before(out[i].Time))
	}
	require.Len(t, in, 5)
	require.True(t, in[0].Time.Equal(t0.Add(3*time.Hour)), "input must not be reordered")
}

func TestCandles_Empty(t *testing.T) {
	out := Candles(nil, 10)
	require.NotNil(t, out)
	require.Empty(t, out)
}

func TestClampCount(t *testing.T) {
	require.Equal(t, DefaultCandles, ClampCount(0))
	require.Equal(t, DefaultCandles, ClampCount(-5))
	require.Equal(t, 1, ClampCount(1))
	require.Equal(t, MaxCandles, ClampCount(500))
	require.Equal(t, MaxCandles, ClampCount(10_000))
}

func TestLatestBySymbol_NewestWins(t *testing.T) {
	t1 := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	t2 := t1.Add(time.Minute)
	in := []provider.Quote{
		{Symbol: "AAPL", Price: decimal.NewFromInt(10), Timestamp: t1, Source: "yahoo"},
		{Symbol: "AAPL", Price: decimal.NewFromInt(11), Timestamp: t2, Source: "yahoo"},
		{Symbol: "BTC", Price: decimal.NewFromInt(1), Timestamp: t1, Source: "upbit"},
	}

	out := LatestBySymbol(in)

	require.Len(t, out, 2)
	require.True(t, out["AAPL"].Price.Equal(decimal.NewFromInt(11)))
	require.True(t, out["AAPL"].Timestamp.Equal(t2))
	require.Equal(t, "upbit", out["BTC"].Source)
}
