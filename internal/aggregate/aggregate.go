package aggregate

import (
	"sort"
	"time"

	"marketdata/internal/provider"
)

// MaxCandles caps any candle request.
const MaxCandles = 500

// DefaultCandles is used when the caller asks for zero or fewer bars.
const DefaultCandles = 100

// ClampCount maps a requested candle count into [1, MaxCandles].
func ClampCount(count int) int {
	if count <= 0 {
		return DefaultCandles
	}
	if count > MaxCandles {
		return MaxCandles
	}
	return count
}

// Candles normalizes an upstream series:
//   - sorted ascending by Time
//   - one bar per timestamp, the later occurrence in the input wins
//   - at most count bars, keeping the newest
//
// The input slice is not modified.
func Candles(in []provider.Candle, count int) []provider.Candle {
	if len(in) == 0 {
		return []provider.Candle{}
	}
	byTime := make(map[int64]int, len(in))
	out := make([]provider.Candle, 0, len(in))
	for _, c := range in {
		k := c.Time.UnixNano()
		if i, ok := byTime[k]; ok {
			out[i] = c
			continue
		}
		byTime[k] = len(out)
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	if count > 0 && len(out) > count {
		out = out[len(out)-count:]
	}
	return out
}

// LatestBySymbol indexes quotes by symbol. When several quotes share a
// symbol the newest Timestamp wins; ties keep the first seen.
func LatestBySymbol(quotes []provider.Quote) map[string]provider.Quote {
	out := make(map[string]provider.Quote, len(quotes))
	for _, q := range quotes {
		cur, ok := out[q.Symbol]
		if !ok || newer(q.Timestamp, cur.Timestamp) {
			out[q.Symbol] = q
		}
	}
	return out
}

func newer(a, b time.Time) bool { return a.After(b) }
