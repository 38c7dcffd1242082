package facade

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"marketdata/internal/aggregate"
	"marketdata/internal/logger"
	"marketdata/internal/provider"
	"marketdata/internal/trace"
)

func candleKey(canonical string, iv provider.Interval, count int) string {
	return fmt.Sprintf("%s%s:%s:%d", candlePrefix, canonical, iv, count)
}

// GetCandles returns at most count bars ending at the latest available one,
// ascending and unique by time. The interval is checked before any upstream
// call; count is clamped to [1, 500] with 100 for zero or less. A symbol the
// upstream does not know yields an empty series.
func (f *Facade) GetCandles(ctx context.Context, raw, interval string, count int) (_ []provider.Candle, err error) {
	iv, err := provider.ParseInterval(interval)
	if err != nil {
		return nil, err
	}
	sym, err := f.resolver.Normalize(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", err, raw)
	}
	count = aggregate.ClampCount(count)

	ctx, span := trace.StartSpan(ctx, "facade.GetCandles",
		attribute.String("symbol", sym.Canonical),
		attribute.String("interval", string(iv)),
		attribute.Int("count", count),
	)
	defer func() { trace.EndSpan(span, err) }()

	key := candleKey(sym.Canonical, iv, count)
	if cs, ok := f.candles.Get(key); ok {
		return slices.Clone(cs), nil
	}
	a := f.route(sym.Market)
	if a == nil {
		return []provider.Candle{}, nil
	}

	cs, err := flight(ctx, &f.flights, key, f.cfg.ProviderTimeout, func(ctx context.Context) ([]provider.Candle, error) {
		if cs, ok := f.candles.Get(key); ok {
			return cs, nil
		}
		raw, err := a.Candles(ctx, sym, iv, count)
		if err != nil {
			return nil, err
		}
		cs := aggregate.Candles(raw, count)
		if len(cs) > 0 {
			f.candles.Set(key, cs, f.cfg.CandleTTL)
		}
		return cs, nil
	})
	switch {
	case errors.Is(err, provider.ErrNotFound):
		return []provider.Candle{}, nil
	case errors.Is(err, provider.ErrUpstreamMalformed):
		logger.Warn(ctx, "dropping malformed candles", "symbol", sym.Canonical, "provider", a.Name(), "error", err.Error())
		return []provider.Candle{}, nil
	case err != nil:
		return nil, err
	}
	return slices.Clone(cs), nil
}
