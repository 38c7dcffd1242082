package facade

import (
	"context"

	"github.com/shopspring/decimal"
	"marketdata/internal/indicator"
	"marketdata/internal/provider"
)

// IndicatorSeries is a candle window with one computed series per spec,
// aligned bar for bar with Candles.
type IndicatorSeries struct {
	Candles []provider.Candle                `json:"candles"`
	Series  map[string][]decimal.NullDecimal `json:"series"`
}

// Indicators loads candles through GetCandles and computes each spec over
// the closes. Bars inside a spec's warm-up window are null.
func (f *Facade) Indicators(ctx context.Context, raw, interval string, count int, specs []indicator.Spec) (IndicatorSeries, error) {
	cs, err := f.GetCandles(ctx, raw, interval, count)
	if err != nil {
		return IndicatorSeries{}, err
	}
	closes := make([]decimal.Decimal, len(cs))
	for i, c := range cs {
		closes[i] = c.Close
	}
	out := IndicatorSeries{Candles: cs, Series: make(map[string][]decimal.NullDecimal, len(specs))}
	for _, s := range specs {
		out.Series[s.String()] = indicator.Compute(s, closes)
	}
	return out, nil
}
