package observe

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"marketdata/internal/logger"
	"marketdata/internal/provider"
	"marketdata/internal/symbol"
	"marketdata/internal/trace"
)

// observableAdapter wraps an Adapter with spans and structured logs.
type observableAdapter struct {
	p provider.Adapter
}

var _ provider.Adapter = (*observableAdapter)(nil)

// Wrap adds tracing and logging around p.
func Wrap(p provider.Adapter) provider.Adapter {
	return &observableAdapter{p: p}
}

func (o *observableAdapter) Name() string { return o.p.Name() }

func (o *observableAdapter) Price(ctx context.Context, sym symbol.Symbol) (provider.Quote, error) {
	ctx, span := trace.StartSpan(ctx, "provider.Price",
		attribute.String("provider", o.p.Name()),
		attribute.String("symbol", sym.Canonical),
	)
	q, err := o.p.Price(ctx, sym)
	o.finish(ctx, "price", err, "symbol", sym.Canonical)
	trace.EndSpan(span, ignoreNotFound(err))
	return q, err
}

func (o *observableAdapter) Prices(ctx context.Context, syms []symbol.Symbol) ([]provider.Quote, error) {
	names := make([]string, len(syms))
	for i, s := range syms {
		names[i] = s.Canonical
	}
	ctx, span := trace.StartSpan(ctx, "provider.Prices",
		attribute.String("provider", o.p.Name()),
		attribute.StringSlice("symbols", names),
	)
	qs, err := o.p.Prices(ctx, syms)
	o.finish(ctx, "prices", err, "symbols", strings.Join(names, ","), "requested", len(syms), "received", len(qs))
	span.SetAttributes(attribute.Int("received", len(qs)))
	trace.EndSpan(span, ignoreNotFound(err))
	return qs, err
}

func (o *observableAdapter) Candles(ctx context.Context, sym symbol.Symbol, iv provider.Interval, count int) ([]provider.Candle, error) {
	ctx, span := trace.StartSpan(ctx, "provider.Candles",
		attribute.String("provider", o.p.Name()),
		attribute.String("symbol", sym.Canonical),
		attribute.String("interval", string(iv)),
		attribute.Int("count", count),
	)
	cs, err := o.p.Candles(ctx, sym, iv, count)
	o.finish(ctx, "candles", err, "symbol", sym.Canonical, "interval", iv, "received", len(cs))
	trace.EndSpan(span, ignoreNotFound(err))
	return cs, err
}

func (o *observableAdapter) finish(ctx context.Context, op string, err error, kv ...any) {
	kv = append([]any{"provider", o.p.Name(), "op", op}, kv...)
	switch {
	case err == nil:
		logger.Debug(ctx, "upstream call ok", kv...)
	case errors.Is(err, provider.ErrNotFound):
		logger.Debug(ctx, "upstream has no data", kv...)
	default:
		logger.ErrorWithErr(ctx, "upstream call failed", err, kv...)
	}
}

func ignoreNotFound(err error) error {
	if errors.Is(err, provider.ErrNotFound) {
		return nil
	}
	return err
}
