package yahoo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	finance "github.com/piquette/finance-go"
	"github.com/piquette/finance-go/datetime"
	"github.com/shopspring/decimal"
	"marketdata/internal/provider"
	"marketdata/internal/symbol"
)

type Config struct {
	Name string
	// Market is stamped on returned quotes.
	Market symbol.Market
	// Suffix is appended to canonical symbols without a venue, e.g. ".KS" for KRX.
	Suffix string
	// SymbolMap overrides the Yahoo ticker for a canonical symbol, e.g. "035720" -> "035720.KQ".
	SymbolMap map[string]string
	// Currency is used when the upstream quote does not carry one.
	Currency string
	// Now is the chart window end. Defaults to time.Now.
	Now func() time.Time
}

// Provider serves equity quotes and candles from Yahoo Finance.
type Provider struct {
	cfg     Config
	backend Backend
}

func New(cfg Config, b Backend) *Provider {
	if cfg.Name == "" {
		cfg.Name = "yahoo"
	}
	if cfg.Market == "" {
		cfg.Market = symbol.NASDAQ
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Provider{cfg: cfg, backend: b}
}

func (p *Provider) Name() string { return p.cfg.Name }

func (p *Provider) ticker(sym symbol.Symbol) string {
	if v := p.cfg.SymbolMap[sym.Canonical]; v != "" {
		return v
	}
	// A venue named in the input beats the configured default suffix.
	if sym.Venue != "" {
		return sym.Ticker()
	}
	if p.cfg.Suffix != "" && !strings.HasSuffix(sym.Canonical, p.cfg.Suffix) {
		return sym.Canonical + p.cfg.Suffix
	}
	return sym.Canonical
}

func (p *Provider) Price(ctx context.Context, sym symbol.Symbol) (provider.Quote, error) {
	qs, err := p.Prices(ctx, []symbol.Symbol{sym})
	if err != nil {
		return provider.Quote{}, err
	}
	if len(qs) == 0 {
		return provider.Quote{}, provider.Wrap(p.cfg.Name, "price", provider.ErrNotFound, sym.Canonical)
	}
	return qs[0], nil
}

func (p *Provider) Prices(ctx context.Context, syms []symbol.Symbol) ([]provider.Quote, error) {
	if len(syms) == 0 {
		return []provider.Quote{}, nil
	}
	canonByTicker := make(map[string]string, len(syms))
	tickers := make([]string, 0, len(syms))
	for _, s := range syms {
		t := p.ticker(s)
		if _, ok := canonByTicker[t]; ok {
			continue
		}
		canonByTicker[t] = s.Canonical
		tickers = append(tickers, t)
	}

	raw, err := call(ctx, func() ([]*finance.Quote, error) { return p.backend.Quotes(tickers) })
	if err != nil {
		return nil, provider.Wrap(p.cfg.Name, "prices", classify(err), tickers...)
	}

	byTicker := make(map[string]provider.Quote, len(raw))
	for _, q := range raw {
		if q == nil || q.RegularMarketPrice <= 0 {
			continue
		}
		canon, ok := canonByTicker[q.Symbol]
		if !ok {
			continue
		}
		byTicker[q.Symbol] = p.toQuote(canon, q)
	}

	out := make([]provider.Quote, 0, len(byTicker))
	for _, t := range tickers {
		if q, ok := byTicker[t]; ok {
			out = append(out, q)
		}
	}
	return out, nil
}

func (p *Provider) toQuote(canon string, q *finance.Quote) provider.Quote {
	ts := p.cfg.Now().UTC()
	if q.RegularMarketTime > 0 {
		ts = time.Unix(int64(q.RegularMarketTime), 0).UTC()
	}
	currency := q.CurrencyID
	if currency == "" {
		currency = p.cfg.Currency
	}
	return provider.Quote{
		Symbol:        canon,
		Market:        p.cfg.Market,
		Price:         decimal.NewFromFloat(q.RegularMarketPrice),
		Currency:      currency,
		ChangePercent: decimal.NewFromFloat(q.RegularMarketChangePercent).Round(4),
		Timestamp:     ts,
		Source:        p.cfg.Name,
	}
}

func (p *Provider) Candles(ctx context.Context, sym symbol.Symbol, iv provider.Interval, count int) ([]provider.Candle, error) {
	yiv, maxLookback, err := chartInterval(iv)
	if err != nil {
		return nil, err
	}
	if count <= 0 {
		return []provider.Candle{}, nil
	}
	end := p.cfg.Now().UTC()
	lookback := lookbackFor(iv, count)
	if lookback > maxLookback {
		lookback = maxLookback
	}
	start := end.Add(-lookback)
	ticker := p.ticker(sym)

	bars, err := call(ctx, func() ([]*finance.ChartBar, error) { return p.backend.Chart(ticker, yiv, start, end) })
	if err != nil {
		return nil, provider.Wrap(p.cfg.Name, "candles", classify(err), sym.Canonical)
	}
	if len(bars) == 0 {
		return nil, provider.Wrap(p.cfg.Name, "candles", provider.ErrNotFound, sym.Canonical)
	}

	out := make([]provider.Candle, 0, len(bars))
	for _, b := range bars {
		if b == nil || b.Timestamp <= 0 {
			continue
		}
		out = append(out, provider.Candle{
			Symbol:   sym.Canonical,
			Interval: iv,
			Time:     time.Unix(int64(b.Timestamp), 0).UTC(),
			Open:     b.Open,
			High:     b.High,
			Low:      b.Low,
			Close:    b.Close,
			Volume:   decimal.NewFromInt(int64(b.Volume)),
		})
	}
	if len(out) > count {
		out = out[len(out)-count:]
	}
	return out, nil
}

// chartInterval maps to the Yahoo interval and the furthest back Yahoo serves it.
func chartInterval(iv provider.Interval) (datetime.Interval, time.Duration, error) {
	const day = 24 * time.Hour
	switch iv {
	case provider.Minute1:
		return datetime.Interval("1m"), 7 * day, nil
	case provider.Minute5:
		return datetime.Interval("5m"), 59 * day, nil
	case provider.Hour1:
		return datetime.Interval("60m"), 729 * day, nil
	case provider.Day1:
		return datetime.Interval("1d"), 20 * 365 * day, nil
	}
	return "", 0, fmt.Errorf("%w: %q", provider.ErrInvalidInterval, iv)
}

// lookbackFor widens count bars into a calendar window that covers closed sessions.
func lookbackFor(iv provider.Interval, count int) time.Duration {
	width := iv.Duration() * time.Duration(count)
	if iv == provider.Day1 {
		return width*8/5 + 7*24*time.Hour
	}
	return width*6 + 4*24*time.Hour
}

// call runs fn, which cannot be cancelled, and stops waiting once ctx is done.
func call[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()
	select {
	case <-ctx.Done():
		var zero T
		return zero, provider.FromContext(ctx.Err())
	case r := <-ch:
		return r.v, r.err
	}
}

func classify(err error) error {
	if err == nil || errors.Is(err, provider.ErrProviderTimeout) || errors.Is(err, context.Canceled) {
		return err
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "not found"), strings.Contains(msg, "no data"):
		return fmt.Errorf("%w: %w", provider.ErrNotFound, err)
	case strings.Contains(msg, "too many requests"), strings.Contains(msg, "429"):
		return fmt.Errorf("%w: %w", provider.ErrRateLimited, err)
	}
	return fmt.Errorf("%w: %w", provider.ErrProviderUnavailable, err)
}
