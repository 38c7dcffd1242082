package upbit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	simplejson "github.com/bitly/go-simplejson"
	"github.com/shopspring/decimal"
	"marketdata/internal/provider"
	"marketdata/internal/symbol"
)

// HTTPClient describes an HTTP client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// maxCandlesPerPage is the upstream page size limit for candle endpoints.
const maxCandlesPerPage = 200

type Config struct {
	Name          string
	BaseURL       string
	QuoteCurrency string
	// SymbolMap overrides the market code for a canonical symbol, e.g. "BTC" -> "USDT-BTC".
	SymbolMap map[string]string
	// MaxItemsPerRequest splits large symbol lists into several ticker requests.
	// 0 or negative means a single request.
	MaxItemsPerRequest int
	// MaxConcurrency limits concurrent ticker requests when splitting. Defaults to 1.
	MaxConcurrency int
}

// Provider serves crypto quotes and candles from the Upbit quotation API.
type Provider struct {
	cfg    Config
	client HTTPClient
}

func New(cfg Config, hc HTTPClient) *Provider {
	if cfg.Name == "" {
		cfg.Name = "upbit"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.upbit.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.QuoteCurrency == "" {
		cfg.QuoteCurrency = "KRW"
	}
	return &Provider{cfg: cfg, client: hc}
}

func (p *Provider) Name() string { return p.cfg.Name }

func (p *Provider) marketCode(sym symbol.Symbol) string {
	if v := p.cfg.SymbolMap[sym.Canonical]; v != "" {
		return v
	}
	return p.cfg.QuoteCurrency + "-" + sym.Canonical
}

func (p *Provider) Price(ctx context.Context, sym symbol.Symbol) (provider.Quote, error) {
	byMarket, err := p.tickers(ctx, []string{p.marketCode(sym)})
	if err != nil {
		return provider.Quote{}, provider.Wrap(p.cfg.Name, "price", err, sym.Canonical)
	}
	q, ok := byMarket[p.marketCode(sym)]
	if !ok {
		return provider.Quote{}, provider.Wrap(p.cfg.Name, "price", provider.ErrNotFound, sym.Canonical)
	}
	q.Symbol = sym.Canonical
	return q, nil
}

func (p *Provider) Prices(ctx context.Context, syms []symbol.Symbol) ([]provider.Quote, error) {
	// map requested symbols -> market codes, keep unique codes for batching
	uniqSet := make(map[string]struct{}, len(syms))
	codes := make([]string, 0, len(syms))
	for _, s := range syms {
		code := p.marketCode(s)
		if _, ok := uniqSet[code]; !ok {
			uniqSet[code] = struct{}{}
			codes = append(codes, code)
		}
	}
	if len(codes) == 0 {
		return []provider.Quote{}, nil
	}

	var (
		mu       sync.Mutex
		byMarket = make(map[string]provider.Quote, len(codes))
		firstErr error
	)
	doBatch := func(ctx context.Context, batch []string) {
		got, err := p.tickers(ctx, batch)
		if errors.Is(err, provider.ErrNotFound) && len(batch) > 1 {
			// one unknown market fails the whole request upstream; resolve individually
			got, err = p.tickersOneByOne(ctx, batch)
		}
		mu.Lock()
		defer mu.Unlock()
		if err != nil && !errors.Is(err, provider.ErrNotFound) && firstErr == nil {
			firstErr = err
		}
		for k, v := range got {
			byMarket[k] = v
		}
	}

	batches := chunkStrings(codes, p.cfg.MaxItemsPerRequest)
	if len(batches) == 1 {
		doBatch(ctx, batches[0])
	} else {
		maxConc := p.cfg.MaxConcurrency
		if maxConc <= 0 {
			maxConc = 1
		}
		sem := make(chan struct{}, maxConc)
		var wg sync.WaitGroup
		for _, b := range batches {
			wg.Add(1)
			go func(b []string) {
				defer wg.Done()
				select {
				case sem <- struct{}{}:
					defer func() { <-sem }()
				case <-ctx.Done():
					return
				}
				doBatch(ctx, b)
			}(b)
		}
		wg.Wait()
	}

	out := make([]provider.Quote, 0, len(syms))
	seen := make(map[string]struct{}, len(syms))
	for _, s := range syms {
		if _, dup := seen[s.Canonical]; dup {
			continue
		}
		seen[s.Canonical] = struct{}{}
		if q, ok := byMarket[p.marketCode(s)]; ok {
			q.Symbol = s.Canonical
			out = append(out, q)
		}
	}
	if len(out) == 0 && firstErr != nil {
		return nil, provider.Wrap(p.cfg.Name, "prices", firstErr, codes...)
	}
	return out, nil
}

func (p *Provider) tickersOneByOne(ctx context.Context, codes []string) (map[string]provider.Quote, error) {
	out := make(map[string]provider.Quote, len(codes))
	var firstErr error
	for _, c := range codes {
		got, err := p.tickers(ctx, []string{c})
		if err != nil {
			if !errors.Is(err, provider.ErrNotFound) && firstErr == nil {
				firstErr = err
			}
			continue
		}
		for k, v := range got {
			out[k] = v
		}
	}
	return out, firstErr
}

// tickers fetches GET /v1/ticker for the given market codes, keyed by market code.
func (p *Provider) tickers(ctx context.Context, codes []string) (map[string]provider.Quote, error) {
	q := url.Values{}
	q.Set("markets", strings.Join(codes, ","))
	js, err := p.get(ctx, "/v1/ticker", q)
	if err != nil {
		return nil, err
	}
	arr, err := js.Array()
	if err != nil {
		return nil, fmt.Errorf("%w: ticker payload is not an array", provider.ErrUpstreamMalformed)
	}
	out := make(map[string]provider.Quote, len(arr))
	for i := range arr {
		item := js.GetIndex(i)
		quote, market, err := p.parseTicker(item)
		if err != nil {
			return nil, err
		}
		out[market] = quote
	}
	return out, nil
}

func (p *Provider) parseTicker(item *simplejson.Json) (provider.Quote, string, error) {
	market, err := item.Get("market").String()
	if err != nil || market == "" {
		return provider.Quote{}, "", fmt.Errorf("%w: ticker without market", provider.ErrUpstreamMalformed)
	}
	price, err := decimalField(item, "trade_price")
	if err != nil {
		return provider.Quote{}, "", err
	}
	rate, err := decimalField(item, "signed_change_rate")
	if err != nil {
		rate = decimal.Zero
	}
	ts := time.Now().UTC()
	if ms, err := item.Get("trade_timestamp").Int64(); err == nil && ms > 0 {
		ts = time.UnixMilli(ms).UTC()
	}
	currency, _, _ := strings.Cut(market, "-")
	return provider.Quote{
		Market:        symbol.Crypto,
		Price:         price,
		Currency:      currency,
		ChangePercent: rate.Mul(decimal.NewFromInt(100)),
		Timestamp:     ts,
		Source:        p.cfg.Name,
	}, market, nil
}

func (p *Provider) Candles(ctx context.Context, sym symbol.Symbol, iv provider.Interval, count int) ([]provider.Candle, error) {
	path, err := candlePath(iv)
	if err != nil {
		return nil, err
	}
	if count <= 0 {
		return []provider.Candle{}, nil
	}
	code := p.marketCode(sym)
	out := make([]provider.Candle, 0, count)
	var to time.Time
	for len(out) < count {
		page := count - len(out)
		if page > maxCandlesPerPage {
			page = maxCandlesPerPage
		}
		q := url.Values{}
		q.Set("market", code)
		q.Set("count", fmt.Sprint(page))
		if !to.IsZero() {
			q.Set("to", to.UTC().Format("2006-01-02T15:04:05Z"))
		}
		js, err := p.get(ctx, path, q)
		if err != nil {
			return nil, provider.Wrap(p.cfg.Name, "candles", err, sym.Canonical)
		}
		got, oldest, err := parseCandles(js, sym.Canonical, iv)
		if err != nil {
			return nil, provider.Wrap(p.cfg.Name, "candles", err, sym.Canonical)
		}
		out = append(out, got...)
		if len(got) < page || oldest.IsZero() {
			break
		}
		to = oldest
	}
	if len(out) > count {
		out = out[:count]
	}
	// newest-first upstream; callers expect ascending
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func candlePath(iv provider.Interval) (string, error) {
	switch iv {
	case provider.Minute1:
		return "/v1/candles/minutes/1", nil
	case provider.Minute5:
		return "/v1/candles/minutes/5", nil
	case provider.Hour1:
		return "/v1/candles/minutes/60", nil
	case provider.Day1:
		return "/v1/candles/days", nil
	}
	return "", fmt.Errorf("%w: %q", provider.ErrInvalidInterval, iv)
}

func parseCandles(js *simplejson.Json, sym string, iv provider.Interval) ([]provider.Candle, time.Time, error) {
	arr, err := js.Array()
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: candle payload is not an array", provider.ErrUpstreamMalformed)
	}
	out := make([]provider.Candle, 0, len(arr))
	var oldest time.Time
	for i := range arr {
		item := js.GetIndex(i)
		raw, err := item.Get("candle_date_time_utc").String()
		if err != nil {
			return nil, time.Time{}, fmt.Errorf("%w: candle without time", provider.ErrUpstreamMalformed)
		}
		ts, err := time.ParseInLocation("2006-01-02T15:04:05", raw, time.UTC)
		if err != nil {
			return nil, time.Time{}, fmt.Errorf("%w: candle time %q", provider.ErrUpstreamMalformed, raw)
		}
		c := provider.Candle{Symbol: sym, Interval: iv, Time: ts}
		fields := []struct {
			key string
			dst *decimal.Decimal
		}{
			{"opening_price", &c.Open},
			{"high_price", &c.High},
			{"low_price", &c.Low},
			{"trade_price", &c.Close},
			{"candle_acc_trade_volume", &c.Volume},
		}
		for _, f := range fields {
			v, err := decimalField(item, f.key)
			if err != nil {
				return nil, time.Time{}, err
			}
			*f.dst = v
		}
		if oldest.IsZero() || ts.Before(oldest) {
			oldest = ts
		}
		out = append(out, c)
	}
	return out, oldest, nil
}

func (p *Provider) get(ctx context.Context, path string, q url.Values) (*simplejson.Json, error) {
	u := p.cfg.BaseURL + path + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	res, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, provider.FromContext(ctx.Err())
		}
		return nil, fmt.Errorf("%w: %w", provider.ErrProviderUnavailable, err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusOK:
	case res.StatusCode == http.StatusNotFound:
		return nil, provider.ErrNotFound
	case res.StatusCode == http.StatusTooManyRequests:
		return nil, provider.ErrRateLimited
	case res.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", provider.ErrProviderUnavailable, res.StatusCode)
	default:
		b, _ := io.ReadAll(io.LimitReader(res.Body, 2<<10))
		return nil, fmt.Errorf("GET %s -> %d: %s", path, res.StatusCode, string(b))
	}

	js, err := simplejson.NewFromReader(res.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", provider.ErrUpstreamMalformed, err)
	}
	return js, nil
}

// decimalField reads a JSON number (or numeric string) without going through float64.
func decimalField(item *simplejson.Json, key string) (decimal.Decimal, error) {
	v, ok := item.CheckGet(key)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: missing %s", provider.ErrUpstreamMalformed, key)
	}
	switch n := v.Interface().(type) {
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: %s=%s", provider.ErrUpstreamMalformed, key, n)
		}
		return d, nil
	case string:
		d, err := decimal.NewFromString(n)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: %s=%q", provider.ErrUpstreamMalformed, key, n)
		}
		return d, nil
	case float64:
		return decimal.NewFromFloat(n), nil
	}
	return decimal.Zero, fmt.Errorf("%w: %s is not a number", provider.ErrUpstreamMalformed, key)
}

func chunkStrings(in []string, size int) [][]string {
	if size <= 0 || len(in) <= size {
		return [][]string{in}
	}
	out := make([][]string, 0, (len(in)+size-1)/size)
	for i := 0; i < len(in); i += size {
		j := i + size
		if j > len(in) {
			j = len(in)
		}
		out = append(out, in[i:j])
	}
	return out
}
