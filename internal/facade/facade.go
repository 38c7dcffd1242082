package facade

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
	"marketdata/internal/cache"
	"marketdata/internal/provider"
	"marketdata/internal/symbol"
)

const (
	quotePrefix  = "quote:"
	candlePrefix = "candles:"
)

// Config bounds staleness and upstream latency. Zero fields take the defaults below.
type Config struct {
	QuoteTTL        time.Duration // 5s
	CandleTTL       time.Duration // 30s
	SweepInterval   time.Duration // 1m
	ProviderTimeout time.Duration // 5s, one adapter call
	BatchTimeout    time.Duration // 8s, a whole batch
	MaxEntries      int           // per cache; 0 is unbounded

	Indices       []Index  // DefaultIndices
	MoverUniverse []string // symbols ranked by TopMovers when the query names none
}

func (c Config) withDefaults() Config {
	if c.QuoteTTL <= 0 {
		c.QuoteTTL = 5 * time.Second
	}
	if c.CandleTTL <= 0 {
		c.CandleTTL = 30 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = 5 * time.Second
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 8 * time.Second
	}
	if len(c.Indices) == 0 {
		c.Indices = DefaultIndices
	}
	return c
}

// Facade is the single entry point for quotes, candles and disclosure data.
// It is safe for concurrent use.
type Facade struct {
	cfg      Config
	routes   map[symbol.Market]provider.Adapter
	resolver *symbol.Resolver
	dart     DisclosureSource
	clock    cache.Clock

	quotes  *cache.Cache[provider.Quote]
	candles *cache.Cache[[]provider.Candle]
	flights singleflight.Group
}

type Option func(*Facade)

// WithResolver replaces the default crypto base table used to classify symbols.
func WithResolver(r *symbol.Resolver) Option {
	return func(f *Facade) { f.resolver = r }
}

// WithDisclosureSource enables the DART pass-through operations.
func WithDisclosureSource(d DisclosureSource) Option {
	return func(f *Facade) { f.dart = d }
}

// WithClock sets the clock of the quote and candle caches.
func WithClock(c cache.Clock) Option {
	return func(f *Facade) { f.clock = c }
}

// New routes each market to one adapter. Markets without a route resolve to nothing found.
// The caches sweep in the background until Close.
func New(cfg Config, routes map[symbol.Market]provider.Adapter, opts ...Option) *Facade {
	f := &Facade{
		cfg:      cfg.withDefaults(),
		routes:   make(map[symbol.Market]provider.Adapter, len(routes)),
		resolver: symbol.NewResolver(symbol.DefaultCryptoBases...),
		clock:    time.Now,
	}
	for m, a := range routes {
		if a != nil {
			f.routes[m] = a
		}
	}
	for _, opt := range opts {
		opt(f)
	}
	cacheOpts := []cache.Option{
		cache.WithSweepInterval(f.cfg.SweepInterval),
		cache.WithClock(f.clock),
		cache.WithMaxItems(f.cfg.MaxEntries),
	}
	f.quotes = cache.New[provider.Quote](f.cfg.QuoteTTL, cacheOpts...)
	f.candles = cache.New[[]provider.Candle](f.cfg.CandleTTL, cacheOpts...)
	return f
}

// Normalize classifies raw with the facade's resolver.
func (f *Facade) Normalize(raw string) (symbol.Symbol, error) {
	return f.resolver.Normalize(raw)
}

func (f *Facade) route(m symbol.Market) provider.Adapter {
	return f.routes[m]
}

// Invalidate drops cached quotes and candles whose key starts with prefix, e.g.
// "quote:BTC" or "candles:AAPL:". An empty prefix clears both caches.
func (f *Facade) Invalidate(prefix string) int {
	return f.quotes.InvalidatePrefix(prefix) + f.candles.InvalidatePrefix(prefix)
}

// Close stops the cache sweeps. In-flight calls are unaffected.
func (f *Facade) Close() {
	f.quotes.Close()
	f.candles.Close()
}

// flight runs fn once per key across concurrent callers. fn gets a context
// detached from any single caller and bounded by timeout; each caller stops
// waiting when its own ctx is done.
func flight[T any](ctx context.Context, g *singleflight.Group, key string, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	ch := g.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		return fn(fctx)
	})
	select {
	case <-ctx.Done():
		var zero T
		return zero, provider.FromContext(ctx.Err())
	case r := <-ch:
		if r.Err != nil {
			var zero T
			return zero, r.Err
		}
		return r.Val.(T), nil
	}
}
