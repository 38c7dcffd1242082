package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis"
	"marketdata/internal/cache"
	"marketdata/internal/config"
	"marketdata/internal/facade"
	"marketdata/internal/httpx"
	"marketdata/internal/logger"
	"marketdata/internal/provider"
	"marketdata/internal/provider/dart"
	"marketdata/internal/provider/dartadapter"
	"marketdata/internal/provider/observe"
	"marketdata/internal/provider/ratelimit"
	"marketdata/internal/provider/retry"
	"marketdata/internal/provider/upbit"
	"marketdata/internal/provider/yahoo"
	"marketdata/internal/sink/redisquote"
	"marketdata/internal/subscription"
	"marketdata/internal/symbol"
	"marketdata/internal/trace"
)

// App owns everything built from one Config.
type App struct {
	Config  config.Config
	Facade  *facade.Facade
	Manager *subscription.Manager

	routes    map[symbol.Market]provider.Adapter
	dartCache *cache.Cache[[]byte]
	redis     *redis.Client
	watch     *subscription.Handle
}

// New sets up logging and tracing, then wires adapters behind their rate
// limit, retry and observability wrappers.
func New(cfg config.Config) (*App, error) {
	logger.Init(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err := trace.Init(trace.Config{Enabled: cfg.Trace.Enabled, PrettyPrint: cfg.Trace.PrettyPrint}); err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}

	hc := httpx.New(cfg.Server.RequestTimeout)
	a := &App{Config: cfg, routes: Routes(cfg, hc)}

	opts := []facade.Option{}
	if len(cfg.Facade.CryptoBases) > 0 {
		opts = append(opts, facade.WithResolver(symbol.NewResolver(cfg.Facade.CryptoBases...)))
	}
	if cfg.DartEnabled() {
		src, c, err := newDart(cfg, hc)
		if err != nil {
			logger.Warn(context.Background(), "dart disabled", "error", err.Error())
		} else {
			a.dartCache = c
			opts = append(opts, facade.WithDisclosureSource(src))
		}
	}

	a.Facade = facade.New(facadeConfig(cfg), a.routes, opts...)
	a.Manager = subscription.NewManager(subscriptionConfig(cfg), a.Facade)

	names := make([]any, 0, 2*len(a.routes))
	for m, ad := range a.routes {
		names = append(names, string(m), ad.Name())
	}
	logger.Info(context.Background(), "market data ready", append(names, "dart", a.Facade.IsDartAvailable())...)
	return a, nil
}

func facadeConfig(cfg config.Config) facade.Config {
	indices := make([]facade.Index, len(cfg.Facade.Indices))
	for i, ix := range cfg.Facade.Indices {
		indices[i] = facade.Index{Name: ix.Name, Symbol: ix.Symbol}
	}
	return facade.Config{
		QuoteTTL:        cfg.Facade.QuoteTTL,
		CandleTTL:       cfg.Facade.CandleTTL,
		SweepInterval:   cfg.Facade.SweepInterval,
		ProviderTimeout: cfg.Facade.ProviderTimeout,
		BatchTimeout:    cfg.Facade.BatchTimeout,
		MaxEntries:      cfg.Facade.MaxEntries,
		Indices:         indices,
		MoverUniverse:   cfg.Facade.MoverUniverse,
	}
}

// subscriptionConfig keeps a poll alive past the batch deadline so slow
// batches still deliver their partial results.
func subscriptionConfig(cfg config.Config) subscription.Config {
	return subscription.Config{
		PollInterval: cfg.Subscription.PollInterval,
		TickTimeout:  max(cfg.Subscription.TickTimeout, cfg.Facade.BatchTimeout+time.Second),
		MailboxSize:  cfg.Subscription.MailboxSize,
	}
}

func sinkConfig(cfg config.Config) redisquote.Config {
	return redisquote.Config{KeyPrefix: cfg.Redis.KeyPrefix, TTL: cfg.Redis.TTL, Channel: cfg.Redis.Channel}
}

// Routes builds the decorated adapter for every enabled market.
func Routes(cfg config.Config, hc *httpx.Client) map[symbol.Market]provider.Adapter {
	policy := retry.Policy{
		MaxAttempts:    cfg.Retry.MaxAttempts,
		BaseDelay:      cfg.Retry.BaseDelay,
		MaxDelay:       cfg.Retry.MaxDelay,
		Multiplier:     cfg.Retry.Multiplier,
		AttemptTimeout: attemptTimeout(cfg),
	}
	routes := map[symbol.Market]provider.Adapter{}

	if cfg.Upbit.Enabled {
		up := upbit.New(upbit.Config{
			Name:               "upbit",
			BaseURL:            cfg.Upbit.BaseURL,
			QuoteCurrency:      cfg.Upbit.QuoteCurrency,
			MaxItemsPerRequest: cfg.Upbit.MaxItemsPerRequest,
			MaxConcurrency:     cfg.Upbit.MaxConcurrency,
			SymbolMap:          cfg.Upbit.SymbolMap,
		}, hc)
		routes[symbol.Crypto] = decorate(up, cfg.Upbit.Limits, policy)
	}

	if cfg.Yahoo.Enabled {
		backend := yahoo.NewFinanceBackend(hc.HTTP)
		// Both instances share one budget: they hit the same upstream.
		limits := cfg.Yahoo.Limits
		us := yahoo.New(yahoo.Config{
			Name:      "yahoo",
			Market:    symbol.NASDAQ,
			SymbolMap: cfg.Yahoo.SymbolMap,
			Currency:  "USD",
		}, backend)
		krx := yahoo.New(yahoo.Config{
			Name:      "yahoo-krx",
			Market:    symbol.KRX,
			Suffix:    cfg.Yahoo.KRXSuffix,
			SymbolMap: cfg.Yahoo.SymbolMap,
			Currency:  "KRW",
		}, backend)
		shared := sharedLimiter(limits)
		usAdapter := decorateWith(us, shared, limits, policy)
		routes[symbol.NASDAQ] = usAdapter
		routes[symbol.Equity] = usAdapter
		routes[symbol.KRX] = decorateWith(krx, shared, limits, policy)
	}
	return routes
}

func attemptTimeout(cfg config.Config) time.Duration {
	n := max(cfg.Retry.MaxAttempts, 1)
	return max(cfg.Facade.ProviderTimeout/time.Duration(n), time.Second)
}

func decorate(p provider.Adapter, l config.Limits, policy retry.Policy) provider.Adapter {
	limited := ratelimit.Wrap(p, l.MaxRequestsPerMinute, l.Burst, l.MinRequestInterval)
	return observe.Wrap(&retry.Adapter{P: limited, Policy: policy})
}

func sharedLimiter(l config.Limits) *ratelimit.TokenBucket {
	if l.MaxRequestsPerMinute <= 0 {
		return nil
	}
	return ratelimit.PerMinute(l.MaxRequestsPerMinute, l.Burst)
}

func decorateWith(p provider.Adapter, tb *ratelimit.TokenBucket, l config.Limits, policy retry.Policy) provider.Adapter {
	if tb == nil {
		return decorate(p, l, policy)
	}
	limited := &ratelimit.TokenBucketAdapter{P: p, TB: tb}
	return observe.Wrap(&retry.Adapter{P: limited, Policy: policy})
}

func newDart(cfg config.Config, hc *httpx.Client) (*dartadapter.Adapter, *cache.Cache[[]byte], error) {
	responses := cache.New[[]byte](cfg.Dart.CacheTTL, cache.WithSweepInterval(cfg.Facade.SweepInterval))
	opts := []dart.DartAPIClientOption{
		dart.WithHTTPClient(hc),
		dart.WithResponseCache(responses),
		dart.WithHeader(http.Header{"Accept": []string{"application/json"}}),
	}
	if cfg.Dart.BaseURL != "" {
		opts = append(opts, dart.WithBaseURL(cfg.Dart.BaseURL))
	}
	if tb := sharedLimiter(cfg.Dart.Limits); tb != nil {
		opts = append(opts, dart.WithLimiter(tb))
	}
	client, err := dart.NewDartAPIClient(cfg.Dart.APIKey, opts...)
	if err != nil {
		responses.Close()
		return nil, nil, err
	}
	return dartadapter.New(dartadapter.Config{CorpCodes: cfg.Dart.CorpCodes}, client), responses, nil
}

// StartWatchlist polls the configured watchlist for the life of the app,
// keeping its quotes warm in the cache. With Redis configured every update
// is also written there. A Redis outage leaves the watchlist running.
func (a *App) StartWatchlist() error {
	if len(a.Config.Server.Watchlist) == 0 {
		return nil
	}
	listener := func(u subscription.Update) {
		if u.Err != nil {
			logger.Warn(context.Background(), "watchlist poll failed", "key", u.Key, "error", u.Error)
		}
	}
	if addr := a.Config.Redis.Addr; addr != "" {
		cli, err := redisquote.Dial(addr, a.Config.Redis.Password, a.Config.Redis.DB)
		if err != nil {
			logger.ErrorWithErr(context.Background(), "redis sink disabled", err)
		} else {
			a.redis = cli
			pub := redisquote.New(sinkConfig(a.Config), cli)
			listener = pub.Listener()
		}
	}
	h, err := a.Manager.Subscribe(a.Config.Server.Watchlist, listener)
	if err != nil {
		return fmt.Errorf("watchlist: %w", err)
	}
	a.watch = &h
	logger.Info(context.Background(), "watchlist started", "key", h.Key, "redis", a.redis != nil)
	return nil
}

// Close stops polling, the caches and the tracer, in that order.
func (a *App) Close(ctx context.Context) error {
	if a.watch != nil {
		a.watch.Unsubscribe()
	}
	a.Manager.Close()
	a.Facade.Close()
	if a.dartCache != nil {
		a.dartCache.Close()
	}
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	errs = append(errs, trace.Shutdown(ctx))
	return errors.Join(errs...)
}
