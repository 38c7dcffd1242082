package facade

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"marketdata/internal/aggregate"
	"marketdata/internal/logger"
	"marketdata/internal/provider"
	"marketdata/internal/symbol"
	"marketdata/internal/trace"
)

// ErrNoProvider marks symbols whose market has no configured adapter.
var ErrNoProvider = errors.New("no provider for market")

// Diagnostic explains why a requested symbol is missing from a batch.
type Diagnostic struct {
	Symbol   string `json:"symbol"`
	Provider string `json:"provider,omitempty"`
	Reason   string `json:"reason"`
	Err      error  `json:"-"`
}

func diagnostic(sym, providerName string, err error) Diagnostic {
	return Diagnostic{Symbol: sym, Provider: providerName, Reason: err.Error(), Err: err}
}

// BatchResult holds the quotes found, in first-request order, and one
// diagnostic per requested symbol that could not be served.
type BatchResult struct {
	Quotes      []provider.Quote `json:"quotes"`
	Diagnostics []Diagnostic     `json:"diagnostics"`
}

func quoteKey(canonical string) string { return quotePrefix + canonical }

// GetPrice returns the latest quote for raw. Unknown symbols and malformed
// upstream answers yield nil without error; provider failures are returned.
func (f *Facade) GetPrice(ctx context.Context, raw string) (_ *provider.Quote, err error) {
	ctx, span := trace.StartSpan(ctx, "facade.GetPrice", attribute.String("symbol", raw))
	defer func() { trace.EndSpan(span, err) }()

	sym, err := f.resolver.Normalize(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", err, raw)
	}
	key := quoteKey(sym.Canonical)
	if q, ok := f.quotes.Get(key); ok {
		return &q, nil
	}
	a := f.route(sym.Market)
	if a == nil {
		logger.Debug(ctx, "no provider for market", "symbol", sym.Canonical, "market", sym.Market)
		return nil, nil
	}

	q, err := flight(ctx, &f.flights, key, f.cfg.ProviderTimeout, func(ctx context.Context) (provider.Quote, error) {
		if q, ok := f.quotes.Get(key); ok {
			return q, nil
		}
		q, err := a.Price(ctx, sym)
		if err != nil {
			return provider.Quote{}, err
		}
		f.quotes.Set(key, q, f.cfg.QuoteTTL)
		return q, nil
	})
	switch {
	case errors.Is(err, provider.ErrNotFound):
		return nil, nil
	case errors.Is(err, provider.ErrUpstreamMalformed):
		logger.Warn(ctx, "dropping malformed quote", "symbol", sym.Canonical, "provider", a.Name(), "error", err.Error())
		return nil, nil
	case err != nil:
		return nil, err
	}
	return &q, nil
}

// GetPrices is GetPricesDetailed without the diagnostics.
func (f *Facade) GetPrices(ctx context.Context, raws []string) ([]provider.Quote, error) {
	res, err := f.GetPricesDetailed(ctx, raws)
	if err != nil {
		return nil, err
	}
	return res.Quotes, nil
}

type batchGroup struct {
	adapter provider.Adapter
	syms    []symbol.Symbol
}

type batchReply struct {
	group  int
	quotes []provider.Quote
	err    error
}

// GetPricesDetailed resolves many symbols at once. Symbols are de-duplicated
// by canonical form, cache misses are grouped into one call per adapter and
// the calls run concurrently. A failed group only removes its own symbols.
// An error is returned when no symbol was valid, or when every upstream call
// failed and nothing could be served.
func (f *Facade) GetPricesDetailed(ctx context.Context, raws []string) (_ BatchResult, err error) {
	ctx, span := trace.StartSpan(ctx, "facade.GetPrices", attribute.Int("requested", len(raws)))
	defer func() { trace.EndSpan(span, err) }()

	res := BatchResult{Quotes: []provider.Quote{}, Diagnostics: []Diagnostic{}}
	seen := make(map[string]struct{}, len(raws))
	order := make([]symbol.Symbol, 0, len(raws))
	for _, raw := range raws {
		sym, err := f.resolver.Normalize(raw)
		if err != nil {
			res.Diagnostics = append(res.Diagnostics, diagnostic(raw, "", err))
			continue
		}
		if _, dup := seen[sym.Canonical]; dup {
			continue
		}
		seen[sym.Canonical] = struct{}{}
		order = append(order, sym)
	}
	if len(order) == 0 {
		return res, fmt.Errorf("%w: no valid symbols in request", symbol.ErrInvalidSymbol)
	}

	found := make(map[string]provider.Quote, len(order))
	var groups []batchGroup
	groupOf := map[provider.Adapter]int{}
	for _, s := range order {
		if q, ok := f.quotes.Get(quoteKey(s.Canonical)); ok {
			found[s.Canonical] = q
			continue
		}
		a := f.route(s.Market)
		if a == nil {
			res.Diagnostics = append(res.Diagnostics, diagnostic(s.Canonical, "", fmt.Errorf("%w %s", ErrNoProvider, s.Market)))
			continue
		}
		i, ok := groupOf[a]
		if !ok {
			i = len(groups)
			groupOf[a] = i
			groups = append(groups, batchGroup{adapter: a})
		}
		groups[i].syms = append(groups[i].syms, s)
	}

	errs := f.fetchGroups(ctx, groups, found, &res)

	for _, s := range order {
		if q, ok := found[s.Canonical]; ok {
			res.Quotes = append(res.Quotes, q)
		}
	}
	span.SetAttributes(attribute.Int("served", len(res.Quotes)), attribute.Int("dropped", len(res.Diagnostics)))
	if len(res.Quotes) == 0 && len(groups) > 0 && len(errs) == len(groups) {
		return res, errors.Join(errs...)
	}
	return res, nil
}

// fetchGroups issues one Prices call per group, each under ProviderTimeout,
// and waits for them under BatchTimeout. Quotes land in found and the cache.
// The returned slice has one error per failed group.
func (f *Facade) fetchGroups(ctx context.Context, groups []batchGroup, found map[string]provider.Quote, res *BatchResult) []error {
	if len(groups) == 0 {
		return nil
	}
	bctx, cancel := context.WithTimeout(ctx, f.cfg.BatchTimeout)
	defer cancel()

	ch := make(chan batchReply, len(groups))
	for i, g := range groups {
		go func() {
			pctx, cancel := context.WithTimeout(bctx, f.cfg.ProviderTimeout)
			defer cancel()
			qs, err := g.adapter.Prices(pctx, g.syms)
			ch <- batchReply{group: i, quotes: qs, err: err}
		}()
	}

	var errs []error
	pending := make([]bool, len(groups))
	for i := range pending {
		pending[i] = true
	}
collect:
	for range groups {
		select {
		case r := <-ch:
			pending[r.group] = false
			g := groups[r.group]
			if r.err != nil {
				errs = append(errs, r.err)
				logger.ErrorWithErr(ctx, "provider batch failed", r.err, "provider", g.adapter.Name(), "symbols", len(g.syms))
				for _, s := range g.syms {
					res.Diagnostics = append(res.Diagnostics, diagnostic(s.Canonical, g.adapter.Name(), r.err))
				}
				continue
			}
			f.acceptGroup(g, r.quotes, found, res)
		case <-bctx.Done():
			break collect
		}
	}

	for i, waiting := range pending {
		if !waiting {
			continue
		}
		g := groups[i]
		err := provider.Wrap(g.adapter.Name(), "prices", provider.FromContext(bctx.Err()))
		errs = append(errs, err)
		logger.ErrorWithErr(ctx, "provider batch abandoned", err, "provider", g.adapter.Name(), "symbols", len(g.syms))
		for _, s := range g.syms {
			res.Diagnostics = append(res.Diagnostics, diagnostic(s.Canonical, g.adapter.Name(), err))
		}
	}
	return errs
}

// acceptGroup keeps the newest quote per requested symbol; anything the
// adapter returned that was not asked for is ignored.
func (f *Facade) acceptGroup(g batchGroup, quotes []provider.Quote, found map[string]provider.Quote, res *BatchResult) {
	latest := aggregate.LatestBySymbol(quotes)
	for _, s := range g.syms {
		if _, dup := found[s.Canonical]; dup {
			continue
		}
		q, ok := latest[s.Canonical]
		if !ok {
			res.Diagnostics = append(res.Diagnostics, diagnostic(s.Canonical, g.adapter.Name(), provider.ErrNotFound))
			continue
		}
		found[s.Canonical] = q
		f.quotes.Set(quoteKey(s.Canonical), q, f.cfg.QuoteTTL)
	}
}
