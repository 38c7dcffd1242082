package facade

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"marketdata/internal/provider"
	"marketdata/internal/symbol"
	"marketdata/internal/trace"
)

// ErrNoUniverse is returned by TopMovers when neither the query nor the
// configuration names any symbol.
var ErrNoUniverse = errors.New("no symbols to rank")

// Index names a benchmark and the ticker that tracks it.
type Index struct {
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
}

var DefaultIndices = []Index{
	{Name: "KOSPI", Symbol: "^KS11"},
	{Name: "KOSDAQ", Symbol: "^KQ11"},
	{Name: "KOSPI200", Symbol: "^KS200"},
	{Name: "NASDAQ", Symbol: "^IXIC"},
}

type IndexQuote struct {
	Name  string         `json:"name"`
	Quote provider.Quote `json:"quote"`
}

type IndicesResult struct {
	Indices     []IndexQuote `json:"indices"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}

// MarketIndices quotes every configured benchmark through the batch path, in
// configuration order. Benchmarks that could not be served are diagnosed.
func (f *Facade) MarketIndices(ctx context.Context) (IndicesResult, error) {
	raws := make([]string, len(f.cfg.Indices))
	for i, ix := range f.cfg.Indices {
		raws[i] = ix.Symbol
	}
	res, err := f.GetPricesDetailed(ctx, raws)
	out := IndicesResult{Indices: []IndexQuote{}, Diagnostics: res.Diagnostics}
	if err != nil {
		return out, err
	}

	bySymbol := make(map[string]provider.Quote, len(res.Quotes))
	for _, q := range res.Quotes {
		bySymbol[q.Symbol] = q
	}
	for _, ix := range f.cfg.Indices {
		sym, err := f.resolver.Normalize(ix.Symbol)
		if err != nil {
			continue
		}
		if q, ok := bySymbol[sym.Canonical]; ok {
			out.Indices = append(out.Indices, IndexQuote{Name: ix.Name, Quote: q})
		}
	}
	return out, nil
}

const defaultMoverLimit = 5

// MoversQuery selects the symbols TopMovers ranks. An empty Universe uses the
// configured one; a Market keeps only quotes stamped with it.
type MoversQuery struct {
	Universe []string
	Market   symbol.Market
	Limit    int // 5
}

type Movers struct {
	Gainers     []provider.Quote `json:"gainers"`
	Losers      []provider.Quote `json:"losers"`
	Diagnostics []Diagnostic     `json:"diagnostics"`
}

// TopMovers ranks the universe by change percent. Gainers are the largest
// positive moves, strongest first; losers the largest negative moves,
// weakest first. Unchanged quotes appear in neither list.
func (f *Facade) TopMovers(ctx context.Context, q MoversQuery) (_ Movers, err error) {
	universe := q.Universe
	if len(universe) == 0 {
		universe = f.cfg.MoverUniverse
	}
	if len(universe) == 0 {
		return Movers{}, ErrNoUniverse
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultMoverLimit
	}

	ctx, span := trace.StartSpan(ctx, "facade.TopMovers", attribute.Int("universe", len(universe)))
	defer func() { trace.EndSpan(span, err) }()

	res, err := f.GetPricesDetailed(ctx, universe)
	out := Movers{Gainers: []provider.Quote{}, Losers: []provider.Quote{}, Diagnostics: res.Diagnostics}
	if err != nil {
		return out, fmt.Errorf("top movers: %w", err)
	}

	quotes := make([]provider.Quote, 0, len(res.Quotes))
	for _, qt := range res.Quotes {
		if q.Market == "" || qt.Market == q.Market {
			quotes = append(quotes, qt)
		}
	}
	slices.SortStableFunc(quotes, func(a, b provider.Quote) int {
		return b.ChangePercent.Cmp(a.ChangePercent)
	})
	for _, qt := range quotes {
		if len(out.Gainers) == limit || !qt.ChangePercent.IsPositive() {
			break
		}
		out.Gainers = append(out.Gainers, qt)
	}
	for i := len(quotes) - 1; i >= 0; i-- {
		qt := quotes[i]
		if len(out.Losers) == limit || !qt.ChangePercent.IsNegative() {
			break
		}
		out.Losers = append(out.Losers, qt)
	}
	return out, nil
}
