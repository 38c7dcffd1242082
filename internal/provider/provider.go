package provider

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"marketdata/internal/symbol"
)

// Quote is the normalized shape returned by all adapters.
// Prices are decimals to avoid float rounding on KRW and satoshi amounts.
type Quote struct {
	Symbol        string          `json:"symbol"`
	Market        symbol.Market   `json:"market"`
	Price         decimal.Decimal `json:"price"`
	Currency      string          `json:"currency"`
	ChangePercent decimal.Decimal `json:"changePercent"`
	Timestamp     time.Time       `json:"timestamp"`
	Source        string          `json:"source"`
}

// Candle is one OHLCV bar. Series are ascending by Time with unique timestamps.
type Candle struct {
	Symbol   string          `json:"symbol"`
	Interval Interval        `json:"interval"`
	Time     time.Time       `json:"time"`
	Open     decimal.Decimal `json:"open"`
	High     decimal.Decimal `json:"high"`
	Low      decimal.Decimal `json:"low"`
	Close    decimal.Decimal `json:"close"`
	Volume   decimal.Decimal `json:"volume"`
}

// Adapter is the capability set every upstream implements.
//
//go:generate mockgen -package=facade_test -destination=../facade/mock_adapter_test.go -source=provider.go Adapter
type Adapter interface {
	Name() string
	// Price returns ErrNotFound when the upstream has no such symbol.
	Price(ctx context.Context, sym symbol.Symbol) (Quote, error)
	// Prices is best effort and may omit symbols it cannot resolve.
	Prices(ctx context.Context, syms []symbol.Symbol) ([]Quote, error)
	Candles(ctx context.Context, sym symbol.Symbol, iv Interval, count int) ([]Candle, error)
}
