package yahoo

import (
	"net/http"
	"time"

	finance "github.com/piquette/finance-go"
	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"
	"github.com/piquette/finance-go/quote"
)

// Backend is the slice of Yahoo Finance the adapter needs.
type Backend interface {
	Quotes(tickers []string) ([]*finance.Quote, error)
	Chart(ticker string, iv datetime.Interval, start, end time.Time) ([]*finance.ChartBar, error)
}

type financeBackend struct{}

// NewFinanceBackend returns a Backend over piquette/finance-go. finance-go keeps
// its HTTP client in package state, so hc replaces it process wide.
func NewFinanceBackend(hc *http.Client) Backend {
	if hc != nil {
		finance.SetHTTPClient(hc)
	}
	return financeBackend{}
}

func (financeBackend) Quotes(tickers []string) ([]*finance.Quote, error) {
	iter := quote.List(tickers)
	out := make([]*finance.Quote, 0, len(tickers))
	for iter.Next() {
		out = append(out, iter.Quote())
	}
	return out, iter.Err()
}

func (financeBackend) Chart(ticker string, iv datetime.Interval, start, end time.Time) ([]*finance.ChartBar, error) {
	iter := chart.Get(&chart.Params{
		Symbol:   ticker,
		Interval: iv,
		Start:    datetime.New(&start),
		End:      datetime.New(&end),
	})
	var out []*finance.ChartBar
	for iter.Next() {
		out = append(out, iter.Bar())
	}
	return out, iter.Err()
}
