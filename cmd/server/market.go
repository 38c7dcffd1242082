package main

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"marketdata/internal/facade"
	"marketdata/internal/indicator"
	"marketdata/internal/provider"
	"marketdata/internal/symbol"
)

const defaultIndicators = "sma,ema,rsi"

var markets = map[string]symbol.Market{
	"crypto": symbol.Crypto,
	"krx":    symbol.KRX,
	"nasdaq": symbol.NASDAQ,
	"equity": symbol.Equity,
}

// batchStatus maps a whole-batch failure, where nothing could be served.
func batchStatus(err error) int {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		status = http.StatusBadGateway
	}
	return status
}

func (s *server) handleIndices(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.withTimeout(r)
	defer cancel()

	res, err := s.facade.MarketIndices(ctx)
	if err != nil {
		writeError(w, r, batchStatus(err), "failed to fetch market indices", err)
		return
	}
	count, now := len(res.Indices), time.Now().UTC()
	writeJSON(w, http.StatusOK, envelope{
		Success:     true,
		Data:        res.Indices,
		Count:       &count,
		Timestamp:   &now,
		Diagnostics: res.Diagnostics,
	})
}

type moversData struct {
	Gainers []provider.Quote `json:"gainers"`
	Losers  []provider.Quote `json:"losers"`
}

func (s *server) handleMovers(w http.ResponseWriter, r *http.Request) {
	q := facade.MoversQuery{Universe: splitCSV(r.URL.Query().Get("symbols"))}
	if len(q.Universe) > s.maxSymbols {
		writeError(w, r, http.StatusBadRequest, fmt.Sprintf("too many symbols (max %d)", s.maxSymbols), nil)
		return
	}
	if m := r.URL.Query().Get("market"); m != "" {
		market, ok := markets[strings.ToLower(m)]
		if !ok {
			writeError(w, r, http.StatusBadRequest, "invalid market, use crypto, krx, nasdaq or equity", nil)
			return
		}
		q.Market = market
	}
	var err error
	if q.Limit, err = intParam(r, "limit", 0); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error(), nil)
		return
	}

	ctx, cancel := s.withTimeout(r)
	defer cancel()
	res, err := s.facade.TopMovers(ctx, q)
	if err != nil {
		writeError(w, r, batchStatus(err), "failed to rank market movers", err)
		return
	}
	now := time.Now().UTC()
	writeJSON(w, http.StatusOK, envelope{
		Success:     true,
		Data:        moversData{Gainers: res.Gainers, Losers: res.Losers},
		Timestamp:   &now,
		Diagnostics: res.Diagnostics,
	})
}

type indicatorsData struct {
	Symbol   string `json:"symbol"`
	Interval string `json:"interval"`
	facade.IndicatorSeries
}

func (s *server) handleIndicators(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("symbol")
	interval := r.URL.Query().Get("interval")
	if interval == "" {
		interval = defaultInterval
	}
	count, err := intParam(r, "count", 0)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error(), nil)
		return
	}
	list := r.URL.Query().Get("indicators")
	if strings.TrimSpace(list) == "" {
		list = defaultIndicators
	}
	specs, err := indicator.ParseList(list)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error(), nil)
		return
	}

	ctx, cancel := s.withTimeout(r)
	defer cancel()
	res, err := s.facade.Indicators(ctx, raw, interval, count, specs)
	if err != nil {
		writeError(w, r, statusFor(err), "failed to compute indicators", err)
		return
	}
	sym := strings.ToUpper(raw)
	if len(res.Candles) == 0 {
		writeError(w, r, http.StatusNotFound, fmt.Sprintf("no candle data found for %s", sym), nil)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: indicatorsData{Symbol: sym, Interval: interval, IndicatorSeries: res}})
}
