package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"marketdata/internal/facade"
	"marketdata/internal/indicator"
	"marketdata/internal/logger"
	"marketdata/internal/provider"
	"marketdata/internal/provider/dart"
	"marketdata/internal/provider/dartadapter"
	"marketdata/internal/subscription"
	"marketdata/internal/symbol"
)

const defaultInterval = "1h"

type server struct {
	facade         *facade.Facade
	manager        *subscription.Manager
	maxSymbols     int
	requestTimeout time.Duration
	upgrader       websocket.Upgrader
	// quit is closed on shutdown so open streams return.
	quit     chan struct{}
	quitOnce sync.Once
}

func newServer(f *facade.Facade, m *subscription.Manager, maxSymbols int, requestTimeout time.Duration) *server {
	if maxSymbols <= 0 {
		maxSymbols = 1000
	}
	if requestTimeout <= 0 {
		requestTimeout = 15 * time.Second
	}
	return &server{
		facade:         f,
		manager:        m,
		maxSymbols:     maxSymbols,
		requestTimeout: requestTimeout,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		quit: make(chan struct{}),
	}
}

// shutdown ends every open stream. Safe to call more than once.
func (s *server) shutdown() {
	s.quitOnce.Do(func() { close(s.quit) })
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /api/v1/market/prices", s.handlePrices)
	mux.HandleFunc("GET /api/v1/market/prices/{symbol}", s.handlePrice)
	mux.HandleFunc("GET /api/v1/market/candles/{symbol}", s.handleCandles)
	mux.HandleFunc("GET /api/v1/market/dart", s.handleDartAction)
	mux.HandleFunc("GET /api/v1/market/dart/{stockCode}", s.handleDartSummary)
	mux.HandleFunc("GET /api/v1/market/indices", s.handleIndices)
	mux.HandleFunc("GET /api/v1/market/movers", s.handleMovers)
	mux.HandleFunc("GET /api/v1/market/indicators/{symbol}", s.handleIndicators)
	mux.HandleFunc("GET /api/v1/market/stream", s.handleStream)

	return withRequestLog(withJSONHeaders(withGzip(recoverPanic(limitBody(mux)))))
}

type envelope struct {
	Success     bool                `json:"success"`
	Data        any                 `json:"data"`
	Count       *int                `json:"count,omitempty"`
	Timestamp   *time.Time          `json:"timestamp,omitempty"`
	Diagnostics []facade.Diagnostic `json:"diagnostics,omitempty"`
}

type errorBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string, err error) {
	if err != nil && status >= http.StatusInternalServerError {
		logger.ErrorWithErr(r.Context(), msg, err, "path", r.URL.Path, "status", status)
	}
	writeJSON(w, status, errorBody{Success: false, Message: msg})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, symbol.ErrInvalidSymbol),
		errors.Is(err, provider.ErrInvalidInterval),
		errors.Is(err, dartadapter.ErrTargetRequired),
		errors.Is(err, dartadapter.ErrPeriodRequired),
		errors.Is(err, dart.ErrInvalidRequest),
		errors.Is(err, indicator.ErrInvalidIndicator),
		errors.Is(err, facade.ErrNoUniverse):
		return http.StatusBadRequest
	case errors.Is(err, provider.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, facade.ErrDartUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, provider.ErrProviderTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, provider.ErrProviderUnavailable),
		errors.Is(err, provider.ErrRateLimited),
		errors.Is(err, provider.ErrUpstreamMalformed):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *server) withTimeout(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.requestTimeout)
}

func (s *server) handlePrices(w http.ResponseWriter, r *http.Request) {
	symbols := splitCSV(r.URL.Query().Get("symbols"))
	if len(symbols) == 0 {
		writeError(w, r, http.StatusBadRequest, "symbols parameter is required", nil)
		return
	}
	if len(symbols) > s.maxSymbols {
		writeError(w, r, http.StatusBadRequest, fmt.Sprintf("too many symbols (max %d)", s.maxSymbols), nil)
		return
	}

	ctx, cancel := s.withTimeout(r)
	defer cancel()
	res, err := s.facade.GetPricesDetailed(ctx, symbols)
	if err != nil {
		writeError(w, r, batchStatus(err), "failed to fetch market prices", err)
		return
	}
	count, now := len(res.Quotes), time.Now().UTC()
	writeJSON(w, http.StatusOK, envelope{
		Success:     true,
		Data:        res.Quotes,
		Count:       &count,
		Timestamp:   &now,
		Diagnostics: res.Diagnostics,
	})
}

func (s *server) handlePrice(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("symbol")
	ctx, cancel := s.withTimeout(r)
	defer cancel()

	q, err := s.facade.GetPrice(ctx, raw)
	if err != nil {
		writeError(w, r, statusFor(err), "failed to fetch market price", err)
		return
	}
	if q == nil {
		writeError(w, r, http.StatusNotFound, fmt.Sprintf("symbol %s not found", strings.ToUpper(raw)), nil)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: q})
}

type candlesData struct {
	Symbol   string            `json:"symbol"`
	Interval string            `json:"interval"`
	Candles  []provider.Candle `json:"candles"`
}

func (s *server) handleCandles(w http.ResponseWriter, r *http.Request) {
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

	ctx, cancel := s.withTimeout(r)
	defer cancel()
	candles, err := s.facade.GetCandles(ctx, raw, interval, count)
	if err != nil {
		msg := "failed to fetch candle data"
		if errors.Is(err, provider.ErrInvalidInterval) {
			msg = "invalid interval, use 1m, 5m, 1h or 1d"
		}
		writeError(w, r, statusFor(err), msg, err)
		return
	}
	sym := strings.ToUpper(raw)
	if len(candles) == 0 {
		writeError(w, r, http.StatusNotFound, fmt.Sprintf("no candle data found for %s", sym), nil)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: candlesData{Symbol: sym, Interval: interval, Candles: candles}})
}

func (s *server) handleDartSummary(w http.ResponseWriter, r *http.Request) {
	if !s.facade.IsDartAvailable() {
		writeError(w, r, http.StatusServiceUnavailable, facade.ErrDartUnavailable.Error(), nil)
		return
	}
	pageCount, err := intParam(r, "pageCount", 10)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error(), nil)
		return
	}

	ctx, cancel := s.withTimeout(r)
	defer cancel()
	summary, err := s.facade.CompanySummary(ctx, r.PathValue("stockCode"), pageCount)
	if err != nil {
		writeError(w, r, statusFor(err), "failed to fetch DART data", err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: summary})
}

func (s *server) handleDartAction(w http.ResponseWriter, r *http.Request) {
	if !s.facade.IsDartAvailable() {
		writeError(w, r, http.StatusServiceUnavailable, facade.ErrDartUnavailable.Error(), nil)
		return
	}
	q := r.URL.Query()
	target := dartadapter.Target{CorpCode: q.Get("corpCode"), StockCode: q.Get("stockCode")}

	ctx, cancel := s.withTimeout(r)
	defer cancel()

	var (
		data any
		err  error
	)
	switch q.Get("action") {
	case "disclosures":
		dq := dartadapter.DisclosureQuery{Target: target, ReportType: q.Get("reportType")}
		if dq.Start, err = dateParam(r, "startDate"); err == nil {
			dq.End, err = dateParam(r, "endDate")
		}
		if err == nil {
			dq.PageNo, err = intParam(r, "pageNo", 0)
		}
		if err == nil {
			dq.PageCount, err = intParam(r, "pageCount", 0)
		}
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error(), nil)
			return
		}
		data, err = s.facade.Disclosures(ctx, dq)
	case "financials":
		data, err = s.facade.FinancialStatements(ctx, dartadapter.FinancialsQuery{
			Target:     target,
			Year:       q.Get("year"),
			ReportCode: q.Get("reportCode"),
			FsDiv:      q.Get("fsDiv"),
		})
	case "shareholders":
		data, err = s.facade.MajorShareholders(ctx, target, q.Get("year"))
	case "company":
		data, err = s.facade.CompanyInfo(ctx, target)
	case "metrics":
		data, err = s.facade.KeyFinancialMetrics(ctx, target, q.Get("year"))
	case "search":
		query := strings.TrimSpace(q.Get("query"))
		if query == "" {
			writeError(w, r, http.StatusBadRequest, "query parameter is required", nil)
			return
		}
		data, err = s.facade.SearchCompanies(query)
	default:
		writeError(w, r, http.StatusBadRequest, "invalid action parameter", nil)
		return
	}
	if err != nil {
		writeError(w, r, statusFor(err), "failed to fetch DART data", err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return n, nil
}

// dateParam accepts 20060102 as OpenDART writes dates, or 2006-01-02.
func dateParam(r *http.Request, name string) (time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{"20060102", time.DateOnly} {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%s must be YYYYMMDD or YYYY-MM-DD", name)
}
