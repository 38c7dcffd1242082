package dartadapter_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"marketdata/internal/provider"
	"marketdata/internal/provider/dart"
	"marketdata/internal/provider/dartadapter"
	"marketdata/internal/symbol"
)

var now = time.Date(2025, 3, 4, 1, 0, 0, 0, time.UTC)

type recorder struct {
	mu      sync.Mutex
	queries map[string]url.Values
}

func (r *recorder) last(endpoint string) url.Values {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queries[endpoint]
}

func newAdapter(t *testing.T, responses map[string]any) (*dartadapter.Adapter, *recorder) {
	t.Helper()

	rec := &recorder{queries: map[string]url.Values{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.mu.Lock()
		rec.queries[r.URL.Path] = r.URL.Query()
		rec.mu.Unlock()
		body, ok := responses[r.URL.Path]
		if !ok {
			body = map[string]any{"status": "013", "message": "조회된 데이타가 없습니다."}
		}
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)

	client, err := dart.NewDartAPIClient("test-key", dart.WithBaseURL(srv.URL), dart.WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return dartadapter.New(dartadapter.Config{
		CorpCodes: map[string]string{"999990": "00999990"},
		Now:       func() time.Time { return now },
	}, client), rec
}

func TestDisclosures_DefaultsAndStockCode(t *testing.T) {
	t.Parallel()

	// Arrange
	a, rec := newAdapter(t, map[string]any{
		"/list.json": map[string]any{
			"status": "000",
			"list":   []map[string]any{{"rcept_no": "20250303000001", "corp_code": "00126380", "report_nm": "주요사항보고서"}},
		},
	})

	// Act
	ds, err := a.Disclosures(t.Context(), dartadapter.DisclosureQuery{Target: dartadapter.Target{StockCode: "005930"}})

	// Assert
	require.NoError(t, err)
	require.Len(t, ds, 1)
	q := rec.last("/list.json")
	require.Equal(t, "00126380", q.Get("corp_code"))
	require.Equal(t, "20250304", q.Get("end_de"))
	require.Equal(t, "20250202", q.Get("bgn_de"))
	require.Equal(t, "1", q.Get("page_no"))
	require.Equal(t, "10", q.Get("page_count"))
}

func TestDisclosures_UnknownStockCode(t *testing.T) {
	t.Parallel()

	a, _ := newAdapter(t, nil)
	_, err := a.Disclosures(t.Context(), dartadapter.DisclosureQuery{Target: dartadapter.Target{StockCode: "123456"}})
	require.ErrorIs(t, err, provider.ErrNotFound)

	// Configured codes extend the table.
	ds, err := a.Disclosures(t.Context(), dartadapter.DisclosureQuery{Target: dartadapter.Target{StockCode: "999990"}, PageCount: 500})
	require.NoError(t, err)
	require.Empty(t, ds)
}

func TestCompanyInfo_RequiresTarget(t *testing.T) {
	t.Parallel()

	a, _ := newAdapter(t, map[string]any{
		"/company.json": map[string]any{"status": "000", "corp_code": "00164742", "corp_name": "에스케이하이닉스(주)", "stock_code": "000660"},
	})

	_, err := a.CompanyInfo(t.Context(), dartadapter.Target{})
	require.ErrorIs(t, err, dartadapter.ErrTargetRequired)

	info, err := a.CompanyInfo(t.Context(), dartadapter.Target{StockCode: "000660"})
	require.NoError(t, err)
	require.Equal(t, "000660", info.StockCode)
}

func TestKeyFinancialMetrics(t *testing.T) {
	t.Parallel()

	// Arrange
	a, rec := newAdapter(t, map[string]any{
		"/fnlttSinglAcnt.json": map[string]any{
			"status": "000",
			"list": []map[string]any{
				{"account_nm": "매출액", "thstrm_amount": "300,870,903,000,000"},
				{"account_nm": "영업이익", "thstrm_amount": "32,725,961,000,000"},
				{"account_nm": "당기순이익(손실)", "thstrm_amount": "34,451,351,000,000"},
				{"account_nm": "자산총계", "thstrm_amount": "400,000,000,000,000"},
				{"account_nm": "부채총계", "thstrm_amount": "100,000,000,000,000"},
				{"account_nm": "자본총계", "thstrm_amount": "300,000,000,000,000"},
				{"account_nm": "이익잉여금", "thstrm_amount": "-"},
			},
		},
	})

	// Act
	m, err := a.KeyFinancialMetrics(t.Context(), dartadapter.Target{CorpCode: "00126380"}, "")

	// Assert
	require.NoError(t, err)
	q := rec.last("/fnlttSinglAcnt.json")
	require.Equal(t, "2024", q.Get("bsns_year"))
	require.Equal(t, "11011", q.Get("reprt_code"))
	require.Equal(t, "CFS", q.Get("fs_div"))
	require.True(t, m.Revenue.Equal(decimal.RequireFromString("300870903000000")))
	require.True(t, m.OperatingProfit.Equal(decimal.RequireFromString("32725961000000")))
	require.True(t, m.DebtRatio.Equal(decimal.RequireFromString("33.3333")))
	require.True(t, m.ROA.Equal(decimal.RequireFromString("8.6128")))
	require.NotNil(t, m.ROE)
	require.Nil(t, m.EPS)
}

func TestSearchCompanies(t *testing.T) {
	t.Parallel()

	a, _ := newAdapter(t, nil)

	res := a.SearchCompanies("삼성")
	require.Len(t, res, 6)
	require.Equal(t, "005930", res[0].StockCode)

	require.Len(t, a.SearchCompanies("naver"), 1)
	require.Empty(t, a.SearchCompanies(" "))
}

func TestQuoteMethodsFindNothing(t *testing.T) {
	t.Parallel()

	a, _ := newAdapter(t, nil)
	sym := symbol.Symbol{Canonical: "005930", Market: symbol.KRX}

	_, err := a.Price(t.Context(), sym)
	require.ErrorIs(t, err, provider.ErrNotFound)

	qs, err := a.Prices(t.Context(), []symbol.Symbol{sym})
	require.NoError(t, err)
	require.Empty(t, qs)

	_, err = a.Candles(t.Context(), sym, provider.Interval("7m"), 10)
	require.ErrorIs(t, err, provider.ErrInvalidInterval)
}
