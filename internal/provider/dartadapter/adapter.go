package dartadapter

import (
	"context"
	"errors"
	"strconv"
	"time"

	"marketdata/internal/provider"
	"marketdata/internal/provider/dart"
	"marketdata/internal/symbol"
)

const (
	defaultLookback  = 30 * 24 * time.Hour
	defaultPageCount = 10
	maxPageCount     = 100
)

var (
	// ErrTargetRequired is returned when neither a corp code nor a stock code is given.
	ErrTargetRequired = errors.New("corp code or stock code is required")
	ErrPeriodRequired = errors.New("year and report code are required")
)

// kst is the zone OpenDART dates are expressed in.
var kst = time.FixedZone("KST", 9*60*60)

type Config struct {
	Name string // display name, default: dart
	// CorpCodes extends the built-in stock code -> corp code table.
	CorpCodes map[string]string
	Now       func() time.Time
}

// Target names a company by OpenDART corp code or, failing that, KRX stock code.
type Target struct {
	CorpCode  string
	StockCode string
}

// DisclosureQuery filters Disclosures. An empty Target lists every filer.
type DisclosureQuery struct {
	Target
	Start, End time.Time
	ReportType string
	PageNo     int
	PageCount  int
}

// FinancialsQuery selects one statement set.
type FinancialsQuery struct {
	Target
	Year       string
	ReportCode string
	FsDiv      string
}

// Adapter exposes OpenDART as an enrichment source. It carries no prices,
// so the quote and candle methods report nothing found.
type Adapter struct {
	cfg    Config
	client *dart.DartAPIClient
	dir    *directory
}

func New(cfg Config, client *dart.DartAPIClient) *Adapter {
	if cfg.Name == "" {
		cfg.Name = "dart"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Adapter{cfg: cfg, client: client, dir: newDirectory(cfg.CorpCodes)}
}

func (a *Adapter) Name() string { return a.cfg.Name }

func (a *Adapter) Price(_ context.Context, sym symbol.Symbol) (provider.Quote, error) {
	return provider.Quote{}, provider.Wrap(a.cfg.Name, "price", provider.ErrNotFound, sym.Canonical)
}

func (a *Adapter) Prices(context.Context, []symbol.Symbol) ([]provider.Quote, error) {
	return []provider.Quote{}, nil
}

func (a *Adapter) Candles(_ context.Context, _ symbol.Symbol, iv provider.Interval, _ int) ([]provider.Candle, error) {
	if _, err := provider.ParseInterval(string(iv)); err != nil {
		return nil, err
	}
	return []provider.Candle{}, nil
}

// resolve returns the corp code of t. An empty target is allowed only when required is false.
func (a *Adapter) resolve(t Target, required bool) (string, error) {
	if t.CorpCode != "" {
		return t.CorpCode, nil
	}
	if t.StockCode != "" {
		code, ok := a.dir.corpCode(t.StockCode)
		if !ok {
			return "", provider.Wrap(a.cfg.Name, "resolve", provider.ErrNotFound, t.StockCode)
		}
		return code, nil
	}
	if required {
		return "", ErrTargetRequired
	}
	return "", nil
}

// Disclosures lists recent filings, newest first. The window defaults to the last 30 days.
func (a *Adapter) Disclosures(ctx context.Context, q DisclosureQuery) ([]dart.Disclosure, error) {
	corp, err := a.resolve(q.Target, false)
	if err != nil {
		return nil, err
	}
	end := q.End
	if end.IsZero() {
		end = a.cfg.Now()
	}
	start := q.Start
	if start.IsZero() {
		start = end.Add(-defaultLookback)
	}
	pageNo := max(q.PageNo, 1)
	pageCount := q.PageCount
	if pageCount <= 0 {
		pageCount = defaultPageCount
	}
	pageCount = min(pageCount, maxPageCount)

	res, err := a.client.List(ctx, dart.ListParams{
		CorpCode:   corp,
		Start:      start.In(kst),
		End:        end.In(kst),
		ReportType: q.ReportType,
		PageNo:     pageNo,
		PageCount:  pageCount,
	})
	if err != nil {
		return nil, provider.Wrap(a.cfg.Name, "disclosures", err, corp)
	}
	return res.List, nil
}

func (a *Adapter) CompanyInfo(ctx context.Context, t Target) (*dart.CompanyInfo, error) {
	corp, err := a.resolve(t, true)
	if err != nil {
		return nil, err
	}
	info, err := a.client.Company(ctx, corp)
	if err != nil {
		return nil, provider.Wrap(a.cfg.Name, "company", err, corp)
	}
	return info, nil
}

func (a *Adapter) FinancialStatements(ctx context.Context, q FinancialsQuery) ([]dart.FinancialStatement, error) {
	corp, err := a.resolve(q.Target, true)
	if err != nil {
		return nil, err
	}
	if q.Year == "" || q.ReportCode == "" {
		return nil, ErrPeriodRequired
	}
	rows, err := a.client.SingleAccounts(ctx, dart.AccountParams{
		CorpCode:   corp,
		Year:       q.Year,
		ReportCode: q.ReportCode,
		FsDiv:      q.FsDiv,
	})
	if err != nil {
		return nil, provider.Wrap(a.cfg.Name, "financials", err, corp)
	}
	return rows, nil
}

// KeyFinancialMetrics reads the consolidated annual report of year, last year when empty.
func (a *Adapter) KeyFinancialMetrics(ctx context.Context, t Target, year string) (Metrics, error) {
	if year == "" {
		year = a.lastYear()
	}
	rows, err := a.FinancialStatements(ctx, FinancialsQuery{
		Target:     t,
		Year:       year,
		ReportCode: dart.ReportAnnual,
		FsDiv:      dart.Consolidated,
	})
	if err != nil {
		return Metrics{}, err
	}
	return metricsFrom(rows), nil
}

// MajorShareholders reads the annual report of year, last year when empty.
func (a *Adapter) MajorShareholders(ctx context.Context, t Target, year string) ([]dart.MajorShareholder, error) {
	corp, err := a.resolve(t, true)
	if err != nil {
		return nil, err
	}
	if year == "" {
		year = a.lastYear()
	}
	rows, err := a.client.MajorShareholders(ctx, corp, year, dart.ReportAnnual)
	if err != nil {
		return nil, provider.Wrap(a.cfg.Name, "shareholders", err, corp)
	}
	return rows, nil
}

// SearchCompanies matches query against the names of known companies.
func (a *Adapter) SearchCompanies(query string) []Company {
	return a.dir.search(query)
}

func (a *Adapter) lastYear() string {
	return strconv.Itoa(a.cfg.Now().In(kst).Year() - 1)
}
