package facade

import (
	"context"
	"errors"
	"sync"

	"marketdata/internal/logger"
	"marketdata/internal/provider/dart"
	"marketdata/internal/provider/dartadapter"
)

// ErrDartUnavailable is returned by the disclosure operations when no DART key is configured.
var ErrDartUnavailable = errors.New("DART API is not configured")

// DisclosureSource is the enrichment side of the DART adapter.
type DisclosureSource interface {
	Disclosures(ctx context.Context, q dartadapter.DisclosureQuery) ([]dart.Disclosure, error)
	CompanyInfo(ctx context.Context, t dartadapter.Target) (*dart.CompanyInfo, error)
	FinancialStatements(ctx context.Context, q dartadapter.FinancialsQuery) ([]dart.FinancialStatement, error)
	KeyFinancialMetrics(ctx context.Context, t dartadapter.Target, year string) (dartadapter.Metrics, error)
	MajorShareholders(ctx context.Context, t dartadapter.Target, year string) ([]dart.MajorShareholder, error)
	SearchCompanies(query string) []dartadapter.Company
}

// IsDartAvailable reports whether the disclosure operations can be served.
func (f *Facade) IsDartAvailable() bool { return f.dart != nil }

func (f *Facade) Disclosures(ctx context.Context, q dartadapter.DisclosureQuery) ([]dart.Disclosure, error) {
	if f.dart == nil {
		return nil, ErrDartUnavailable
	}
	return f.dart.Disclosures(ctx, q)
}

func (f *Facade) CompanyInfo(ctx context.Context, t dartadapter.Target) (*dart.CompanyInfo, error) {
	if f.dart == nil {
		return nil, ErrDartUnavailable
	}
	return f.dart.CompanyInfo(ctx, t)
}

func (f *Facade) FinancialStatements(ctx context.Context, q dartadapter.FinancialsQuery) ([]dart.FinancialStatement, error) {
	if f.dart == nil {
		return nil, ErrDartUnavailable
	}
	return f.dart.FinancialStatements(ctx, q)
}

func (f *Facade) KeyFinancialMetrics(ctx context.Context, t dartadapter.Target, year string) (dartadapter.Metrics, error) {
	if f.dart == nil {
		return dartadapter.Metrics{}, ErrDartUnavailable
	}
	return f.dart.KeyFinancialMetrics(ctx, t, year)
}

func (f *Facade) MajorShareholders(ctx context.Context, t dartadapter.Target, year string) ([]dart.MajorShareholder, error) {
	if f.dart == nil {
		return nil, ErrDartUnavailable
	}
	return f.dart.MajorShareholders(ctx, t, year)
}

func (f *Facade) SearchCompanies(query string) ([]dartadapter.Company, error) {
	if f.dart == nil {
		return nil, ErrDartUnavailable
	}
	return f.dart.SearchCompanies(query), nil
}

// CompanySummary bundles what a stock page shows about a KRX listing.
type CompanySummary struct {
	StockCode   string               `json:"stockCode"`
	Disclosures []dart.Disclosure    `json:"disclosures"`
	Company     *dart.CompanyInfo    `json:"company,omitempty"`
	Metrics     *dartadapter.Metrics `json:"metrics,omitempty"`
}

// CompanySummary fetches recent disclosures, the company overview and key
// metrics concurrently. Each part is best effort; an error is returned only
// when all three fail.
func (f *Facade) CompanySummary(ctx context.Context, stockCode string, pageCount int) (CompanySummary, error) {
	out := CompanySummary{StockCode: stockCode, Disclosures: []dart.Disclosure{}}
	if f.dart == nil {
		return out, ErrDartUnavailable
	}
	target := dartadapter.Target{StockCode: stockCode}

	var (
		wg                          sync.WaitGroup
		discErr, companyErr, metErr error
	)
	wg.Add(3)
	go func() {
		defer wg.Done()
		ds, err := f.dart.Disclosures(ctx, dartadapter.DisclosureQuery{Target: target, PageCount: pageCount})
		if err != nil {
			discErr = err
			return
		}
		out.Disclosures = ds
	}()
	go func() {
		defer wg.Done()
		info, err := f.dart.CompanyInfo(ctx, target)
		if err != nil {
			companyErr = err
			return
		}
		out.Company = info
	}()
	go func() {
		defer wg.Done()
		m, err := f.dart.KeyFinancialMetrics(ctx, target, "")
		if err != nil {
			metErr = err
			return
		}
		out.Metrics = &m
	}()
	wg.Wait()

	for part, err := range map[string]error{"disclosures": discErr, "company": companyErr, "metrics": metErr} {
		if err != nil {
			logger.Warn(ctx, "company summary part failed", "part", part, "stock_code", stockCode, "error", err.Error())
		}
	}
	if discErr != nil && companyErr != nil && metErr != nil {
		return out, errors.Join(discErr, companyErr, metErr)
	}
	return out, nil
}
