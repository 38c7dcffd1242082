package facade_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"marketdata/internal/facade"
	"marketdata/internal/provider"
	"marketdata/internal/provider/dart"
	"marketdata/internal/provider/dartadapter"
)

type fakeDisclosures struct {
	discErr, companyErr, metricsErr error
	gotPageCount                    int
}

func (f *fakeDisclosures) Disclosures(_ context.Context, q dartadapter.DisclosureQuery) ([]dart.Disclosure, error) {
	f.gotPageCount = q.PageCount
	if f.discErr != nil {
		return nil, f.discErr
	}
	return []dart.Disclosure{{ReceiptNo: "20250311001085", StockCode: q.StockCode}}, nil
}

func (f *fakeDisclosures) CompanyInfo(_ context.Context, t dartadapter.Target) (*dart.CompanyInfo, error) {
	if f.companyErr != nil {
		return nil, f.companyErr
	}
	return &dart.CompanyInfo{CorpName: "삼성전자(주)", StockCode: t.StockCode}, nil
}

func (f *fakeDisclosures) FinancialStatements(context.Context, dartadapter.FinancialsQuery) ([]dart.FinancialStatement, error) {
	return []dart.FinancialStatement{}, nil
}

func (f *fakeDisclosures) KeyFinancialMetrics(context.Context, dartadapter.Target, string) (dartadapter.Metrics, error) {
	if f.metricsErr != nil {
		return dartadapter.Metrics{}, f.metricsErr
	}
	eps := decimal.NewFromInt(4950)
	return dartadapter.Metrics{EPS: &eps}, nil
}

func (f *fakeDisclosures) MajorShareholders(context.Context, dartadapter.Target, string) ([]dart.MajorShareholder, error) {
	return []dart.MajorShareholder{}, nil
}

func (f *fakeDisclosures) SearchCompanies(query string) []dartadapter.Company {
	return []dartadapter.Company{{CorpName: query}}
}

func TestDart_UnavailableWithoutSource(t *testing.T) {
	t.Parallel()

	f := facade.New(testConfig, nil)
	defer f.Close()

	require.False(t, f.IsDartAvailable())
	_, err := f.Disclosures(t.Context(), dartadapter.DisclosureQuery{})
	require.ErrorIs(t, err, facade.ErrDartUnavailable)
	_, err = f.CompanySummary(t.Context(), "005930", 10)
	require.ErrorIs(t, err, facade.ErrDartUnavailable)
	_, err = f.SearchCompanies("삼성")
	require.ErrorIs(t, err, facade.ErrDartUnavailable)
}

func TestCompanySummary_BestEffort(t *testing.T) {
	t.Parallel()

	// Arrange: the company lookup fails, the other parts succeed
	src := &fakeDisclosures{companyErr: provider.ErrProviderUnavailable}
	f := facade.New(testConfig, nil, facade.WithDisclosureSource(src))
	defer f.Close()

	// Act
	s, err := f.CompanySummary(t.Context(), "005930", 5)

	// Assert
	require.NoError(t, err)
	require.True(t, f.IsDartAvailable())
	require.Equal(t, 5, src.gotPageCount)
	require.Len(t, s.Disclosures, 1)
	require.Nil(t, s.Company)
	require.NotNil(t, s.Metrics)
	require.True(t, s.Metrics.EPS.Equal(decimal.NewFromInt(4950)))
}

func TestCompanySummary_AllPartsFail(t *testing.T) {
	t.Parallel()

	notFound := provider.Wrap("dart", "resolve", provider.ErrNotFound, "123456")
	src := &fakeDisclosures{discErr: notFound, companyErr: notFound, metricsErr: notFound}
	f := facade.New(testConfig, nil, facade.WithDisclosureSource(src))
	defer f.Close()

	s, err := f.CompanySummary(t.Context(), "123456", 10)

	require.ErrorIs(t, err, provider.ErrNotFound)
	require.NotNil(t, s.Disclosures)
}
