package dartadapter

import (
	"strings"

	"github.com/shopspring/decimal"
	"marketdata/internal/provider/dart"
)

// Metrics are the headline figures of an annual report. Ratios are percentages.
// Absent figures stay nil.
type Metrics struct {
	Revenue          *decimal.Decimal `json:"revenue,omitempty"`
	OperatingProfit  *decimal.Decimal `json:"operatingProfit,omitempty"`
	NetIncome        *decimal.Decimal `json:"netIncome,omitempty"`
	TotalAssets      *decimal.Decimal `json:"totalAssets,omitempty"`
	TotalEquity      *decimal.Decimal `json:"totalEquity,omitempty"`
	TotalLiabilities *decimal.Decimal `json:"totalLiabilities,omitempty"`
	EPS              *decimal.Decimal `json:"eps,omitempty"`
	ROE              *decimal.Decimal `json:"roe,omitempty"`
	ROA              *decimal.Decimal `json:"roa,omitempty"`
	DebtRatio        *decimal.Decimal `json:"debtRatio,omitempty"`
}

var hundred = decimal.NewFromInt(100)

// metricsFrom picks accounts by their Korean name. Later lines overwrite
// earlier ones with the same meaning.
func metricsFrom(statements []dart.FinancialStatement) Metrics {
	var m Metrics
	for _, s := range statements {
		amount, ok := parseAmount(s.CurrentAmount)
		if !ok {
			continue
		}
		name := strings.TrimSpace(s.AccountName)
		switch {
		case strings.Contains(name, "매출액"), strings.Contains(name, "수익"):
			m.Revenue = &amount
		case strings.Contains(name, "영업이익"):
			m.OperatingProfit = &amount
		case strings.Contains(name, "당기순이익"):
			m.NetIncome = &amount
		case name == "자산총계":
			m.TotalAssets = &amount
		case name == "자본총계":
			m.TotalEquity = &amount
		case name == "부채총계":
			m.TotalLiabilities = &amount
		case strings.Contains(name, "주당순이익"):
			m.EPS = &amount
		}
	}

	m.ROE = percent(m.NetIncome, m.TotalEquity)
	m.ROA = percent(m.NetIncome, m.TotalAssets)
	m.DebtRatio = percent(m.TotalLiabilities, m.TotalEquity)
	return m
}

func percent(num, den *decimal.Decimal) *decimal.Decimal {
	if num == nil || den == nil || num.IsZero() || den.IsZero() {
		return nil
	}
	v := num.Div(*den).Mul(hundred).Round(4)
	return &v
}

// parseAmount reads figures such as "1,234,567" or "-5,000".
func parseAmount(s string) (decimal.Decimal, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" || s == "-" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}
