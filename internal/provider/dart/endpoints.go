package dart

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"time"

	"marketdata/internal/provider"
)

const dateLayout = "20060102"

// Disclosure is one filing from list.json.
type Disclosure struct {
	CorpCode    string `json:"corp_code"`
	CorpName    string `json:"corp_name"`
	StockCode   string `json:"stock_code,omitempty"`
	CorpClass   string `json:"corp_cls"`
	ReportName  string `json:"report_nm"`
	ReceiptNo   string `json:"rcept_no"`
	FilerName   string `json:"flr_nm,omitempty"`
	ReceiptDate string `json:"rcept_dt"`
	Remark      string `json:"rm"`
	// ViewerURL is not part of the upstream payload; List fills it in.
	ViewerURL string `json:"viewer_url,omitempty"`
}

// ListParams filters list.json. Zero values are left to the server.
type ListParams struct {
	CorpCode   string
	Start, End time.Time
	// ReportType is the pblntf_ty letter: A periodic, B major events, C issuance, D ownership...
	ReportType string
	PageNo     int
	PageCount  int
}

// ListResponse is one page of disclosures.
type ListResponse struct {
	PageNo     int          `json:"page_no"`
	PageCount  int          `json:"page_count"`
	TotalCount int          `json:"total_count"`
	TotalPage  int          `json:"total_page"`
	List       []Disclosure `json:"list"`
}

// List retrieves filings. "No data" is an empty page, not an error.
func (c *DartAPIClient) List(ctx context.Context, p ListParams) (*ListResponse, error) {
	q := url.Values{}
	if p.CorpCode != "" {
		q.Set("corp_code", p.CorpCode)
	}
	if !p.Start.IsZero() {
		q.Set("bgn_de", p.Start.Format(dateLayout))
	}
	if !p.End.IsZero() {
		q.Set("end_de", p.End.Format(dateLayout))
	}
	if p.ReportType != "" {
		q.Set("pblntf_ty", p.ReportType)
	}
	if p.PageNo > 0 {
		q.Set("page_no", strconv.Itoa(p.PageNo))
	}
	if p.PageCount > 0 {
		q.Set("page_count", strconv.Itoa(p.PageCount))
	}

	b, err := c.fetch(ctx, "list", q)
	if errors.Is(err, provider.ErrNotFound) {
		return &ListResponse{List: []Disclosure{}}, nil
	}
	if err != nil {
		return nil, err
	}
	res, err := decode[ListResponse]("list", b)
	if err != nil {
		return nil, err
	}
	if res.List == nil {
		res.List = []Disclosure{}
	}
	for i := range res.List {
		if no := res.List[i].ReceiptNo; no != "" {
			res.List[i].ViewerURL = DocumentViewerURL(no)
		}
	}
	return res, nil
}

// CompanyInfo is the company.json overview.
type CompanyInfo struct {
	CorpCode      string `json:"corp_code"`
	CorpName      string `json:"corp_name"`
	CorpNameEng   string `json:"corp_name_eng,omitempty"`
	StockName     string `json:"stock_name,omitempty"`
	StockCode     string `json:"stock_code,omitempty"`
	CEOName       string `json:"ceo_nm"`
	CorpClass     string `json:"corp_cls"`
	JurirNo       string `json:"jurir_no"`
	BizrNo        string `json:"bizr_no"`
	Address       string `json:"adres"`
	HomepageURL   string `json:"hm_url,omitempty"`
	IRURL         string `json:"ir_url,omitempty"`
	Phone         string `json:"phn_no,omitempty"`
	Fax           string `json:"fax_no,omitempty"`
	IndustryCode  string `json:"induty_code"`
	EstablishedOn string `json:"est_dt"`
	FiscalMonth   string `json:"acc_mt"`
}

// Company retrieves the overview of corpCode. Returns provider.ErrNotFound for unknown codes.
func (c *DartAPIClient) Company(ctx context.Context, corpCode string) (*CompanyInfo, error) {
	b, err := c.fetch(ctx, "company", url.Values{"corp_code": {corpCode}})
	if err != nil {
		return nil, err
	}
	return decode[CompanyInfo]("company", b)
}

// Report codes accepted by reprt_code.
const (
	ReportAnnual = "11011"
	ReportHalf   = "11012"
	ReportQ1     = "11013"
	ReportQ3     = "11014"
	Consolidated = "CFS"
	Separate     = "OFS"
)

// FinancialStatement is one account line from fnlttSinglAcnt.json.
type FinancialStatement struct {
	ReceiptNo        string `json:"rcept_no"`
	ReportCode       string `json:"reprt_code"`
	BusinessYear     string `json:"bsns_year"`
	CorpCode         string `json:"corp_code"`
	StockCode        string `json:"stock_code"`
	FsDiv            string `json:"fs_div"`
	FsName           string `json:"fs_nm"`
	SjDiv            string `json:"sj_div"`
	SjName           string `json:"sj_nm"`
	AccountName      string `json:"account_nm"`
	CurrentName      string `json:"thstrm_nm"`
	CurrentAmount    string `json:"thstrm_amount"`
	PreviousName     string `json:"frmtrm_nm,omitempty"`
	PreviousAmount   string `json:"frmtrm_amount,omitempty"`
	BeforePrevName   string `json:"bfefrmtrm_nm,omitempty"`
	BeforePrevAmount string `json:"bfefrmtrm_amount,omitempty"`
	Order            string `json:"ord"`
	Currency         string `json:"currency,omitempty"`
}

// AccountParams selects one statement set.
type AccountParams struct {
	CorpCode   string
	Year       string
	ReportCode string
	// FsDiv is CFS or OFS; empty lets the server return both.
	FsDiv string
}

// SingleAccounts retrieves the key accounts of one filing.
func (c *DartAPIClient) SingleAccounts(ctx context.Context, p AccountParams) ([]FinancialStatement, error) {
	q := url.Values{
		"corp_code":  {p.CorpCode},
		"bsns_year":  {p.Year},
		"reprt_code": {p.ReportCode},
	}
	if p.FsDiv != "" {
		q.Set("fs_div", p.FsDiv)
	}
	b, err := c.fetch(ctx, "fnlttSinglAcnt", q)
	if errors.Is(err, provider.ErrNotFound) {
		return []FinancialStatement{}, nil
	}
	if err != nil {
		return nil, err
	}
	res, err := decode[struct {
		List []FinancialStatement `json:"list"`
	}]("fnlttSinglAcnt", b)
	if err != nil {
		return nil, err
	}
	if res.List == nil {
		return []FinancialStatement{}, nil
	}
	return res.List, nil
}

// MajorShareholder is one row of hyslrSttus.json.
type MajorShareholder struct {
	ReceiptNo     string `json:"rcept_no"`
	Name          string `json:"nm"`
	Relation      string `json:"relate"`
	StockKind     string `json:"stock_knd"`
	OpeningShares string `json:"bsis_posesn_stock_co"`
	OpeningRatio  string `json:"bsis_posesn_stock_qota_rt"`
	ClosingShares string `json:"trmend_posesn_stock_co"`
	ClosingRatio  string `json:"trmend_posesn_stock_qota_rt"`
	Remark        string `json:"rm,omitempty"`
}

// MajorShareholders retrieves the largest holders reported in one filing.
func (c *DartAPIClient) MajorShareholders(ctx context.Context, corpCode, year, reportCode string) ([]MajorShareholder, error) {
	q := url.Values{
		"corp_code":  {corpCode},
		"bsns_year":  {year},
		"reprt_code": {reportCode},
	}
	b, err := c.fetch(ctx, "hyslrSttus", q)
	if errors.Is(err, provider.ErrNotFound) {
		return []MajorShareholder{}, nil
	}
	if err != nil {
		return nil, err
	}
	res, err := decode[struct {
		List []MajorShareholder `json:"list"`
	}]("hyslrSttus", b)
	if err != nil {
		return nil, err
	}
	if res.List == nil {
		return []MajorShareholder{}, nil
	}
	return res.List, nil
}
