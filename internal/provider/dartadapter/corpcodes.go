package dartadapter

import "strings"

// Company is one entry of the stock code lookup.
type Company struct {
	CorpCode  string `json:"corpCode"`
	CorpName  string `json:"corpName"`
	StockCode string `json:"stockCode,omitempty"`
}

// largeCaps maps KRX stock codes to OpenDART corp codes. The full list is
// published as corpCode.xml; these cover the names users ask for most.
var largeCaps = []Company{
	{StockCode: "005930", CorpCode: "00126380", CorpName: "삼성전자"},
	{StockCode: "000660", CorpCode: "00164742", CorpName: "SK하이닉스"},
	{StockCode: "035420", CorpCode: "00226320", CorpName: "NAVER"},
	{StockCode: "035720", CorpCode: "00258801", CorpName: "카카오"},
	{StockCode: "207940", CorpCode: "00977474", CorpName: "삼성바이오로직스"},
	{StockCode: "005380", CorpCode: "00164779", CorpName: "현대차"},
	{StockCode: "006400", CorpCode: "00126186", CorpName: "삼성SDI"},
	{StockCode: "051910", CorpCode: "00226447", CorpName: "LG화학"},
	{StockCode: "005490", CorpCode: "00190321", CorpName: "POSCO홀딩스"},
	{StockCode: "096770", CorpCode: "00293886", CorpName: "SK이노베이션"},
	{StockCode: "068270", CorpCode: "00246328", CorpName: "셀트리온"},
	{StockCode: "028260", CorpCode: "00107150", CorpName: "삼성물산"},
	{StockCode: "012330", CorpCode: "00159380", CorpName: "현대모비스"},
	{StockCode: "003550", CorpCode: "00100188", CorpName: "LG"},
	{StockCode: "105560", CorpCode: "00401604", CorpName: "KB금융"},
	{StockCode: "055550", CorpCode: "00232009", CorpName: "신한지주"},
	{StockCode: "086790", CorpCode: "00266961", CorpName: "하나금융지주"},
	{StockCode: "032830", CorpCode: "00184622", CorpName: "삼성생명"},
	{StockCode: "000810", CorpCode: "00113025", CorpName: "삼성화재"},
	{StockCode: "316140", CorpCode: "00121015", CorpName: "우리금융지주"},
}

// directory resolves stock codes and searches company names.
type directory struct {
	byStock map[string]Company
	ordered []Company
}

// newDirectory starts from largeCaps; extra maps stock code to corp code and
// overrides or extends it.
func newDirectory(extra map[string]string) *directory {
	d := &directory{byStock: make(map[string]Company, len(largeCaps)+len(extra))}
	for _, c := range largeCaps {
		d.add(c)
	}
	for stock, corp := range extra {
		c := Company{StockCode: stock, CorpCode: corp}
		if prev, ok := d.byStock[stock]; ok {
			c.CorpName = prev.CorpName
		}
		d.add(c)
	}
	return d
}

func (d *directory) add(c Company) {
	if _, ok := d.byStock[c.StockCode]; !ok {
		d.ordered = append(d.ordered, c)
	} else {
		for i := range d.ordered {
			if d.ordered[i].StockCode == c.StockCode {
				d.ordered[i] = c
			}
		}
	}
	d.byStock[c.StockCode] = c
}

func (d *directory) corpCode(stockCode string) (string, bool) {
	c, ok := d.byStock[stockCode]
	return c.CorpCode, ok
}

// search matches query case-insensitively against known names.
func (d *directory) search(query string) []Company {
	q := strings.ToLower(strings.TrimSpace(query))
	out := []Company{}
	if q == "" {
		return out
	}
	for _, c := range d.ordered {
		if c.CorpName != "" && strings.Contains(strings.ToLower(c.CorpName), q) {
			out = append(out, c)
		}
	}
	return out
}
