package symbol

import (
	"errors"
	"sort"
	"strings"
)

// ErrInvalidSymbol is returned for empty or malformed ticker input.
var ErrInvalidSymbol = errors.New("invalid symbol")

// Market classifies which upstream family serves a symbol.
type Market string

const (
	Crypto Market = "CRYPTO"
	KRX    Market = "KRX"
	NASDAQ Market = "NASDAQ"
	Equity Market = "EQUITY"
)

// Symbol is the canonical form of a user-supplied ticker. Venue keeps the
// exchange suffix of a KRX listing (".KS" or ".KQ") when the input named one;
// it does not take part in identity, so 005930 and 005930.KS are one symbol.
type Symbol struct {
	Raw       string `json:"raw"`
	Canonical string `json:"canonical"`
	Market    Market `json:"market"`
	Venue     string `json:"venue,omitempty"`
}

func (s Symbol) String() string { return s.Canonical }

// Ticker is the canonical form with its venue, e.g. 247540.KQ. Normalizing
// it yields the same Symbol again.
func (s Symbol) Ticker() string { return s.Canonical + s.Venue }

// DefaultCryptoBases is the crypto lookup used by Normalize.
var DefaultCryptoBases = []string{
	"BTC", "ETH", "XRP", "SOL", "DOGE", "ADA", "TRX", "AVAX", "DOT", "LINK",
	"MATIC", "BCH", "ETC", "XLM", "ATOM", "NEAR", "SHIB", "SUI", "APT",
}

// quoteRank orders pair sides; the lower ranked side of KRW-BTC or BTC-USDT is the base.
var quoteRank = map[string]int{"KRW": 2, "USD": 2, "USDT": 2, "BTC": 1}

// Resolver classifies symbols against a crypto base lookup table.
type Resolver struct {
	crypto map[string]struct{}
}

// NewResolver builds a Resolver. Bases are upper-cased.
func NewResolver(bases ...string) *Resolver {
	r := &Resolver{crypto: make(map[string]struct{}, len(bases))}
	for _, b := range bases {
		b = strings.ToUpper(strings.TrimSpace(b))
		if b != "" {
			r.crypto[b] = struct{}{}
		}
	}
	return r
}

var defaultResolver = NewResolver(DefaultCryptoBases...)

// Normalize classifies raw with the default crypto table.
func Normalize(raw string) (Symbol, error) { return defaultResolver.Normalize(raw) }

// IsCrypto reports whether base is in the lookup table.
func (r *Resolver) IsCrypto(base string) bool {
	_, ok := r.crypto[base]
	return ok
}

// Normalize trims and upper-cases raw and assigns it a market.
// Rules are applied in order:
//   - six digits, optionally suffixed .KS or .KQ: KRX
//   - a pair with a known quote currency on one side: CRYPTO, canonical is the base
//   - 1-5 letters: CRYPTO when the base is known, otherwise NASDAQ
//   - any other well-formed ticker: EQUITY
func (r *Resolver) Normalize(raw string) (Symbol, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" || !validChars(s) {
		return Symbol{}, ErrInvalidSymbol
	}
	out := Symbol{Raw: raw}

	if code, venue, ok := krxCode(s); ok {
		out.Canonical, out.Market, out.Venue = code, KRX, venue
		return out, nil
	}

	if base, ok := r.pairBase(s); ok {
		out.Canonical, out.Market = base, Crypto
		return out, nil
	}

	if isAlpha(s) && len(s) <= 5 {
		out.Canonical = s
		if r.IsCrypto(s) {
			out.Market = Crypto
		} else {
			out.Market = NASDAQ
		}
		return out, nil
	}

	if !hasAlnum(s) {
		return Symbol{}, ErrInvalidSymbol
	}
	out.Canonical, out.Market = s, Equity
	return out, nil
}

// Key returns the canonical set key for syms: unique canonical forms, sorted, comma joined.
func Key(syms []Symbol) string {
	seen := make(map[string]struct{}, len(syms))
	parts := make([]string, 0, len(syms))
	for _, s := range syms {
		if _, ok := seen[s.Canonical]; ok {
			continue
		}
		seen[s.Canonical] = struct{}{}
		parts = append(parts, s.Canonical)
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func krxCode(s string) (code, venue string, ok bool) {
	code = s
	if i := strings.IndexByte(s, '.'); i >= 0 {
		switch s[i:] {
		case ".KS", ".KQ":
			code, venue = s[:i], s[i:]
		default:
			return "", "", false
		}
	}
	if len(code) != 6 {
		return "", "", false
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return "", "", false
		}
	}
	return code, venue, true
}

func (r *Resolver) pairBase(s string) (string, bool) {
	left, right, ok := strings.Cut(s, "-")
	if !ok || left == "" || right == "" || strings.Contains(right, "-") {
		return "", false
	}
	lr, rr := quoteRank[left], quoteRank[right]
	switch {
	case lr > rr && r.IsCrypto(right):
		return right, true
	case rr > lr && r.IsCrypto(left):
		return left, true
	}
	return "", false
}

func validChars(s string) bool {
	for _, c := range s {
		switch {
		case c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '.', c == '-', c == '^':
		default:
			return false
		}
	}
	return true
}

func isAlpha(s string) bool {
	for _, c := range s {
		if c < 'A' || c > 'Z' {
			return false
		}
	}
	return true
}

func hasAlnum(s string) bool {
	for _, c := range s {
		if (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			return true
		}
	}
	return false
}
