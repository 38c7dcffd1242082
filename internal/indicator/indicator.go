// Package indicator computes moving averages and RSI over candle closes.
// Every series has one value per input bar; bars inside the warm-up window
// are null.
package indicator

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrInvalidIndicator = errors.New("invalid indicator")

type Kind string

const (
	SMA Kind = "sma"
	EMA Kind = "ema"
	RSI Kind = "rsi"
)

// MaxPeriod bounds a period to what a 500 bar series can warm up.
const MaxPeriod = 200

var defaultPeriod = map[Kind]int{SMA: 20, EMA: 12, RSI: 14}

// Spec is one requested series, written "sma:20" or just "rsi".
type Spec struct {
	Kind   Kind
	Period int
}

func (s Spec) String() string { return fmt.Sprintf("%s:%d", s.Kind, s.Period) }

// Parse reads a spec; the period defaults per kind (sma 20, ema 12, rsi 14).
func Parse(s string) (Spec, error) {
	name, period, hasPeriod := strings.Cut(strings.ToLower(strings.TrimSpace(s)), ":")
	k := Kind(name)
	def, ok := defaultPeriod[k]
	if !ok {
		return Spec{}, fmt.Errorf("%w: %q", ErrInvalidIndicator, s)
	}
	if !hasPeriod {
		return Spec{Kind: k, Period: def}, nil
	}
	n, err := strconv.Atoi(period)
	if err != nil || n < 1 || n > MaxPeriod {
		return Spec{}, fmt.Errorf("%w: period of %q must be 1..%d", ErrInvalidIndicator, s, MaxPeriod)
	}
	return Spec{Kind: k, Period: n}, nil
}

// ParseList reads a comma separated list of specs.
func ParseList(s string) ([]Spec, error) {
	var out []Spec
	for part := range strings.SplitSeq(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		spec, err := Parse(part)
		if err != nil {
			return nil, err
		}
		out = append(out, spec)
	}
	return out, nil
}

// Compute runs spec over values.
func Compute(spec Spec, values []decimal.Decimal) []decimal.NullDecimal {
	switch spec.Kind {
	case SMA:
		return SimpleMA(values, spec.Period)
	case EMA:
		return ExponentialMA(values, spec.Period)
	case RSI:
		return RelativeStrength(values, spec.Period)
	}
	return make([]decimal.NullDecimal, len(values))
}

func valid(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

// SimpleMA is the mean of the last period values.
func SimpleMA(values []decimal.Decimal, period int) []decimal.NullDecimal {
	out := make([]decimal.NullDecimal, len(values))
	if period < 1 {
		return out
	}
	n := decimal.NewFromInt(int64(period))
	sum := decimal.Zero
	for i, v := range values {
		sum = sum.Add(v)
		if i >= period {
			sum = sum.Sub(values[i-period])
		}
		if i >= period-1 {
			out[i] = valid(sum.Div(n))
		}
	}
	return out
}

// ExponentialMA seeds with the simple mean of the first period values and
// weights each later value by 2/(period+1).
func ExponentialMA(values []decimal.Decimal, period int) []decimal.NullDecimal {
	out := make([]decimal.NullDecimal, len(values))
	if period < 1 || len(values) < period {
		return out
	}
	k := decimal.NewFromInt(2).Div(decimal.NewFromInt(int64(period + 1)))
	prev := decimal.Sum(decimal.Zero, values[:period]...).Div(decimal.NewFromInt(int64(period)))
	out[period-1] = valid(prev)
	for i := period; i < len(values); i++ {
		prev = values[i].Sub(prev).Mul(k).Add(prev)
		out[i] = valid(prev)
	}
	return out
}

var hundred = decimal.NewFromInt(100)

// RelativeStrength is Wilder's RSI. The first value lands on index period,
// once period changes have been seen.
func RelativeStrength(values []decimal.Decimal, period int) []decimal.NullDecimal {
	out := make([]decimal.NullDecimal, len(values))
	if period < 1 || len(values) <= period {
		return out
	}
	p := decimal.NewFromInt(int64(period))
	pm1 := decimal.NewFromInt(int64(period - 1))

	gain, loss := decimal.Zero, decimal.Zero
	for i := 1; i <= period; i++ {
		g, l := change(values[i-1], values[i])
		gain, loss = gain.Add(g), loss.Add(l)
	}
	gain, loss = gain.Div(p), loss.Div(p)
	out[period] = valid(rsi(gain, loss))

	for i := period + 1; i < len(values); i++ {
		g, l := change(values[i-1], values[i])
		gain = gain.Mul(pm1).Add(g).Div(p)
		loss = loss.Mul(pm1).Add(l).Div(p)
		out[i] = valid(rsi(gain, loss))
	}
	return out
}

func change(prev, cur decimal.Decimal) (gain, loss decimal.Decimal) {
	d := cur.Sub(prev)
	if d.IsPositive() {
		return d, decimal.Zero
	}
	return decimal.Zero, d.Neg()
}

func rsi(gain, loss decimal.Decimal) decimal.Decimal {
	if loss.IsZero() {
		if gain.IsZero() {
			return decimal.NewFromInt(50)
		}
		return hundred
	}
	rs := gain.Div(loss)
	return hundred.Sub(hundred.Div(decimal.NewFromInt(1).Add(rs)))
}
