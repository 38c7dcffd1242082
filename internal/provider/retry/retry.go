package retry

import (
	"context"
	"time"

	"marketdata/internal/provider"
	"marketdata/internal/symbol"
)

// Policy bounds how transient upstream failures are retried.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	// AttemptTimeout bounds each individual call. Zero leaves the caller's deadline alone.
	AttemptTimeout time.Duration
}

// Backoff returns the delay before attempt n+1, n starting at 1.
func (p Policy) Backoff(n int) time.Duration {
	d := float64(p.BaseDelay)
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	for i := 1; i < n; i++ {
		d *= mult
		if p.MaxDelay > 0 && time.Duration(d) >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return time.Duration(d)
}

// Do runs fn until it succeeds, fails permanently, the attempts are used up
// or ctx is done. Only errors matching provider.IsTransient are retried.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var (
		out T
		err error
	)
	for n := 1; ; n++ {
		out, err = attempt(ctx, p.AttemptTimeout, fn)
		if err == nil || !provider.IsTransient(err) || n >= attempts || ctx.Err() != nil {
			return out, err
		}
		t := time.NewTimer(p.Backoff(n))
		select {
		case <-ctx.Done():
			t.Stop()
			return out, err
		case <-t.C:
		}
	}
}

func attempt[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	out, err := fn(ctx)
	return out, provider.FromContext(err)
}

// Adapter retries the wrapped adapter's calls under Policy.
type Adapter struct {
	P      provider.Adapter
	Policy Policy
}

func (a *Adapter) Name() string { return a.P.Name() }

func (a *Adapter) Price(ctx context.Context, sym symbol.Symbol) (provider.Quote, error) {
	return Do(ctx, a.Policy, func(ctx context.Context) (provider.Quote, error) {
		return a.P.Price(ctx, sym)
	})
}

func (a *Adapter) Prices(ctx context.Context, syms []symbol.Symbol) ([]provider.Quote, error) {
	return Do(ctx, a.Policy, func(ctx context.Context) ([]provider.Quote, error) {
		return a.P.Prices(ctx, syms)
	})
}

func (a *Adapter) Candles(ctx context.Context, sym symbol.Symbol, iv provider.Interval, count int) ([]provider.Candle, error) {
	return Do(ctx, a.Policy, func(ctx context.Context) ([]provider.Candle, error) {
		return a.P.Candles(ctx, sym, iv, count)
	})
}
