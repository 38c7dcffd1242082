package ratelimit

import (
	"context"
	"sync"
	"time"

	"marketdata/internal/provider"
	"marketdata/internal/symbol"
)

// MinInterval wraps an adapter and enforces a minimum time between calls.
// Concurrent calls wait until the interval has elapsed since the last call,
// or return early if the context is canceled.
type MinInterval struct {
	P        provider.Adapter
	Interval time.Duration

	mu   sync.Mutex
	last time.Time
}

func (m *MinInterval) Name() string { return m.P.Name() }

func (m *MinInterval) gate(ctx context.Context) error {
	if m.Interval <= 0 {
		return nil
	}
	m.mu.Lock()
	wait := time.Until(m.last.Add(m.Interval))
	m.mu.Unlock()
	if wait <= 0 {
		return nil
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return provider.FromContext(ctx.Err())
	case <-t.C:
		return nil
	}
}

func (m *MinInterval) touch() {
	if m.Interval > 0 {
		m.mu.Lock()
		m.last = time.Now()
		m.mu.Unlock()
	}
}

func (m *MinInterval) Price(ctx context.Context, sym symbol.Symbol) (provider.Quote, error) {
	if err := m.gate(ctx); err != nil {
		return provider.Quote{}, err
	}
	defer m.touch()
	return m.P.Price(ctx, sym)
}

func (m *MinInterval) Prices(ctx context.Context, syms []symbol.Symbol) ([]provider.Quote, error) {
	if err := m.gate(ctx); err != nil {
		return nil, err
	}
	defer m.touch()
	return m.P.Prices(ctx, syms)
}

func (m *MinInterval) Candles(ctx context.Context, sym symbol.Symbol, iv provider.Interval, count int) ([]provider.Candle, error) {
	if err := m.gate(ctx); err != nil {
		return nil, err
	}
	defer m.touch()
	return m.P.Candles(ctx, sym, iv, count)
}

// Wrap applies the budget to p: a token bucket when rpm is set, otherwise a
// minimum interval, otherwise p unchanged.
func Wrap(p provider.Adapter, rpm, burst int, minInterval time.Duration) provider.Adapter {
	if rpm > 0 {
		return &TokenBucketAdapter{P: p, TB: PerMinute(rpm, burst)}
	}
	if minInterval > 0 {
		return &MinInterval{P: p, Interval: minInterval}
	}
	return p
}
