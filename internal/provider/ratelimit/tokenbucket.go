package ratelimit

import (
	"context"
	"sync"
	"time"

	"marketdata/internal/provider"
	"marketdata/internal/symbol"
)

// TokenBucket is a token bucket limiter.
// - rate: tokens per second
// - capacity: maximum tokens the bucket can hold (burst)
type TokenBucket struct {
	rate     float64
	capacity float64

	mu     sync.Mutex
	tokens float64
	last   time.Time
}

func NewTokenBucket(tokensPerSecond float64, burst int) *TokenBucket {
	if tokensPerSecond <= 0 {
		tokensPerSecond = 0.0000001
	}
	if burst <= 0 {
		burst = 1
	}
	return &TokenBucket{
		rate:     tokensPerSecond,
		capacity: float64(burst),
		tokens:   float64(burst), // start full to allow an initial burst
		last:     time.Now(),
	}
}

// PerMinute builds a bucket from a requests-per-minute budget.
func PerMinute(rpm, burst int) *TokenBucket {
	return NewTokenBucket(float64(rpm)/60.0, burst)
}

// Wait blocks until one token is available or ctx is done.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(tb.last).Seconds()
		if elapsed > 0 {
			tb.tokens += elapsed * tb.rate
			if tb.tokens > tb.capacity {
				tb.tokens = tb.capacity
			}
			tb.last = now
		}
		if tb.tokens >= 1 {
			tb.tokens -= 1
			tb.mu.Unlock()
			return nil
		}
		deficit := 1 - tb.tokens
		tb.mu.Unlock()

		waitDur := time.Duration(deficit / tb.rate * float64(time.Second))
		if waitDur <= 0 {
			waitDur = time.Millisecond
		}
		timer := time.NewTimer(waitDur)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// TokenBucketAdapter gates every upstream call on a shared token bucket.
type TokenBucketAdapter struct {
	P  provider.Adapter
	TB *TokenBucket
}

func (t *TokenBucketAdapter) Name() string { return t.P.Name() }

func (t *TokenBucketAdapter) wait(ctx context.Context) error {
	if t.TB == nil {
		return nil
	}
	return provider.FromContext(t.TB.Wait(ctx))
}

func (t *TokenBucketAdapter) Price(ctx context.Context, sym symbol.Symbol) (provider.Quote, error) {
	if err := t.wait(ctx); err != nil {
		return provider.Quote{}, err
	}
	return t.P.Price(ctx, sym)
}

func (t *TokenBucketAdapter) Prices(ctx context.Context, syms []symbol.Symbol) ([]provider.Quote, error) {
	if err := t.wait(ctx); err != nil {
		return nil, err
	}
	return t.P.Prices(ctx, syms)
}

func (t *TokenBucketAdapter) Candles(ctx context.Context, sym symbol.Symbol, iv provider.Interval, count int) ([]provider.Candle, error) {
	if err := t.wait(ctx); err != nil {
		return nil, err
	}
	return t.P.Candles(ctx, sym, iv, count)
}
