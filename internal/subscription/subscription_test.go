package subscription_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"marketdata/internal/facade"
	"marketdata/internal/provider"
	"marketdata/internal/subscription"
	"marketdata/internal/symbol"
)

type fakeSource struct {
	calls atomic.Int32
	mu    sync.Mutex
	err   error
	got   [][]string
	// budgets records the time left on each poll's context.
	budgets []time.Duration
}

func (f *fakeSource) Normalize(raw string) (symbol.Symbol, error) { return symbol.Normalize(raw) }

func (f *fakeSource) GetPricesDetailed(ctx context.Context, raws []string) (facade.BatchResult, error) {
	n := f.calls.Add(1)
	f.mu.Lock()
	f.got = append(f.got, raws)
	if dl, ok := ctx.Deadline(); ok {
		f.budgets = append(f.budgets, time.Until(dl))
	}
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return facade.BatchResult{}, err
	}
	res := facade.BatchResult{}
	for _, r := range raws {
		res.Quotes = append(res.Quotes, provider.Quote{Symbol: r, Price: decimal.NewFromInt(int64(n))})
	}
	return res, nil
}

func (f *fakeSource) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func collect(buf int) (subscription.Listener, chan subscription.Update) {
	ch := make(chan subscription.Update, buf)
	return func(u subscription.Update) {
		select {
		case ch <- u:
		default:
		}
	}, ch
}

func next(t *testing.T, ch chan subscription.Update) subscription.Update {
	t.Helper()
	select {
	case u := <-ch:
		return u
	case <-time.After(2 * time.Second):
		require.FailNow(t, "no update received")
		return subscription.Update{}
	}
}

func TestSubscribe_SharesTaskPerCanonicalSet(t *testing.T) {
	t.Parallel()

	// Arrange
	src := &fakeSource{}
	m := subscription.NewManager(subscription.Config{PollInterval: time.Hour}, src)
	defer m.Close()
	l1, ch1 := collect(8)
	l2, ch2 := collect(8)

	// Act
	h1, err := m.Subscribe([]string{"btc", "ETH"}, l1)
	require.NoError(t, err)
	u := next(t, ch1)
	h2, err := m.Subscribe([]string{"KRW-ETH", "BTC", "eth"}, l2)
	require.NoError(t, err)

	// Assert: one task, the late listener gets the last update replayed
	require.Equal(t, h1.Key, h2.Key)
	require.Equal(t, "BTC,ETH", h1.Key)
	require.NotEqual(t, h1.ID, h2.ID)
	replayed := next(t, ch2)
	require.Equal(t, u.At, replayed.At)
	require.Len(t, replayed.Quotes, 2)
	require.EqualValues(t, 1, src.calls.Load())
	require.Equal(t, subscription.Stats{Tasks: 1, Listeners: 2}, m.Stats())
}

func TestSubscribe_PollsUntilLastListenerLeaves(t *testing.T) {
	t.Parallel()

	// Arrange
	src := &fakeSource{}
	m := subscription.NewManager(subscription.Config{PollInterval: 10 * time.Millisecond}, src)
	defer m.Close()
	l1, ch1 := collect(64)
	l2, _ := collect(64)
	h1, err := m.Subscribe([]string{"AAPL"}, l1)
	require.NoError(t, err)
	h2, err := m.Subscribe([]string{"aapl"}, l2)
	require.NoError(t, err)

	// Act: wait for a few ticks
	for i := 0; i < 3; i++ {
		next(t, ch1)
	}
	h1.Unsubscribe()
	h1.Unsubscribe()
	require.Equal(t, subscription.Stats{Tasks: 1, Listeners: 1}, m.Stats())
	h2.Unsubscribe()

	// Assert: the poll goroutine has exited, no more upstream calls
	require.Equal(t, 0, m.Stats().Tasks)
	calls := src.calls.Load()
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, calls, src.calls.Load())
}

func TestSubscribe_FailuresAreDeliveredAndPollingContinues(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	src.setErr(provider.ErrProviderUnavailable)
	m := subscription.NewManager(subscription.Config{PollInterval: 10 * time.Millisecond}, src)
	defer m.Close()
	l, ch := collect(64)
	_, err := m.Subscribe([]string{"BTC"}, l)
	require.NoError(t, err)

	u := next(t, ch)
	require.ErrorIs(t, u.Err, provider.ErrProviderUnavailable)
	require.NotEmpty(t, u.Error)
	require.NotNil(t, u.Quotes)

	src.setErr(nil)
	for {
		u = next(t, ch)
		if u.Err == nil {
			break
		}
	}
	require.Len(t, u.Quotes, 1)
	require.Empty(t, u.Error)
}

func TestSubscribe_SlowListenerDoesNotBlockOthers(t *testing.T) {
	t.Parallel()

	// Arrange: the first listener never returns until the test ends
	src := &fakeSource{}
	m := subscription.NewManager(subscription.Config{PollInterval: 5 * time.Millisecond, MailboxSize: 1}, src)
	block := make(chan struct{})
	defer m.Close()
	defer close(block)
	_, err := m.Subscribe([]string{"BTC"}, func(subscription.Update) { <-block })
	require.NoError(t, err)
	fast, ch := collect(64)
	_, err = m.Subscribe([]string{"BTC"}, fast)
	require.NoError(t, err)

	// Act + Assert: the fast listener keeps receiving fresh updates
	var last time.Time
	for i := 0; i < 5; i++ {
		u := next(t, ch)
		require.False(t, u.At.Before(last))
		last = u.At
	}
	require.Eventually(t, func() bool { return m.Stats().Dropped > 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestSubscribe_UnsubscribeFromListener(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	m := subscription.NewManager(subscription.Config{PollInterval: 5 * time.Millisecond}, src)
	defer m.Close()

	done := make(chan struct{})
	var h subscription.Handle
	var once sync.Once
	ready := make(chan struct{})
	h, err := m.Subscribe([]string{"ETH"}, func(subscription.Update) {
		<-ready
		once.Do(func() {
			h.Unsubscribe()
			close(done)
		})
	})
	require.NoError(t, err)
	close(ready)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		require.FailNow(t, "unsubscribe from inside a listener did not return")
	}
	require.Equal(t, 0, m.Stats().Tasks)
}

func TestSubscribe_Validation(t *testing.T) {
	t.Parallel()

	m := subscription.NewManager(subscription.Config{}, &fakeSource{})
	l, _ := collect(1)

	_, err := m.Subscribe([]string{"BTC", "not valid!"}, l)
	require.ErrorIs(t, err, symbol.ErrInvalidSymbol)

	_, err = m.Subscribe(nil, l)
	require.ErrorIs(t, err, subscription.ErrNoSymbols)

	_, err = m.Subscribe([]string{"BTC"}, nil)
	require.ErrorIs(t, err, subscription.ErrNoListener)

	m.Close()
	m.Close()
	_, err = m.Subscribe([]string{"BTC"}, l)
	require.True(t, errors.Is(err, subscription.ErrClosed))
}

func TestClose_ReleasesHandles(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	m := subscription.NewManager(subscription.Config{PollInterval: time.Hour}, src)
	l, ch := collect(4)
	h, err := m.Subscribe([]string{"BTC", "AAPL"}, l)
	require.NoError(t, err)
	next(t, ch)

	m.Close()

	require.Equal(t, subscription.Stats{}, m.Stats())
	h.Unsubscribe()
	src.mu.Lock()
	defer src.mu.Unlock()
	require.Equal(t, [][]string{{"AAPL", "BTC"}}, src.got)
}

func TestSubscribe_PollsVenueTickerWithDefaultTimeout(t *testing.T) {
	t.Parallel()

	// Arrange
	src := &fakeSource{}
	m := subscription.NewManager(subscription.Config{PollInterval: time.Hour}, src)
	defer m.Close()
	l, ch := collect(4)

	// Act
	h, err := m.Subscribe([]string{"247540.KQ", "btc"}, l)
	require.NoError(t, err)
	next(t, ch)

	// Assert: the KOSDAQ venue survives into the poll, and a poll may run
	// longer than the facade's default batch timeout
	require.Equal(t, "247540,BTC", h.Key)
	src.mu.Lock()
	defer src.mu.Unlock()
	require.Equal(t, []string{"247540.KQ", "BTC"}, src.got[0])
	require.Len(t, src.budgets, 1)
	require.Greater(t, src.budgets[0], 8*time.Second)
}

func TestSubscribe_UnsubscribeBeforeTaskStarts(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	m := subscription.NewManager(subscription.Config{PollInterval: time.Hour}, src)
	defer m.Close()

	for range 50 {
		h, err := m.Subscribe([]string{"BTC"}, func(subscription.Update) {})
		require.NoError(t, err)
		h.Unsubscribe()
		require.Equal(t, subscription.Stats{}, m.Stats())
	}
}
