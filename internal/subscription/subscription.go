package subscription

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"marketdata/internal/facade"
	"marketdata/internal/id"
	"marketdata/internal/logger"
	"marketdata/internal/provider"
	"marketdata/internal/symbol"
)

var (
	ErrClosed     = errors.New("subscription manager closed")
	ErrNoListener = errors.New("listener is required")
	ErrNoSymbols  = errors.New("at least one symbol is required")
)

// Source is the batch quote path the manager polls.
type Source interface {
	Normalize(raw string) (symbol.Symbol, error)
	GetPricesDetailed(ctx context.Context, raws []string) (facade.BatchResult, error)
}

// Update is one poll result for a symbol set. Err is set when the whole
// poll failed; Quotes and Diagnostics may still be partial.
type Update struct {
	Key         string              `json:"key"`
	Quotes      []provider.Quote    `json:"quotes"`
	Diagnostics []facade.Diagnostic `json:"diagnostics,omitempty"`
	Err         error               `json:"-"`
	Error       string              `json:"error,omitempty"`
	At          time.Time           `json:"at"`
}

// Listener receives updates on its own goroutine, one at a time.
type Listener func(Update)

// Handle identifies one Subscribe call. Unsubscribe is idempotent.
type Handle struct {
	ID          string
	Key         string
	Unsubscribe func()
}

type Config struct {
	PollInterval time.Duration // 3s
	TickTimeout  time.Duration // one poll; defaults to PollInterval, at least 10s
	MailboxSize  int           // updates buffered per listener before dropping, 16
}

type state int

const (
	idle state = iota
	active
	cancelled
)

type task struct {
	key     string
	symbols []string
	state   state
	cancel  context.CancelFunc
	done    chan struct{}

	// guarded by Manager.mu
	listeners []*listener
	last      *Update
}

type listener struct {
	id      string
	fn      Listener
	mailbox chan Update
	stop    chan struct{}
}

// Manager runs at most one poll task per canonical symbol set and fans its
// results out to every listener of that set.
type Manager struct {
	cfg Config
	src Source
	now func() time.Time

	mu     sync.Mutex
	tasks  map[string]*task
	closed bool

	dropped atomic.Uint64
}

// defaultTickTimeout outlasts the facade's default batch timeout.
const defaultTickTimeout = 10 * time.Second

func NewManager(cfg Config, src Source) *Manager {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	if cfg.TickTimeout <= 0 {
		cfg.TickTimeout = max(cfg.PollInterval, defaultTickTimeout)
	}
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = 16
	}
	return &Manager{cfg: cfg, src: src, now: time.Now, tasks: map[string]*task{}}
}

// Subscribe attaches fn to the poll task of the canonical set of raws,
// starting the task when it is the first listener. A late listener is sent
// the most recent update right away.
func (m *Manager) Subscribe(raws []string, fn Listener) (Handle, error) {
	if fn == nil {
		return Handle{}, ErrNoListener
	}
	syms := make([]symbol.Symbol, 0, len(raws))
	for _, raw := range raws {
		s, err := m.src.Normalize(raw)
		if err != nil {
			return Handle{}, fmt.Errorf("%w: %q", err, raw)
		}
		syms = append(syms, s)
	}
	if len(syms) == 0 {
		return Handle{}, ErrNoSymbols
	}
	key := symbol.Key(syms)

	l := &listener{id: id.New(), fn: fn, mailbox: make(chan Update, m.cfg.MailboxSize), stop: make(chan struct{})}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Handle{}, ErrClosed
	}
	t, ok := m.tasks[key]
	if !ok {
		t = m.startLocked(key, syms)
	}
	t.listeners = append(t.listeners, l)
	if t.last != nil {
		m.offer(l, *t.last)
	}
	m.mu.Unlock()

	go m.deliver(l, key)
	logger.Debug(context.Background(), "subscribed", "key", key, "listener", l.id)

	var once sync.Once
	return Handle{
		ID:  l.id,
		Key: key,
		Unsubscribe: func() {
			once.Do(func() { m.detach(t, l) })
		},
	}, nil
}

// startLocked registers an idle task for key; run activates it. The task
// polls the tickers of the first subscriber so a named venue such as .KQ
// reaches the adapter.
func (m *Manager) startLocked(key string, syms []symbol.Symbol) *task {
	ctx, cancel := context.WithCancel(context.Background())
	t := &task{key: key, symbols: pollTickers(syms), state: idle, cancel: cancel, done: make(chan struct{})}
	m.tasks[key] = t
	go m.run(ctx, t)
	return t
}

// pollTickers lists one ticker per canonical symbol in key order.
func pollTickers(syms []symbol.Symbol) []string {
	byCanon := make(map[string]string, len(syms))
	for _, s := range syms {
		if _, ok := byCanon[s.Canonical]; !ok {
			byCanon[s.Canonical] = s.Ticker()
		}
	}
	out := make([]string, 0, len(byCanon))
	for _, canon := range slices.Sorted(maps.Keys(byCanon)) {
		out = append(out, byCanon[canon])
	}
	return out
}

// detach removes l; the last listener leaving cancels the task and waits for it.
func (m *Manager) detach(t *task, l *listener) {
	m.mu.Lock()
	found := false
	for i, cur := range t.listeners {
		if cur == l {
			t.listeners = append(t.listeners[:i:i], t.listeners[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		// already released by Close
		m.mu.Unlock()
		return
	}
	close(l.stop)
	last := len(t.listeners) == 0 && t.state != cancelled
	if last {
		t.state = cancelled
		t.cancel()
		if m.tasks[t.key] == t {
			delete(m.tasks, t.key)
		}
	}
	m.mu.Unlock()

	if last {
		<-t.done
		logger.Debug(context.Background(), "poll task stopped", "key", t.key)
	}
}

func (m *Manager) run(ctx context.Context, t *task) {
	defer close(t.done)
	m.mu.Lock()
	if t.state == idle {
		t.state = active
	}
	m.mu.Unlock()
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		m.poll(ctx, t)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Manager) poll(ctx context.Context, t *task) {
	pctx, cancel := context.WithTimeout(ctx, m.cfg.TickTimeout)
	defer cancel()

	res, err := m.src.GetPricesDetailed(pctx, t.symbols)
	if ctx.Err() != nil {
		return
	}
	u := Update{Key: t.key, Quotes: res.Quotes, Diagnostics: res.Diagnostics, Err: err, At: m.now().UTC()}
	if u.Quotes == nil {
		u.Quotes = []provider.Quote{}
	}
	if err != nil {
		u.Error = err.Error()
		logger.Warn(ctx, "poll failed", "key", t.key, "error", u.Error)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if t.state != active {
		return
	}
	t.last = &u
	for _, l := range t.listeners {
		m.offer(l, u)
	}
}

// offer never blocks: a full mailbox drops the update for that listener only.
func (m *Manager) offer(l *listener, u Update) {
	select {
	case l.mailbox <- u:
	default:
		m.dropped.Add(1)
	}
}

func (m *Manager) deliver(l *listener, key string) {
	for {
		select {
		case <-l.stop:
			return
		case u := <-l.mailbox:
			m.call(l, key, u)
		}
	}
}

func (m *Manager) call(l *listener, key string, u Update) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(context.Background(), "listener panicked", "key", key, "listener", l.id, "panic", fmt.Sprint(r))
		}
	}()
	l.fn(u)
}

// Stats is a point-in-time view of the registry.
type Stats struct {
	Tasks     int    `json:"tasks"`
	Listeners int    `json:"listeners"`
	Dropped   uint64 `json:"dropped"`
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{Tasks: len(m.tasks), Dropped: m.dropped.Load()}
	for _, t := range m.tasks {
		s.Listeners += len(t.listeners)
	}
	return s
}

// Close cancels every task and waits for the poll goroutines to exit.
// Later Subscribe calls fail with ErrClosed.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	tasks := make([]*task, 0, len(m.tasks))
	for key, t := range m.tasks {
		t.state = cancelled
		t.cancel()
		for _, l := range t.listeners {
			close(l.stop)
		}
		t.listeners = nil
		tasks = append(tasks, t)
		delete(m.tasks, key)
	}
	m.mu.Unlock()

	for _, t := range tasks {
		<-t.done
	}
}
