package coord

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/rs/zerolog/log"
)

// Memory is an in-process Client. Several components sharing one Memory
// behave like several instances sharing one Redis, which is how the tests
// exercise cross-instance invalidation. It is not shared across processes.
type Memory struct {
	mu     sync.Mutex
	items  map[string]memItem
	subs   map[string]map[*memSub]struct{}
	now    func() time.Time
	closed bool
}

var errClosed = errors.New("coord: store closed")

type memItem struct {
	val []byte
	exp time.Time
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithClock replaces time.Now, letting tests move expiry deterministically.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// NewMemory returns an empty in-process store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		items: make(map[string]memItem),
		subs:  make(map[string]map[*memSub]struct{}),
		now:   time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// live returns the item at key if present and unexpired. Callers hold mu.
func (m *Memory) live(key string, now time.Time) (memItem, bool) {
	it, ok := m.items[key]
	if !ok {
		return memItem{}, false
	}
	if !it.exp.IsZero() && !now.Before(it.exp) {
		delete(m.items, key)
		return memItem{}, false
	}
	return it, true
}

func (m *Memory) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.closed {
		return unavailable(errClosed)
	}
	return nil
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return nil, false, err
	}
	it, ok := m.live(key, m.now())
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), it.val...), true, nil
}

func (m *Memory) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return err
	}
	it := memItem{val: append([]byte(nil), val...)}
	if ttl > 0 {
		it.exp = m.now().Add(ttl)
	}
	m.items[key] = it
	return nil
}

func (m *Memory) Del(ctx context.Context, keys ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return 0, err
	}
	now := m.now()
	var n int64
	for _, k := range keys {
		if _, ok := m.live(k, now); ok {
			delete(m.items, k)
			n++
		}
	}
	return n, nil
}

func (m *Memory) DelPattern(ctx context.Context, pattern string) (int64, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return 0, err
	}
	now := m.now()
	var n int64
	for k := range m.items {
		if _, ok := m.live(k, now); ok && g.Match(k) {
			delete(m.items, k)
			n++
		}
	}
	return n, nil
}

func (m *Memory) Consume(ctx context.Context, key string, points int, window time.Duration) (Consumption, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return Consumption{}, err
	}
	now := m.now()
	it, ok := m.live(key, now)
	if !ok {
		m.items[key] = memItem{val: []byte(strconv.Itoa(points - 1)), exp: now.Add(window)}
		return Consumption{Allowed: true, Remaining: points - 1, ResetAt: now.Add(window)}, nil
	}
	left := count(it.val)
	if left <= 0 {
		return Consumption{Allowed: false, Remaining: 0, ResetAt: it.exp}, nil
	}
	m.setCount(key, left-1)
	return Consumption{Allowed: true, Remaining: left - 1, ResetAt: it.exp}, nil
}

func (m *Memory) Publish(ctx context.Context, channel string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return err
	}
	for s := range m.subs[channel] {
		msg := Message{Channel: channel, Payload: append([]byte(nil), payload...)}
		select {
		case s.ch <- msg:
		default:
			log.Warn().Str("channel", channel).Msg("coord: subscriber buffer full, dropping message")
		}
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return nil, err
	}
	s := &memSub{m: m, channel: channel, ch: make(chan Message, 64)}
	if m.subs[channel] == nil {
		m.subs[channel] = make(map[*memSub]struct{})
	}
	m.subs[channel][s] = struct{}{}
	return s, nil
}

func (m *Memory) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.check(ctx)
}

// Close marks the store unavailable and ends every subscription.
func (m *Memory) Close() error {
	m.mu.Lock()
	subs := m.subs
	m.subs = make(map[string]map[*memSub]struct{})
	m.closed = true
	m.mu.Unlock()
	for _, set := range subs {
		for s := range set {
			s.closeChan()
		}
	}
	return nil
}

// setCount stores a bucket counter as decimal text, as Redis does, keeping
// its expiry.
func (m *Memory) setCount(key string, n int) {
	it := m.items[key]
	it.val = []byte(strconv.Itoa(n))
	m.items[key] = it
}

func count(b []byte) int {
	n, err := strconv.Atoi(string(b))
	if err != nil {
		return 0
	}
	return n
}

type memSub struct {
	m       *Memory
	channel string
	ch      chan Message
	once    sync.Once
}

func (s *memSub) Messages() <-chan Message { return s.ch }

func (s *memSub) Close() error {
	s.m.mu.Lock()
	delete(s.m.subs[s.channel], s)
	s.m.mu.Unlock()
	s.closeChan()
	return nil
}

func (s *memSub) closeChan() { s.once.Do(func() { close(s.ch) }) }
