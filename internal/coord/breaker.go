package coord

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// BreakerSettings tunes the circuit in front of a store.
type BreakerSettings struct {
	Name     string
	Failures uint32        // consecutive failures that open the circuit
	Timeout  time.Duration // how long the circuit stays open before probing
}

// Breaker wraps a Client with a circuit breaker. While the circuit is open,
// calls fail immediately with ErrUnavailable instead of waiting on a dead
// connection, which keeps fail-open paths fast during an outage.
type Breaker struct {
	next Client
	cb   *gobreaker.CircuitBreaker
}

// NewBreaker wraps next. Only ErrUnavailable counts as a failure; misses and
// caller cancellations do not trip the circuit.
func NewBreaker(next Client, s BreakerSettings) *Breaker {
	if s.Name == "" {
		s.Name = "coord"
	}
	if s.Failures == 0 {
		s.Failures = 5
	}
	if s.Timeout <= 0 {
		s.Timeout = 10 * time.Second
	}
	failures := s.Failures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: 1,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, ErrUnavailable)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("coordination store circuit changed state")
		},
	})
	return &Breaker{next: next, cb: cb}
}

// State exposes the circuit state for health reporting.
func (b *Breaker) State() gobreaker.State { return b.cb.State() }

func (b *Breaker) run(fn func() (any, error)) (any, error) {
	v, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrUnavailable.WithCause(err)
	}
	return v, err
}

type getResult struct {
	val []byte
	ok  bool
}

func (b *Breaker) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := b.run(func() (any, error) {
		val, ok, err := b.next.Get(ctx, key)
		return getResult{val, ok}, err
	})
	if err != nil {
		return nil, false, err
	}
	r := v.(getResult)
	return r.val, r.ok, nil
}

func (b *Breaker) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	_, err := b.run(func() (any, error) { return nil, b.next.Set(ctx, key, val, ttl) })
	return err
}

func (b *Breaker) Del(ctx context.Context, keys ...string) (int64, error) {
	v, err := b.run(func() (any, error) { return b.next.Del(ctx, keys...) })
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

func (b *Breaker) DelPattern(ctx context.Context, pattern string) (int64, error) {
	v, err := b.run(func() (any, error) { return b.next.DelPattern(ctx, pattern) })
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

func (b *Breaker) Consume(ctx context.Context, key string, points int, window time.Duration) (Consumption, error) {
	v, err := b.run(func() (any, error) { return b.next.Consume(ctx, key, points, window) })
	if err != nil {
		return Consumption{}, err
	}
	return v.(Consumption), nil
}

func (b *Breaker) Publish(ctx context.Context, channel string, payload []byte) error {
	_, err := b.run(func() (any, error) { return nil, b.next.Publish(ctx, channel, payload) })
	return err
}

// Subscribe is long-lived and bypasses the circuit.
func (b *Breaker) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	return b.next.Subscribe(ctx, channel)
}

func (b *Breaker) Ping(ctx context.Context) error {
	_, err := b.run(func() (any, error) { return nil, b.next.Ping(ctx) })
	return err
}

func (b *Breaker) Close() error { return b.next.Close() }
