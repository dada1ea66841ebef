// Package coord is the client side of the shared coordination store that
// holds cache entries, rate-limit buckets and CSRF tokens for every process
// instance. Two implementations are provided: Redis (go-redis v9), used in
// any multi-instance deployment, and Memory, a single-process stand-in used
// in tests and for local development. Breaker wraps either one with a
// circuit breaker.
//
// All implementations report transport failures as ErrUnavailable so that
// callers can apply their FailurePolicy uniformly.
package coord

import (
	"context"
	"errors"
	"time"

	"github.com/tbourn/go-cert-backend/internal/apperr"
)

// ErrUnavailable reports that the coordination store could not be reached.
// It is never rendered to clients; each component decides how to degrade.
var ErrUnavailable = apperr.New(apperr.KindUnavailable, "store_unavailable", "coordination store unavailable")

// unavailable wraps a transport error. Context cancellation is passed through
// untouched because it reflects the caller going away, not the store.
func unavailable(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrUnavailable) {
		return err
	}
	return ErrUnavailable.WithCause(err)
}

// Consumption is the outcome of one atomic point consumption.
type Consumption struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Message is one notification received on a broadcast channel.
type Message struct {
	Channel string
	Payload []byte
}

// Subscription delivers messages published on one channel until closed.
type Subscription interface {
	Messages() <-chan Message
	Close() error
}

// Client is the contract every coordination store implements.
type Client interface {
	// Get returns the value at key; ok is false on a miss.
	Get(ctx context.Context, key string) (val []byte, ok bool, err error)
	// Set stores val at key with the given time to live (ttl > 0).
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	// Del removes keys and reports how many existed.
	Del(ctx context.Context, keys ...string) (int64, error)
	// DelPattern removes every key matching a glob pattern.
	DelPattern(ctx context.Context, pattern string) (int64, error)
	// Consume atomically takes one point from the bucket at key, creating it
	// with points-1 remaining and the given window when absent.
	Consume(ctx context.Context, key string, points int, window time.Duration) (Consumption, error)
	// Publish broadcasts payload to every subscriber of channel.
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe listens on channel until the subscription is closed.
	Subscribe(ctx context.Context, channel string) (Subscription, error)
	Ping(ctx context.Context) error
	Close() error
}

// FailurePolicy states how a component behaves when the store is unavailable.
type FailurePolicy int

const (
	// FailOpen lets the request proceed as if the component were absent.
	FailOpen FailurePolicy = iota
	// FailClosed rejects the request.
	FailClosed
)

func (p FailurePolicy) String() string {
	switch p {
	case FailOpen:
		return "fail_open"
	case FailClosed:
		return "fail_closed"
	default:
		return "unknown"
	}
}
