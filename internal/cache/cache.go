// Package cache implements the distributed response/result cache.
//
// Entries live in the shared coordination store, which is authoritative. An
// optional process-local layer (expirable LRU) sits in front of it; a local
// copy is trusted for at most min(LocalTTL, remaining shared TTL) and is
// dropped when another instance broadcasts an invalidation. Invalidation
// broadcasts are best effort: correctness rests on the authoritative delete
// against the shared store and the bounded TTLs.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-cert-backend/internal/coord"
)

const component = "cache"

var opsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cache_lookups_total",
		Help: "Cache lookups by layer and result.",
	},
	[]string{"layer", "result"},
)

func init() {
	prometheus.MustRegister(opsTotal)
}

// Entry is the stored form of a cached value. A value is never returned as
// valid past WrittenAt + TTLSeconds, even if the store still holds it.
type Entry struct {
	Key        string          `json:"key"`
	Value      json.RawMessage `json:"value"`
	TTLSeconds int64           `json:"ttlSeconds"`
	WrittenAt  time.Time       `json:"writtenAt"`
}

// ExpiresAt is the instant the entry stops being valid.
func (e Entry) ExpiresAt() time.Time {
	return e.WrittenAt.Add(time.Duration(e.TTLSeconds) * time.Second)
}

// Fresh reports whether the entry may still be served at now.
func (e Entry) Fresh(now time.Time) bool { return now.Before(e.ExpiresAt()) }

// Invalidation is broadcast whenever entries are deleted.
type Invalidation struct {
	Keys    []string `json:"keys,omitempty"`
	Pattern string   `json:"pattern,omitempty"`
	Origin  string   `json:"origin"`
}

// Options configures a Cache.
type Options struct {
	// Channel is the broadcast channel for invalidations.
	Channel string
	// LocalSize enables the local layer when > 0.
	LocalSize int
	LocalTTL  time.Duration
	// Policy applies when the shared store is unavailable.
	Policy coord.FailurePolicy
	// Now overrides time.Now in tests.
	Now func() time.Time
}

// Cache is safe for concurrent use.
type Cache struct {
	store  coord.Client
	local  *expirable.LRU[string, Entry]
	opts   Options
	origin string

	ready     chan struct{} // closed after the first successful subscribe
	readyOnce sync.Once
}

// New builds a cache over store.
func New(store coord.Client, opts Options) *Cache {
	if opts.Channel == "" {
		opts.Channel = "cache:invalidate"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	c := &Cache{store: store, opts: opts, origin: uuid.NewString(), ready: make(chan struct{})}
	if opts.LocalSize > 0 {
		ttl := opts.LocalTTL
		if ttl <= 0 {
			ttl = 30 * time.Second
		}
		c.local = expirable.NewLRU[string, Entry](opts.LocalSize, nil, ttl)
	}
	return c
}

// Origin identifies this instance in invalidation messages.
func (c *Cache) Origin() string { return c.origin }

// degrade applies the failure policy to a store error.
func (c *Cache) degrade(err error) error {
	if err == nil {
		return nil
	}
	if !errors.Is(err, coord.ErrUnavailable) || c.opts.Policy == coord.FailClosed {
		return err
	}
	coord.ReportDegraded(component, c.opts.Policy, err)
	return nil
}

// Get returns the entry at key. A stale or undecodable entry is a miss.
func (c *Cache) Get(ctx context.Context, key string) (Entry, bool, error) {
	now := c.opts.Now()
	if c.local != nil {
		if e, ok := c.local.Get(key); ok {
			if e.Fresh(now) {
				opsTotal.WithLabelValues("local", "hit").Inc()
				return e, true, nil
			}
			c.local.Remove(key)
		}
	}

	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		opsTotal.WithLabelValues("shared", "error").Inc()
		return Entry{}, false, c.degrade(err)
	}
	if !ok {
		opsTotal.WithLabelValues("shared", "miss").Inc()
		return Entry{}, false, nil
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil || !e.Fresh(now) {
		opsTotal.WithLabelValues("shared", "miss").Inc()
		return Entry{}, false, nil
	}
	opsTotal.WithLabelValues("shared", "hit").Inc()
	if c.local != nil {
		c.local.Add(key, e)
	}
	return e, true, nil
}

// GetJSON decodes the value at key into dst.
func (c *Cache) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	e, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(e.Value, dst); err != nil {
		return false, nil
	}
	return true, nil
}

// Set writes value (a JSON document) under key for ttl. The TTL is rounded
// down to whole seconds; anything under one second is not cached.
func (c *Cache) Set(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) error {
	secs := int64(ttl / time.Second)
	if secs < 1 {
		return nil
	}
	e := Entry{Key: key, Value: value, TTLSeconds: secs, WrittenAt: c.opts.Now().UTC()}
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := c.store.Set(ctx, key, raw, time.Duration(secs)*time.Second); err != nil {
		return c.degrade(err)
	}
	if c.local != nil {
		c.local.Add(key, e)
	}
	return nil
}

// SetJSON encodes v and stores it under key.
func (c *Cache) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, raw, ttl)
}

// Delete removes keys from the shared store first, then from the local
// layer, then tells other instances to drop their copies.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := c.store.Del(ctx, keys...)
	if err = c.degrade(err); err != nil {
		return err
	}
	c.dropLocal(keys, nil)
	c.publish(ctx, Invalidation{Keys: keys, Origin: c.origin})
	return nil
}

// DeleteByPattern removes every key matching a glob pattern (Redis MATCH
// syntax). Literal parts of a pattern should be passed through EscapeGlob.
func (c *Cache) DeleteByPattern(ctx context.Context, pattern string) error {
	g, err := glob.Compile(pattern)
	if err != nil {
		return err
	}
	_, err = c.store.DelPattern(ctx, pattern)
	if err = c.degrade(err); err != nil {
		return err
	}
	c.dropLocal(nil, g)
	c.publish(ctx, Invalidation{Pattern: pattern, Origin: c.origin})
	return nil
}

func (c *Cache) dropLocal(keys []string, g glob.Glob) {
	if c.local == nil {
		return
	}
	for _, k := range keys {
		c.local.Remove(k)
	}
	if g != nil {
		for _, k := range c.local.Keys() {
			if g.Match(k) {
				c.local.Remove(k)
			}
		}
	}
}

func (c *Cache) publish(ctx context.Context, inv Invalidation) {
	raw, err := json.Marshal(inv)
	if err != nil {
		return
	}
	if err := c.store.Publish(ctx, c.opts.Channel, raw); err != nil {
		log.Warn().Err(err).Str("channel", c.opts.Channel).Msg("cache: invalidation broadcast failed")
	}
}

// apply handles an invalidation received from the broadcast channel.
func (c *Cache) apply(payload []byte) {
	var inv Invalidation
	if err := json.Unmarshal(payload, &inv); err != nil {
		log.Warn().Err(err).Msg("cache: malformed invalidation message")
		return
	}
	if inv.Origin == c.origin {
		return
	}
	var g glob.Glob
	if inv.Pattern != "" {
		compiled, err := glob.Compile(inv.Pattern)
		if err != nil {
			log.Warn().Err(err).Str("pattern", inv.Pattern).Msg("cache: bad invalidation pattern")
			return
		}
		g = compiled
	}
	c.dropLocal(inv.Keys, g)
}

// Ready is closed once Run has subscribed to the invalidation channel.
func (c *Cache) Ready() <-chan struct{} { return c.ready }

// Run subscribes to the invalidation channel and keeps the local layer in
// step with deletes issued by other instances. It resubscribes after
// transient failures and returns when ctx is done. Without a local layer
// there is nothing to keep in step and Run returns immediately.
func (c *Cache) Run(ctx context.Context) error {
	if c.local == nil {
		return nil
	}
	backoff := 500 * time.Millisecond
	for {
		sub, err := c.store.Subscribe(ctx, c.opts.Channel)
		if err == nil {
			backoff = 500 * time.Millisecond
			c.readyOnce.Do(func() { close(c.ready) })
			c.consume(ctx, sub)
			_ = sub.Close()
			// Messages may have been missed while disconnected.
			c.local.Purge()
		} else {
			log.Warn().Err(err).Dur("retry_in", backoff).Msg("cache: invalidation subscribe failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (c *Cache) consume(ctx context.Context, sub coord.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-sub.Messages():
			if !ok {
				return
			}
			c.apply(m.Payload)
		}
	}
}

// EscapeGlob quotes the glob metacharacters in s so it matches literally
// inside a DeleteByPattern pattern.
func EscapeGlob(s string) string {
	if !strings.ContainsAny(s, `*?[]\{}`) {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\', '{', '}':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
